package auditlog

import (
	"fmt"
	"os"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/textileio/fleetwatch/fault"
)

var (
	log = logging.Logger("auditlog")
)

// timeFormat is RFC1123 pinned to GMT.
const timeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// Log is an append-only, human-readable record of fault assertions and
// restorations. It's never parsed back.
type Log struct {
	path string
	now  func() time.Time

	lock sync.Mutex
	f    *os.File
}

// Open creates (or truncates) the log file at path and writes the
// initialization line.
func Open(path string) (*Log, error) {
	l := &Log{
		path: path,
		now:  time.Now,
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating audit log: %s", err)
	}
	l.f = f
	l.write("[INFO] log initialized")
	return l, nil
}

// Path returns the file path of the log.
func (l *Log) Path() string {
	return l.path
}

// Asserted records a newly asserted fault.
func (l *Log) Asserted(f fault.Fault) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.write(fmt.Sprintf("[ERR] code: %s, msg: %s", f.Kind, f.Detail))
}

// Restored records a fault that cleared.
func (l *Log) Restored(f fault.Fault) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.write(fmt.Sprintf("[OK] code: %s restored, prevMsg: %s", f.Kind, f.Detail))
}

// Info records an informational event.
func (l *Log) Info(msg string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.write("[INFO] " + msg)
}

// Reset closes the log, discards its content and starts a fresh one.
func (l *Log) Reset() error {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.f != nil {
		if err := l.f.Close(); err != nil {
			log.Errorf("closing audit log: %s", err)
		}
		l.f = nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		log.Errorf("removing audit log: %s", err)
	}
	f, err := os.Create(l.path)
	if err != nil {
		return fmt.Errorf("recreating audit log: %s", err)
	}
	l.f = f
	l.write("[INFO] log initialized")
	return nil
}

// Close closes the underlying file.
func (l *Log) Close() error {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// write appends a timestamped line. Callers must hold the lock, except
// from Open where the log isn't shared yet.
func (l *Log) write(msg string) {
	if l.f == nil {
		log.Warnf("audit log closed, dropping line: %s", msg)
		return
	}
	line := l.now().UTC().Format(timeFormat) + " - " + msg + "\n"
	if _, err := l.f.WriteString(line); err != nil {
		log.Errorf("writing audit log: %s", err)
	}
}
