package signaler

import (
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"github.com/textileio/fleetwatch/fault"
)

var (
	log = logging.Logger("signaler")

	listenerBuffer = 16
)

// EventType describes a fault lifecycle transition.
type EventType int

const (
	// Asserted is emitted when a new fault enters the registry.
	Asserted EventType = iota
	// Restored is emitted when a fault leaves the registry.
	Restored
	// Escalated is emitted when an escalation message is dispatched.
	Escalated
	// Retracted is emitted when an escalation record is removed.
	Retracted
	// Reset is emitted when the whole registry is cleared.
	Reset
)

// EventTypeStr maps an EventType to a human-readable name.
var EventTypeStr = map[EventType]string{
	Asserted:  "asserted",
	Restored:  "restored",
	Escalated: "escalated",
	Retracted: "retracted",
	Reset:     "reset",
}

// Event is a fault lifecycle notification. Fault is the zero value for
// Reset events.
type Event struct {
	Type  EventType
	Fault fault.Fault
}

// Signaler fans out fault events to listeners.
type Signaler struct {
	lock      sync.Mutex
	listeners []chan Event
	closed    bool
}

// New returns a new Signaler.
func New() *Signaler {
	return &Signaler{}
}

// Listen returns a new channel receiving future events.
func (s *Signaler) Listen() <-chan Event {
	c := make(chan Event, listenerBuffer)
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		close(c)
		return c
	}
	s.listeners = append(s.listeners, c)
	return c
}

// Unregister removes a listener from the hub and closes it.
func (s *Signaler) Unregister(c <-chan Event) {
	s.lock.Lock()
	defer s.lock.Unlock()
	for i := range s.listeners {
		if s.listeners[i] == c {
			close(s.listeners[i])
			s.listeners[i] = s.listeners[len(s.listeners)-1]
			s.listeners = s.listeners[:len(s.listeners)-1]
			return
		}
	}
}

// Signal delivers e to all listeners. A listener with a full buffer misses
// the event.
func (s *Signaler) Signal(e Event) {
	s.lock.Lock()
	defer s.lock.Unlock()
	for _, c := range s.listeners {
		select {
		case c <- e:
		default:
			log.Warnf("dropping %s event on blocked listener", EventTypeStr[e.Type])
		}
	}
}

// Close closes the Signaler. Any channel that wasn't explicitly
// unregistered is closed.
func (s *Signaler) Close() {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, c := range s.listeners {
		close(c)
	}
	s.listeners = nil
}
