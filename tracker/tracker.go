package tracker

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/textileio/fleetwatch/alert"
	"github.com/textileio/fleetwatch/fault"
	"github.com/textileio/fleetwatch/fault/store"
	"github.com/textileio/fleetwatch/signaler"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	log = logging.Logger("tracker")
)

// AuditLog receives a line for every fault transition.
type AuditLog interface {
	Asserted(fault.Fault)
	Restored(fault.Fault)
	Info(string)
	Reset() error
}

// FaultStatus is a point-in-time view of an active fault.
type FaultStatus struct {
	fault.Fault
	Age       time.Duration
	Overdue   bool
	Escalated bool
}

// escalation binds an active fault to its dispatched notification. A record
// is reserved before the message is sent; sent flips once the handle is
// known.
type escalation struct {
	fault    fault.Fault
	handle   alert.Handle
	sent     bool
	resolved bool
}

// Tracker owns the set of active faults and their escalation lifecycle.
// Push and Undo are the only ways to mutate the set.
type Tracker struct {
	conf     Config
	store    *store.Store
	audit    AuditLog
	channel  alert.Channel
	signaler *signaler.Signaler

	lock        sync.Mutex
	faults      []fault.Fault
	index       map[fault.Identity]struct{}
	escalations map[fault.Identity]*escalation

	randLock sync.Mutex

	persistLock sync.Mutex
	dirty       chan struct{}

	metricActive      metric.Int64UpDownCounter
	metricAsserted    metric.Int64Counter
	metricRestored    metric.Int64Counter
	metricEscalations metric.Int64Counter
	metricRetractions metric.Int64Counter

	ctx      context.Context
	cancel   context.CancelFunc
	finished chan struct{}
	clsLock  sync.Mutex
	closed   bool
}

// New returns a new Tracker seeded with the fault set persisted in s.
func New(s *store.Store, audit AuditLog, ch alert.Channel, opts ...Option) (*Tracker, error) {
	conf := defaultConfig
	for _, o := range opts {
		if err := o(&conf); err != nil {
			return nil, fmt.Errorf("applying option: %s", err)
		}
	}
	if conf.Rand == nil {
		conf.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	persisted, err := s.Get()
	if err != nil {
		return nil, fmt.Errorf("loading persisted faults: %s", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Tracker{
		conf:        conf,
		store:       s,
		audit:       audit,
		channel:     ch,
		signaler:    signaler.New(),
		index:       make(map[fault.Identity]struct{}),
		escalations: make(map[fault.Identity]*escalation),
		dirty:       make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
		finished:    make(chan struct{}),
	}
	t.initMetrics()
	for _, f := range persisted {
		if _, ok := t.index[f.Identity()]; ok {
			continue
		}
		t.index[f.Identity()] = struct{}{}
		t.faults = append(t.faults, f)
		t.metricActive.Add(ctx, 1, attribute.String("kind", f.Kind.String()))
	}
	log.Infof("loaded %d persisted faults", len(t.faults))

	go t.persister()
	return t, nil
}

// Push asserts f. If a fault with the same identity is already active this
// is a no-op; the original observation time is kept. It returns true if f
// was newly inserted.
func (t *Tracker) Push(ctx context.Context, f fault.Fault) bool {
	id := f.Identity()
	t.lock.Lock()
	if _, ok := t.index[id]; ok {
		t.lock.Unlock()
		return false
	}
	f.FirstObservedAt = t.conf.Clock()
	t.faults = append(t.faults, f)
	t.index[id] = struct{}{}
	t.audit.Asserted(f)
	t.lock.Unlock()

	log.Infof("fault asserted: %s", id)
	t.markDirty()
	kind := attribute.String("kind", f.Kind.String())
	t.metricActive.Add(ctx, 1, kind)
	t.metricAsserted.Add(ctx, 1, kind)
	t.signaler.Signal(signaler.Event{Type: signaler.Asserted, Fault: f})
	return true
}

// Undo retracts f. If f was escalated, a retraction reply is posted to the
// escalation message. It returns true if an active fault was removed.
func (t *Tracker) Undo(ctx context.Context, f fault.Fault) bool {
	id := f.Identity()
	t.lock.Lock()
	removed, ok := t.remove(id)
	if !ok {
		t.lock.Unlock()
		return false
	}
	t.audit.Restored(removed)
	var retract bool
	var handle alert.Handle
	if rec, ok := t.escalations[id]; ok {
		delete(t.escalations, id)
		rec.resolved = true
		retract, handle = rec.sent, rec.handle
	}
	t.lock.Unlock()

	log.Infof("fault restored: %s", id)
	t.markDirty()
	kind := attribute.String("kind", removed.Kind.String())
	t.metricActive.Add(ctx, -1, kind)
	t.metricRestored.Add(ctx, 1, kind)
	t.signaler.Signal(signaler.Event{Type: signaler.Restored, Fault: removed})
	if retract {
		t.retract(ctx, removed, handle)
	}
	return true
}

// Escalate dispatches a notification for every active fault older than the
// escalation age that hasn't been escalated yet. It returns how many
// escalations were attempted.
func (t *Tracker) Escalate(ctx context.Context) int {
	now := t.conf.Clock()
	t.lock.Lock()
	var due []*escalation
	for _, f := range t.faults {
		if f.Age(now) <= t.conf.EscalationAge {
			continue
		}
		id := f.Identity()
		if _, ok := t.escalations[id]; ok {
			continue
		}
		rec := &escalation{fault: f}
		t.escalations[id] = rec
		due = append(due, rec)
	}
	t.lock.Unlock()

	for _, rec := range due {
		t.escalate(ctx, rec)
	}
	return len(due)
}

func (t *Tracker) escalate(ctx context.Context, rec *escalation) {
	id := rec.fault.Identity()
	t.audit.Info("sending notification...")
	h, err := t.channel.Send(ctx, alert.EscalationText(t.conf.Network, rec.fault))

	t.lock.Lock()
	live := t.escalations[id] == rec
	if err != nil {
		if live {
			delete(t.escalations, id)
		}
		t.lock.Unlock()
		log.Errorf("sending escalation for %s: %s", id, err)
		return
	}
	rec.handle = h
	rec.sent = true
	resolved := rec.resolved
	t.lock.Unlock()

	log.Warnf("fault escalated: %s", id)
	t.metricEscalations.Add(ctx, 1, attribute.String("kind", rec.fault.Kind.String()))
	t.signaler.Signal(signaler.Event{Type: signaler.Escalated, Fault: rec.fault})

	// The fault cleared while the message was in flight.
	if !live && resolved {
		t.retract(ctx, rec.fault, h)
	}
}

func (t *Tracker) retract(ctx context.Context, f fault.Fault, h alert.Handle) {
	t.randLock.Lock()
	msg := alert.RandomRetraction(t.conf.Rand)
	t.randLock.Unlock()
	if _, err := t.channel.Reply(ctx, h, msg); err != nil {
		log.Errorf("sending retraction for %s: %s", f.Identity(), err)
	} else {
		t.metricRetractions.Add(ctx, 1, attribute.String("kind", f.Kind.String()))
	}
	t.signaler.Signal(signaler.Event{Type: signaler.Retracted, Fault: f})
}

// Contains returns true if a fault with identity id is active.
func (t *Tracker) Contains(id fault.Identity) bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	_, ok := t.index[id]
	return ok
}

// Faults returns a copy of the active faults in insertion order.
func (t *Tracker) Faults() []fault.Fault {
	t.lock.Lock()
	defer t.lock.Unlock()
	res := make([]fault.Fault, len(t.faults))
	copy(res, t.faults)
	return res
}

// List returns a consistent snapshot of the active faults with their age
// and escalation state.
func (t *Tracker) List() []FaultStatus {
	now := t.conf.Clock()
	t.lock.Lock()
	defer t.lock.Unlock()
	res := make([]FaultStatus, 0, len(t.faults))
	for _, f := range t.faults {
		rec, ok := t.escalations[f.Identity()]
		age := f.Age(now)
		res = append(res, FaultStatus{
			Fault:     f,
			Age:       age,
			Overdue:   age > t.conf.EscalationAge,
			Escalated: ok && rec.sent,
		})
	}
	return res
}

// Escalated returns true if id has a live escalation record.
func (t *Tracker) Escalated(id fault.Identity) bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	rec, ok := t.escalations[id]
	return ok && rec.sent
}

// Overdue returns the active faults older than the escalation age.
func (t *Tracker) Overdue() []fault.Fault {
	now := t.conf.Clock()
	t.lock.Lock()
	defer t.lock.Unlock()
	var res []fault.Fault
	for _, f := range t.faults {
		if f.Age(now) > t.conf.EscalationAge {
			res = append(res, f)
		}
	}
	return res
}

// Healthy returns true if no active fault is older than the escalation age.
func (t *Tracker) Healthy() bool {
	return len(t.Overdue()) == 0
}

// EscalationAge returns the configured escalation threshold.
func (t *Tracker) EscalationAge() time.Duration {
	return t.conf.EscalationAge
}

// Reset clears every active fault and escalation record, the audit log and
// the persisted state. Cleared escalations aren't retracted. A concurrent
// Push is ordered entirely before or after it.
func (t *Tracker) Reset(ctx context.Context) error {
	t.persistLock.Lock()
	t.lock.Lock()
	cleared := t.faults
	t.faults = nil
	t.index = make(map[fault.Identity]struct{})
	t.escalations = make(map[fault.Identity]*escalation)

	var errs []error
	if err := t.audit.Reset(); err != nil {
		errs = append(errs, fmt.Errorf("resetting audit log: %s", err))
	}
	if err := t.store.Clear(); err != nil {
		errs = append(errs, fmt.Errorf("clearing persisted faults: %s", err))
	}
	t.lock.Unlock()
	t.persistLock.Unlock()

	for _, f := range cleared {
		t.metricActive.Add(ctx, -1, attribute.String("kind", f.Kind.String()))
	}
	t.signaler.Signal(signaler.Event{Type: signaler.Reset})
	log.Infof("reset %d faults", len(cleared))

	if len(errs) > 0 {
		return fmt.Errorf("resetting tracker: %v", errs)
	}
	return nil
}

// Listen returns a channel of fault lifecycle events.
func (t *Tracker) Listen() <-chan signaler.Event {
	return t.signaler.Listen()
}

// Unregister frees a channel returned by Listen.
func (t *Tracker) Unregister(c <-chan signaler.Event) {
	t.signaler.Unregister(c)
}

// Close flushes the fault set to the store and stops background work.
func (t *Tracker) Close() error {
	log.Info("closing...")
	defer log.Info("closed")
	t.clsLock.Lock()
	defer t.clsLock.Unlock()
	if t.closed {
		return nil
	}
	t.cancel()
	<-t.finished
	t.signaler.Close()
	t.closed = true
	return nil
}

// remove deletes the fault with identity id. Callers must hold the lock.
func (t *Tracker) remove(id fault.Identity) (fault.Fault, bool) {
	if _, ok := t.index[id]; !ok {
		return fault.Fault{}, false
	}
	delete(t.index, id)
	for i, f := range t.faults {
		if f.Identity() == id {
			t.faults = append(t.faults[:i], t.faults[i+1:]...)
			return f, true
		}
	}
	return fault.Fault{}, false
}

// markDirty schedules a save of the current fault set.
func (t *Tracker) markDirty() {
	select {
	case t.dirty <- struct{}{}:
	default:
	}
}

// persister saves the fault set whenever it changes. Consecutive changes
// coalesce into a single write.
func (t *Tracker) persister() {
	defer close(t.finished)
	for {
		select {
		case <-t.ctx.Done():
			t.save()
			return
		case <-t.dirty:
			t.save()
		}
	}
}

func (t *Tracker) save() {
	t.persistLock.Lock()
	defer t.persistLock.Unlock()
	faults := t.Faults()
	if err := t.store.Save(faults); err != nil {
		log.Errorf("persisting faults: %s", err)
	}
}
