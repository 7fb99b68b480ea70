package tracker

import (
	"context"
	"io/ioutil"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/stretchr/testify/require"
	"github.com/textileio/fleetwatch/alert"
	"github.com/textileio/fleetwatch/auditlog"
	"github.com/textileio/fleetwatch/fault"
	"github.com/textileio/fleetwatch/fault/store"
	"github.com/textileio/fleetwatch/signaler"
	"github.com/textileio/fleetwatch/tests"
	"go.opentelemetry.io/otel/oteltest"
)

var (
	ctx    = context.Background()
	period = time.Minute
	start  = time.Date(2022, 5, 1, 12, 0, 0, 0, time.UTC)
)

func TestMain(m *testing.M) {
	logging.SetAllLoggers(logging.LevelError)
	os.Exit(m.Run())
}

type env struct {
	t       *Tracker
	clock   *tests.Clock
	alerts  *tests.AlertRecorder
	store   *store.Store
	audit   *auditlog.Log
	logPath string
}

func setup(t *testing.T) *env {
	t.Helper()
	return setupWithStore(t, store.New(tests.NewMemDatastore()))
}

func setupWithStore(t *testing.T, s *store.Store) *env {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "audit.log")
	audit, err := auditlog.Open(logPath)
	require.NoError(t, err)
	clock := tests.NewClock(start)
	alerts := tests.NewAlertRecorder()
	tr, err := New(s, audit, alerts,
		WithClock(clock.Now),
		WithEscalationAge(3*period),
		WithRand(rand.New(rand.NewSource(42))),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, tr.Close())
		require.NoError(t, audit.Close())
	})
	return &env{t: tr, clock: clock, alerts: alerts, store: s, audit: audit, logPath: logPath}
}

func auditLines(t *testing.T, path string) []string {
	t.Helper()
	buf, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(buf), "\n"), "\n")
}

func TestPushIsIdempotent(t *testing.T) {
	t.Parallel()
	e := setup(t)
	f := fault.New(fault.PeersDropped, "nOfPeers < 6 on node X")

	require.True(t, e.t.Push(ctx, f))
	e.clock.Advance(30 * time.Second)
	require.False(t, e.t.Push(ctx, f))

	faults := e.t.Faults()
	require.Len(t, faults, 1)
	require.Equal(t, start, faults[0].FirstObservedAt)
	require.True(t, e.t.Contains(f.Identity()))

	// One assertion line after the init line.
	require.Len(t, auditLines(t, e.logPath), 2)
}

func TestInsertionOrder(t *testing.T) {
	t.Parallel()
	e := setup(t)
	a := fault.New(fault.NodeUnreachable, "a")
	b := fault.New(fault.NodeUnreachable, "b")
	c := fault.New(fault.PeersNodesMismatch, "a")
	e.t.Push(ctx, a)
	e.t.Push(ctx, b)
	e.t.Push(ctx, c)
	e.t.Undo(ctx, b)
	e.t.Push(ctx, b)

	var ids []fault.Identity
	for _, f := range e.t.Faults() {
		ids = append(ids, f.Identity())
	}
	require.Equal(t, []fault.Identity{a.Identity(), c.Identity(), b.Identity()}, ids)
}

func TestUndoIsIdempotent(t *testing.T) {
	t.Parallel()
	e := setup(t)
	f := fault.New(fault.NodeUnreachable, "A can't be reached.")
	other := fault.New(fault.NodeUnreachable, "B can't be reached.")
	e.t.Push(ctx, f)
	e.t.Push(ctx, other)

	require.True(t, e.t.Undo(ctx, f))
	require.Len(t, e.t.Faults(), 1)
	require.False(t, e.t.Undo(ctx, f))
	require.Len(t, e.t.Faults(), 1)
	require.True(t, e.t.Contains(other.Identity()))

	lines := auditLines(t, e.logPath)
	require.Len(t, lines, 4)
	require.Contains(t, lines[3], "[OK] code: NODE_UNREACHABLE restored, prevMsg: A can't be reached.")
}

func TestQuickRecoveryNeverEscalates(t *testing.T) {
	t.Parallel()
	e := setup(t)
	f := fault.New(fault.NodeUnreachable, "A")
	e.t.Push(ctx, f)
	e.clock.Advance(time.Second)
	require.Equal(t, 0, e.t.Escalate(ctx))
	e.t.Undo(ctx, f)
	e.clock.Advance(10 * period)
	require.Equal(t, 0, e.t.Escalate(ctx))

	require.Empty(t, e.t.Faults())
	require.Empty(t, e.alerts.Sent())
	require.Empty(t, e.alerts.Replies())
}

func TestEscalationBoundary(t *testing.T) {
	t.Parallel()
	e := setup(t)
	f := fault.New(fault.PeersDropped, "nodeX")
	e.t.Push(ctx, f)

	e.clock.Advance(3 * period)
	require.Equal(t, 0, e.t.Escalate(ctx))
	require.True(t, e.t.Healthy())
	require.Empty(t, e.alerts.Sent())

	e.clock.Advance(time.Millisecond)
	require.Equal(t, 1, e.t.Escalate(ctx))
	require.False(t, e.t.Healthy())
	for i := 0; i < 5; i++ {
		e.clock.Advance(period)
		require.Equal(t, 0, e.t.Escalate(ctx))
	}

	sent := e.alerts.Sent()
	require.Len(t, sent, 1)
	require.Contains(t, sent[0].Content, "@everyone")
	require.Contains(t, sent[0].Content, "code: PEERS_DROPPED, msg: nodeX")
	require.True(t, e.t.Escalated(f.Identity()))
	require.Contains(t, auditLines(t, e.logPath)[2], "[INFO] sending notification...")
}

func TestRetractionAndReescalation(t *testing.T) {
	t.Parallel()
	e := setup(t)
	f := fault.New(fault.NodesDropped, "nOfNodes < 6 on node Y")
	e.t.Push(ctx, f)
	e.clock.Advance(3*period + time.Second)
	require.Equal(t, 1, e.t.Escalate(ctx))

	require.True(t, e.t.Undo(ctx, f))
	replies := e.alerts.Replies()
	require.Len(t, replies, 1)
	require.Equal(t, e.alerts.Sent()[0].Handle, *replies[0].ReplyTo)
	require.Contains(t, alert.Retractions, replies[0].Content)
	require.False(t, e.t.Escalated(f.Identity()))

	// A second undo doesn't retract again.
	require.False(t, e.t.Undo(ctx, f))
	require.Len(t, e.alerts.Replies(), 1)

	// The fault comes back and ages past the threshold again.
	e.t.Push(ctx, f)
	e.clock.Advance(2 * period)
	require.Equal(t, 0, e.t.Escalate(ctx))
	e.clock.Advance(period + time.Second)
	require.Equal(t, 1, e.t.Escalate(ctx))
	require.Len(t, e.alerts.Sent(), 2)

	require.True(t, e.t.Undo(ctx, f))
	replies = e.alerts.Replies()
	require.Len(t, replies, 2)
	require.Equal(t, e.alerts.Sent()[1].Handle, *replies[1].ReplyTo)
}

func TestTwoSlashedValidators(t *testing.T) {
	t.Parallel()
	e := setup(t)
	v0 := fault.New(fault.ValidatorSlashed, "Validator 0 slashed")
	v3 := fault.New(fault.ValidatorSlashed, "Validator 3 slashed")
	e.t.Push(ctx, v0)
	e.t.Push(ctx, v3)
	require.Len(t, e.t.Faults(), 2)

	e.clock.Advance(4 * period)
	require.Equal(t, 2, e.t.Escalate(ctx))
	require.Len(t, e.alerts.Sent(), 2)

	e.t.Undo(ctx, v3)
	replies := e.alerts.Replies()
	require.Len(t, replies, 1)
	require.Equal(t, e.alerts.Sent()[1].Handle, *replies[0].ReplyTo)
	require.True(t, e.t.Escalated(v0.Identity()))
}

func TestFailedEscalationIsAttemptedNextCycle(t *testing.T) {
	t.Parallel()
	e := setup(t)
	f := fault.New(fault.Unknown, "boom")
	e.t.Push(ctx, f)
	e.clock.Advance(4 * period)

	e.alerts.SetFailing(true)
	require.Equal(t, 1, e.t.Escalate(ctx))
	require.False(t, e.t.Escalated(f.Identity()))

	e.alerts.SetFailing(false)
	e.clock.Advance(period)
	require.Equal(t, 1, e.t.Escalate(ctx))
	require.True(t, e.t.Escalated(f.Identity()))
	require.Len(t, e.alerts.Sent(), 1)
}

func TestFailedRetractionDropsRecord(t *testing.T) {
	t.Parallel()
	e := setup(t)
	f := fault.New(fault.NodeUnreachable, "A")
	e.t.Push(ctx, f)
	e.clock.Advance(4 * period)
	e.t.Escalate(ctx)

	e.alerts.SetFailing(true)
	require.True(t, e.t.Undo(ctx, f))
	require.False(t, e.t.Escalated(f.Identity()))
	require.Empty(t, e.alerts.Replies())
}

func TestUndoWhileEscalationInFlight(t *testing.T) {
	t.Parallel()
	e := setup(t)
	gate := make(chan struct{})
	e.alerts.Gate = gate
	f := fault.New(fault.PeersNodesMismatch, "nOfPeers !== nOfNodes on node Z")
	e.t.Push(ctx, f)
	e.clock.Advance(4 * period)

	done := make(chan int)
	go func() { done <- e.t.Escalate(ctx) }()

	// Wait until the record is reserved, then resolve the fault.
	require.Eventually(t, func() bool {
		e.t.lock.Lock()
		defer e.t.lock.Unlock()
		_, ok := e.t.escalations[f.Identity()]
		return ok
	}, time.Second, time.Millisecond)
	require.True(t, e.t.Undo(ctx, f))
	require.Empty(t, e.alerts.Replies())

	close(gate)
	require.Equal(t, 1, <-done)
	require.Len(t, e.alerts.Sent(), 1)
	replies := e.alerts.Replies()
	require.Len(t, replies, 1)
	require.Equal(t, e.alerts.Sent()[0].Handle, *replies[0].ReplyTo)
	require.False(t, e.t.Escalated(f.Identity()))
}

func TestHealthy(t *testing.T) {
	t.Parallel()
	e := setup(t)
	require.True(t, e.t.Healthy())

	e.t.Push(ctx, fault.New(fault.NodeUnreachable, "A"))
	e.clock.Advance(2 * period)
	e.t.Push(ctx, fault.New(fault.NodeUnreachable, "B"))
	require.True(t, e.t.Healthy())

	e.clock.Advance(period + time.Second)
	require.False(t, e.t.Healthy())
	overdue := e.t.Overdue()
	require.Len(t, overdue, 1)
	require.Equal(t, "A", overdue[0].Detail)

	list := e.t.List()
	require.Len(t, list, 2)
	require.True(t, list[0].Overdue)
	require.False(t, list[1].Overdue)
	require.Equal(t, period+time.Second, list[1].Age)
}

func TestReset(t *testing.T) {
	t.Parallel()
	e := setup(t)
	f := fault.New(fault.PeersDropped, "X")
	e.t.Push(ctx, f)
	e.t.Push(ctx, fault.New(fault.NodesDropped, "X"))
	e.clock.Advance(4 * period)
	require.Equal(t, 2, e.t.Escalate(ctx))

	require.NoError(t, e.t.Reset(ctx))
	require.Empty(t, e.t.Faults())
	require.False(t, e.t.Escalated(f.Identity()))
	require.True(t, e.t.Healthy())
	lines := auditLines(t, e.logPath)
	require.Len(t, lines, 1)
	require.Contains(t, lines[0], "[INFO] log initialized")
	persisted, err := e.store.Get()
	require.NoError(t, err)
	require.Empty(t, persisted)

	// Undo of a reset fault is a no-op and doesn't retract.
	require.False(t, e.t.Undo(ctx, f))
	require.Empty(t, e.alerts.Replies())

	// Fresh lifecycle after reset.
	require.True(t, e.t.Push(ctx, f))
	require.Equal(t, e.clock.Now(), e.t.Faults()[0].FirstObservedAt)
	e.clock.Advance(3*period + time.Second)
	require.Equal(t, 1, e.t.Escalate(ctx))
	require.Len(t, e.alerts.Sent(), 3)
}

func TestPersistence(t *testing.T) {
	t.Parallel()
	s := store.New(tests.NewMemDatastore())
	e := setupWithStore(t, s)

	events := e.t.Listen()
	a := fault.New(fault.NodeUnreachable, "A")
	b := fault.New(fault.ValidatorSlashed, "Validator 1 slashed")
	e.t.Push(ctx, a)
	e.t.Push(ctx, b)
	require.Equal(t, signaler.Asserted, (<-events).Type)
	require.Equal(t, signaler.Asserted, (<-events).Type)

	require.Eventually(t, func() bool {
		persisted, err := s.Get()
		return err == nil && len(persisted) == 2
	}, time.Second, 5*time.Millisecond)

	// Close flushes; a new tracker over the same store resumes the set
	// with the original timestamps.
	require.NoError(t, e.t.Close())
	e2 := setupWithStore(t, s)
	faults := e2.t.Faults()
	require.Len(t, faults, 2)
	require.Equal(t, a.Identity(), faults[0].Identity())
	require.True(t, start.Equal(faults[0].FirstObservedAt))
	require.False(t, e2.t.Push(ctx, b))
}

func TestEvents(t *testing.T) {
	t.Parallel()
	e := setup(t)
	events := e.t.Listen()
	defer e.t.Unregister(events)

	f := fault.New(fault.NodeUnreachable, "A")
	e.t.Push(ctx, f)
	e.clock.Advance(4 * period)
	e.t.Escalate(ctx)
	e.t.Undo(ctx, f)

	var got []signaler.EventType
	for i := 0; i < 4; i++ {
		got = append(got, (<-events).Type)
	}
	require.Equal(t, []signaler.EventType{signaler.Asserted, signaler.Escalated, signaler.Restored, signaler.Retracted}, got)
}

func TestPushDuringReset(t *testing.T) {
	t.Parallel()
	s := store.New(tests.NewMemDatastore())
	logPath := filepath.Join(t.TempDir(), "audit.log")
	l, err := auditlog.Open(logPath)
	require.NoError(t, err)
	audit := &gatedAudit{Log: l, entered: make(chan struct{}), release: make(chan struct{})}
	tr, err := New(s, audit, tests.NewAlertRecorder(), WithClock(tests.NewClock(start).Now))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, tr.Close())
		require.NoError(t, l.Close())
	})
	require.True(t, tr.Push(ctx, fault.New(fault.PeersDropped, "X")))

	reset := make(chan error, 1)
	go func() { reset <- tr.Reset(ctx) }()
	<-audit.entered

	a := fault.New(fault.NodeUnreachable, "A")
	pushed := make(chan bool, 1)
	go func() { pushed <- tr.Push(ctx, a) }()
	select {
	case <-pushed:
		t.Fatal("push completed in the middle of a reset")
	case <-time.After(50 * time.Millisecond):
	}
	close(audit.release)
	require.NoError(t, <-reset)
	require.True(t, <-pushed)

	faults := tr.Faults()
	require.Len(t, faults, 1)
	require.Equal(t, a.Identity(), faults[0].Identity())
	require.Eventually(t, func() bool {
		persisted, err := s.Get()
		return err == nil && len(persisted) == 1 && persisted[0].Identity() == a.Identity()
	}, time.Second, 5*time.Millisecond)
	lines := auditLines(t, logPath)
	require.Len(t, lines, 2)
	require.Contains(t, lines[1], "[ERR] code: NODE_UNREACHABLE, msg: A")
}

func TestActiveMetricPerKind(t *testing.T) {
	t.Parallel()
	impl, provider := oteltest.NewMeterProvider()
	audit, err := auditlog.Open(filepath.Join(t.TempDir(), "audit.log"))
	require.NoError(t, err)
	tr, err := New(store.New(tests.NewMemDatastore()), audit, tests.NewAlertRecorder(), WithMeterProvider(provider))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, tr.Close())
		require.NoError(t, audit.Close())
	})

	tr.Push(ctx, fault.New(fault.NodeUnreachable, "A"))
	tr.Push(ctx, fault.New(fault.NodeUnreachable, "B"))
	tr.Push(ctx, fault.New(fault.PeersDropped, "A"))
	tr.Undo(ctx, fault.New(fault.NodeUnreachable, "B"))

	active := func() map[string]int64 {
		res := make(map[string]int64)
		for _, m := range oteltest.AsStructs(impl.MeasurementBatches) {
			if m.Name != "fleetwatch.faults.active" {
				continue
			}
			kind, ok := m.Labels["kind"]
			require.True(t, ok, "active faults measurement without kind")
			res[kind.AsString()] += m.Number.AsInt64()
		}
		return res
	}
	require.Equal(t, map[string]int64{"NODE_UNREACHABLE": 1, "PEERS_DROPPED": 1}, active())

	require.NoError(t, tr.Reset(ctx))
	require.Equal(t, map[string]int64{"NODE_UNREACHABLE": 0, "PEERS_DROPPED": 0}, active())
}

func TestOptions(t *testing.T) {
	t.Parallel()
	s := store.New(tests.NewMemDatastore())
	_, err := New(s, nil, nil, WithEscalationAge(0))
	require.Error(t, err)
	_, err = New(s, nil, nil, WithNetwork(""))
	require.Error(t, err)
}

// gatedAudit holds Reset until release is closed.
type gatedAudit struct {
	*auditlog.Log
	entered chan struct{}
	release chan struct{}
}

func (a *gatedAudit) Reset() error {
	close(a.entered)
	<-a.release
	return a.Log.Reset()
}
