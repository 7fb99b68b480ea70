package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/textileio/fleetwatch/signaler"
	"github.com/textileio/fleetwatch/tracker"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var (
	log = logging.Logger("health")
)

// ServiceName is the gRPC health service name mirrored by Serve, besides
// the overall "" service.
const ServiceName = "fleetwatch"

// Registry is the view of active faults the module aggregates.
type Registry interface {
	List() []tracker.FaultStatus
	Listen() <-chan signaler.Event
	Unregister(<-chan signaler.Event)
}

// Module exposes the fleet health.
type Module struct {
	registry Registry

	lock    sync.Mutex
	serving bool
	started bool

	ctx      context.Context
	cancel   context.CancelFunc
	finished chan struct{}
	clsLock  sync.Mutex
	closed   bool
}

// Status represents the fleet health status.
type Status int

const (
	// Ok specifies the fleet is healthy.
	Ok Status = iota
	// Degraded specifies some fault is active for longer than the escalation age.
	Degraded
	// Error specifies there was an error when determining fleet health.
	Error
)

// StatusStr maps Status values to names.
var StatusStr = map[Status]string{
	Ok:       "Ok",
	Degraded: "Degraded",
	Error:    "Error",
}

func (s Status) String() string {
	return StatusStr[s]
}

// New creates a new health module.
func New(reg Registry) *Module {
	ctx, cancel := context.WithCancel(context.Background())
	return &Module{
		registry: reg,
		ctx:      ctx,
		cancel:   cancel,
		finished: make(chan struct{}),
	}
}

// Healthy returns true if no active fault is overdue.
func (m *Module) Healthy() bool {
	for _, fs := range m.registry.List() {
		if fs.Overdue {
			return false
		}
	}
	return true
}

// Check returns the current health status and one message per overdue fault.
func (m *Module) Check(ctx context.Context) (status Status, messages []string, err error) {
	if err := ctx.Err(); err != nil {
		return Error, nil, err
	}
	for _, fs := range m.registry.List() {
		if !fs.Overdue {
			continue
		}
		messages = append(messages, fmt.Sprintf("%s: %s (active for %s)", fs.Kind, fs.Detail, fs.Age.Truncate(time.Second)))
	}
	status = Ok
	if len(messages) > 0 {
		status = Degraded
	}
	return status, messages, nil
}

// Serve keeps srv in sync with the fleet health until the module is closed.
// The status is refreshed on every registry event and every interval, since
// faults become overdue without any event.
func (m *Module) Serve(srv *grpchealth.Server, interval time.Duration) {
	m.lock.Lock()
	if m.started {
		m.lock.Unlock()
		return
	}
	m.started = true
	m.lock.Unlock()

	events := m.registry.Listen()
	go func() {
		defer close(m.finished)
		defer m.registry.Unregister(events)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		m.sync(srv)
		for {
			select {
			case <-m.ctx.Done():
				return
			case _, ok := <-events:
				if !ok {
					return
				}
			case <-ticker.C:
			}
			m.sync(srv)
		}
	}()
}

func (m *Module) sync(srv *grpchealth.Server) {
	healthy := m.Healthy()
	status := healthpb.HealthCheckResponse_SERVING
	if !healthy {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	srv.SetServingStatus("", status)
	srv.SetServingStatus(ServiceName, status)

	m.lock.Lock()
	defer m.lock.Unlock()
	if m.serving != healthy {
		log.Infof("fleet health changed to %s", status)
		m.serving = healthy
	}
}

// Close stops serving.
func (m *Module) Close() error {
	m.clsLock.Lock()
	defer m.clsLock.Unlock()
	if m.closed {
		return nil
	}
	m.cancel()
	m.lock.Lock()
	started := m.started
	m.started = true
	m.lock.Unlock()
	if started {
		<-m.finished
	}
	m.closed = true
	return nil
}
