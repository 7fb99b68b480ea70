package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/textileio/fleetwatch/fault"
	"github.com/textileio/fleetwatch/probe"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	log = logging.Logger("scheduler")
)

// Prober fetches a probe endpoint.
type Prober interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// Registry receives probe outcomes and runs escalations.
type Registry interface {
	Push(ctx context.Context, f fault.Fault) bool
	Undo(ctx context.Context, f fault.Fault) bool
	Escalate(ctx context.Context) int
	Faults() []fault.Fault
}

// Runner polls every target once per cycle. Calls of a cycle are spread by
// the configured stagger: status calls first in target order, then block
// calls in target order.
type Runner struct {
	conf     Config
	targets  []probe.Target
	registry Registry
	client   Prober

	slots chan struct{}
	tasks sync.WaitGroup

	metricCalls         metric.Int64Counter
	metricCycleDuration metric.Int64ValueRecorder

	ctx      context.Context
	cancel   context.CancelFunc
	finished chan struct{}
	clsLock  sync.Mutex
	closed   bool
}

// task is a single delayed probe call.
type task struct {
	target   probe.Target
	endpoint string
	delay    time.Duration
}

// New returns a Runner that starts polling targets right away.
func New(targets []probe.Target, reg Registry, client Prober, opts ...Option) (*Runner, error) {
	conf := defaultConfig
	for _, o := range opts {
		if err := o(&conf); err != nil {
			return nil, fmt.Errorf("applying option: %s", err)
		}
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("no targets to poll")
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		conf:     conf,
		targets:  append([]probe.Target(nil), targets...),
		registry: reg,
		client:   client,

		slots: make(chan struct{}, conf.MaxInFlight),

		ctx:      ctx,
		cancel:   cancel,
		finished: make(chan struct{}),
	}
	r.initMetrics()
	go r.run()
	return r, nil
}

// Close stops the cycle loop, drops calls that didn't start yet and waits
// for in-flight ones to be applied.
func (r *Runner) Close() error {
	log.Info("closing...")
	defer log.Info("closed")
	r.clsLock.Lock()
	defer r.clsLock.Unlock()
	if r.closed {
		return nil
	}
	r.cancel()
	<-r.finished
	r.tasks.Wait()
	r.closed = true
	return nil
}

func (r *Runner) run() {
	defer close(r.finished)
	ticker := time.NewTicker(r.conf.Period)
	defer ticker.Stop()
	var n int
	for {
		n++
		r.cycle(n)
		select {
		case <-r.ctx.Done():
			log.Info("graceful shutdown of polling loop")
			return
		case <-ticker.C:
		}
	}
}

// cycle schedules every call of the cycle and then runs the escalation
// scan. The scan doesn't wait for the calls.
func (r *Runner) cycle(n int) {
	log.Debugf("starting cycle %d over %d targets", n, len(r.targets))
	start := time.Now()
	var calls sync.WaitGroup
	for _, t := range r.schedule() {
		calls.Add(1)
		r.tasks.Add(1)
		go func(t task) {
			defer r.tasks.Done()
			defer calls.Done()
			r.execute(t)
		}(t)
	}

	r.tasks.Add(2)
	go func() {
		defer r.tasks.Done()
		calls.Wait()
		elapsed := time.Since(start)
		r.metricCycleDuration.Record(context.Background(), elapsed.Milliseconds())
		log.Debugf("calls of cycle %d finished in %s", n, elapsed)
	}()
	go func() {
		defer r.tasks.Done()
		if c := r.registry.Escalate(r.ctx); c > 0 {
			log.Infof("cycle %d escalated %d faults", n, c)
		}
	}()
}

// schedule lists the calls of one cycle with their offsets.
func (r *Runner) schedule() []task {
	n := len(r.targets)
	tasks := make([]task, 0, 2*n)
	for i, t := range r.targets {
		tasks = append(tasks, task{target: t, endpoint: probe.StatusPath, delay: r.conf.Stagger * time.Duration(i)})
	}
	for i, t := range r.targets {
		tasks = append(tasks, task{target: t, endpoint: probe.BlocksPath, delay: r.conf.Stagger * time.Duration(n+i)})
	}
	return tasks
}

func (r *Runner) execute(t task) {
	timer := time.NewTimer(t.delay)
	defer timer.Stop()
	select {
	case <-r.ctx.Done():
		return
	case <-timer.C:
	}
	select {
	case <-r.ctx.Done():
		return
	case r.slots <- struct{}{}:
	}
	defer func() { <-r.slots }()

	// A started call isn't cancelled by Close; the client timeout bounds it.
	ctx := context.Background()
	url := strings.TrimSuffix(t.target.URL, "/") + t.endpoint
	body, err := r.client.Get(ctx, url)
	result := "ok"
	if err != nil {
		result = "error"
		log.Warnf("calling %s: %s", url, err)
	}
	r.metricCalls.Add(ctx, 1, attribute.String("endpoint", t.endpoint), attribute.String("result", result))

	decisions := []probe.Decision{probe.Reachability(t.target, t.endpoint, err)}
	if err == nil {
		var evaluated []probe.Decision
		switch t.endpoint {
		case probe.StatusPath:
			evaluated = probe.EvaluateStatus(t.target, body, r.conf.Thresholds)
		case probe.BlocksPath:
			evaluated = probe.EvaluateBlocks(t.target, body)
		}
		decisions = append(decisions, evaluated...)
		if probe.Interpreted(evaluated) {
			decisions = append(decisions, probe.ClearUnknown(t.target, t.endpoint, r.registry.Faults())...)
		}
	}
	r.apply(ctx, decisions)
}

func (r *Runner) apply(ctx context.Context, decisions []probe.Decision) {
	for _, d := range decisions {
		if d.Assert {
			r.registry.Push(ctx, d.Fault)
		} else {
			r.registry.Undo(ctx, d.Fault)
		}
	}
}
