package chatops

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	logging "github.com/ipfs/go-log/v2"
	"github.com/textileio/fleetwatch/tracker"
)

var (
	log = logging.Logger("chatops")
)

const (
	// LogReplyText accompanies the audit log attachment.
	LogReplyText = "Here's a log, figure it out yourself!"
	// StatusReplyText is the status reply when no attachment is sent.
	StatusReplyText = "Fault list dumped to the daemon log, check it for details."
	// ResetReplyText confirms a reset.
	ResetReplyText = "Error codes reset"
)

// Registry is the fault registry the commands operate on.
type Registry interface {
	List() []tracker.FaultStatus
	Reset(ctx context.Context) error
}

// Reply is the answer to a command. AttachmentPath, if not empty, names a
// file to attach.
type Reply struct {
	Text           string
	AttachmentPath string
}

// Config contains the handler settings.
type Config struct {
	// Network names the fleet in replies.
	Network string
	// LogProbability is the chance that a status command is answered with
	// the audit log attachment.
	LogProbability float64
	// Rand drives the status attachment choice.
	Rand *rand.Rand
}

// Option sets values on a Config.
type Option func(*Config) error

// WithNetwork sets the fleet name used in replies.
func WithNetwork(name string) Option {
	return func(c *Config) error {
		if name == "" {
			return fmt.Errorf("network name can't be empty")
		}
		c.Network = name
		return nil
	}
}

// WithLogProbability sets the chance of a status command being answered
// with the audit log.
func WithLogProbability(p float64) Option {
	return func(c *Config) error {
		if p < 0 || p > 1 {
			return fmt.Errorf("probability must be in [0, 1]")
		}
		c.LogProbability = p
		return nil
	}
}

// WithRand sets the random source.
func WithRand(r *rand.Rand) Option {
	return func(c *Config) error {
		c.Rand = r
		return nil
	}
}

// Handler answers operator commands.
type Handler struct {
	conf     Config
	registry Registry
	logPath  string

	lock sync.Mutex
}

// New returns a Handler over reg that attaches the audit log at logPath.
func New(reg Registry, logPath string, opts ...Option) (*Handler, error) {
	conf := Config{
		Network:        "mainnet",
		LogProbability: 0.11,
	}
	for _, o := range opts {
		if err := o(&conf); err != nil {
			return nil, fmt.Errorf("applying option: %s", err)
		}
	}
	if conf.Rand == nil {
		conf.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Handler{conf: conf, registry: reg, logPath: logPath}, nil
}

// Handle runs the command in text. The second return value is false if
// text isn't a command.
func (h *Handler) Handle(ctx context.Context, text string) (Reply, bool) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "health":
		return h.health(), true
	case "reset":
		return h.reset(ctx), true
	case "logs", "log":
		return h.logs(), true
	case "status":
		return h.status(), true
	case "faults":
		return h.faults(), true
	default:
		return Reply{}, false
	}
}

func (h *Handler) health() Reply {
	name := networkTitle(h.conf.Network)
	for _, fs := range h.registry.List() {
		if fs.Overdue {
			return Reply{Text: name + " is not healthy!"}
		}
	}
	return Reply{Text: name + " is healthy!"}
}

func (h *Handler) reset(ctx context.Context) Reply {
	if err := h.registry.Reset(ctx); err != nil {
		log.Errorf("resetting registry: %s", err)
		return Reply{Text: fmt.Sprintf("Reset failed: %s", err)}
	}
	log.Info("registry reset by operator command")
	return Reply{Text: ResetReplyText}
}

func (h *Handler) logs() Reply {
	return Reply{Text: LogReplyText, AttachmentPath: h.logPath}
}

func (h *Handler) status() Reply {
	list := h.registry.List()
	log.Infof("%d active faults", len(list))
	for _, fs := range list {
		log.Infof("%s: %s since %s (escalated: %t)", fs.Kind, fs.Detail, fs.FirstObservedAt.Format(time.RFC3339), fs.Escalated)
	}

	h.lock.Lock()
	attach := h.conf.Rand.Float64() < h.conf.LogProbability
	h.lock.Unlock()
	if attach {
		return h.logs()
	}
	return Reply{Text: StatusReplyText}
}

func (h *Handler) faults() Reply {
	list := h.registry.List()
	if len(list) == 0 {
		return Reply{Text: "No active faults."}
	}
	var b strings.Builder
	for _, fs := range list {
		since := humanize.RelTime(fs.FirstObservedAt, fs.FirstObservedAt.Add(fs.Age), "ago", "from now")
		fmt.Fprintf(&b, "%s: %s (since %s", fs.Kind, fs.Detail, since)
		if fs.Escalated {
			b.WriteString(", escalated")
		}
		b.WriteString(")\n")
	}
	return Reply{Text: strings.TrimSuffix(b.String(), "\n")}
}

func networkTitle(name string) string {
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
