package logchannel

import (
	"context"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/textileio/fleetwatch/alert"
)

var (
	log = logging.Logger("alert-log")
)

var _ alert.Channel = (*Channel)(nil)

// Channel is an alert.Channel that only writes to the diagnostic log. It's
// used when no chat transport is configured.
type Channel struct {
	id string
}

// New returns a new Channel with the given name.
func New(name string) *Channel {
	return &Channel{id: name}
}

// Send logs content and returns a fresh handle.
func (c *Channel) Send(ctx context.Context, content string) (alert.Handle, error) {
	h := alert.Handle{ChannelID: c.id, MessageID: uuid.New().String()}
	log.Warnf("[%s] %s", h.MessageID, content)
	return h, nil
}

// Reply logs content as a reply to h.
func (c *Channel) Reply(ctx context.Context, h alert.Handle, content string) (alert.Handle, error) {
	r := alert.Handle{ChannelID: c.id, MessageID: uuid.New().String()}
	log.Warnf("[%s] reply to %s: %s", r.MessageID, h.MessageID, content)
	return r, nil
}
