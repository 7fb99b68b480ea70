package discord

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bwmarrin/discordgo"
	logging "github.com/ipfs/go-log/v2"
	"github.com/textileio/fleetwatch/alert"
	"github.com/textileio/fleetwatch/chatops"
)

var (
	log = logging.Logger("alert-discord")
)

var _ alert.Channel = (*Channel)(nil)

// Commands answers chat messages.
type Commands interface {
	Handle(ctx context.Context, text string) (chatops.Reply, bool)
}

// Channel posts alerts to a Discord text channel and answers operator
// commands written in any channel the bot can read.
type Channel struct {
	session   *discordgo.Session
	channelID string

	lock    sync.Mutex
	removes []func()

	ctx     context.Context
	cancel  context.CancelFunc
	clsLock sync.Mutex
	closed  bool
}

// New authenticates with token and returns a Channel posting alerts to
// channelID.
func New(token, channelID string) (*Channel, error) {
	if token == "" {
		return nil, fmt.Errorf("discord token is empty")
	}
	if channelID == "" {
		return nil, fmt.Errorf("discord channel id is empty")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %s", err)
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentMessageContent
	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		session:   s,
		channelID: channelID,
		ctx:       ctx,
		cancel:    cancel,
	}
	c.removes = append(c.removes, s.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		log.Infof("Logged in as %s!", r.User)
	}))
	if err := s.Open(); err != nil {
		cancel()
		return nil, fmt.Errorf("opening discord session: %s", err)
	}
	return c, nil
}

// Send posts content to the alert channel.
func (c *Channel) Send(ctx context.Context, content string) (alert.Handle, error) {
	m, err := c.session.ChannelMessageSend(c.channelID, content, discordgo.WithContext(ctx))
	if err != nil {
		return alert.Handle{}, fmt.Errorf("sending message: %s", err)
	}
	return alert.Handle{ChannelID: m.ChannelID, MessageID: m.ID}, nil
}

// Reply posts content as a reply to the message behind h.
func (c *Channel) Reply(ctx context.Context, h alert.Handle, content string) (alert.Handle, error) {
	ref := &discordgo.MessageReference{MessageID: h.MessageID, ChannelID: h.ChannelID}
	m, err := c.session.ChannelMessageSendReply(h.ChannelID, content, ref, discordgo.WithContext(ctx))
	if err != nil {
		return alert.Handle{}, fmt.Errorf("sending reply: %s", err)
	}
	return alert.Handle{ChannelID: m.ChannelID, MessageID: m.ID}, nil
}

// Listen answers every non-bot message that cmds recognizes, until the
// channel is closed.
func (c *Channel) Listen(cmds Commands) {
	remove := c.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		send, closer, ok, err := respond(c.ctx, cmds, m.Message)
		if err != nil {
			log.Errorf("preparing reply to %q: %s", m.Content, err)
			return
		}
		if !ok {
			return
		}
		defer closer()
		if _, err := s.ChannelMessageSendComplex(m.ChannelID, send, discordgo.WithContext(c.ctx)); err != nil {
			log.Errorf("replying to %q: %s", m.Content, err)
		}
	})
	c.lock.Lock()
	c.removes = append(c.removes, remove)
	c.lock.Unlock()
}

// Close removes the handlers and closes the session.
func (c *Channel) Close() error {
	c.clsLock.Lock()
	defer c.clsLock.Unlock()
	if c.closed {
		return nil
	}
	c.cancel()
	c.lock.Lock()
	for _, remove := range c.removes {
		remove()
	}
	c.removes = nil
	c.lock.Unlock()
	if err := c.session.Close(); err != nil {
		return fmt.Errorf("closing discord session: %s", err)
	}
	c.closed = true
	return nil
}

// respond builds the reply to m. The returned func releases the
// attachment, if any, once the reply is sent.
func respond(ctx context.Context, cmds Commands, m *discordgo.Message) (*discordgo.MessageSend, func(), bool, error) {
	if m.Author == nil || m.Author.Bot {
		return nil, nil, false, nil
	}
	reply, ok := cmds.Handle(ctx, m.Content)
	if !ok {
		return nil, nil, false, nil
	}
	send := &discordgo.MessageSend{
		Content:   reply.Text,
		Reference: m.Reference(),
	}
	if reply.AttachmentPath == "" {
		return send, func() {}, true, nil
	}
	f, err := os.Open(reply.AttachmentPath)
	if err != nil {
		return nil, nil, false, fmt.Errorf("opening attachment: %s", err)
	}
	send.Files = []*discordgo.File{{
		Name:        filepath.Base(reply.AttachmentPath),
		ContentType: "text/plain",
		Reader:      f,
	}}
	return send, func() {
		if err := f.Close(); err != nil {
			log.Errorf("closing attachment: %s", err)
		}
	}, true, nil
}
