package tests

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/textileio/fleetwatch/alert"
)

var _ alert.Channel = (*AlertRecorder)(nil)

// ErrSendFailed is returned by AlertRecorder when failures are enabled.
var ErrSendFailed = errors.New("send failed")

// Post is a message recorded by AlertRecorder.
type Post struct {
	Handle  alert.Handle
	ReplyTo *alert.Handle
	Content string
}

// AlertRecorder is an in-memory alert.Channel that records every post.
type AlertRecorder struct {
	lock    sync.Mutex
	posts   []Post
	next    int
	failing bool

	// Gate, if set, is received from before each Send completes. It lets
	// tests hold an escalation in flight.
	Gate chan struct{}
}

// NewAlertRecorder returns an empty recorder.
func NewAlertRecorder() *AlertRecorder {
	return &AlertRecorder{}
}

// SetFailing makes every following call fail (or succeed again).
func (r *AlertRecorder) SetFailing(failing bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.failing = failing
}

// Send records a top-level post.
func (r *AlertRecorder) Send(ctx context.Context, content string) (alert.Handle, error) {
	if r.Gate != nil {
		select {
		case <-r.Gate:
		case <-ctx.Done():
			return alert.Handle{}, ctx.Err()
		}
	}
	return r.record(nil, content)
}

// Reply records a threaded post.
func (r *AlertRecorder) Reply(ctx context.Context, h alert.Handle, content string) (alert.Handle, error) {
	return r.record(&h, content)
}

func (r *AlertRecorder) record(replyTo *alert.Handle, content string) (alert.Handle, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.failing {
		return alert.Handle{}, ErrSendFailed
	}
	r.next++
	h := alert.Handle{ChannelID: "test", MessageID: fmt.Sprintf("msg-%d", r.next)}
	r.posts = append(r.posts, Post{Handle: h, ReplyTo: replyTo, Content: content})
	return h, nil
}

// Sent returns the recorded top-level posts.
func (r *AlertRecorder) Sent() []Post {
	return r.filter(false)
}

// Replies returns the recorded threaded posts.
func (r *AlertRecorder) Replies() []Post {
	return r.filter(true)
}

func (r *AlertRecorder) filter(replies bool) []Post {
	r.lock.Lock()
	defer r.lock.Unlock()
	var res []Post
	for _, p := range r.posts {
		if (p.ReplyTo != nil) == replies {
			res = append(res, p)
		}
	}
	return res
}
