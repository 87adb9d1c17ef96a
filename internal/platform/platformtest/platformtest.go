// Package platformtest provides in-memory fakes for the platform interfaces.
package platformtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/italolelis/discord_archiver/internal/platform"
)

// StatusMessage is a fake platform.StatusMessage recording every edit.
type StatusMessage struct {
	MsgID   string
	ChanID  string
	EditErr error

	mu      sync.Mutex
	history []string
}

func (m *StatusMessage) ID() string        { return m.MsgID }
func (m *StatusMessage) ChannelID() string { return m.ChanID }

func (m *StatusMessage) Edit(_ context.Context, content string) error {
	if m.EditErr != nil {
		return m.EditErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, content)

	return nil
}

// Content returns the last successfully edited content.
func (m *StatusMessage) Content() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.history) == 0 {
		return ""
	}

	return m.history[len(m.history)-1]
}

// Edits returns every content the message has held, oldest first.
func (m *StatusMessage) Edits() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, len(m.history))
	copy(out, m.history)

	return out
}

// Channel is a fake platform.Channel with a fixed newest-first history.
type Channel struct {
	ChanID   string
	ChanName string

	Messages   []*platform.Message // newest first
	HistoryErr error               // returned by every Next call when set
	PostErr    error

	ThreadList []platform.Thread
	ThreadsErr error

	mu     sync.Mutex
	posted []*StatusMessage
	nextID int
}

func (c *Channel) ID() string   { return c.ChanID }
func (c *Channel) Name() string { return c.ChanName }

func (c *Channel) History(_ context.Context) platform.HistoryIterator {
	return &historyIterator{channel: c}
}

func (c *Channel) Post(_ context.Context, content string) (platform.StatusMessage, error) {
	if c.PostErr != nil {
		return nil, c.PostErr
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	msg := &StatusMessage{MsgID: fmt.Sprintf("%s-posted-%d", c.ChanID, c.nextID), ChanID: c.ChanID}
	msg.history = []string{content}
	c.posted = append(c.posted, msg)

	return msg, nil
}

func (c *Channel) Threads(_ context.Context) ([]platform.Thread, error) {
	if c.ThreadsErr != nil {
		return nil, c.ThreadsErr
	}

	return c.ThreadList, nil
}

// Posted returns every message posted to the channel, oldest first.
func (c *Channel) Posted() []*StatusMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*StatusMessage, len(c.posted))
	copy(out, c.posted)

	return out
}

type historyIterator struct {
	channel *Channel
	i       int
}

func (it *historyIterator) Next(_ context.Context) (*platform.Message, error) {
	if it.channel.HistoryErr != nil {
		return nil, it.channel.HistoryErr
	}

	if it.i >= len(it.channel.Messages) {
		return nil, platform.ErrEndOfHistory
	}

	msg := it.channel.Messages[it.i]
	it.i++

	return msg, nil
}

// Thread is a fake platform.Thread.
type Thread struct {
	Channel
	Parent string
}

func (t *Thread) ParentName() string { return t.Parent }

// Guild is a fake platform.Guild.
type Guild struct {
	GuildID   string
	GuildName string
}

func (g *Guild) ID() string   { return g.GuildID }
func (g *Guild) Name() string { return g.GuildName }

// Messenger is a fake platform.Messenger recording delivered DMs.
type Messenger struct {
	ErrFor map[string]error // per-recipient delivery failure

	mu   sync.Mutex
	sent map[string][]string
}

func (m *Messenger) DirectMessage(_ context.Context, userID, content string) error {
	if err := m.ErrFor[userID]; err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sent == nil {
		m.sent = make(map[string][]string)
	}

	m.sent[userID] = append(m.sent[userID], content)

	return nil
}

// Sent returns the DMs delivered to userID, oldest first.
func (m *Messenger) Sent(userID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, len(m.sent[userID]))
	copy(out, m.sent[userID])

	return out
}
