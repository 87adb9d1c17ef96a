// Package platform abstracts the chat platform the archiver reads from.
// The queue core only depends on these interfaces; the Discord REST client
// in the discord subpackage is one implementation, test fakes are another.
package platform

import (
	"context"
	"errors"
)

var (
	// ErrEndOfHistory is returned by HistoryIterator.Next when the channel
	// history is exhausted.
	ErrEndOfHistory = errors.New("platform: end of history")

	// ErrForbidden indicates the bot lacks permission to read the channel.
	ErrForbidden = errors.New("platform: missing access")

	// ErrMessageGone indicates a message no longer exists or its edit token
	// expired; callers should post a fresh message instead.
	ErrMessageGone = errors.New("platform: message gone")
)

// Attachment is one file carried by a message.
type Attachment struct {
	ID       string
	Filename string
	URL      string
	Size     int64
}

// Message is the slice of a platform message the archiver cares about.
type Message struct {
	ID          string
	ChannelID   string
	AuthorID    string
	JumpLink    string
	Attachments []Attachment
}

func (m *Message) HasAttachments() bool {
	return len(m.Attachments) > 0
}

// HistoryIterator walks a channel's message history from newest to oldest.
// Next returns ErrEndOfHistory once the history is exhausted.
type HistoryIterator interface {
	Next(ctx context.Context) (*Message, error)
}

// Channel is a message container the archiver can scan and post into.
type Channel interface {
	ID() string
	Name() string
	History(ctx context.Context) HistoryIterator
	Post(ctx context.Context, content string) (StatusMessage, error)
}

// Thread is a channel nested under a parent channel.
type Thread interface {
	Channel
	ParentName() string
}

// ThreadLister is implemented by channels that can enumerate their threads
// (active and archived).
type ThreadLister interface {
	Threads(ctx context.Context) ([]Thread, error)
}

// StatusMessage is a message the archiver may mutate to report progress.
type StatusMessage interface {
	ID() string
	ChannelID() string
	Edit(ctx context.Context, content string) error
}

// Guild identifies the server a channel belongs to.
type Guild interface {
	ID() string
	Name() string
}

// Messenger delivers direct messages to users.
type Messenger interface {
	DirectMessage(ctx context.Context, userID, content string) error
}
