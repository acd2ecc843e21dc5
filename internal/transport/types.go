// Package transport defines the operator-facing message channel herald uses
// for alerts. Announcements themselves go through internal/platform.
package transport

import "context"

// Target addresses one chat, optionally a forum topic inside it.
type Target struct {
	ChatID   int64
	ThreadID int // telegram forum topic thread id (0 if none)
}

func (t Target) IsZero() bool { return t.ChatID == 0 }

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Silent         bool
}

// Notification is one queued operator message.
type Notification struct {
	Priority int // 0 low.. 10 high
	Target   Target
	Text     string
	Options  *SendOptions
}

// Sender delivers text to an operator chat. Long text may be split into
// several messages; the returned ref points at the first one.
type Sender interface {
	SendText(ctx context.Context, to Target, text string, opt *SendOptions) (MessageRef, error)
}
