// Package platform describes the chat platform operations herald depends on.
// The concrete Discord client lives in platform/discord.
package platform

import (
	"context"
	"errors"
	"io"
)

// ErrChannelNotFound is returned by Client.Channel when the channel does not
// exist or is not visible to the bot.
var ErrChannelNotFound = errors.New("platform: channel not found")

type MentionKind string

const MentionEveryone MentionKind = "everyone"

// AllowedMentions restricts who a message may ping.
type AllowedMentions struct {
	Parse []MentionKind
	Roles []string
}

type Embed struct {
	Title       string
	Description string
	Color       *int // nil renders colorless
	Image       string
	Thumbnail   string
	Footer      string
}

// LinkButton is a URL button rendered in a single action row.
type LinkButton struct {
	Label string
	URL   string
}

// File references an attachment on local disk.
type File struct {
	Name        string
	Path        string
	ContentType string
}

// Message is one outgoing platform message.
type Message struct {
	Content         string
	Embeds          []Embed
	Buttons         []LinkButton
	Files           []File
	AllowedMentions AllowedMentions
}

// Empty reports whether m has nothing the platform would accept.
func (m *Message) Empty() bool {
	return m == nil || (m.Content == "" && len(m.Embeds) == 0 && len(m.Files) == 0)
}

type Channel struct {
	ID      string
	GuildID string
	Name    string
	// Text is true when the channel can carry messages.
	Text bool
}

type Role struct {
	ID       string
	Name     string
	Color    int
	Position int
	Managed  bool // bot or integration role
}

type Member struct {
	UserID string
	Roles  []string
}

type Guild struct {
	ID   string
	Name string
}

type SentMessage struct {
	ID        string
	ChannelID string
}

// Opener opens a named file for upload. Tests swap it for an in-memory source.
type Opener func(path string) (io.ReadCloser, error)

type Client interface {
	Channel(ctx context.Context, id string) (Channel, error)
	Send(ctx context.Context, channelID string, msg *Message) (SentMessage, error)

	Guild(ctx context.Context, guildID string) (Guild, error)
	GuildRoles(ctx context.Context, guildID string) ([]Role, error)
	GuildChannels(ctx context.Context, guildID string) ([]Channel, error)
	Member(ctx context.Context, guildID, userID string) (Member, error)

	Close() error
}
