// Package platformtest provides an in-memory platform.Client for tests.
package platformtest

import (
	"context"
	"fmt"
	"sync"

	"herald/internal/platform"
)

type Sent struct {
	ChannelID string
	Message   platform.Message
}

// Fake records sends and serves canned guild data.
type Fake struct {
	mu sync.Mutex

	channels map[string]platform.Channel
	guild    platform.Guild
	roles    []platform.Role
	members  map[string]platform.Member

	// SendErr, when set, is consulted before each send. n counts sends from 1.
	SendErr func(n int, msg *platform.Message) error
	// SendPanic makes every send panic with the given value.
	SendPanic any
	// GuildErr fails every guild lookup.
	GuildErr error

	sent   []Sent
	calls  int
	closed bool
}

func NewFake() *Fake {
	return &Fake{
		channels: map[string]platform.Channel{},
		members:  map[string]platform.Member{},
	}
}

func (f *Fake) AddChannel(ch platform.Channel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels[ch.ID] = ch
}

// AddTextChannel registers a message-capable channel.
func (f *Fake) AddTextChannel(id string) {
	f.AddChannel(platform.Channel{ID: id, Name: "chan-" + id, Text: true})
}

func (f *Fake) SetGuild(g platform.Guild, roles []platform.Role) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.guild = g
	f.roles = append([]platform.Role(nil), roles...)
}

func (f *Fake) AddMember(guildID string, m platform.Member) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[guildID+"/"+m.UserID] = m
}

func (f *Fake) Sent() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent(nil), f.sent...)
}

func (f *Fake) SendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *Fake) Channel(ctx context.Context, id string) (platform.Channel, error) {
	if err := ctx.Err(); err != nil {
		return platform.Channel{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[id]
	if !ok {
		return platform.Channel{}, platform.ErrChannelNotFound
	}
	return ch, nil
}

func (f *Fake) Send(ctx context.Context, channelID string, msg *platform.Message) (platform.SentMessage, error) {
	if err := ctx.Err(); err != nil {
		return platform.SentMessage{}, err
	}
	f.mu.Lock()
	f.calls++
	n := f.calls
	hook := f.SendErr
	p := f.SendPanic
	f.mu.Unlock()

	if p != nil {
		panic(p)
	}
	if hook != nil {
		if err := hook(n, msg); err != nil {
			return platform.SentMessage{}, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, Sent{ChannelID: channelID, Message: *msg})
	return platform.SentMessage{ID: fmt.Sprintf("msg-%d", n), ChannelID: channelID}, nil
}

func (f *Fake) Guild(ctx context.Context, guildID string) (platform.Guild, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GuildErr != nil {
		return platform.Guild{}, f.GuildErr
	}
	return f.guild, nil
}

func (f *Fake) GuildRoles(ctx context.Context, guildID string) ([]platform.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GuildErr != nil {
		return nil, f.GuildErr
	}
	return append([]platform.Role(nil), f.roles...), nil
}

func (f *Fake) GuildChannels(ctx context.Context, guildID string) ([]platform.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GuildErr != nil {
		return nil, f.GuildErr
	}
	out := make([]platform.Channel, 0, len(f.channels))
	for _, ch := range f.channels {
		out = append(out, ch)
	}
	return out, nil
}

func (f *Fake) Member(ctx context.Context, guildID, userID string) (platform.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[guildID+"/"+userID]
	if !ok {
		return platform.Member{}, fmt.Errorf("member %s not found", userID)
	}
	return m, nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
