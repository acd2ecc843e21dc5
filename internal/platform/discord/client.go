// Package discord implements platform.Client over the Discord REST API.
//
// Only REST calls are used; the gateway is never opened. Every call carries
// the caller's context.
package discord

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/bwmarrin/discordgo"

	"herald/internal/platform"
	logx "herald/pkg/logx"
)

// session is the subset of *discordgo.Session the client uses.
type session interface {
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error)
	GuildRoles(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Role, error)
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
	Close() error
}

type Config struct {
	Token string
	// Verify checks the token against the API on Open.
	Verify bool
}

type Client struct {
	s    session
	open platform.Opener
	log  logx.Logger
}

// Open creates a REST client for the bot token in cfg.
func Open(ctx context.Context, cfg Config, log logx.Logger) (*Client, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("discord token is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s, err := discordgo.New("Bot " + strings.TrimPrefix(token, "Bot "))
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	c := newClient(s, log)
	if cfg.Verify {
		u, err := s.User("@me", discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("discord token check: %w", err)
		}
		log.Info("discord client ready", logx.String("bot", u.Username), logx.String("bot_id", u.ID))
	}
	return c, nil
}

func newClient(s session, log logx.Logger) *Client {
	return &Client{s: s, open: openFile, log: log}
}

func openFile(path string) (io.ReadCloser, error) { return os.Open(path) }

func (c *Client) Close() error { return c.s.Close() }

func (c *Client) Channel(ctx context.Context, id string) (platform.Channel, error) {
	ch, err := c.s.Channel(id, discordgo.WithContext(ctx))
	if err != nil {
		if isUnknownChannel(err) {
			return platform.Channel{}, platform.ErrChannelNotFound
		}
		return platform.Channel{}, err
	}
	if ch == nil {
		return platform.Channel{}, platform.ErrChannelNotFound
	}
	return toChannel(ch), nil
}

func (c *Client) Send(ctx context.Context, channelID string, msg *platform.Message) (platform.SentMessage, error) {
	data, closers, err := c.toMessageSend(msg)
	defer func() {
		for _, rc := range closers {
			_ = rc.Close()
		}
	}()
	if err != nil {
		return platform.SentMessage{}, err
	}
	m, err := c.s.ChannelMessageSendComplex(channelID, data, discordgo.WithContext(ctx))
	if err != nil {
		if isUnknownChannel(err) {
			return platform.SentMessage{}, platform.ErrChannelNotFound
		}
		return platform.SentMessage{}, err
	}
	return platform.SentMessage{ID: m.ID, ChannelID: m.ChannelID}, nil
}

func (c *Client) Guild(ctx context.Context, guildID string) (platform.Guild, error) {
	g, err := c.s.Guild(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return platform.Guild{}, err
	}
	return platform.Guild{ID: g.ID, Name: g.Name}, nil
}

func (c *Client) GuildRoles(ctx context.Context, guildID string) ([]platform.Role, error) {
	roles, err := c.s.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	out := make([]platform.Role, 0, len(roles))
	for _, r := range roles {
		if r == nil {
			continue
		}
		out = append(out, platform.Role{
			ID:       r.ID,
			Name:     r.Name,
			Color:    r.Color,
			Position: r.Position,
			Managed:  r.Managed,
		})
	}
	return out, nil
}

func (c *Client) GuildChannels(ctx context.Context, guildID string) ([]platform.Channel, error) {
	chans, err := c.s.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	out := make([]platform.Channel, 0, len(chans))
	for _, ch := range chans {
		if ch == nil {
			continue
		}
		out = append(out, toChannel(ch))
	}
	return out, nil
}

func (c *Client) Member(ctx context.Context, guildID, userID string) (platform.Member, error) {
	m, err := c.s.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return platform.Member{}, err
	}
	return platform.Member{UserID: userID, Roles: append([]string(nil), m.Roles...)}, nil
}

func (c *Client) toMessageSend(msg *platform.Message) (*discordgo.MessageSend, []io.Closer, error) {
	data := &discordgo.MessageSend{
		Content:         msg.Content,
		AllowedMentions: toAllowedMentions(msg.AllowedMentions),
	}
	for _, e := range msg.Embeds {
		data.Embeds = append(data.Embeds, toEmbed(e))
	}
	if len(msg.Buttons) > 0 {
		row := discordgo.ActionsRow{}
		for _, b := range msg.Buttons {
			row.Components = append(row.Components, discordgo.Button{
				Label: b.Label,
				Style: discordgo.LinkButton,
				URL:   b.URL,
			})
		}
		data.Components = []discordgo.MessageComponent{row}
	}

	var closers []io.Closer
	for _, f := range msg.Files {
		rc, err := c.open(f.Path)
		if err != nil {
			return nil, closers, fmt.Errorf("open attachment %s: %w", f.Name, err)
		}
		closers = append(closers, rc)
		data.Files = append(data.Files, &discordgo.File{
			Name:        f.Name,
			ContentType: f.ContentType,
			Reader:      rc,
		})
	}
	return data, closers, nil
}

// toAllowedMentions always returns a non-nil value so nothing beyond the
// explicit target can be pinged.
func toAllowedMentions(am platform.AllowedMentions) *discordgo.MessageAllowedMentions {
	out := &discordgo.MessageAllowedMentions{
		Parse: []discordgo.AllowedMentionType{},
		Roles: append([]string(nil), am.Roles...),
	}
	for _, k := range am.Parse {
		if k == platform.MentionEveryone {
			out.Parse = append(out.Parse, discordgo.AllowedMentionTypeEveryone)
		}
	}
	return out
}

func toEmbed(e platform.Embed) *discordgo.MessageEmbed {
	out := &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: e.Description,
	}
	if e.Color != nil {
		out.Color = *e.Color
	}
	if e.Image != "" {
		out.Image = &discordgo.MessageEmbedImage{URL: e.Image}
	}
	if e.Thumbnail != "" {
		out.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: e.Thumbnail}
	}
	if e.Footer != "" {
		out.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
	}
	return out
}

func toChannel(ch *discordgo.Channel) platform.Channel {
	return platform.Channel{
		ID:      ch.ID,
		GuildID: ch.GuildID,
		Name:    ch.Name,
		Text:    isTextChannel(ch.Type),
	}
}

func isTextChannel(t discordgo.ChannelType) bool {
	switch t {
	case discordgo.ChannelTypeGuildText,
		discordgo.ChannelTypeGuildNews,
		discordgo.ChannelTypeDM,
		discordgo.ChannelTypeGroupDM,
		discordgo.ChannelTypeGuildNewsThread,
		discordgo.ChannelTypeGuildPublicThread,
		discordgo.ChannelTypeGuildPrivateThread,
		discordgo.ChannelTypeGuildVoice,
		discordgo.ChannelTypeGuildStageVoice:
		return true
	}
	return false
}

func isUnknownChannel(err error) bool {
	var rerr *discordgo.RESTError
	if !errors.As(err, &rerr) {
		return false
	}
	if rerr.Message != nil && rerr.Message.Code == discordgo.ErrCodeUnknownChannel {
		return true
	}
	return rerr.Response != nil && rerr.Response.StatusCode == http.StatusNotFound
}
