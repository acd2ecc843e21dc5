// Package guild reads guild metadata the web layer needs to build a form:
// the channels that can carry messages and the roles that can be mentioned.
package guild

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"herald/internal/platform"
	logx "herald/pkg/logx"
)

type ChannelInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type RoleInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Snapshot is the form data for one guild. On lookup failure it is empty
// with GuildName "Unknown".
type Snapshot struct {
	GuildName string        `json:"guildName"`
	Channels  []ChannelInfo `json:"channels"`
	Roles     []RoleInfo    `json:"roles"`
}

type Directory struct {
	client  platform.Client
	guildID string
	log     logx.Logger
}

func NewDirectory(client platform.Client, guildID string, log logx.Logger) *Directory {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Directory{client: client, guildID: strings.TrimSpace(guildID), log: log}
}

func (d *Directory) GuildID() string { return d.guildID }

// Snapshot never fails; errors are logged and an empty snapshot returned.
func (d *Directory) Snapshot(ctx context.Context) Snapshot {
	empty := Snapshot{GuildName: "Unknown", Channels: []ChannelInfo{}, Roles: []RoleInfo{}}
	if d.guildID == "" {
		return empty
	}

	g, err := d.client.Guild(ctx, d.guildID)
	if err != nil {
		d.log.Warn("guild lookup failed", logx.String("guild", d.guildID), logx.Err(err))
		return empty
	}
	chans, err := d.client.GuildChannels(ctx, d.guildID)
	if err != nil {
		d.log.Warn("guild channels lookup failed", logx.String("guild", d.guildID), logx.Err(err))
		return empty
	}
	roles, err := d.client.GuildRoles(ctx, d.guildID)
	if err != nil {
		d.log.Warn("guild roles lookup failed", logx.String("guild", d.guildID), logx.Err(err))
		return empty
	}

	out := Snapshot{GuildName: g.Name, Channels: []ChannelInfo{}, Roles: []RoleInfo{}}
	for _, ch := range chans {
		if !ch.Text {
			continue
		}
		out.Channels = append(out.Channels, ChannelInfo{ID: ch.ID, Name: "#" + ch.Name})
	}
	sort.SliceStable(out.Channels, func(i, j int) bool { return out.Channels[i].Name < out.Channels[j].Name })

	sort.SliceStable(roles, func(i, j int) bool { return roles[i].Position > roles[j].Position })
	for _, r := range roles {
		// The @everyone role shares the guild's ID and is offered separately.
		if r.Managed || r.ID == d.guildID {
			continue
		}
		out.Roles = append(out.Roles, RoleInfo{ID: r.ID, Name: r.Name, Color: hexColor(r.Color)})
	}
	return out
}

// HasRequiredRole reports whether userID holds a role positioned at or above
// requiredRoleID. An empty requiredRoleID admits everyone.
func (d *Directory) HasRequiredRole(ctx context.Context, userID, requiredRoleID string) (bool, error) {
	return HasRequiredRole(ctx, d.client, d.guildID, userID, requiredRoleID)
}

func HasRequiredRole(ctx context.Context, client platform.Client, guildID, userID, requiredRoleID string) (bool, error) {
	if strings.TrimSpace(requiredRoleID) == "" {
		return true, nil
	}
	roles, err := client.GuildRoles(ctx, guildID)
	if err != nil {
		return false, fmt.Errorf("guild roles: %w", err)
	}
	pos := make(map[string]int, len(roles))
	for _, r := range roles {
		pos[r.ID] = r.Position
	}
	required, ok := pos[requiredRoleID]
	if !ok {
		return false, fmt.Errorf("required role %s not found in guild", requiredRoleID)
	}
	m, err := client.Member(ctx, guildID, userID)
	if err != nil {
		return false, fmt.Errorf("guild member: %w", err)
	}
	for _, id := range m.Roles {
		if p, ok := pos[id]; ok && p >= required {
			return true, nil
		}
	}
	return false, nil
}

func hexColor(c int) string {
	return fmt.Sprintf("#%06x", c&0xFFFFFF)
}
