package guild

import (
	"context"
	"errors"
	"testing"

	"herald/internal/platform"
	"herald/internal/platform/platformtest"
	logx "herald/pkg/logx"
)

func newFake() *platformtest.Fake {
	f := platformtest.NewFake()
	f.AddChannel(platform.Channel{ID: "1", Name: "general", Text: true})
	f.AddChannel(platform.Channel{ID: "2", Name: "voice", Text: false})
	f.AddChannel(platform.Channel{ID: "3", Name: "announcements", Text: true})
	f.SetGuild(platform.Guild{ID: "G", Name: "Guild"}, []platform.Role{
		{ID: "G", Name: "@everyone", Position: 0},
		{ID: "mod", Name: "Mod", Position: 5, Color: 0xff0000},
		{ID: "admin", Name: "Admin", Position: 10},
		{ID: "bot", Name: "Bot", Position: 7, Managed: true},
		{ID: "member", Name: "Member", Position: 1},
	})
	f.AddMember("G", platform.Member{UserID: "u-mod", Roles: []string{"mod"}})
	f.AddMember("G", platform.Member{UserID: "u-member", Roles: []string{"member"}})
	return f
}

func TestSnapshotFilters(t *testing.T) {
	t.Parallel()

	snap := NewDirectory(newFake(), "G", logx.Nop()).Snapshot(context.Background())
	if snap.GuildName != "Guild" {
		t.Fatalf("GuildName = %q", snap.GuildName)
	}
	if len(snap.Channels) != 2 || snap.Channels[0].Name != "#announcements" || snap.Channels[1].Name != "#general" {
		t.Fatalf("Channels = %+v", snap.Channels)
	}
	wantRoles := []string{"admin", "mod", "member"}
	if len(snap.Roles) != len(wantRoles) {
		t.Fatalf("Roles = %+v", snap.Roles)
	}
	for i, id := range wantRoles {
		if snap.Roles[i].ID != id {
			t.Fatalf("Roles[%d] = %s, want %s", i, snap.Roles[i].ID, id)
		}
	}
	if snap.Roles[1].Color != "#ff0000" {
		t.Fatalf("Color = %s", snap.Roles[1].Color)
	}
}

func TestSnapshotOnErrorIsEmpty(t *testing.T) {
	t.Parallel()

	f := newFake()
	f.GuildErr = errors.New("403")
	snap := NewDirectory(f, "G", logx.Nop()).Snapshot(context.Background())
	if snap.GuildName != "Unknown" || len(snap.Channels) != 0 || len(snap.Roles) != 0 {
		t.Fatalf("Snapshot() = %+v", snap)
	}
	if snap.Channels == nil || snap.Roles == nil {
		t.Fatal("lists should be empty, not nil")
	}
}

func TestHasRequiredRole(t *testing.T) {
	t.Parallel()

	d := NewDirectory(newFake(), "G", logx.Nop())
	tests := []struct {
		user     string
		required string
		want     bool
	}{
		{user: "u-mod", required: "mod", want: true},
		{user: "u-mod", required: "member", want: true},
		{user: "u-mod", required: "admin", want: false},
		{user: "u-member", required: "mod", want: false},
		{user: "anyone", required: "", want: true},
	}
	for _, tt := range tests {
		got, err := d.HasRequiredRole(context.Background(), tt.user, tt.required)
		if err != nil {
			t.Fatalf("HasRequiredRole(%s, %s) error = %v", tt.user, tt.required, err)
		}
		if got != tt.want {
			t.Fatalf("HasRequiredRole(%s, %s) = %v, want %v", tt.user, tt.required, got, tt.want)
		}
	}
	if _, err := d.HasRequiredRole(context.Background(), "ghost", "mod"); err == nil {
		t.Fatal("unknown member should error")
	}
}
