package render

import (
	"reflect"
	"strings"
	"testing"

	"herald/internal/announce"
	"herald/internal/platform"
)

func TestBuildPlainContent(t *testing.T) {
	t.Parallel()

	p := Build(&announce.Announcement{ChannelID: "C1", Content: "Hello"})
	if p.Primary.Content != "Hello" {
		t.Fatalf("Content = %q, want %q", p.Primary.Content, "Hello")
	}
	if p.FollowUp != nil {
		t.Fatalf("FollowUp = %+v, want nil", p.FollowUp)
	}
	if len(p.Primary.AllowedMentions.Parse) != 0 || len(p.Primary.AllowedMentions.Roles) != 0 {
		t.Fatalf("AllowedMentions = %+v, want empty", p.Primary.AllowedMentions)
	}
}

func TestBuildMentions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		role    string
		content string
		allowed platform.AllowedMentions
	}{
		{
			name:    "everyone",
			role:    announce.RoleEveryone,
			content: "@everyone hi",
			allowed: platform.AllowedMentions{Parse: []platform.MentionKind{platform.MentionEveryone}},
		},
		{
			name:    "role",
			role:    "42",
			content: "<@&42> hi",
			allowed: platform.AllowedMentions{Roles: []string{"42"}},
		},
		{
			name:    "none",
			content: "hi",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := Build(&announce.Announcement{Content: "hi", RoleID: tt.role})
			if p.Primary.Content != tt.content {
				t.Fatalf("Content = %q, want %q", p.Primary.Content, tt.content)
			}
			if !reflect.DeepEqual(p.Primary.AllowedMentions, tt.allowed) {
				t.Fatalf("AllowedMentions = %+v, want %+v", p.Primary.AllowedMentions, tt.allowed)
			}
		})
	}
}

func TestBuildEmbedMovesBodyIntoDescription(t *testing.T) {
	t.Parallel()

	a := &announce.Announcement{
		Content: "body",
		RoleID:  "7",
		Embed:   &announce.Embed{Title: "T", Color: announce.ColorString("#ff0000")},
	}
	p := Build(a)
	if p.Primary.Content != "<@&7>" {
		t.Fatalf("Content = %q, want mention only", p.Primary.Content)
	}
	if strings.Contains(p.Primary.Content, "body") {
		t.Fatal("body duplicated in content")
	}
	if len(p.Primary.Embeds) != 1 {
		t.Fatalf("Embeds = %d, want 1", len(p.Primary.Embeds))
	}
	e := p.Primary.Embeds[0]
	if e.Title != "T" || e.Description != "body" {
		t.Fatalf("embed = %+v", e)
	}
	if e.Color == nil || *e.Color != 0xff0000 {
		t.Fatalf("Color = %v, want 0xff0000", e.Color)
	}
}

func TestBuildEmbedWithoutMentionHasEmptyContent(t *testing.T) {
	t.Parallel()

	p := Build(&announce.Announcement{
		Content: "body",
		Embed:   &announce.Embed{Title: "T", Description: "own"},
	})
	if p.Primary.Content != "" {
		t.Fatalf("Content = %q, want empty", p.Primary.Content)
	}
	if got := p.Primary.Embeds[0].Description; got != "own" {
		t.Fatalf("Description = %q, want %q", got, "own")
	}
}

func TestResolveColor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		color announce.EmbedColor
		want  int
		ok    bool
	}{
		{name: "hash hex", color: announce.ColorString("#ff0000"), want: 0xff0000, ok: true},
		{name: "bare hex", color: announce.ColorString("00ff00"), want: 0x00ff00, ok: true},
		{name: "numeric string", color: announce.ColorString("255"), want: 255, ok: true},
		{name: "number", color: announce.ColorNumber(16711680), want: 16711680, ok: true},
		{name: "garbage", color: announce.ColorString("notacolor")},
		{name: "short hex", color: announce.ColorString("#fff")},
		{name: "negative", color: announce.ColorNumber(-1)},
		{name: "unset", color: announce.EmbedColor{}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := ResolveColor(tt.color)
			if ok != tt.ok || got != tt.want {
				t.Fatalf("ResolveColor() = (%d, %v), want (%d, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestBuildInvalidColorRendersColorless(t *testing.T) {
	t.Parallel()

	p := Build(&announce.Announcement{
		Content: "x",
		Embed:   &announce.Embed{Title: "T", Color: announce.ColorString("notacolor")},
	})
	if len(p.Primary.Embeds) != 1 {
		t.Fatalf("Embeds = %d, want 1", len(p.Primary.Embeds))
	}
	if p.Primary.Embeds[0].Color != nil {
		t.Fatalf("Color = %d, want nil", *p.Primary.Embeds[0].Color)
	}
}

func TestBuildCapsButtonsInOrder(t *testing.T) {
	t.Parallel()

	var buttons []announce.Button
	for i := 0; i < 8; i++ {
		buttons = append(buttons, announce.Button{Label: string(rune('a' + i)), URL: "https://example.com"})
	}
	buttons = append([]announce.Button{{Label: "broken"}}, buttons...)

	p := Build(&announce.Announcement{Content: "x", Buttons: buttons})
	if len(p.Primary.Buttons) != 5 {
		t.Fatalf("Buttons = %d, want 5", len(p.Primary.Buttons))
	}
	for i, b := range p.Primary.Buttons {
		if want := string(rune('a' + i)); b.Label != want {
			t.Fatalf("Buttons[%d] = %q, want %q", i, b.Label, want)
		}
	}
}

func TestBuildAttachmentPosition(t *testing.T) {
	t.Parallel()

	files := []announce.Attachment{{OriginalName: "a.png", Path: "/up/a", MimeType: "image/png"}}

	start := Build(&announce.Announcement{Content: "x", Files: files, AttachmentPosition: announce.PositionStart})
	if start.FollowUp != nil || len(start.Primary.Files) != 1 {
		t.Fatalf("start payload = %+v", start)
	}

	end := Build(&announce.Announcement{
		Content: "x", RoleID: "9", Files: files, AttachmentPosition: announce.PositionEnd,
		Buttons: []announce.Button{{Label: "go", URL: "https://x"}},
	})
	if len(end.Primary.Files) != 0 {
		t.Fatalf("primary carries files: %+v", end.Primary.Files)
	}
	if end.FollowUp == nil || len(end.FollowUp.Files) != 1 {
		t.Fatalf("FollowUp = %+v", end.FollowUp)
	}
	if end.FollowUp.Content != "" || len(end.FollowUp.Buttons) != 0 || len(end.FollowUp.AllowedMentions.Roles) != 0 {
		t.Fatalf("FollowUp should carry files only: %+v", end.FollowUp)
	}
	if got := len(end.Messages()); got != 2 {
		t.Fatalf("Messages() = %d, want 2", got)
	}
}
