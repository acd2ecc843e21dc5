package announce

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"herald/pkg/apperr"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		req     Request
		wantErr bool
	}{
		{name: "missing channel", req: Request{Content: "hi"}, wantErr: true},
		{name: "blank channel", req: Request{ChannelID: "  ", Content: "hi"}, wantErr: true},
		{name: "no content no embed", req: Request{ChannelID: "C1"}, wantErr: true},
		{name: "empty embed counts as absent", req: Request{ChannelID: "C1", Embed: json.RawMessage(`{}`)}, wantErr: true},
		{name: "unparseable color only", req: Request{ChannelID: "C1", Embed: json.RawMessage(`{"color":"notacolor"}`)}, wantErr: true},
		{name: "malformed embed", req: Request{ChannelID: "C1", Content: "x", Embed: json.RawMessage(`{"title":`)}, wantErr: true},
		{name: "content only", req: Request{ChannelID: "C1", Content: "Hello"}},
		{name: "embed only", req: Request{ChannelID: "C1", Embed: json.RawMessage(`{"title":"T"}`)}},
		{name: "color only", req: Request{ChannelID: "C1", Embed: json.RawMessage(`{"color":"#ff0000"}`)}},
		{name: "embed as string", req: Request{ChannelID: "C1", Embed: json.RawMessage(`"{\"title\":\"T\"}"`)}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a, err := New(tt.req, "id-1", testNow)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("New() = %+v, want error", a)
				}
				if !errors.Is(err, apperr.ErrValidation) {
					t.Fatalf("err = %v, want validation error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if a.State() != StateImmediate {
				t.Fatalf("State() = %v, want immediate", a.State())
			}
		})
	}
}

func TestNewNormalizesFields(t *testing.T) {
	t.Parallel()

	at := testNow.Add(time.Hour)
	a, err := New(Request{
		ChannelID:          " C1 ",
		Content:            "hi",
		Role:               "Everyone",
		AttachmentPosition: "END",
		ScheduledTime:      &at,
		Files:              []Attachment{{Path: "/tmp/up/a.png"}, {Path: ""}},
	}, "id-1", testNow)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if a.ChannelID != "C1" {
		t.Fatalf("ChannelID = %q", a.ChannelID)
	}
	if a.RoleID != RoleEveryone {
		t.Fatalf("RoleID = %q, want %q", a.RoleID, RoleEveryone)
	}
	if a.AttachmentPosition != PositionEnd {
		t.Fatalf("AttachmentPosition = %q", a.AttachmentPosition)
	}
	if a.State() != StatePending || !a.Pending() {
		t.Fatalf("State() = %v, want pending", a.State())
	}
	if len(a.Files) != 1 || a.Files[0].OriginalName != "a.png" {
		t.Fatalf("Files = %+v", a.Files)
	}
}

func TestSanitizeButtons(t *testing.T) {
	t.Parallel()

	in := []Button{
		{Label: "no url"},
		{URL: "https://no-label.example"},
		{Label: "ftp", URL: "ftp://x"},
		{Label: strings.Repeat("a", 81), URL: "https://long.example"},
	}
	for i := 1; i <= 7; i++ {
		in = append(in, Button{Label: string(rune('0' + i)), URL: "HTTPS://ok.example"})
	}
	got := SanitizeButtons(in)
	if len(got) != MaxButtons {
		t.Fatalf("len = %d, want %d", len(got), MaxButtons)
	}
	for i, b := range got {
		if want := string(rune('1' + i)); b.Label != want {
			t.Fatalf("got[%d].Label = %q, want %q", i, b.Label, want)
		}
	}
}

func TestTransitionsAreExclusive(t *testing.T) {
	t.Parallel()

	a := Announcement{ID: "x", Scheduled: true, ScheduledTime: &testNow}
	if err := a.MarkSent(testNow, "m1"); err != nil {
		t.Fatalf("MarkSent() error = %v", err)
	}
	if err := a.MarkCanceled(testNow); !errors.Is(err, ErrTerminal) {
		t.Fatalf("MarkCanceled() after sent = %v, want ErrTerminal", err)
	}
	if err := a.MarkFailed(testNow, "x"); !errors.Is(err, ErrTerminal) {
		t.Fatalf("MarkFailed() after sent = %v, want ErrTerminal", err)
	}
	if a.State() != StateSent {
		t.Fatalf("State() = %v", a.State())
	}
}

func TestDecodeOlderRecords(t *testing.T) {
	t.Parallel()

	raw := `{"id":"a","channelId":"C1","content":"hi","buttons":[],"files":[],
		"scheduled":true,"scheduledTime":"2025-03-01T13:00:00Z","createdAt":"2025-03-01T12:00:00Z",
		"sent":false,"canceled":false,"author":{"id":"u","username":"op","discriminator":"0"}}`
	var a Announcement
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if a.Embed != nil {
		t.Fatalf("Embed = %+v, want nil", a.Embed)
	}
	if a.AttachmentPosition != "" && a.AttachmentPosition != PositionStart {
		t.Fatalf("AttachmentPosition = %q", a.AttachmentPosition)
	}
	if a.Failed {
		t.Fatal("Failed should default to false")
	}
	if a.State() != StatePending {
		t.Fatalf("State() = %v, want pending", a.State())
	}
}

func TestEmbedColorKeepsRawValue(t *testing.T) {
	t.Parallel()

	var e Embed
	if err := json.Unmarshal([]byte(`{"title":"T","color":16711680}`), &e); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if string(e.Color.Raw()) != "16711680" {
		t.Fatalf("Raw() = %s", e.Color.Raw())
	}
	out, err := json.Marshal(Embed{Title: "T", Color: ColorString("#ff0000")})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(out), `"color":"#ff0000"`) {
		t.Fatalf("Marshal() = %s", out)
	}
}
