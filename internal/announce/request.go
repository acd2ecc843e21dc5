package announce

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"herald/pkg/apperr"
)

const (
	MaxButtons     = 5
	MaxButtonLabel = 80
)

var buttonURLPattern = regexp.MustCompile(`(?i)^https?://`)

// Request is a creation request as handed over by the web layer.
type Request struct {
	ChannelID string
	Content   string
	// Role is "everyone", "@everyone", a role ID, or empty.
	Role    string
	Buttons []Button
	// Embed is a JSON object, or a JSON string holding one (form field encoding).
	Embed              json.RawMessage
	Files              []Attachment
	AttachmentPosition string
	ScheduledTime      *time.Time
	Author             Author
}

// NewID returns a fresh announcement identifier.
func NewID() string { return uuid.NewString() }

// New validates req and builds the announcement it describes.
// Only structural validation happens here; schedule time checks belong to the scheduler.
func New(req Request, id string, now time.Time) (*Announcement, error) {
	channel := strings.TrimSpace(req.ChannelID)
	if channel == "" {
		return nil, apperr.Clone(apperr.ErrValidation, "channel is required")
	}
	embed, err := ParseEmbed(req.Embed)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Content) == "" && embed == nil {
		return nil, apperr.Clone(apperr.ErrValidation, "content or embed is required")
	}

	a := &Announcement{
		ID:                 id,
		ChannelID:          channel,
		Content:            req.Content,
		RoleID:             NormalizeRole(req.Role),
		Buttons:            SanitizeButtons(req.Buttons),
		Embed:              embed,
		Files:              sanitizeFiles(req.Files),
		AttachmentPosition: ParsePosition(req.AttachmentPosition),
		CreatedAt:          now,
		Author:             req.Author,
	}
	if req.ScheduledTime != nil {
		at := req.ScheduledTime.UTC()
		a.Scheduled = true
		a.ScheduledTime = &at
	}
	return a, nil
}

// ParseEmbed decodes an embed payload. Empty input and embeds with no fields set
// yield nil. Undecodable input is a validation error.
func ParseEmbed(raw json.RawMessage) (*Embed, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, apperr.Wrap(err, apperr.ErrValidation.Code, apperr.ErrValidation.Status, "malformed embed JSON")
		}
		if strings.TrimSpace(s) == "" {
			return nil, nil
		}
		raw = json.RawMessage(s)
	}
	var e Embed
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, apperr.Wrap(err, apperr.ErrValidation.Code, apperr.ErrValidation.Status, "malformed embed JSON")
	}
	if e.IsZero() {
		return nil, nil
	}
	return &e, nil
}

// NormalizeRole maps the accepted spellings of a broadcast mention to RoleEveryone.
func NormalizeRole(role string) string {
	role = strings.TrimSpace(role)
	switch strings.ToLower(role) {
	case "":
		return ""
	case "everyone", "@everyone":
		return RoleEveryone
	}
	return role
}

// SanitizeButtons keeps complete link buttons in order, capped at MaxButtons.
func SanitizeButtons(in []Button) []Button {
	out := make([]Button, 0, min(len(in), MaxButtons))
	for _, b := range in {
		if len(out) == MaxButtons {
			break
		}
		label := strings.TrimSpace(b.Label)
		url := strings.TrimSpace(b.URL)
		if label == "" || url == "" {
			continue
		}
		if utf8.RuneCountInString(label) > MaxButtonLabel || !buttonURLPattern.MatchString(url) {
			continue
		}
		out = append(out, Button{Label: label, URL: url})
	}
	return out
}

func sanitizeFiles(in []Attachment) []Attachment {
	out := make([]Attachment, 0, len(in))
	for _, f := range in {
		if strings.TrimSpace(f.Path) == "" {
			continue
		}
		if f.OriginalName == "" {
			f.OriginalName = baseName(f.Path)
		}
		out = append(out, f)
	}
	return out
}

func baseName(p string) string {
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		return p[i+1:]
	}
	return p
}
