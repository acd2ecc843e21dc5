package announce

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"
)

// RoleEveryone is the stored role target for a guild-wide broadcast mention.
const RoleEveryone = "@everyone"

// Position controls where attachments land relative to the text.
type Position string

const (
	// PositionStart sends attachments in the same message as the text.
	PositionStart Position = "start"
	// PositionEnd sends the text first and the attachments as a follow-up message.
	PositionEnd Position = "end"
)

// ParsePosition maps free-form input to a Position. Unknown values read as start.
func ParsePosition(s string) Position {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "end", "after", "after_text":
		return PositionEnd
	default:
		return PositionStart
	}
}

func (p *Position) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		// Older records may carry null or a non-string; keep them readable.
		*p = PositionStart
		return nil
	}
	*p = ParsePosition(s)
	return nil
}

// State is the derived lifecycle state of an announcement.
type State string

const (
	StateImmediate State = "immediate"
	StatePending   State = "pending"
	StateSent      State = "sent"
	StateCanceled  State = "canceled"
	StateFailed    State = "failed"
)

// ErrTerminal is returned when a transition is attempted on a finished announcement.
var ErrTerminal = errors.New("announcement already finished")

type Button struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

type Attachment struct {
	OriginalName string `json:"originalname"`
	Path         string `json:"path"`
	Size         int64  `json:"size"`
	MimeType     string `json:"mimetype"`
}

type Author struct {
	ID       string `json:"id,omitempty"`
	Username string `json:"username,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

type Embed struct {
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	Color       EmbedColor `json:"color,omitempty"`
	Image       string     `json:"image,omitempty"`
	Thumbnail   string     `json:"thumbnail,omitempty"`
	Footer      string     `json:"footer,omitempty"`
}

// IsZero reports whether no embed field is set. A color that does not parse
// counts as unset.
func (e *Embed) IsZero() bool {
	if e == nil {
		return true
	}
	_, colored := e.Color.Value()
	return strings.TrimSpace(e.Title) == "" &&
		strings.TrimSpace(e.Description) == "" &&
		!colored &&
		strings.TrimSpace(e.Image) == "" &&
		strings.TrimSpace(e.Thumbnail) == "" &&
		strings.TrimSpace(e.Footer) == ""
}

// EmbedColor keeps the color exactly as submitted (a JSON string or number).
// Interpretation happens at render time so a bad value never blocks storage.
type EmbedColor struct {
	raw json.RawMessage
}

func ColorString(s string) EmbedColor {
	b, _ := json.Marshal(s)
	return EmbedColor{raw: b}
}

func ColorNumber(n int) EmbedColor {
	b, _ := json.Marshal(n)
	return EmbedColor{raw: b}
}

func (c EmbedColor) IsZero() bool { return len(c.raw) == 0 }

// Value interprets the color. ok is false when it is unset or unparseable.
func (c EmbedColor) Value() (int, bool) {
	if len(c.raw) == 0 {
		return 0, false
	}
	var s string
	if err := json.Unmarshal(c.raw, &s); err != nil {
		var n float64
		if err := json.Unmarshal(c.raw, &n); err != nil {
			return 0, false
		}
		return colorFromNumber(n)
	}
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) == 6 {
		if v, err := strconv.ParseUint(s, 16, 32); err == nil {
			return int(v), true
		}
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return colorFromNumber(n)
}

const maxColor = 0xFFFFFF

func colorFromNumber(n float64) (int, bool) {
	if n < 0 || n > maxColor || n != float64(int(n)) {
		return 0, false
	}
	return int(n), true
}

// Raw returns the JSON-encoded value (nil when unset).
func (c EmbedColor) Raw() json.RawMessage { return c.raw }

func (c EmbedColor) MarshalJSON() ([]byte, error) {
	if len(c.raw) == 0 {
		return []byte("null"), nil
	}
	return c.raw, nil
}

func (c *EmbedColor) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		c.raw = nil
		return nil
	}
	c.raw = append(json.RawMessage(nil), b...)
	return nil
}

// Announcement is one operator-submitted message, immediate or scheduled.
// JSON names match the persisted history document.
type Announcement struct {
	ID                 string       `json:"id"`
	ChannelID          string       `json:"channelId"`
	Content            string       `json:"content"`
	RoleID             string       `json:"roleId,omitempty"`
	Buttons            []Button     `json:"buttons"`
	Embed              *Embed       `json:"embed,omitempty"`
	Files              []Attachment `json:"files"`
	AttachmentPosition Position     `json:"attachmentPosition"`

	Scheduled     bool       `json:"scheduled"`
	ScheduledTime *time.Time `json:"scheduledTime,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`

	Sent       bool       `json:"sent"`
	SentAt     *time.Time `json:"sentAt,omitempty"`
	MessageID  string     `json:"messageId,omitempty"`
	Canceled   bool       `json:"canceled"`
	CanceledAt *time.Time `json:"canceledAt,omitempty"`
	Failed     bool       `json:"failed,omitempty"`
	FailedAt   *time.Time `json:"failedAt,omitempty"`
	Error      string     `json:"error,omitempty"`

	Author Author `json:"author"`
}

func (a *Announcement) State() State {
	switch {
	case a.Canceled:
		return StateCanceled
	case a.Sent:
		return StateSent
	case a.Failed:
		return StateFailed
	case a.Scheduled:
		return StatePending
	default:
		return StateImmediate
	}
}

// Finished reports whether the announcement reached a terminal state.
func (a *Announcement) Finished() bool {
	return a.Sent || a.Canceled || a.Failed
}

// Pending reports whether a scheduled send is still outstanding.
func (a *Announcement) Pending() bool {
	return a.Scheduled && a.ScheduledTime != nil && !a.Finished()
}

func (a *Announcement) MarkSent(at time.Time, messageID string) error {
	if a.Finished() {
		return ErrTerminal
	}
	a.Sent = true
	a.SentAt = &at
	a.MessageID = messageID
	return nil
}

func (a *Announcement) MarkCanceled(at time.Time) error {
	if a.Finished() {
		return ErrTerminal
	}
	a.Canceled = true
	a.CanceledAt = &at
	return nil
}

func (a *Announcement) MarkFailed(at time.Time, reason string) error {
	if a.Finished() {
		return ErrTerminal
	}
	a.Failed = true
	a.FailedAt = &at
	a.Error = reason
	return nil
}

// Clone returns a deep copy safe to hand to another goroutine.
func (a Announcement) Clone() Announcement {
	cp := a
	cp.Buttons = append([]Button(nil), a.Buttons...)
	cp.Files = append([]Attachment(nil), a.Files...)
	if a.Embed != nil {
		e := *a.Embed
		e.Color = EmbedColor{raw: append(json.RawMessage(nil), a.Embed.Color.raw...)}
		cp.Embed = &e
	}
	cp.ScheduledTime = cloneTime(a.ScheduledTime)
	cp.SentAt = cloneTime(a.SentAt)
	cp.CanceledAt = cloneTime(a.CanceledAt)
	cp.FailedAt = cloneTime(a.FailedAt)
	return cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
