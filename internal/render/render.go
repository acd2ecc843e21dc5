// Package render turns a stored announcement into platform messages.
//
// Build is pure: it performs no I/O and the same announcement always yields
// the same payload.
package render

import (
	"strings"

	"herald/internal/announce"
	"herald/internal/platform"
)

// Payload is the ordered list of sends for one announcement.
type Payload struct {
	Primary platform.Message
	// FollowUp carries trailing attachments when they go after the text.
	FollowUp *platform.Message
}

// Messages returns the sends in order.
func (p Payload) Messages() []*platform.Message {
	out := []*platform.Message{&p.Primary}
	if p.FollowUp != nil {
		out = append(out, p.FollowUp)
	}
	return out
}

func Build(a *announce.Announcement) Payload {
	mention, allowed := Mention(a.RoleID)

	msg := platform.Message{AllowedMentions: allowed}
	if embed, ok := buildEmbed(a); ok {
		msg.Content = mention
		msg.Embeds = []platform.Embed{embed}
	} else {
		msg.Content = joinMention(mention, a.Content)
	}
	for _, b := range announce.SanitizeButtons(a.Buttons) {
		msg.Buttons = append(msg.Buttons, platform.LinkButton{Label: b.Label, URL: b.URL})
	}

	files := buildFiles(a.Files)
	if len(files) == 0 {
		return Payload{Primary: msg}
	}
	if a.AttachmentPosition != announce.PositionEnd {
		msg.Files = files
		return Payload{Primary: msg}
	}
	return Payload{
		Primary:  msg,
		FollowUp: &platform.Message{Files: files},
	}
}

// Mention returns the mention prefix for a role target and the allow-list that
// permits exactly that ping.
func Mention(roleID string) (string, platform.AllowedMentions) {
	switch {
	case roleID == "":
		return "", platform.AllowedMentions{}
	case roleID == announce.RoleEveryone:
		return announce.RoleEveryone, platform.AllowedMentions{Parse: []platform.MentionKind{platform.MentionEveryone}}
	default:
		return "<@&" + roleID + ">", platform.AllowedMentions{Roles: []string{roleID}}
	}
}

func joinMention(mention, content string) string {
	if mention == "" {
		return content
	}
	return mention + " " + content
}

// buildEmbed carries the body text in the embed description so it is never
// repeated in the message content.
func buildEmbed(a *announce.Announcement) (platform.Embed, bool) {
	if a.Embed.IsZero() {
		return platform.Embed{}, false
	}
	e := a.Embed
	desc := e.Description
	if strings.TrimSpace(desc) == "" {
		desc = a.Content
	}
	out := platform.Embed{
		Title:       e.Title,
		Description: desc,
		Image:       strings.TrimSpace(e.Image),
		Thumbnail:   strings.TrimSpace(e.Thumbnail),
		Footer:      e.Footer,
	}
	if c, ok := ResolveColor(e.Color); ok {
		out.Color = &c
	}
	return out, true
}

// ResolveColor interprets an embed color. Accepted forms are a 6-digit hex
// string with an optional leading '#', a decimal string, and a JSON number.
func ResolveColor(c announce.EmbedColor) (int, bool) { return c.Value() }

func buildFiles(in []announce.Attachment) []platform.File {
	if len(in) == 0 {
		return nil
	}
	out := make([]platform.File, 0, len(in))
	for _, f := range in {
		name := f.OriginalName
		if name == "" {
			name = f.Path
		}
		out = append(out, platform.File{Name: name, Path: f.Path, ContentType: f.MimeType})
	}
	return out
}
