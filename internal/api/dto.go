package api

import (
	"encoding/json"
	"errors"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"herald/internal/announce"
	"herald/pkg/apperr"
)

var (
	snowflakePattern = regexp.MustCompile(`^[0-9]{15,21}$`)
	registerOnce     sync.Once
)

// registerValidators adds herald's tags to gin's validator engine.
func registerValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		// Report JSON field names in validation errors.
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
		_ = v.RegisterValidation("snowflake", func(fl validator.FieldLevel) bool {
			return snowflakePattern.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("mention_target", func(fl validator.FieldLevel) bool {
			s := strings.TrimSpace(fl.Field().String())
			return strings.EqualFold(s, "everyone") || s == announce.RoleEveryone || snowflakePattern.MatchString(s)
		})
	})
}

// CreateAnnouncementRequest is the create payload, JSON or multipart.
// Attachments are never part of it: they come only from multipart uploads
// stored under the upload dir.
type CreateAnnouncementRequest struct {
	ChannelID          string            `json:"channelId" binding:"required,snowflake"`
	Content            string            `json:"content"`
	Role               string            `json:"role" binding:"omitempty,mention_target"`
	Buttons            []announce.Button `json:"buttons"`
	Embed              json.RawMessage   `json:"embed"`
	AttachmentPosition string            `json:"attachmentPosition" binding:"omitempty,oneof=start end before after before_text after_text"`
	// ScheduledTime is RFC 3339, or a zone-less "2006-01-02T15:04" read in Timezone.
	ScheduledTime string           `json:"scheduledTime"`
	Timezone      string           `json:"timezone" binding:"omitempty,timezone"`
	Author        *announce.Author `json:"author"`
}

// ListQuery bounds GET /api/announcements.
type ListQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=1000"`
}

const defaultListLimit = 20

var localLayouts = []string{"2006-01-02T15:04", "2006-01-02T15:04:05", "2006-01-02 15:04"}

func (r CreateAnnouncementRequest) toRequest() (announce.Request, error) {
	at, err := parseScheduledTime(r.ScheduledTime, r.Timezone)
	if err != nil {
		return announce.Request{}, err
	}
	req := announce.Request{
		ChannelID:          r.ChannelID,
		Content:            r.Content,
		Role:               r.Role,
		Buttons:            r.Buttons,
		Embed:              r.Embed,
		AttachmentPosition: r.AttachmentPosition,
		ScheduledTime:      at,
	}
	if r.Author != nil {
		req.Author = *r.Author
	}
	if req.Author.Timezone == "" && r.Timezone != "" {
		req.Author.Timezone = r.Timezone
	}
	return req, nil
}

func parseScheduledTime(raw, tz string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return &t, nil
	}
	loc := time.UTC
	if tz = strings.TrimSpace(tz); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, apperr.Clone(apperr.ErrValidation, "unknown timezone "+tz)
		}
		loc = l
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return &t, nil
		}
	}
	return nil, apperr.Clone(apperr.ErrValidation, "scheduledTime must be RFC 3339 or YYYY-MM-DDTHH:MM")
}

func validationError(err error) *apperr.Error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return apperr.Wrap(err, apperr.ErrValidation.Code, apperr.ErrValidation.Status,
			"invalid field "+fe.Field()+" ("+fe.Tag()+")")
	}
	return apperr.Wrap(err, apperr.ErrValidation.Code, apperr.ErrValidation.Status, "invalid request payload")
}
