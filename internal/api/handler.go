package api

import (
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"herald/internal/announce"
	"herald/internal/guild"
	"herald/pkg/apperr"
	logx "herald/pkg/logx"
)

type announcementService interface {
	Submit(ctx context.Context, req announce.Request) (announce.Announcement, error)
	Cancel(ctx context.Context, id string) (bool, error)
	List(ctx context.Context, limit int) ([]announce.Announcement, error)
	Get(ctx context.Context, id string) (announce.Announcement, error)
}

type guildDirectory interface {
	Snapshot(ctx context.Context) guild.Snapshot
}

// Handler exposes the announcement endpoints.
type Handler struct {
	svc     announcementService
	guild   guildDirectory
	pending func() int
	gate    RoleGate
	uploads uploads
	log     logx.Logger
}

// RoleGate reports whether the Discord user may post announcements.
type RoleGate func(ctx context.Context, userID string) (bool, error)

type HandlerOptions struct {
	Service   announcementService
	Guild     guildDirectory
	Pending   func() int
	// RoleGate, when set, is checked for requests that name an author.
	RoleGate  RoleGate
	UploadDir string
	MaxUpload int64
	Log       logx.Logger
}

func NewHandler(opts HandlerOptions) *Handler {
	registerValidators()
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	if opts.Pending == nil {
		opts.Pending = func() int { return 0 }
	}
	if opts.UploadDir == "" {
		opts.UploadDir = DefaultUploadDir
	}
	if opts.MaxUpload <= 0 {
		opts.MaxUpload = DefaultMaxUploadBytes
	}
	return &Handler{
		svc:     opts.Service,
		guild:   opts.Guild,
		pending: opts.Pending,
		gate:    opts.RoleGate,
		uploads: uploads{dir: opts.UploadDir, maxBytes: opts.MaxUpload},
		log:     opts.Log,
	}
}

// Create handles POST /api/announcements with a JSON body or a multipart
// form carrying attachments.
func (h *Handler) Create(c *gin.Context) {
	var (
		body  CreateAnnouncementRequest
		files []*multipart.FileHeader
		err   error
	)
	if strings.HasPrefix(c.ContentType(), binding.MIMEMultipartPOSTForm) {
		body, files, err = bindForm(c)
	} else {
		err = c.ShouldBindJSON(&body)
	}
	if err != nil {
		Error(c, validationError(err))
		return
	}
	req, err := body.toRequest()
	if err != nil {
		Error(c, err)
		return
	}
	if err := h.checkRole(c.Request.Context(), req.Author.ID); err != nil {
		Error(c, err)
		return
	}

	saved, err := h.uploads.save(c, files)
	if err != nil {
		Error(c, err)
		return
	}
	req.Files = append(req.Files, saved...)

	a, err := h.svc.Submit(c.Request.Context(), req)
	if err != nil {
		if a.ID == "" {
			// Rejected before anything was recorded; the uploads are orphans.
			removeFiles(saved, h.log)
			Error(c, err)
			return
		}
		ErrorWithData(c, err, a)
		return
	}
	Created(c, a)
}

func (h *Handler) checkRole(ctx context.Context, userID string) error {
	if h.gate == nil || strings.TrimSpace(userID) == "" {
		return nil
	}
	ok, err := h.gate(ctx, userID)
	if err != nil {
		h.log.Warn("role check failed", logx.String("user", userID), logx.Err(err))
		return apperr.Wrap(err, apperr.ErrForbidden.Code, apperr.ErrForbidden.Status, "could not verify the author's roles")
	}
	if !ok {
		return apperr.ErrForbidden
	}
	return nil
}

func bindForm(c *gin.Context) (CreateAnnouncementRequest, []*multipart.FileHeader, error) {
	body := CreateAnnouncementRequest{
		ChannelID:          firstNonEmpty(c.PostForm("channelId"), c.PostForm("channel")),
		Content:            c.PostForm("content"),
		Role:               c.PostForm("role"),
		AttachmentPosition: c.PostForm("attachmentPosition"),
		ScheduledTime:      c.PostForm("scheduledTime"),
		Timezone:           c.PostForm("timezone"),
	}
	if raw := strings.TrimSpace(c.PostForm("buttons")); raw != "" {
		// Malformed button lists are dropped, matching SanitizeButtons.
		_ = json.Unmarshal([]byte(raw), &body.Buttons)
	}
	if raw := strings.TrimSpace(c.PostForm("embed")); raw != "" {
		body.Embed = json.RawMessage(raw)
	}
	if err := binding.Validator.ValidateStruct(&body); err != nil {
		return body, nil, err
	}
	form, err := c.MultipartForm()
	if err != nil {
		return body, nil, err
	}
	return body, form.File["attachments"], nil
}

// Cancel handles POST /api/announcements/:id/cancel.
func (h *Handler) Cancel(c *gin.Context) {
	id := c.Param("id")
	ok, err := h.svc.Cancel(c.Request.Context(), id)
	if err != nil {
		Error(c, err)
		return
	}
	if !ok {
		Error(c, apperr.Clone(apperr.ErrNotFound, "no pending announcement "+id))
		return
	}
	JSON(c, http.StatusOK, gin.H{"canceled": true})
}

// List handles GET /api/announcements.
func (h *Handler) List(c *gin.Context) {
	var q ListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		Error(c, validationError(err))
		return
	}
	if q.Limit == 0 {
		q.Limit = defaultListLimit
	}
	items, err := h.svc.List(c.Request.Context(), q.Limit)
	if err != nil {
		Error(c, err)
		return
	}
	JSON(c, http.StatusOK, items)
}

// Get handles GET /api/announcements/:id.
func (h *Handler) Get(c *gin.Context) {
	a, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		Error(c, err)
		return
	}
	JSON(c, http.StatusOK, a)
}

// Guild handles GET /api/guild. Lookup errors yield an empty snapshot.
func (h *Handler) Guild(c *gin.Context) {
	if h.guild == nil {
		JSON(c, http.StatusOK, guild.Snapshot{GuildName: "Unknown", Channels: []guild.ChannelInfo{}, Roles: []guild.RoleInfo{}})
		return
	}
	JSON(c, http.StatusOK, h.guild.Snapshot(c.Request.Context()))
}

// Health handles GET /healthz.
func (h *Handler) Health(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, gin.H{"status": "ok", "pending": h.pending()})
}

func removeFiles(files []announce.Attachment, log logx.Logger) {
	for _, f := range files {
		if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
			log.Warn("remove upload failed", logx.String("path", f.Path), logx.Err(err))
		}
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
