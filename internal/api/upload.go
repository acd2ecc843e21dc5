package api

import (
	"fmt"
	"math/rand"
	"mime/multipart"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"herald/internal/announce"
	"herald/pkg/apperr"
)

const (
	DefaultUploadDir      = "data/uploads"
	DefaultMaxUploadBytes = 10 << 20
	maxUploadFiles        = 10
)

var allowedUploadTypes = regexp.MustCompile(`jpeg|jpg|png|gif|pdf|txt|zip|mp4|webm`)

// uploads stores multipart attachments on local disk for the dispatcher to
// read back at send time.
type uploads struct {
	dir      string
	maxBytes int64
}

func (u uploads) save(c *gin.Context, files []*multipart.FileHeader) ([]announce.Attachment, error) {
	if len(files) == 0 {
		return nil, nil
	}
	if len(files) > maxUploadFiles {
		return nil, apperr.Clone(apperr.ErrValidation, fmt.Sprintf("at most %d attachments are allowed", maxUploadFiles))
	}
	for _, fh := range files {
		if fh.Size > u.maxBytes {
			return nil, apperr.Clone(apperr.ErrValidation, fmt.Sprintf("attachment %s exceeds %d bytes", fh.Filename, u.maxBytes))
		}
		ext := strings.ToLower(filepath.Ext(fh.Filename))
		mime := fh.Header.Get("Content-Type")
		if !allowedUploadTypes.MatchString(ext) || !allowedUploadTypes.MatchString(mime) {
			return nil, apperr.Clone(apperr.ErrValidation, "attachment type not allowed: "+fh.Filename)
		}
	}
	if err := os.MkdirAll(u.dir, 0o755); err != nil {
		return nil, apperr.Wrap(err, apperr.ErrInternal.Code, apperr.ErrInternal.Status, "could not prepare upload directory")
	}

	out := make([]announce.Attachment, 0, len(files))
	for _, fh := range files {
		name := fmt.Sprintf("%d-%d%s", time.Now().UnixMilli(), rand.Int63n(1e9), strings.ToLower(filepath.Ext(fh.Filename)))
		path := filepath.Join(u.dir, name)
		if err := c.SaveUploadedFile(fh, path); err != nil {
			return nil, apperr.Wrap(err, apperr.ErrInternal.Code, apperr.ErrInternal.Status, "could not store attachment")
		}
		out = append(out, announce.Attachment{
			OriginalName: filepath.Base(fh.Filename),
			Path:         path,
			Size:         fh.Size,
			MimeType:     fh.Header.Get("Content-Type"),
		})
	}
	return out, nil
}
