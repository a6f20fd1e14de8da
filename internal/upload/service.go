package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"slideshow/internal/gallery"
	"slideshow/internal/models"
)

// PostRepository persists post metadata.
type PostRepository interface {
	InsertPost(ctx context.Context, post *models.Post) (int64, error)
}

// ImageWriter persists image files.
type ImageWriter interface {
	Save(name string, data io.Reader) (int64, error)
	Delete(name string) error
}

// Normalizer bakes orientation metadata into the pixels of raw image bytes.
type Normalizer interface {
	Normalize(raw []byte) ([]byte, string, error)
}

// Input is one photo submission. A nil Comment means the field was not sent.
type Input struct {
	Image    io.Reader
	Filename string
	Comment  *string
}

// Service stores uploaded photos and announces them to viewers.
type Service struct {
	posts        PostRepository
	images       ImageWriter
	normalizer   Normalizer
	materializer gallery.Materializer
	channel      gallery.Broadcaster
	event        string
	maxBytes     int64
	now          func() time.Time
}

// NewService creates an upload service that announces uploads under event.
func NewService(posts PostRepository, images ImageWriter, normalizer Normalizer, materializer gallery.Materializer, channel gallery.Broadcaster, event string, maxBytes int64) *Service {
	return &Service{
		posts:        posts,
		images:       images,
		normalizer:   normalizer,
		materializer: materializer,
		channel:      channel,
		event:        event,
		maxBytes:     maxBytes,
		now:          time.Now,
	}
}

// Upload validates and stores a photo, then pushes it to every viewer.
// Nothing is broadcast unless both the file and its row were written.
func (s *Service) Upload(ctx context.Context, in Input) (*models.Post, error) {
	if in.Image == nil || in.Filename == "" {
		return nil, &models.ValidationError{Field: "image"}
	}
	if in.Comment == nil {
		return nil, &models.ValidationError{Field: "comment"}
	}

	raw, err := s.read(in.Image)
	if err != nil {
		return nil, err
	}

	normalized, format, err := s.normalizer.Normalize(raw)
	if err != nil {
		return nil, &models.ValidationError{Field: "image", Reason: "not a supported image"}
	}

	ts := s.now().UTC()
	post := &models.Post{
		Timestamp: ts,
		Comment:   *in.Comment,
		Name:      Filename(ts, in.Filename, format),
	}

	written, err := s.images.Save(post.Name, bytes.NewReader(normalized))
	if err != nil {
		return nil, &models.StoreError{Op: "save image", Err: err}
	}

	if _, err := s.posts.InsertPost(ctx, post); err != nil {
		if derr := s.images.Delete(post.Name); derr != nil {
			slog.Warn("failed to remove orphaned image", "name", post.Name, "error", derr)
		}
		return nil, err
	}

	slog.Info("stored upload",
		"post_id", post.ID,
		"name", post.Name,
		"size", humanize.Bytes(uint64(written)),
		"original_size", humanize.Bytes(uint64(len(raw))),
	)

	ref, err := s.materializer.Resolve(post.Name)
	if err != nil {
		slog.Error("failed to resolve new image", "name", post.Name, "error", err)
		return post, nil
	}
	if err := s.channel.Broadcast(s.event, models.UploadFrame{Image: ref, Comment: post.Comment}); err != nil {
		slog.Error("failed to broadcast new image", "name", post.Name, "error", err)
	}

	return post, nil
}

func (s *Service) read(r io.Reader) ([]byte, error) {
	if s.maxBytes > 0 {
		r = io.LimitReader(r, s.maxBytes+1)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if s.maxBytes > 0 && int64(len(raw)) > s.maxBytes {
		return nil, &models.ValidationError{
			Field:  "image",
			Reason: "larger than " + humanize.Bytes(uint64(s.maxBytes)),
		}
	}
	if len(raw) == 0 {
		return nil, &models.ValidationError{Field: "image", Reason: "file is empty"}
	}
	return raw, nil
}

// formatExts maps encoder names to the extensions that may carry them.
// The first one is used when the original extension does not fit.
var formatExts = map[string][]string{
	"jpeg": {".jpg", ".jpeg", ".jpe", ".jfif"},
	"png":  {".png"},
	"gif":  {".gif"},
}

// Filename derives the stored name of an upload: the UTC ISO-8601
// timestamp with ':' replaced by '_', plus the original extension as
// given. When the extension does not match the stored format, the
// format's own extension is used instead.
func Filename(ts time.Time, original, format string) string {
	stamp := strings.ReplaceAll(ts.UTC().Format("2006-01-02T15:04:05.000000"), ":", "_")
	ext := filepath.Ext(filepath.Base(original))

	exts, known := formatExts[format]
	if !known {
		return stamp + ext
	}
	for _, e := range exts {
		if strings.EqualFold(ext, e) {
			return stamp + ext
		}
	}
	return stamp + exts[0]
}

// Message turns an upload result into the text shown to the guest.
func Message(err error) string {
	if err == nil {
		return "Photo uploaded successfully :)"
	}

	var verr *models.ValidationError
	if errors.As(err, &verr) {
		return "Upload failed: " + verr.Error()
	}
	if errors.Is(err, models.ErrDuplicateName) {
		return "Upload failed: another photo arrived at the same moment, please try again"
	}
	return "Upload failed: the photo could not be stored"
}
