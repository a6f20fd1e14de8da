package gallery

import (
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"slideshow/internal/models"
)

// Image delivery modes. One is chosen per deployment.
const (
	ModeURL    = "url"
	ModeInline = "inline"
	ModeBinary = "binary"
)

// ImageSource is the part of the image store a materializer reads from.
type ImageSource interface {
	Stat(name string) (string, error)
	ReadFile(name string) ([]byte, error)
}

// Materializer turns a stored image name into something a viewer can show.
// A missing file is reported as models.ErrImageNotFound.
type Materializer interface {
	Resolve(name string) (models.ImageRef, error)
}

// NewMaterializer builds the materializer for mode. baseURL is the public
// address viewers fetch /images/ from and is only used in url mode.
func NewMaterializer(mode string, images ImageSource, baseURL string) (Materializer, error) {
	switch mode {
	case ModeURL, "":
		return &URLMaterializer{images: images, baseURL: strings.TrimRight(baseURL, "/")}, nil
	case ModeInline:
		return &InlineMaterializer{images: images}, nil
	case ModeBinary:
		return &BinaryMaterializer{images: images}, nil
	default:
		return nil, fmt.Errorf("unknown image mode %q", mode)
	}
}

// URLMaterializer points viewers at the image endpoint.
type URLMaterializer struct {
	images  ImageSource
	baseURL string
}

func (m *URLMaterializer) Resolve(name string) (models.ImageRef, error) {
	if _, err := m.images.Stat(name); err != nil {
		return models.ImageRef{}, err
	}
	return models.ImageRef{
		Src:         m.baseURL + "/images/" + url.PathEscape(name),
		ContentType: contentType(name, nil),
	}, nil
}

// InlineMaterializer embeds the image as a base64 data URI.
type InlineMaterializer struct {
	images ImageSource
}

func (m *InlineMaterializer) Resolve(name string) (models.ImageRef, error) {
	data, err := m.images.ReadFile(name)
	if err != nil {
		return models.ImageRef{}, err
	}
	ct := contentType(name, data)
	return models.ImageRef{
		Src:         "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(data),
		ContentType: ct,
	}, nil
}

// BinaryMaterializer carries the raw bytes, for binary websocket frames.
type BinaryMaterializer struct {
	images ImageSource
}

func (m *BinaryMaterializer) Resolve(name string) (models.ImageRef, error) {
	data, err := m.images.ReadFile(name)
	if err != nil {
		return models.ImageRef{}, err
	}
	return models.ImageRef{ContentType: contentType(name, data), Data: data}, nil
}

func contentType(name string, data []byte) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		return ct
	}
	if len(data) > 0 {
		return http.DetectContentType(data)
	}
	return "application/octet-stream"
}
