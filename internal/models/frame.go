package models

// Slot labels of the periodic gallery frame, in the order sampled posts fill them.
const (
	SlotTopLeft     = "top-left"
	SlotBottomLeft  = "bottom-left"
	SlotTopRight    = "top-right"
	SlotBottomRight = "bottom-right"
)

// SlotLabels lists the frame slots in fill order.
var SlotLabels = []string{SlotTopLeft, SlotBottomLeft, SlotTopRight, SlotBottomRight}

// ImageRef points a viewer at an image. Src carries a URL or a data URI,
// Data carries the raw bytes when images travel inside binary messages.
type ImageRef struct {
	Src         string `json:"src,omitempty" msgpack:"src,omitempty"`
	ContentType string `json:"content_type,omitempty" msgpack:"content_type,omitempty"`
	Data        []byte `json:"-" msgpack:"data,omitempty"`
}

// GalleryFrame maps slot labels to images. Slots without an image are absent.
type GalleryFrame map[string]ImageRef

// UploadFrame announces a freshly uploaded image.
type UploadFrame struct {
	Image   ImageRef `json:"image" msgpack:"image"`
	Comment string   `json:"comment" msgpack:"comment"`
}
