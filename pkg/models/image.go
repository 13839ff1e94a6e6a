package models

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
)

var dataURLPattern = regexp.MustCompile(`^data:image/(png|jpeg|jpg|webp);base64,(.+)$`)

// Image is an opaque encoded image payload.
type Image struct {
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

func NewImage(data []byte, mimeType string) Image {
	return Image{MIMEType: mimeType, Data: data}
}

func (i Image) IsEmpty() bool {
	return len(i.Data) == 0
}

// Format reports the output format implied by the MIME type, defaulting to PNG.
func (i Image) Format() OutputFormat {
	switch strings.ToLower(i.MIMEType) {
	case "image/jpeg", "image/jpg":
		return FormatJPEG
	case "image/webp":
		return FormatWebP
	}
	return FormatPNG
}

func (i Image) Extension() string {
	if i.Format() == FormatJPEG {
		return ".jpg"
	}
	return "." + i.Format().String()
}

func (i Image) DataURL() string {
	mime := i.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// ParseDataURL decodes a base64 image data URL.
func ParseDataURL(s string) (Image, error) {
	m := dataURLPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Image{}, ErrInvalidImageFormat
	}
	data, err := base64.StdEncoding.DecodeString(m[2])
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrInvalidImageFormat, err)
	}
	subtype := m[1]
	if subtype == "jpg" {
		subtype = "jpeg"
	}
	return Image{MIMEType: "image/" + subtype, Data: data}, nil
}
