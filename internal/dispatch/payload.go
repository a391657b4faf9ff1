package dispatch

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/webp"

	"wabulk/internal/audit"
)

// ErrInvalidPayload is returned when a message cannot be sent to anyone.
var ErrInvalidPayload = errors.New("invalid payload")

var imageExts = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".gif":  {},
	".webp": {},
}

// Payload is the message of a run: plain text, or an image with an optional caption.
type Payload struct {
	Text      string `json:"text,omitempty"`
	ImagePath string `json:"image_path,omitempty"`
	Caption   string `json:"caption,omitempty"`
}

func (p Payload) IsImage() bool { return strings.TrimSpace(p.ImagePath) != "" }

func (p Payload) Kind() audit.Kind {
	if p.IsImage() {
		return audit.KindImage
	}
	return audit.KindText
}

// Summary is the content column of the audit log.
func (p Payload) Summary() string {
	if p.IsImage() {
		return "Image: " + filepath.Base(p.ImagePath)
	}
	return p.Text
}

// Validate checks the payload before any send. Images must exist and decode.
func (p Payload) Validate() error {
	if !p.IsImage() {
		if strings.TrimSpace(p.Text) == "" {
			return fmt.Errorf("%w: provide a message or an image", ErrInvalidPayload)
		}
		return nil
	}

	ext := strings.ToLower(filepath.Ext(p.ImagePath))
	if _, ok := imageExts[ext]; !ok {
		return fmt.Errorf("%w: unsupported image format %q (use JPG, PNG, GIF or WEBP)", ErrInvalidPayload, ext)
	}
	f, err := os.Open(p.ImagePath)
	if err != nil {
		return fmt.Errorf("%w: image: %w", ErrInvalidPayload, err)
	}
	defer f.Close()
	if _, _, err := image.DecodeConfig(f); err != nil {
		return fmt.Errorf("%w: image %s: %w", ErrInvalidPayload, filepath.Base(p.ImagePath), err)
	}
	return nil
}
