package justification

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/disintegration/imaging"

	"classroll/internal/attendance"
)

// DefaultPreviewMaxPx bounds the longest side of a preview image.
const DefaultPreviewMaxPx = 320

// Previewer renders image files into small data URLs.
type Previewer struct {
	MaxPx int
}

// Preview decodes an image file, shrinks it to fit MaxPx and returns it as a
// data URL. Non-image files have no preview.
func (p Previewer) Preview(ctx context.Context, f attendance.StagedFile) (string, error) {
	if !f.IsImage() {
		return "", nil
	}
	img, err := imaging.Decode(bytes.NewReader(f.Data), imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("preview: decode %s: %w", f.Name, err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	maxPx := p.MaxPx
	if maxPx <= 0 {
		maxPx = DefaultPreviewMaxPx
	}
	if b := img.Bounds(); b.Dx() > maxPx || b.Dy() > maxPx {
		img = imaging.Fit(img, maxPx, maxPx, imaging.Lanczos)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	mime := "image/png"
	if ct := strings.ToLower(f.ContentType); ct == "image/jpeg" || ct == "image/jpg" {
		mime = "image/jpeg"
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(80))
	} else {
		err = imaging.Encode(&buf, img, imaging.PNG)
	}
	if err != nil {
		return "", fmt.Errorf("preview: encode %s: %w", f.Name, err)
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
