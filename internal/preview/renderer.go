// Package preview renders thumbnail previews of uploaded documents.
// PDFs are rasterized from their first page; images are used directly.
// Both paths share one finishing step: fit inside a fixed bounding box
// without upscaling and re-encode as WEBP.
package preview

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
)

const (
	// MaxEdge caps the longer edge of a preview in pixels.
	MaxEdge = 512

	// Quality is the WEBP encoding quality.
	Quality = 80

	// pdfRenderDPI rasterizes the first page at 2.0x the PDF's native
	// 72 DPI.
	pdfRenderDPI = 144
)

// OutputMimeType is the mime type of every rendered preview.
const OutputMimeType = "image/webp"

var (
	// ErrUnsupportedType is returned for any input that is neither a
	// PDF nor an image. Checked before any bytes are decoded.
	ErrUnsupportedType = errors.New("unsupported document type for preview")

	// ErrEmptyDocument is returned for a PDF with zero pages.
	ErrEmptyDocument = errors.New("document has no pages")
)

// Preview is a rendered thumbnail.
type Preview struct {
	Buffer   []byte
	MimeType string
	Size     int
}

// Renderer turns document byte buffers into thumbnails.
type Renderer struct{}

// NewRenderer creates a Renderer.
func NewRenderer() *Renderer {
	return &Renderer{}
}

// Supported reports whether a mime type can be previewed.
func Supported(mimeType string) bool {
	return mimeType == "application/pdf" || strings.HasPrefix(mimeType, "image/")
}

// Render produces a thumbnail for the given document bytes. Unsupported
// mime types fail immediately without touching the buffer.
func (r *Renderer) Render(data []byte, mimeType string) (*Preview, error) {
	if !Supported(mimeType) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
	}

	var (
		img image.Image
		err error
	)
	if mimeType == "application/pdf" {
		img, err = r.renderFirstPage(data)
	} else {
		img, err = imaging.Decode(bytes.NewReader(data))
		if err != nil {
			err = fmt.Errorf("failed to decode image: %w", err)
		}
	}
	if err != nil {
		return nil, err
	}

	return r.finish(img)
}

// renderFirstPage rasterizes page one of a PDF.
func (r *Renderer) renderFirstPage(data []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	if doc.NumPage() == 0 {
		return nil, ErrEmptyDocument
	}

	img, err := doc.ImageDPI(0, pdfRenderDPI)
	if err != nil {
		return nil, fmt.Errorf("failed to render PDF page: %w", err)
	}

	return img, nil
}

// finish shrinks the raster to fit inside MaxEdge (never upscaling) and
// encodes it as WEBP.
func (r *Renderer) finish(img image.Image) (*Preview, error) {
	bounds := img.Bounds()
	if bounds.Dx() > MaxEdge || bounds.Dy() > MaxEdge {
		img = imaging.Fit(img, MaxEdge, MaxEdge, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Quality: Quality}); err != nil {
		return nil, fmt.Errorf("failed to encode preview: %w", err)
	}

	return &Preview{
		Buffer:   buf.Bytes(),
		MimeType: OutputMimeType,
		Size:     buf.Len(),
	}, nil
}
