package validation

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var ErrTooLarge = errors.New("file too large")

// ImageConstraints defines validation rules for image uploads
type ImageConstraints struct {
	AllowedMimeTypes  map[string]bool
	AllowedExtensions map[string]bool
	MaxSize           int64
}

// SelfieConstraints applies to endorsement evidence.
var SelfieConstraints = ImageConstraints{
	AllowedMimeTypes: map[string]bool{
		"image/jpeg": true,
		"image/png":  true,
		"image/webp": true,
	},
	AllowedExtensions: map[string]bool{
		".jpg":  true,
		".jpeg": true,
		".png":  true,
		".webp": true,
	},
	MaxSize: 5 << 20, // 5MB
}

// ValidateImage checks the extension and the sniffed content type of r. The
// returned reader yields the complete content and fails with ErrTooLarge once
// more than MaxSize bytes have been read.
func ValidateImage(r io.Reader, ext string, c ImageConstraints) (io.Reader, error) {
	ext = strings.ToLower(ext)
	if !c.AllowedExtensions[ext] {
		return nil, fmt.Errorf("invalid file extension: %q", ext)
	}

	// http.DetectContentType looks at no more than 512 bytes
	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	head = head[:n]

	detected := http.DetectContentType(head)
	if !c.AllowedMimeTypes[detected] {
		return nil, fmt.Errorf("invalid file type (detected: %s)", detected)
	}

	return &limitedReader{r: io.MultiReader(bytes.NewReader(head), r), left: c.MaxSize}, nil
}

type limitedReader struct {
	r    io.Reader
	left int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.left < 0 {
		return 0, ErrTooLarge
	}
	if int64(len(p)) > l.left+1 {
		p = p[:l.left+1]
	}
	n, err := l.r.Read(p)
	l.left -= int64(n)
	if l.left < 0 {
		return n, ErrTooLarge
	}
	return n, err
}
