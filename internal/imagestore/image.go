// Package imagestore hosts post images.
//
// Clients send images inline as data URLs. Normalize turns one into a
// bounded-size JPEG, a Store puts the bytes somewhere public and returns the
// URL saved on the post, and KeyFromURL recovers the object key from that
// URL when the post is deleted.
package imagestore

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"path"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

const (
	// MaxWidth is the widest image we keep; wider uploads are scaled down
	// with their aspect ratio preserved.
	MaxWidth = 1080

	// MaxEncodedBytes bounds the base64 payload accepted from a client.
	MaxEncodedBytes = 10 << 20

	// maxPixels rejects decompression bombs before the full decode.
	maxPixels = 40_000_000

	jpegQuality = 85
)

// ErrInvalidImage is returned for payloads that are not a decodable image.
var ErrInvalidImage = errors.New("imagestore: invalid image")

// Store is an image host.
type Store interface {
	// Upload stores a JPEG under key and returns its public URL.
	Upload(ctx context.Context, key string, jpeg []byte) (string, error)
	// Delete removes the object for key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// NewKey returns a fresh object key.
func NewKey() string {
	return uuid.NewString()
}

// KeyFromURL returns the last path segment of a hosted image URL without its
// extension: "https://cdn.example.com/posts/ab12.jpg" → "ab12".
func KeyFromURL(rawURL string) string {
	if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		rawURL = rawURL[:i]
	}
	base := path.Base(strings.TrimRight(rawURL, "/"))
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, path.Ext(base))
}

// Normalize decodes a data URL (or bare base64) image, applies its EXIF
// orientation, scales it down to MaxWidth and re-encodes it as JPEG.
func Normalize(dataURL string) ([]byte, error) {
	raw, err := decodeDataURL(dataURL)
	if err != nil {
		return nil, err
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > maxPixels {
		return nil, fmt.Errorf("%w: %dx%d is out of range", ErrInvalidImage, cfg.Width, cfg.Height)
	}

	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if img.Bounds().Dx() > MaxWidth {
		img = imaging.Resize(img, MaxWidth, 0, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("imagestore: encoding jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeDataURL accepts "data:image/png;base64,...." or plain base64.
func decodeDataURL(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		meta, payload, ok := strings.Cut(s, ",")
		if !ok || !strings.HasSuffix(meta, ";base64") {
			return nil, fmt.Errorf("%w: expected a base64 data URL", ErrInvalidImage)
		}
		if !strings.HasPrefix(meta, "data:image/") {
			return nil, fmt.Errorf("%w: not an image data URL", ErrInvalidImage)
		}
		s = payload
	}
	if len(s) > MaxEncodedBytes {
		return nil, fmt.Errorf("%w: larger than %d bytes", ErrInvalidImage, MaxEncodedBytes)
	}

	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		// Some clients strip the padding.
		if raw, err = base64.RawStdEncoding.DecodeString(s); err != nil {
			return nil, fmt.Errorf("%w: bad base64: %v", ErrInvalidImage, err)
		}
	}
	return raw, nil
}
