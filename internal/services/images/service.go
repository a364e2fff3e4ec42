// Package images normalizes uploaded pictures to JPEG and keeps them in blob storage.
package images

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/lentmiien/lentmiien-site-sub001/internal/config"
	"github.com/lentmiien/lentmiien-site-sub001/internal/storage/blob"
)

const (
	defaultMaxDimension = 2048
	defaultQuality      = 85
)

var ErrNotFound = errors.New("image not found")

// Service coordinates JPEG re-encoding and blob storage.
type Service struct {
	store        blob.Store
	maxDimension int
	quality      int
}

func NewService(store blob.Store, cfg config.ImagesConfig) *Service {
	s := &Service{store: store, maxDimension: cfg.MaxDimension, quality: cfg.JPEGQuality}
	if s.maxDimension <= 0 {
		s.maxDimension = defaultMaxDimension
	}
	if s.quality <= 0 || s.quality > 100 {
		s.quality = defaultQuality
	}
	return s
}

// Save decodes any supported image format, bounds it to the configured
// dimension and stores it as JPEG. It returns the stored filename.
func (s *Service) Save(ctx context.Context, r io.Reader) (string, error) {
	src, format, err := image.Decode(r)
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	src = s.bound(src)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flatten(src), &jpeg.Options{Quality: s.quality}); err != nil {
		return "", fmt.Errorf("encode %s as jpeg: %w", format, err)
	}

	name := uuid.NewString() + ".jpg"
	if _, err := s.store.Save(ctx, name, buf.Bytes()); err != nil {
		return "", fmt.Errorf("store image: %w", err)
	}
	return name, nil
}

// LoadBase64 returns the stored image as standard base64.
func (s *Service) LoadBase64(ctx context.Context, filename string) (string, error) {
	data, _, err := s.store.Load(ctx, cleanName(filename))
	if errors.Is(err, blob.ErrNotFound) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, filename)
	}
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func (s *Service) Delete(ctx context.Context, filename string) error {
	return s.store.Delete(ctx, cleanName(filename))
}

func (s *Service) bound(src image.Image) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	longest := max(w, h)
	if longest <= s.maxDimension {
		return src
	}
	scale := float64(s.maxDimension) / float64(longest)
	nw := max(1, int(float64(w)*scale))
	nh := max(1, int(float64(h)*scale))
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}

// flatten paints transparent sources onto white since JPEG has no alpha.
func flatten(src image.Image) image.Image {
	if _, ok := src.(*image.YCbCr); ok {
		return src
	}
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	return dst
}

func cleanName(filename string) string {
	return strings.TrimPrefix(strings.TrimSpace(filename), "/")
}
