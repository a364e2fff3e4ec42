package images

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lentmiien/lentmiien-site-sub001/internal/config"
	"github.com/lentmiien/lentmiien-site-sub001/internal/storage/blob"
)

func newService(t *testing.T, maxDim int) *Service {
	t.Helper()
	store, err := blob.NewLocal(t.TempDir(), "")
	require.NoError(t, err)
	return NewService(store, config.ImagesConfig{MaxDimension: maxDim, JPEGQuality: 80})
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.NRGBA{R: 200, G: 10, B: 10, A: 128})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestSaveReencodesAndBoundsImage(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, 64)

	name, err := svc.Save(ctx, bytes.NewReader(pngBytes(t, 200, 100)))
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(name, ".jpg"))

	b64, err := svc.LoadBase64(ctx, name)
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(b64)
	require.NoError(t, err)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, "jpeg", format)
	require.Equal(t, 64, cfg.Width)
	require.Equal(t, 32, cfg.Height)
}

func TestSaveKeepsSmallJPEGDimensions(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, 0)

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewYCbCr(image.Rect(0, 0, 40, 30), image.YCbCrSubsampleRatio420), nil))
	name, err := svc.Save(ctx, &buf)
	require.NoError(t, err)

	b64, err := svc.LoadBase64(ctx, name)
	require.NoError(t, err)
	raw, _ := base64.StdEncoding.DecodeString(b64)
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, 40, cfg.Width)
}

func TestSaveRejectsNonImages(t *testing.T) {
	_, err := newService(t, 0).Save(context.Background(), strings.NewReader("not an image"))
	require.Error(t, err)
}

func TestLoadMissingImage(t *testing.T) {
	svc := newService(t, 0)
	_, err := svc.LoadBase64(context.Background(), "missing.jpg")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, svc.Delete(context.Background(), "missing.jpg"))
}
