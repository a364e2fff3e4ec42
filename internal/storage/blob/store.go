// Package blob persists conversation images on local disk or S3. Payloads
// are optionally sealed with AES-GCM before they reach the backend.
package blob

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"

	"github.com/lentmiien/lentmiien-site-sub001/internal/config"
)

var (
	ErrNotFound    = errors.New("blob: image not found")
	ErrInvalidName = errors.New("blob: invalid image name")
)

// Image describes one stored image.
type Image struct {
	Name        string
	Size        int64
	ContentType string
	Sealed      bool
}

// Store keeps images by flat file name, e.g. "3f2c....jpg".
type Store interface {
	Save(ctx context.Context, name string, data []byte) (Image, error)
	Load(ctx context.Context, name string) ([]byte, Image, error)
	Delete(ctx context.Context, name string) error
}

// backend moves raw bytes; sealing happens in store.
type backend interface {
	write(ctx context.Context, name string, data []byte, contentType string) error
	read(ctx context.Context, name string) ([]byte, error)
	remove(ctx context.Context, name string) error
}

type store struct {
	backend backend
	sealer  *sealer
}

// New builds the store selected by images.storage.
func New(ctx context.Context, cfg config.ImagesConfig) (Store, error) {
	var (
		b   backend
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Storage)) {
	case "s3":
		b, err = newS3Backend(ctx, cfg.S3)
	default:
		b, err = newLocalBackend(cfg.Local.Directory)
	}
	if err != nil {
		return nil, err
	}
	return wrap(b, cfg.EncryptionKey)
}

// NewLocal opens a disk-backed store rooted at dir.
func NewLocal(dir, encryptionKey string) (Store, error) {
	b, err := newLocalBackend(dir)
	if err != nil {
		return nil, err
	}
	return wrap(b, encryptionKey)
}

func wrap(b backend, encryptionKey string) (Store, error) {
	s, err := newSealer(encryptionKey)
	if err != nil {
		return nil, err
	}
	return &store{backend: b, sealer: s}, nil
}

func (s *store) Save(ctx context.Context, name string, data []byte) (Image, error) {
	if err := validName(name); err != nil {
		return Image{}, err
	}
	img := Image{Name: name, Size: int64(len(data)), ContentType: contentType(name)}
	payload := data
	if s.sealer != nil {
		sealed, err := s.sealer.seal(data)
		if err != nil {
			return Image{}, fmt.Errorf("seal %s: %w", name, err)
		}
		payload = sealed
		img.Sealed = true
	}
	if err := s.backend.write(ctx, name, payload, img.ContentType); err != nil {
		return Image{}, err
	}
	return img, nil
}

// Load returns the plain image bytes. Images written before a key was
// configured are returned as stored.
func (s *store) Load(ctx context.Context, name string) ([]byte, Image, error) {
	if err := validName(name); err != nil {
		return nil, Image{}, err
	}
	data, err := s.backend.read(ctx, name)
	if err != nil {
		return nil, Image{}, err
	}
	img := Image{Name: name, ContentType: contentType(name)}
	if isSealed(data) {
		if s.sealer == nil {
			return nil, Image{}, fmt.Errorf("image %s is sealed and no encryption key is configured", name)
		}
		data, err = s.sealer.open(data)
		if err != nil {
			return nil, Image{}, fmt.Errorf("open %s: %w", name, err)
		}
		img.Sealed = true
	}
	img.Size = int64(len(data))
	return data, img, nil
}

func (s *store) Delete(ctx context.Context, name string) error {
	if err := validName(name); err != nil {
		return err
	}
	return s.backend.remove(ctx, name)
}

func validName(name string) error {
	if name == "" || name != path.Base(name) || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func contentType(name string) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
