package blob

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// sealedMagic prefixes every sealed payload: magic | nonce | ciphertext.
var sealedMagic = []byte("LHIMG1")

type sealer struct {
	aead cipher.AEAD
}

func newSealer(raw string) (*sealer, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("images.encryption_key must be base64: %w", err)
	}
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("images.encryption_key must decode to 16, 24 or 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &sealer{aead: aead}, nil
}

func (s *sealer) seal(plain []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(sealedMagic)+len(nonce)+len(plain)+s.aead.Overhead())
	out = append(out, sealedMagic...)
	out = append(out, nonce...)
	// the magic header is authenticated with the image bytes
	return s.aead.Seal(out, nonce, plain, sealedMagic), nil
}

func (s *sealer) open(data []byte) ([]byte, error) {
	body := data[len(sealedMagic):]
	n := s.aead.NonceSize()
	if len(body) < n {
		return nil, errors.New("sealed payload too short")
	}
	return s.aead.Open(nil, body[:n], body[n:], sealedMagic)
}

func isSealed(data []byte) bool {
	return bytes.HasPrefix(data, sealedMagic)
}
