// Package fixtures holds recorded provider payloads used by adapter tests.
package fixtures

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io"
)

//go:embed testdata/*
var files embed.FS

// Load decodes the named JSON fixture file into dest.
func Load(name string, dest any) error {
	data, err := Read(name)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("decode fixture %s: %w", name, err)
	}
	return nil
}

// Read returns the raw bytes for a fixture file.
func Read(name string) ([]byte, error) {
	data, err := files.ReadFile("testdata/" + name)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", name, err)
	}
	return data, nil
}

// Stream returns a reader over a JSONL fixture, as a provider download would.
func Stream(name string) (io.Reader, error) {
	data, err := Read(name)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}
