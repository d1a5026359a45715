package catalog

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed default_catalog.yaml
var defaultCatalog []byte

// Source загружает снимок справочника.
type Source interface {
	Load(ctx context.Context) (*Snapshot, error)
}

// FileSource читает справочник из YAML-файла.
type FileSource struct {
	Path string
}

func (f FileSource) Load(_ context.Context) (*Snapshot, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// EmbeddedSource отдаёт справочник, вшитый в бинарник.
type EmbeddedSource struct{}

func (EmbeddedSource) Load(_ context.Context) (*Snapshot, error) {
	return Parse(defaultCatalog)
}

// Parse разбирает YAML и строит индексы снимка.
func Parse(data []byte) (*Snapshot, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var snap Snapshot
	if err := dec.Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := snap.Index(); err != nil {
		return nil, fmt.Errorf("validate catalog: %w", err)
	}
	return &snap, nil
}
