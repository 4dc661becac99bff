// internal/storage/disk_store.go
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DiskStore grava as imagens em subdiretórios de um diretório base.
type DiskStore struct {
	root string
	log  zerolog.Logger
}

func NewDiskStore(root string) (*DiskStore, error) {
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("IMAGE_DIR inválido: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("erro criando IMAGE_DIR %s: %w", abs, err)
	}
	l := log.With().Str("component", "storage").Str("backend", "disk").Logger()
	l.Info().Str("dir", abs).Msg("gravando imagens em disco")
	return &DiskStore{root: abs, log: l}, nil
}

func (s *DiskStore) Root() string { return s.root }

// SaveSnapshot grava data em root/key e devolve o caminho absoluto.
func (s *DiskStore) SaveSnapshot(ctx context.Context, key string, data []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("chave inválida %q", key)
	}

	path := filepath.Join(s.root, clean)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("erro criando diretório: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("erro gravando %s: %w", path, err)
	}
	s.log.Debug().Str("path", path).Int("bytes", len(data)).Msg("imagem gravada")
	return path, nil
}
