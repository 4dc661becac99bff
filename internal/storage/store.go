// internal/storage/store.go
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sua-org/cam-icu/internal/config"
	"github.com/sua-org/cam-icu/internal/core"
)

type ImageStore interface {
	SaveSnapshot(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// ClassDir é o diretório (ou prefixo) de cada classe.
func ClassDir(class core.EventClass) string {
	switch class {
	case core.Person:
		return "people"
	case core.Vehicle:
		return "vehicles"
	default:
		return class.String()
	}
}

// SnapshotKey monta people/2019-11-01T00-23-55.359Z.jpg a partir do instante do evento.
// Os ':' viram '-' para o nome ser válido em qualquer sistema de arquivos.
func SnapshotKey(class core.EventClass, occurredAt time.Time) string {
	name := strings.ReplaceAll(core.FormatTimestamp(occurredAt), ":", "-")
	return ClassDir(class) + "/" + name + ".jpg"
}

// New escolhe o backend pelo IMAGE_STORE. Devolve nil se useSaveImages estiver desligado.
func New(ctx context.Context, cfg config.Config) (ImageStore, error) {
	if !cfg.SaveImages {
		return nil, nil
	}
	switch cfg.ImageStore {
	case "", "disk":
		s, err := NewDiskStore(cfg.ImageDir)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "minio":
		s, err := NewMinioStore(ctx, MinioConfig{
			Endpoint:      cfg.MinioEndpoint,
			AccessKey:     cfg.MinioAccessKey,
			SecretKey:     cfg.MinioSecretKey,
			Bucket:        cfg.MinioBucket,
			UseSSL:        cfg.MinioUseSSL,
			PublicBaseURL: cfg.MinioPublicBaseURL,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("IMAGE_STORE %q não suportado", cfg.ImageStore)
	}
}
