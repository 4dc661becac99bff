// internal/storage/minio_store.go
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

type MinioConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	UseSSL        bool
	PublicBaseURL string
}

type MinioStore struct {
	client  *minio.Client
	bucket  string
	baseURL *url.URL
	useSSL  bool
}

func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("MINIO_ACCESS_KEY / MINIO_SECRET_KEY não configurados")
	}

	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("erro criando cliente MinIO: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// Cria bucket se não existir
	err = cli.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{})
	if err != nil {
		exists, errBucketExists := cli.BucketExists(ctx, cfg.Bucket)
		if errBucketExists != nil || !exists {
			return nil, fmt.Errorf("erro criando/verificando bucket %s: %w", cfg.Bucket, err)
		}
	}

	u, err := parseBaseURL(cfg.PublicBaseURL)
	if err != nil {
		return nil, err
	}

	log.Info().Str("component", "storage").Str("backend", "minio").
		Str("endpoint", cfg.Endpoint).Str("bucket", cfg.Bucket).Msg("conectado ao MinIO")

	return &MinioStore{
		client:  cli,
		bucket:  cfg.Bucket,
		baseURL: u,
		useSSL:  cfg.UseSSL,
	}, nil
}

func (s *MinioStore) SaveSnapshot(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = "image/jpeg"
	}

	_, err := s.client.PutObject(
		ctx,
		s.bucket,
		key,
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType},
	)
	if err != nil {
		return "", fmt.Errorf("erro ao enviar objeto pro MinIO: %w", err)
	}

	if s.baseURL != nil {
		return publicURL(s.baseURL, key), nil
	}

	// Fallback: URL bruta do endpoint S3
	scheme := "http"
	if s.useSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, s.client.EndpointURL().Host, s.bucket, key), nil
}

func parseBaseURL(base string) (*url.URL, error) {
	if base == "" {
		return nil, nil
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("MINIO_PUBLIC_BASE_URL inválida: %w", err)
	}
	return u, nil
}

func publicURL(base *url.URL, key string) string {
	u := *base
	if u.Path == "" || u.Path == "/" {
		u.Path = "/" + key
	} else {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/" + key
	}
	return u.String()
}
