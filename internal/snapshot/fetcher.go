// internal/snapshot/fetcher.go
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// StatusError é uma resposta HTTP não-2xx no download da imagem.
type StatusError struct {
	Code   int
	Status string
	URL    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d %s", e.URL, e.Code, e.Status)
}

// NotReady: o snapshot ainda não foi materializado na URL.
func (e *StatusError) NotReady() bool { return e.Code == http.StatusNotFound }

func (e *StatusError) ServerError() bool { return e.Code >= 500 && e.Code <= 599 }

// MaxImageBytes é o maior snapshot aceito; um JPEG de MV fica bem abaixo disso.
const MaxImageBytes = 16 << 20

// ErrImageTooLarge: corpo da resposta passou de MaxBytes. Não é repetido.
var ErrImageTooLarge = errors.New("imagem excede o limite")

// HTTPFetcher baixa a imagem de uma URL pré-autenticada.
type HTTPFetcher struct {
	HTTP *http.Client
	// MaxBytes <= 0 usa MaxImageBytes.
	MaxBytes int64
}

func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{HTTP: &http.Client{Timeout: 30 * time.Second}, MaxBytes: MaxImageBytes}
}

func (f *HTTPFetcher) FetchImage(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("erro ao criar request da imagem: %w", err)
	}
	req.Header.Set("Accept", "image/jpeg")

	resp, err := f.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("erro HTTP ao baixar imagem: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{Code: resp.StatusCode, Status: http.StatusText(resp.StatusCode), URL: url}
	}

	limit := f.MaxBytes
	if limit <= 0 {
		limit = MaxImageBytes
	}
	img, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("erro ao ler imagem: %w", err)
	}
	if int64(len(img)) > limit {
		return nil, fmt.Errorf("%w: mais de %d bytes em %s", ErrImageTooLarge, limit, url)
	}
	return img, nil
}
