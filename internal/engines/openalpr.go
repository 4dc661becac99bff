package engines

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"

	"github.com/sua-org/cam-icu/internal/core"
)

// OpenALPREngine usa o recognize_bytes da cloud API do OpenALPR.
type OpenALPREngine struct {
	URL     string
	Secret  string
	Country string

	HTTP *http.Client
}

type openALPRResponse struct {
	Results []struct {
		Plate      string  `json:"plate"`
		Confidence float64 `json:"confidence"`
	} `json:"results"`
}

func NewOpenALPR(endpoint, secret, country string) *OpenALPREngine {
	return &OpenALPREngine{
		URL:     endpoint,
		Secret:  secret,
		Country: country,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (e *OpenALPREngine) Name() string { return "openalpr" }

// Recognize envia a imagem em base64 no corpo; parâmetros vão na query.
func (e *OpenALPREngine) Recognize(ctx context.Context, _ string, _ time.Time, image []byte) (*core.PlateResult, error) {
	q := url.Values{}
	q.Set("recognize_vehicle", "0")
	q.Set("country", e.Country)
	q.Set("topn", "1")
	q.Set("secret_key", e.Secret)

	body := base64.StdEncoding.EncodeToString(image)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL+"?"+q.Encode(), bytes.NewBufferString(body))
	if err != nil {
		return nil, fmt.Errorf("erro ao criar request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("Accept", "application/json")

	resp, err := e.HTTP.Do(req)
	if err != nil {
		// a URL carrega o secret, não vai para o log
		return nil, fmt.Errorf("erro ao chamar recognize_bytes: %w", redactURLError(err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("erro ao ler resposta recognize_bytes: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("recognize_bytes status %d: %s", resp.StatusCode, string(raw))
	}

	var out openALPRResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("erro ao decodificar resposta recognize_bytes: %w", err)
	}
	if len(out.Results) == 0 || out.Results[0].Plate == "" {
		return nil, nil
	}
	return &core.PlateResult{Plate: out.Results[0].Plate, Confidence: out.Results[0].Confidence}, nil
}

func redactURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%s: %w", ue.Op, ue.Err)
	}
	return err
}
