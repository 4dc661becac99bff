package engines

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/sua-org/cam-icu/internal/core"
)

// PlateRecognizerEngine chama o plate-reader do platerecognizer.com.
// O plano gratuito aceita ~1 req/s, por isso o limiter.
type PlateRecognizerEngine struct {
	URL   string
	Token string

	HTTP    *http.Client
	limiter *rate.Limiter
}

type plateRecognizerResponse struct {
	Results []struct {
		Plate string  `json:"plate"`
		Score float64 `json:"score"`
	} `json:"results"`
}

func NewPlateRecognizer(url, token string, rps float64) *PlateRecognizerEngine {
	if rps <= 0 {
		rps = 1
	}
	return &PlateRecognizerEngine{
		URL:     url,
		Token:   token,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

func (e *PlateRecognizerEngine) Name() string { return "platerecognizer" }

// Recognize envia multipart com upload (vehicle.jpg), camera_id e timestamp.
func (e *PlateRecognizerEngine) Recognize(ctx context.Context, cameraID string, occurredAt time.Time, image []byte) (*core.PlateResult, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fw, err := writer.CreateFormFile("upload", "vehicle.jpg")
	if err != nil {
		return nil, fmt.Errorf("erro ao criar part upload: %w", err)
	}
	if _, err := fw.Write(image); err != nil {
		return nil, fmt.Errorf("erro ao copiar imagem para multipart: %w", err)
	}
	_ = writer.WriteField("camera_id", cameraID)
	_ = writer.WriteField("timestamp", core.FormatTimestamp(occurredAt))

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("erro ao fechar multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, &buf)
	if err != nil {
		return nil, fmt.Errorf("erro ao criar request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Token "+e.Token)

	resp, err := e.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("erro ao chamar plate-reader: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("erro ao ler resposta plate-reader: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("plate-reader status %d: %s", resp.StatusCode, string(body))
	}

	var out plateRecognizerResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("erro ao decodificar resposta plate-reader: %w", err)
	}
	if len(out.Results) == 0 || out.Results[0].Plate == "" {
		return nil, nil
	}
	return &core.PlateResult{Plate: out.Results[0].Plate, Confidence: out.Results[0].Score}, nil
}
