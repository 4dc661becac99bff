// internal/meraki/client.go
package meraki

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/sua-org/cam-icu/internal/core"
)

// ErrNotFound: organização ou rede com o nome pedido não existe.
var ErrNotFound = errors.New("meraki: not found")

// APIError é uma resposta não-2xx do dashboard.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s status %d: %s", e.Op, e.Status, e.Body)
}

// Client é um cliente mínimo da Dashboard API (só o que o pipeline usa).
type Client struct {
	BaseURL string
	APIKey  string

	HTTP *http.Client
}

type Organization struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Network struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organizationId"`
	Name           string `json:"name"`
}

// Snapshot é a resposta do generateSnapshot: URL pré-autenticada com validade curta.
type Snapshot struct {
	URL    string `json:"url"`
	Expiry string `json:"expiry"`
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Organizations lista as organizações visíveis para a API key.
func (c *Client) Organizations(ctx context.Context) ([]Organization, error) {
	var out []Organization
	if err := c.do(ctx, "GetOrganizations", http.MethodGet, "/organizations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Networks lista as redes de uma organização.
func (c *Client) Networks(ctx context.Context, orgID string) ([]Network, error) {
	var out []Network
	p := "/organizations/" + url.PathEscape(orgID) + "/networks"
	if err := c.do(ctx, "GetOrganizationNetworks", http.MethodGet, p, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GenerateSnapshot pede um snapshot da câmera no instante ts.
// A URL devolvida pode ainda dar 404 por alguns segundos até a imagem existir.
func (c *Client) GenerateSnapshot(ctx context.Context, networkID, serial string, ts time.Time) (*Snapshot, error) {
	body, err := json.Marshal(map[string]string{"timestamp": core.FormatTimestamp(ts)})
	if err != nil {
		return nil, fmt.Errorf("erro ao montar body do snapshot: %w", err)
	}

	p := fmt.Sprintf("/networks/%s/cameras/%s/snapshot", url.PathEscape(networkID), url.PathEscape(serial))

	var snap Snapshot
	if err := c.do(ctx, "GenerateNetworkCameraSnapshot", http.MethodPost, p, body, &snap); err != nil {
		return nil, err
	}
	if strings.TrimSpace(snap.URL) == "" {
		return nil, fmt.Errorf("GenerateNetworkCameraSnapshot: resposta sem url")
	}
	return &snap, nil
}

// FindOrganization procura a organização pelo nome exato.
func (c *Client) FindOrganization(ctx context.Context, name string) (*Organization, error) {
	orgs, err := c.Organizations(ctx)
	if err != nil {
		return nil, err
	}
	for i := range orgs {
		if orgs[i].Name == name {
			return &orgs[i], nil
		}
	}
	return nil, fmt.Errorf("organização %q: %w", name, ErrNotFound)
}

// FindNetwork procura a rede pelo nome exato dentro da organização.
func (c *Client) FindNetwork(ctx context.Context, orgID, name string) (*Network, error) {
	nets, err := c.Networks(ctx, orgID)
	if err != nil {
		return nil, err
	}
	for i := range nets {
		if nets[i].Name == name {
			return &nets[i], nil
		}
	}
	return nil, fmt.Errorf("rede %q: %w", name, ErrNotFound)
}

func (c *Client) do(ctx context.Context, op, method, path string, body []byte, out interface{}) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return fmt.Errorf("erro ao criar request %s: %w", op, err)
	}
	req.Header.Set("X-Cisco-Meraki-API-Key", c.APIKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("erro ao chamar %s: %w", op, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("erro ao ler resposta %s: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Op: op, Status: resp.StatusCode, Body: string(bodyBytes)}
	}

	if out == nil || len(bodyBytes) == 0 {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("erro ao parsear JSON %s: %w (body=%s)", op, err, string(bodyBytes))
	}
	return nil
}
