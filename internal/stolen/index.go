// internal/stolen/index.go
package stolen

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/sua-org/cam-icu/internal/logging"
)

// Record é uma linha do export de veículos roubados da polícia da NZ:
// Plate,Colour,Make,Model,Year,Type,Date Reported,Region
type Record struct {
	Plate    string
	Colour   string
	Make     string
	Model    string
	Year     string
	Type     string
	Reported string
	Region   string
}

// Index é a base em memória. Consultas antes da primeira carga devolvem false.
type Index struct {
	records atomic.Pointer[map[string]Record]
	loaded  atomic.Int64 // unix nano da última carga
	http    *http.Client
	log     zerolog.Logger
}

func New() *Index {
	return &Index{
		http: &http.Client{Timeout: 60 * time.Second},
		log:  logging.Component("stolen"),
	}
}

// Normalize deixa a placa em maiúsculas e sem espaços.
func Normalize(plate string) string {
	return strings.ToUpper(strings.Join(strings.Fields(plate), ""))
}

func (i *Index) Stolen(plate string) bool {
	_, ok := i.Lookup(plate)
	return ok
}

func (i *Index) Lookup(plate string) (Record, bool) {
	m := i.records.Load()
	if m == nil {
		return Record{}, false
	}
	r, ok := (*m)[Normalize(plate)]
	return r, ok
}

func (i *Index) Len() int {
	m := i.records.Load()
	if m == nil {
		return 0
	}
	return len(*m)
}

// LoadedAt devolve o instante da última carga (zero se nunca carregou).
func (i *Index) LoadedAt() time.Time {
	n := i.loaded.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Replace troca a base inteira de uma vez.
func (i *Index) Replace(records []Record) {
	m := make(map[string]Record, len(records))
	for _, r := range records {
		key := Normalize(r.Plate)
		if key == "" {
			continue
		}
		r.Plate = key
		m[key] = r
	}
	i.records.Store(&m)
	i.loaded.Store(time.Now().UnixNano())
}

// Load lê o CSV de um arquivo local ou de uma URL http(s) e substitui a base.
func (i *Index) Load(ctx context.Context, source string) (int, error) {
	rc, err := i.open(ctx, source)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	records, err := Parse(rc)
	if err != nil {
		return 0, fmt.Errorf("stolen: parse %s: %w", source, err)
	}
	i.Replace(records)
	return i.Len(), nil
}

func (i *Index) open(ctx context.Context, source string) (io.ReadCloser, error) {
	if !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://") {
		f, err := os.Open(source)
		if err != nil {
			return nil, fmt.Errorf("stolen: %w", err)
		}
		return f, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("stolen: %w", err)
	}
	resp, err := i.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stolen: GET %s: %w", source, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("stolen: GET %s: status %s", source, resp.Status)
	}
	return resp.Body, nil
}

// Parse lê o CSV. A primeira linha é ignorada quando é cabeçalho.
func Parse(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var out []Record
	first := true
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if first {
			first = false
			if len(row) > 0 && strings.EqualFold(strings.TrimSpace(row[0]), "plate") {
				continue
			}
		}
		if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		out = append(out, Record{
			Plate:    strings.TrimSpace(row[0]),
			Colour:   col(row, 1),
			Make:     col(row, 2),
			Model:    col(row, 3),
			Year:     col(row, 4),
			Type:     col(row, 5),
			Reported: col(row, 6),
			Region:   col(row, 7),
		})
	}
	return out, nil
}

func col(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// Run carrega a base em background (com retry) e, se refresh > 0, recarrega
// periodicamente até o ctx acabar. Falha de recarga mantém a base anterior.
func (i *Index) Run(ctx context.Context, source string, refresh time.Duration) {
	b := backoff.WithContext(initialLoadBackOff(), ctx)
	err := backoff.RetryNotify(func() error {
		err := i.loadAndLog(ctx, source)
		if errors.Is(err, fs.ErrNotExist) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		i.log.Warn().Err(err).Dur("retry_in", wait).Msg("erro carregando base de roubados")
	})
	if err != nil {
		i.log.Error().Err(err).Msg("base de roubados não carregada, consultas devolvem false")
	}

	if refresh <= 0 {
		return
	}
	t := time.NewTicker(refresh)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := i.loadAndLog(ctx, source); err != nil {
				i.log.Warn().Err(err).Msg("erro recarregando base de roubados, mantendo a anterior")
			}
		}
	}
}

func (i *Index) loadAndLog(ctx context.Context, source string) error {
	start := time.Now()
	n, err := i.Load(ctx, source)
	if err != nil {
		return err
	}
	i.log.Info().Int("plates", n).Dur("took", time.Since(start)).Msg("base de roubados carregada")
	return nil
}

func initialLoadBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Second
	b.MaxInterval = 2 * time.Minute
	b.MaxElapsedTime = 15 * time.Minute
	return b
}
