// internal/snapshot/acquirer.go
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sua-org/cam-icu/internal/core"
	"github.com/sua-org/cam-icu/internal/metrics"
)

// ErrAttemptsExhausted: o estágio estourou o limite de tentativas.
var ErrAttemptsExhausted = errors.New("snapshot: attempts exhausted")

// URLResolver gera a URL temporária do snapshot para um instante.
type URLResolver interface {
	ResolveSnapshotURL(ctx context.Context, cameraID string, occurredAt time.Time) (string, error)
}

// ImageFetcher baixa os bytes da URL. Respostas não-2xx devem vir como *StatusError.
type ImageFetcher interface {
	FetchImage(ctx context.Context, url string) ([]byte, error)
}

type State int

const (
	Idle State = iota
	ResolvingURL
	URLResolved
	Waiting
	FetchingImage
	Delivered
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ResolvingURL:
		return "resolving_url"
	case URLResolved:
		return "url_resolved"
	case Waiting:
		return "waiting"
	case FetchingImage:
		return "fetching_image"
	case Delivered:
		return "delivered"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome é o estado terminal de uma aquisição.
type Outcome struct {
	State           State
	URL             string
	ResolveAttempts int
	FetchAttempts   int
	Err             error
}

// snapshotRequest e imageFetchRequest são recriados a cada tentativa.
type snapshotRequest struct {
	cameraID   string
	occurredAt time.Time
	attempt    int
}

type imageFetchRequest struct {
	url     string
	attempt int
}

type sleepFunc func(ctx context.Context, d time.Duration) error

// Acquirer dispara aquisições independentes, uma goroutine por evento aceito.
// Não existe cancelamento por evento: cada aquisição vai até Delivered ou Failed.
// O ctx passado serve só para o desligamento do processo.
type Acquirer struct {
	resolver URLResolver
	fetcher  ImageFetcher
	policy   Policy
	sleep    sleepFunc

	wg       sync.WaitGroup
	inFlight atomic.Int64
}

func NewAcquirer(resolver URLResolver, fetcher ImageFetcher, policy Policy) *Acquirer {
	if fetcher == nil {
		fetcher = NewHTTPFetcher()
	}
	return &Acquirer{
		resolver: resolver,
		fetcher:  fetcher,
		policy:   policy.WithDefaults(),
		sleep:    sleepCtx,
	}
}

// Start roda a aquisição em background e entrega a imagem ao handler.
func (a *Acquirer) Start(ctx context.Context, evt core.CameraEvent, handler core.ImageHandler) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.Acquire(ctx, evt, handler)
	}()
}

// Acquire roda a máquina de estados de forma síncrona até o estado terminal.
func (a *Acquirer) Acquire(ctx context.Context, evt core.CameraEvent, handler core.ImageHandler) Outcome {
	a.inFlight.Add(1)
	metrics.AcquisitionsInFlight.Inc()
	defer func() {
		a.inFlight.Add(-1)
		metrics.AcquisitionsInFlight.Dec()
	}()

	x := &acquisition{
		acq:     a,
		evt:     evt,
		handler: handler,
		state:   Idle,
		log: log.With().
			Str("component", "snapshot").
			Str("camera", evt.CameraID).
			Str("class", evt.Class.String()).
			Str("ts", evt.Timestamp()).
			Str("acquisition", uuid.NewString()).
			Logger(),
	}
	out := x.run(ctx)

	metrics.AcquisitionsTotal.WithLabelValues(evt.Class.String(), out.State.String()).Inc()
	metrics.AcquisitionAttempts.WithLabelValues("resolve").Observe(float64(out.ResolveAttempts))
	if out.FetchAttempts > 0 {
		metrics.AcquisitionAttempts.WithLabelValues("fetch").Observe(float64(out.FetchAttempts))
	}
	return out
}

// InFlight devolve quantas aquisições ainda não chegaram ao estado terminal.
func (a *Acquirer) InFlight() int64 { return a.inFlight.Load() }

// Wait bloqueia até todas as aquisições iniciadas por Start terminarem.
func (a *Acquirer) Wait() { a.wg.Wait() }

type acquisition struct {
	acq     *Acquirer
	evt     core.CameraEvent
	handler core.ImageHandler
	log     zerolog.Logger

	state           State
	url             string
	resolveAttempts int
	fetchAttempts   int
	resolveBackoff  backoff.BackOff
	fetchBackoff    backoff.BackOff
	err             error
}

func (x *acquisition) run(ctx context.Context) Outcome {
	p := x.acq.policy
	x.resolveBackoff = p.ResolveBackoff()
	x.fetchBackoff = p.FetchBackoff()

	for x.state != Delivered && x.state != Failed {
		switch x.state {
		case Idle:
			x.state = ResolvingURL

		case ResolvingURL:
			x.resolveStep(ctx, snapshotRequest{
				cameraID:   x.evt.CameraID,
				occurredAt: x.evt.OccurredAt,
				attempt:    x.resolveAttempts + 1,
			})

		case URLResolved:
			x.state = Waiting

		case Waiting:
			x.log.Debug().Dur("delay", p.ReadyDelay).Msg("aguardando snapshot ser gerado")
			if err := x.acq.sleep(ctx, p.ReadyDelay); err != nil {
				x.fail(err)
				continue
			}
			x.state = FetchingImage

		case FetchingImage:
			x.fetchStep(ctx, imageFetchRequest{url: x.url, attempt: x.fetchAttempts + 1})
		}
	}

	return Outcome{
		State:           x.state,
		URL:             x.url,
		ResolveAttempts: x.resolveAttempts,
		FetchAttempts:   x.fetchAttempts,
		Err:             x.err,
	}
}

func (x *acquisition) resolveStep(ctx context.Context, req snapshotRequest) {
	p := x.acq.policy
	x.resolveAttempts = req.attempt
	x.log.Debug().Int("attempt", req.attempt).Msg("gerando URL do snapshot")

	url, err := x.acq.resolver.ResolveSnapshotURL(ctx, req.cameraID, req.occurredAt)
	if err == nil {
		x.url = url
		x.state = URLResolved
		return
	}

	if req.attempt >= p.ResolveAttempts {
		x.log.Warn().Err(err).Int("attempts", req.attempt).Msg("não foi possível gerar o snapshot, desistindo")
		x.fail(fmt.Errorf("gerar snapshot: %w: %w", ErrAttemptsExhausted, err))
		return
	}

	wait := x.resolveBackoff.NextBackOff()
	if wait == backoff.Stop {
		x.fail(fmt.Errorf("gerar snapshot: %w: %w", ErrAttemptsExhausted, err))
		return
	}
	x.log.Debug().Err(err).Int("attempt", req.attempt).Dur("retry_in", wait).Msg("snapshot ainda não disponível")
	if serr := x.acq.sleep(ctx, wait); serr != nil {
		x.fail(serr)
	}
}

func (x *acquisition) fetchStep(ctx context.Context, req imageFetchRequest) {
	p := x.acq.policy
	x.fetchAttempts = req.attempt
	x.log.Debug().Int("attempt", req.attempt).Msg("baixando imagem do snapshot")

	img, err := x.acq.fetcher.FetchImage(ctx, req.url)
	if err == nil {
		x.state = Delivered
		x.log.Debug().Int("bytes", len(img)).Int("attempts", req.attempt).Msg("imagem recebida")
		if x.handler != nil {
			x.handler(ctx, x.evt.CameraID, x.evt.OccurredAt, img)
		}
		return
	}

	var se *StatusError
	switch {
	case errors.As(err, &se) && se.NotReady():
		if req.attempt >= p.FetchAttempts {
			x.log.Warn().Int("attempts", req.attempt).Msg("não foi possível baixar a imagem, desistindo")
			x.fail(fmt.Errorf("baixar imagem: %w: %w", ErrAttemptsExhausted, err))
			return
		}
		wait := x.fetchBackoff.NextBackOff()
		if wait == backoff.Stop {
			x.fail(fmt.Errorf("baixar imagem: %w: %w", ErrAttemptsExhausted, err))
			return
		}
		if serr := x.acq.sleep(ctx, wait); serr != nil {
			x.fail(serr)
		}

	case errors.As(err, &se) && se.ServerError():
		x.log.Error().Int("status", se.Code).Str("status_text", se.Status).Msg("erro de servidor ao baixar imagem")
		x.fail(err)

	default:
		x.log.Warn().Err(err).Msg("erro ao baixar imagem")
		x.fail(err)
	}
}

func (x *acquisition) fail(err error) {
	x.state = Failed
	x.err = err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
