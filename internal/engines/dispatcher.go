package engines

import (
	"context"
	"fmt"
	"math"
	"runtime/debug"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/sua-org/cam-icu/internal/core"
	"github.com/sua-org/cam-icu/internal/logging"
	"github.com/sua-org/cam-icu/internal/metrics"
	"github.com/sua-org/cam-icu/internal/storage"
)

// EmotionThreshold: emoções com confiança até esse valor não são reportadas.
const EmotionThreshold = 50.0

// Lookup responde se uma placa está na base de roubados.
type Lookup interface {
	Stolen(plate string) bool
}

// Publisher é o mqttclient.Client visto pelo dispatcher.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

type Options struct {
	Lookup       Lookup
	Store        storage.ImageStore
	Publisher    Publisher
	ResultsTopic string

	// timeout padrão para cada engine
	Timeout time.Duration

	// PublishTimeout limita quanto o fan-out espera pela publicação do
	// resultado; estourado, a publicação segue em background.
	PublishTimeout time.Duration
}

// Dispatcher entrega cada snapshot a todas as engines da classe, em paralelo.
// Falha (ou panic) de uma engine não impede as outras.
type Dispatcher struct {
	vehicles []VehicleEngine
	persons  []PersonEngine
	opts     Options
	log      zerolog.Logger
}

func NewDispatcher(vehicles []VehicleEngine, persons []PersonEngine, opts Options) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}
	opts.ResultsTopic = strings.TrimSuffix(opts.ResultsTopic, "/")
	return &Dispatcher{
		vehicles: vehicles,
		persons:  persons,
		opts:     opts,
		log:      logging.Component("engines"),
	}
}

func (d *Dispatcher) Names() []string {
	out := make([]string, 0, len(d.vehicles)+len(d.persons))
	for _, e := range d.vehicles {
		out = append(out, e.Name())
	}
	for _, e := range d.persons {
		out = append(out, e.Name())
	}
	return out
}

func (d *Dispatcher) HasVehicleEngines() bool { return len(d.vehicles) > 0 }
func (d *Dispatcher) HasPersonEngines() bool  { return len(d.persons) > 0 }

// DispatchVehicle é o core.ImageHandler da classe vehicle.
func (d *Dispatcher) DispatchVehicle(ctx context.Context, cameraID string, occurredAt time.Time, image []byte) {
	ts := core.FormatTimestamp(occurredAt)
	d.log.Debug().Str("camera", cameraID).Str("ts", ts).Int("bytes", len(image)).Msg("processando veículo")

	imageURL := d.save(ctx, core.Vehicle, occurredAt, image)

	var g errgroup.Group
	for _, e := range d.vehicles {
		g.Go(func() error {
			res, err := invoke(ctx, d.opts.Timeout, e.Name(), func(ctx context.Context) (*core.PlateResult, error) {
				return e.Recognize(ctx, cameraID, occurredAt, image)
			})
			if err != nil {
				d.log.Error().Err(err).Str("engine", e.Name()).Str("camera", cameraID).Msg("erro na engine")
				return nil
			}
			if res == nil || res.Plate == "" {
				metrics.EngineRequestsTotal.WithLabelValues(e.Name(), "empty").Inc()
				d.log.Debug().Str("engine", e.Name()).Str("camera", cameraID).Msg("nenhuma placa legível")
				return nil
			}
			metrics.EngineRequestsTotal.WithLabelValues(e.Name(), "ok").Inc()
			d.reportPlate(cameraID, ts, e.Name(), imageURL, *res)
			return nil
		})
	}
	_ = g.Wait()
}

func (d *Dispatcher) reportPlate(cameraID, ts, engine, imageURL string, res core.PlateResult) {
	plate := strings.ToUpper(strings.TrimSpace(res.Plate))
	d.log.Info().
		Str("engine", engine).
		Str("camera", cameraID).
		Str("plate", plate).
		Float64("confidence", res.Confidence).
		Str("ts", ts).
		Msg("placa reconhecida")

	stolen := d.opts.Lookup != nil && d.opts.Lookup.Stolen(plate)
	if stolen {
		metrics.StolenMatchesTotal.Inc()
		d.log.Error().
			Bool("alert", true).
			Str("engine", engine).
			Str("camera", cameraID).
			Str("plate", plate).
			Str("ts", ts).
			Msg("*** VEÍCULO ROUBADO DETECTADO ***")
	}

	d.publish(core.ResultEvent{
		Timestamp: ts,
		CameraID:  cameraID,
		Class:     core.Vehicle.String(),
		Engine:    engine,
		ImageURL:  imageURL,
		Plate:     plate,
		Stolen:    stolen,
	})
}

// DispatchPerson é o core.ImageHandler da classe person.
func (d *Dispatcher) DispatchPerson(ctx context.Context, cameraID string, occurredAt time.Time, image []byte) {
	ts := core.FormatTimestamp(occurredAt)
	d.log.Debug().Str("camera", cameraID).Str("ts", ts).Int("bytes", len(image)).Msg("processando pessoa")

	imageURL := d.save(ctx, core.Person, occurredAt, image)

	var g errgroup.Group
	for _, e := range d.persons {
		g.Go(func() error {
			faces, err := invoke(ctx, d.opts.Timeout, e.Name(), func(ctx context.Context) ([]core.FaceDetail, error) {
				return e.Analyze(ctx, image)
			})
			if err != nil {
				d.log.Error().Err(err).Str("engine", e.Name()).Str("camera", cameraID).Msg("erro na engine")
				return nil
			}
			if len(faces) == 0 {
				metrics.EngineRequestsTotal.WithLabelValues(e.Name(), "empty").Inc()
				d.log.Debug().Str("engine", e.Name()).Str("camera", cameraID).Msg("nenhum rosto detectado")
				return nil
			}
			metrics.EngineRequestsTotal.WithLabelValues(e.Name(), "ok").Inc()
			d.reportFaces(cameraID, ts, e.Name(), imageURL, faces)
			return nil
		})
	}
	_ = g.Wait()
}

func (d *Dispatcher) reportFaces(cameraID, ts, engine, imageURL string, faces []core.FaceDetail) {
	out := make([]core.FaceDetail, 0, len(faces))
	for _, f := range faces {
		f.Emotions = FilterEmotions(f.Emotions, EmotionThreshold)

		emotions := make([]string, 0, len(f.Emotions))
		for _, em := range f.Emotions {
			emotions = append(emotions, fmt.Sprintf("%s (%d%%)", em.Type, int(math.Round(em.Confidence))))
		}
		d.log.Info().
			Str("engine", engine).
			Str("camera", cameraID).
			Str("ts", ts).
			Str("gender", f.Gender.Value).
			Int("gender_confidence", int(math.Round(f.Gender.Confidence))).
			Int32("age_low", f.AgeRange.Low).
			Int32("age_high", f.AgeRange.High).
			Strs("emotions", emotions).
			Msgf("%d%% de certeza: %s entre %d e %d anos", int(math.Round(f.Gender.Confidence)), f.Gender.Value, f.AgeRange.Low, f.AgeRange.High)
		out = append(out, f)
	}

	d.publish(core.ResultEvent{
		Timestamp: ts,
		CameraID:  cameraID,
		Class:     core.Person.String(),
		Engine:    engine,
		ImageURL:  imageURL,
		Faces:     out,
	})
}

// FilterEmotions mantém só as emoções com confiança > threshold.
func FilterEmotions(in []core.Emotion, threshold float64) []core.Emotion {
	var out []core.Emotion
	for _, em := range in {
		if em.Confidence > threshold {
			out = append(out, em)
		}
	}
	return out
}

// save grava a imagem recebida pelo handler. Erro só é logado.
func (d *Dispatcher) save(ctx context.Context, class core.EventClass, occurredAt time.Time, image []byte) string {
	if d.opts.Store == nil {
		return ""
	}
	key := storage.SnapshotKey(class, occurredAt)
	u, err := d.opts.Store.SaveSnapshot(ctx, key, image, "image/jpeg")
	if err != nil {
		d.log.Error().Err(err).Str("key", key).Msg("erro ao gravar imagem")
		return ""
	}
	return u
}

func (d *Dispatcher) publish(evt core.ResultEvent) {
	if d.opts.Publisher == nil || d.opts.ResultsTopic == "" {
		return
	}
	b, err := json.Marshal(evt)
	if err != nil {
		d.log.Error().Err(err).Msg("marshal result event")
		return
	}
	topic := fmt.Sprintf("%s/%s/%s", d.opts.ResultsTopic, evt.CameraID, evt.Class)

	done := make(chan error, 1)
	go func() {
		done <- d.opts.Publisher.Publish(topic, 1, false, b)
	}()

	timer := time.NewTimer(d.opts.PublishTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			d.log.Error().Err(err).Str("topic", topic).Msg("erro ao publicar resultado")
		}
	case <-timer.C:
		d.log.Warn().Str("topic", topic).Dur("timeout", d.opts.PublishTimeout).Msg("publicação do resultado pendente, seguindo")
	}
}

// invoke roda fn com timeout próprio e converte panic em erro.
func invoke[T any](ctx context.Context, timeout time.Duration, name string, fn func(context.Context) (T, error)) (res T, err error) {
	ctxEng, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("component", "engines").Str("engine", name).
				Str("stack", string(debug.Stack())).Msgf("panic na engine: %v", r)
			err = fmt.Errorf("panic in engine %s", name)
		}
		metrics.EngineDuration.WithLabelValues(name).Observe(float64(time.Since(start).Milliseconds()))
		if err != nil {
			metrics.EngineRequestsTotal.WithLabelValues(name, "error").Inc()
		}
	}()

	return fn(ctxEng)
}
