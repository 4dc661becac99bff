// internal/router/router.go
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/sua-org/cam-icu/internal/core"
	"github.com/sua-org/cam-icu/internal/logging"
	"github.com/sua-org/cam-icu/internal/metrics"
)

// DefaultMarker é o segundo segmento dos tópicos MQTT das câmeras MV.
const DefaultMarker = "merakimv"

var (
	ErrMalformedTopic   = errors.New("router: malformed topic")
	ErrMalformedPayload = errors.New("router: malformed payload")
)

// Payload é o corpo das mensagens de contagem:
//
//	{"ts":1572567835359,"counts":{"person":1}}
//
// ts e os contadores são lidos como número JSON qualquer (1000.0 vale).
// Chaves desconhecidas ou não numéricas em counts são ignoradas.
type Payload struct {
	TS     *float64                    `json:"ts"`
	Counts *map[string]json.RawMessage `json:"counts"`
}

// Millis devolve ts em milissegundos (parte fracionária descartada).
func (p *Payload) Millis() int64 {
	return int64(*p.TS)
}

// Count devolve o contador da classe; ausente ou não numérico vale 0.
func (p *Payload) Count(class string) int {
	raw, ok := (*p.Counts)[class]
	if !ok {
		return 0
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0
	}
	return int(n)
}

// Ledger decide se o evento passa pelo debounce.
type Ledger interface {
	Accept(cameraID string, class core.EventClass, occurredAt time.Time) bool
}

// Starter inicia uma aquisição de snapshot.
type Starter interface {
	Start(ctx context.Context, evt core.CameraEvent, handler core.ImageHandler)
}

// Router transforma mensagens MQTT em aquisições de snapshot.
type Router struct {
	marker   string
	ledger   Ledger
	acquirer Starter
	handlers map[core.EventClass]core.ImageHandler
	log      zerolog.Logger

	// ctx de vida do processo repassado às aquisições
	ctx context.Context
}

func New(ctx context.Context, marker string, ledger Ledger, acquirer Starter) *Router {
	if marker == "" {
		marker = DefaultMarker
	}
	return &Router{
		marker:   marker,
		ledger:   ledger,
		acquirer: acquirer,
		handlers: make(map[core.EventClass]core.ImageHandler),
		log:      logging.Component("router"),
		ctx:      ctx,
	}
}

// Handle registra o handler que recebe a imagem de uma classe.
// Classe sem handler é ignorada (não gasta chamada no dashboard).
func (r *Router) Handle(class core.EventClass, h core.ImageHandler) {
	r.handlers[class] = h
}

// HandleMessage é o callback da assinatura MQTT.
func (r *Router) HandleMessage(topic string, payload []byte) {
	r.log.Debug().Str("topic", topic).Bytes("payload", payload).Msg("mensagem recebida")

	events, err := r.Parse(topic, payload)
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("discarded").Inc()
		r.log.Debug().Err(err).Str("topic", topic).Msg("mensagem descartada")
		return
	}
	metrics.MessagesTotal.WithLabelValues("parsed").Inc()

	for _, evt := range events {
		h, ok := r.handlers[evt.Class]
		if !ok {
			continue
		}
		if !r.ledger.Accept(evt.CameraID, evt.Class, evt.OccurredAt) {
			r.log.Debug().Str("camera", evt.CameraID).Str("class", evt.Class.String()).Msg("evento dentro da janela de debounce")
			continue
		}
		r.log.Debug().Str("camera", evt.CameraID).Str("class", evt.Class.String()).Str("ts", evt.Timestamp()).Msg("evento aceito, pedindo snapshot")
		r.acquirer.Start(r.ctx, evt, h)
	}
}

// Parse valida tópico e payload e devolve um evento por contador > 0.
func (r *Router) Parse(topic string, payload []byte) ([]core.CameraEvent, error) {
	cameraID, err := ParseTopic(topic, r.marker)
	if err != nil {
		return nil, err
	}
	p, err := ParsePayload(payload)
	if err != nil {
		return nil, err
	}

	occurredAt := core.FromMillis(p.Millis())

	var out []core.CameraEvent
	for _, class := range core.Classes {
		if p.Count(class.String()) > 0 {
			out = append(out, core.CameraEvent{CameraID: cameraID, Class: class, OccurredAt: occurredAt})
		}
	}
	return out, nil
}

// ParseTopic aceita só /{marker}/{cameraId}/0 e devolve o cameraId.
func ParseTopic(topic, marker string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 {
		return "", fmt.Errorf("%w: %q", ErrMalformedTopic, topic)
	}
	if parts[1] != marker || parts[3] != "0" || parts[2] == "" {
		return "", fmt.Errorf("%w: %q", ErrMalformedTopic, topic)
	}
	return parts[2], nil
}

// ParsePayload exige ts e counts presentes.
func ParsePayload(payload []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if p.TS == nil {
		return nil, fmt.Errorf("%w: ts ausente", ErrMalformedPayload)
	}
	if p.Counts == nil {
		return nil, fmt.Errorf("%w: counts ausente", ErrMalformedPayload)
	}
	return &p, nil
}
