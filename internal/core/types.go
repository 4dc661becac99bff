// internal/core/types.go
package core

import (
	"context"
	"time"
)

// EventClass é a categoria da detecção reportada pela câmera.
type EventClass int

const (
	Person EventClass = iota
	Vehicle
)

func (c EventClass) String() string {
	switch c {
	case Person:
		return "person"
	case Vehicle:
		return "vehicle"
	default:
		return "unknown"
	}
}

// Classes lista as classes na ordem em que o router avalia os contadores.
var Classes = []EventClass{Person, Vehicle}

// ISOLayout reproduz o formato de Date.toISOString (UTC, milissegundos).
const ISOLayout = "2006-01-02T15:04:05.000Z"

// CameraEvent é uma notificação já parseada e classificada. Imutável.
type CameraEvent struct {
	CameraID   string
	Class      EventClass
	OccurredAt time.Time
}

// Timestamp devolve OccurredAt no formato ISO-8601 usado pela API de snapshot.
func (e CameraEvent) Timestamp() string {
	return FormatTimestamp(e.OccurredAt)
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(ISOLayout)
}

// FromMillis converte o campo "ts" das mensagens MV (epoch em ms).
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// ImageHandler recebe os bytes do snapshot já materializado.
// Quem registra o handler é o dispatcher (um por classe).
type ImageHandler func(ctx context.Context, cameraID string, occurredAt time.Time, image []byte)

type PlateResult struct {
	Plate      string  `json:"plate"`
	Confidence float64 `json:"confidence,omitempty"`
}

type Gender struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

type AgeRange struct {
	Low  int32 `json:"low"`
	High int32 `json:"high"`
}

type Emotion struct {
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// FaceDetail é um rosto detectado pelo provider de pessoas.
type FaceDetail struct {
	Gender   Gender    `json:"gender"`
	AgeRange AgeRange  `json:"ageRange"`
	Emotions []Emotion `json:"emotions"`
}

// ResultEvent é o que publicamos no broker quando um provider responde.
type ResultEvent struct {
	Timestamp string `json:"timestamp"`
	CameraID  string `json:"cameraId"`
	Class     string `json:"class"`
	Engine    string `json:"engine"`
	ImageURL  string `json:"imageUrl,omitempty"`

	Plate  string       `json:"plate,omitempty"`
	Stolen bool         `json:"stolen,omitempty"`
	Faces  []FaceDetail `json:"faces,omitempty"`
}
