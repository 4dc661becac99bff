// internal/debounce/ledger.go
package debounce

import (
	"sync"
	"time"

	"github.com/sua-org/cam-icu/internal/core"
	"github.com/sua-org/cam-icu/internal/metrics"
)

// DefaultWindow é o intervalo mínimo entre dois eventos aceitos da mesma câmera/classe.
const DefaultWindow = 500 * time.Millisecond

type key struct {
	cameraID string
	class    core.EventClass
}

// Ledger guarda o último OccurredAt aceito por (câmera, classe).
// As entradas vivem o processo inteiro: o espaço de chaves é limitado pela frota de câmeras.
type Ledger struct {
	window time.Duration

	mu   sync.Mutex
	last map[key]time.Time
}

func NewLedger(window time.Duration) *Ledger {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Ledger{
		window: window,
		last:   make(map[key]time.Time),
	}
}

// Accept é um check-and-set: decide e grava sob o mesmo lock, então duas mensagens
// da mesma câmera chegando juntas não passam as duas.
func (l *Ledger) Accept(cameraID string, class core.EventClass, occurredAt time.Time) bool {
	k := key{cameraID: cameraID, class: class}

	l.mu.Lock()
	prev, seen := l.last[k]
	ok := !seen || occurredAt.Sub(prev) >= l.window
	if ok {
		l.last[k] = occurredAt
	}
	l.mu.Unlock()

	result := "accepted"
	if !ok {
		result = "suppressed"
	}
	metrics.DebounceTotal.WithLabelValues(class.String(), result).Inc()
	return ok
}

// Len devolve quantas chaves (câmera, classe) já foram vistas.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.last)
}

func (l *Ledger) Window() time.Duration { return l.window }
