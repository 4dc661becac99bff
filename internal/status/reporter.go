// internal/status/reporter.go
package status

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/sua-org/cam-icu/internal/logging"
)

type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// Sources são as leituras do pipeline incluídas no status. Campos nil viram zero.
type Sources struct {
	DebounceEntries func() int
	InFlight        func() int64
	StolenPlates    func() int
	Engines         []string
	Cameras         []string
}

// Status é o payload publicado (retained) em MQTT_STATUS_TOPIC.
type Status struct {
	Service   string `json:"service"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Hostname  string `json:"hostname"`
	Network   string `json:"network,omitempty"`

	Cameras         []string `json:"cameras"`
	Engines         []string `json:"engines"`
	DebounceEntries int      `json:"debounce_entries"`
	InFlight        int64    `json:"acquisitions_in_flight"`
	StolenPlates    int      `json:"stolen_plates"`

	CPUPercent     float64 `json:"cpu_percent"`
	MemoryPercent  float64 `json:"memory_percent"`
	MemoryRSSBytes uint64  `json:"memory_rss_bytes"`
	UptimeSeconds  int64   `json:"uptime_seconds"`
}

type Reporter struct {
	pub      Publisher
	topic    string
	interval time.Duration
	network  string
	src      Sources

	hostname string
	started  time.Time
	proc     *process.Process
	log      zerolog.Logger
}

func NewReporter(pub Publisher, topic string, interval time.Duration, network string, src Sources) *Reporter {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	hostname, _ := os.Hostname()
	r := &Reporter{
		pub:      pub,
		topic:    topic,
		interval: interval,
		network:  network,
		src:      src,
		hostname: hostname,
		started:  time.Now(),
		log:      logging.Component("status"),
	}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		r.proc = p
	}
	return r
}

// Run publica um status na subida e depois a cada intervalo. Ao sair publica offline.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info().Dur("interval", r.interval).Str("topic", r.topic).Msg("status loop iniciado")
	r.publishAndLog(r.Snapshot(time.Now(), "online"))

	for {
		select {
		case <-ctx.Done():
			r.publishAndLog(r.Snapshot(time.Now(), "offline"))
			r.log.Info().Msg("status loop encerrado (context canceled)")
			return
		case t := <-ticker.C:
			r.publishAndLog(r.Snapshot(t, "online"))
		}
	}
}

// Start roda Run em background. O canal fecha depois que o offline foi
// publicado, antes disso o cliente MQTT não pode ser desconectado.
func (r *Reporter) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()
	return done
}

// LastWill é o payload offline registrado no broker na conexão, publicado
// por ele se o processo morrer sem passar pelo Run.
func LastWill(network string) []byte {
	hostname, _ := os.Hostname()
	b, _ := json.Marshal(Status{
		Service:  "cam-icu",
		Status:   "offline",
		Hostname: hostname,
		Network:  network,
		Cameras:  []string{},
		Engines:  []string{},
	})
	return b
}

// Snapshot monta o status atual.
func (r *Reporter) Snapshot(now time.Time, state string) Status {
	s := Status{
		Service:       "cam-icu",
		Status:        state,
		Timestamp:     now.UTC().Format(time.RFC3339),
		Hostname:      r.hostname,
		Network:       r.network,
		Cameras:       nonNil(r.src.Cameras),
		Engines:       nonNil(r.src.Engines),
		UptimeSeconds: int64(now.Sub(r.started).Seconds()),
	}
	if r.src.DebounceEntries != nil {
		s.DebounceEntries = r.src.DebounceEntries()
	}
	if r.src.InFlight != nil {
		s.InFlight = r.src.InFlight()
	}
	if r.src.StolenPlates != nil {
		s.StolenPlates = r.src.StolenPlates()
	}

	if r.proc != nil {
		if cpu, err := r.proc.CPUPercent(); err == nil {
			s.CPUPercent = cpu
		}
		if memInfo, err := r.proc.MemoryInfo(); err == nil {
			s.MemoryRSSBytes = memInfo.RSS
		}
		if memP, err := r.proc.MemoryPercent(); err == nil {
			s.MemoryPercent = float64(memP)
		}
	}
	return s
}

func (r *Reporter) Publish(s Status) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	if err := r.pub.Publish(r.topic, 1, true, b); err != nil {
		return fmt.Errorf("publish status to %s: %w", r.topic, err)
	}
	return nil
}

func (r *Reporter) publishAndLog(s Status) {
	if err := r.Publish(s); err != nil {
		r.log.Error().Err(err).Msg("erro ao publicar status")
		return
	}
	r.log.Debug().Str("status", s.Status).Int64("in_flight", s.InFlight).Msg("status publicado")
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
