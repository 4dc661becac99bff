// internal/metrics/metrics.go
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camicu_mqtt_messages_total",
			Help: "Mensagens MQTT recebidas pelo router, por resultado do parse",
		},
		[]string{"result"},
	)

	DebounceTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camicu_debounce_total",
			Help: "Decisões do debounce por classe (accepted|suppressed)",
		},
		[]string{"class", "result"},
	)

	AcquisitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camicu_acquisitions_total",
			Help: "Aquisições de snapshot finalizadas, por classe e estado terminal",
		},
		[]string{"class", "state"},
	)

	AcquisitionAttempts = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "camicu_acquisition_attempts",
			Help:    "Tentativas usadas por estágio (resolve|fetch) até o estado terminal",
			Buckets: []float64{1, 2, 3, 5, 10, 15, 20, 30},
		},
		[]string{"stage"},
	)

	AcquisitionsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "camicu_acquisitions_in_flight",
			Help: "Aquisições em andamento",
		},
	)

	EngineRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camicu_engine_requests_total",
			Help: "Chamadas aos providers de análise por engine e status (ok|empty|error)",
		},
		[]string{"engine", "status"},
	)

	EngineDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "camicu_engine_duration_ms",
			Help:    "Duração das chamadas aos providers em milissegundos",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"engine"},
	)

	StolenMatchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "camicu_stolen_matches_total",
			Help: "Placas encontradas na base de veículos roubados",
		},
	)
)

var registerOnce sync.Once

// Register registra os collectors no registry padrão. Pode ser chamado mais de uma vez.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			MessagesTotal,
			DebounceTotal,
			AcquisitionsTotal,
			AcquisitionAttempts,
			AcquisitionsInFlight,
			EngineRequestsTotal,
			EngineDuration,
			StolenMatchesTotal,
		)
	})
}
