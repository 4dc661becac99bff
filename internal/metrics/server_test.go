package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHealthz(t *testing.T) {
	tests := []struct {
		name   string
		health HealthFunc
		want   int
	}{
		{name: "no check", health: nil, want: http.StatusOK},
		{name: "healthy", health: func() error { return nil }, want: http.StatusOK},
		{name: "unhealthy", health: func() error { return errors.New("mqtt desconectado") }, want: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRouter(tt.health)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	Register()
	Register()

	DebounceTotal.WithLabelValues("person", "accepted").Inc()

	r := NewRouter(nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "camicu_debounce_total")
}
