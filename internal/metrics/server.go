// internal/metrics/server.go
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// HealthFunc devolve nil quando o serviço está saudável.
type HealthFunc func() error

// NewRouter monta /metrics e /healthz.
func NewRouter(health HealthFunc) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		if health != nil {
			if err := health(); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	return r
}

// Serve sobe o servidor HTTP até o ctx ser cancelado.
func Serve(ctx context.Context, addr string, health HealthFunc) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(health),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("component", "metrics").Str("addr", addr).Msg("servidor de métricas iniciado")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
