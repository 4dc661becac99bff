// internal/logging/logging.go
package logging

import (
	"io"
	stdlog "log"
	"os"
	"strings"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Init configura o logger global. Chamado uma vez no main.
//
// pretty=true usa ConsoleWriter (terminal); senão JSON em stdout.
// O log padrão do Go também passa a sair pelo zerolog.
func Init(level string, pretty bool, service string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var w io.Writer = os.Stdout
	if pretty {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}

	zlog.Logger = zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Str("service", service).
		Logger()

	stdlog.SetFlags(0)
	stdlog.SetOutput(zlog.Logger)
}

// Component devolve um sub-logger com o campo component preenchido.
func Component(name string) zerolog.Logger {
	return zlog.With().Str("component", name).Logger()
}
