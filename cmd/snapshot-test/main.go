// cmd/snapshot-test/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sua-org/cam-icu/internal/config"
	"github.com/sua-org/cam-icu/internal/core"
	"github.com/sua-org/cam-icu/internal/logging"
	"github.com/sua-org/cam-icu/internal/meraki"
	"github.com/sua-org/cam-icu/internal/metrics"
	"github.com/sua-org/cam-icu/internal/snapshot"
)

func main() {
	config.LoadDotEnv()
	// mqttCameras não é necessário aqui
	cfg, _ := config.Load()
	logging.Init("debug", true, "snapshot-test")
	metrics.Register()

	if len(os.Args) < 2 {
		log.Fatal().Msg("uso: go run ./cmd/snapshot-test <serial> [unix-millis]")
	}
	serial := os.Args[1]

	occurredAt := time.Now().UTC().Add(-10 * time.Second)
	if len(os.Args) > 2 {
		ms, err := strconv.ParseInt(os.Args[2], 10, 64)
		if err != nil {
			log.Fatal().Err(err).Str("arg", os.Args[2]).Msg("timestamp inválido (esperado epoch em ms)")
		}
		occurredAt = core.FromMillis(ms)
	}

	if cfg.MerakiAPIKey == "" || cfg.OrgName == "" || cfg.NetworkName == "" {
		log.Fatal().Msg("defina x_cisco_meraki_api_key, orgName e networkName")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	dash := meraki.New(cfg.MerakiBaseURL, cfg.MerakiAPIKey)
	_, network, err := meraki.ResolveNetwork(ctx, dash, cfg.OrgName, cfg.NetworkName)
	if err != nil {
		log.Fatal().Err(err).Msg("erro resolvendo org/rede")
	}

	acq := snapshot.NewAcquirer(
		&meraki.SnapshotResolver{Client: dash, NetworkID: network.ID},
		snapshot.NewHTTPFetcher(),
		snapshot.PolicyFromConfig(cfg),
	)

	evt := core.CameraEvent{CameraID: serial, Class: core.Person, OccurredAt: occurredAt}
	log.Info().Str("serial", serial).Str("ts", evt.Timestamp()).Msg("pedindo snapshot")

	var filename string
	out := acq.Acquire(ctx, evt, func(_ context.Context, cameraID string, at time.Time, image []byte) {
		filename = fmt.Sprintf("snapshot_%s_%s.jpg", cameraID, strings.ReplaceAll(core.FormatTimestamp(at), ":", "-"))
		if err := os.WriteFile(filename, image, 0o644); err != nil {
			log.Error().Err(err).Msg("erro ao salvar snapshot em disco")
			filename = ""
		}
	})

	if out.Err != nil {
		log.Fatal().Err(out.Err).
			Str("state", out.State.String()).
			Int("resolve_attempts", out.ResolveAttempts).
			Int("fetch_attempts", out.FetchAttempts).
			Msg("aquisição falhou")
	}
	log.Info().
		Str("file", filename).
		Str("url", out.URL).
		Int("resolve_attempts", out.ResolveAttempts).
		Int("fetch_attempts", out.FetchAttempts).
		Msg("snapshot salvo")
}
