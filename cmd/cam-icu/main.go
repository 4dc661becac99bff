// cmd/cam-icu/main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sua-org/cam-icu/internal/config"
	"github.com/sua-org/cam-icu/internal/core"
	"github.com/sua-org/cam-icu/internal/debounce"
	"github.com/sua-org/cam-icu/internal/engines"
	"github.com/sua-org/cam-icu/internal/logging"
	"github.com/sua-org/cam-icu/internal/meraki"
	"github.com/sua-org/cam-icu/internal/metrics"
	"github.com/sua-org/cam-icu/internal/mqttclient"
	"github.com/sua-org/cam-icu/internal/router"
	"github.com/sua-org/cam-icu/internal/snapshot"
	"github.com/sua-org/cam-icu/internal/status"
	"github.com/sua-org/cam-icu/internal/stolen"
	"github.com/sua-org/cam-icu/internal/storage"
)

func main() {
	config.LoadDotEnv()
	cfg, err := config.Load()
	logging.Init(cfg.LogLevel, cfg.LogPretty, "cam-icu")
	if err != nil {
		log.Fatal().Err(err).Msg("configuração inválida")
	}
	metrics.Register()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// org/rede precisam existir antes de qualquer mensagem ser processada
	dash := meraki.New(cfg.MerakiBaseURL, cfg.MerakiAPIKey)
	startCtx, startCancel := context.WithTimeout(ctx, 30*time.Second)
	org, network, err := meraki.ResolveNetwork(startCtx, dash, cfg.OrgName, cfg.NetworkName)
	startCancel()
	if err != nil {
		if errors.Is(err, meraki.ErrNotFound) {
			log.Fatal().Err(err).Str("org", cfg.OrgName).Str("network", cfg.NetworkName).Msg("organização/rede não encontrada")
		}
		log.Fatal().Err(err).Msg("erro consultando o dashboard")
	}
	log.Info().Str("org_id", org.ID).Str("network_id", network.ID).Str("network", network.Name).Msg("rede resolvida")

	// Base de roubados carrega em background; consultas antes disso dão false
	var stolenIdx *stolen.Index
	if cfg.UseStolen {
		stolenIdx = stolen.New()
		go stolenIdx.Run(ctx, cfg.StolenSource, cfg.StolenRefresh)
	}

	// Storage opcional; se falhar, continua sem gravar imagens
	store, err := storage.New(ctx, cfg)
	if err != nil {
		log.Warn().Err(err).Msg("aviso: storage de imagens não inicializado")
		store = nil
	}

	mqttCfg := mqttclient.FromConfig(cfg)
	mqttCfg.WillTopic = cfg.StatusTopic
	mqttCfg.WillPayload = status.LastWill(network.Name)
	mqttCli, err := mqttclient.NewClient(mqttCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("erro ao conectar no MQTT")
	}
	defer mqttCli.Close()

	opts := engines.Options{Store: store, Publisher: mqttCli}
	if stolenIdx != nil {
		opts.Lookup = stolenIdx
	}
	dispatcher, err := engines.Build(ctx, cfg, opts)
	if err != nil {
		log.Fatal().Err(err).Msg("erro ao montar engines")
	}

	acq := snapshot.NewAcquirer(
		&meraki.SnapshotResolver{Client: dash, NetworkID: network.ID},
		snapshot.NewHTTPFetcher(),
		snapshot.PolicyFromConfig(cfg),
	)
	ledger := debounce.NewLedger(cfg.DebounceWindow)

	rt := router.New(ctx, cfg.TopicMarker, ledger, acq)
	if dispatcher.HasPersonEngines() || store != nil {
		rt.Handle(core.Person, dispatcher.DispatchPerson)
	}
	if dispatcher.HasVehicleEngines() || store != nil {
		rt.Handle(core.Vehicle, dispatcher.DispatchVehicle)
	}

	for _, topic := range cfg.CameraTopics {
		if err := mqttCli.Subscribe(topic, 0, rt.HandleMessage); err != nil {
			log.Fatal().Err(err).Str("topic", topic).Msg("erro ao assinar tópico")
		}
	}

	src := status.Sources{
		DebounceEntries: ledger.Len,
		InFlight:        acq.InFlight,
		Engines:         dispatcher.Names(),
		Cameras:         cfg.CameraTopics,
	}
	if stolenIdx != nil {
		src.StolenPlates = stolenIdx.Len
	}
	reporter := status.NewReporter(mqttCli, cfg.StatusTopic, cfg.StatusEvery, network.Name, src)
	reporterDone := reporter.Start(ctx)

	if cfg.MetricsAddr != "" {
		go func() {
			health := func() error {
				if !mqttCli.IsConnected() {
					return errors.New("mqtt desconectado")
				}
				return nil
			}
			if err := metrics.Serve(ctx, cfg.MetricsAddr, health); err != nil {
				log.Error().Err(err).Msg("servidor de métricas terminou com erro")
			}
		}()
	}

	log.Info().Int("cameras", len(cfg.CameraTopics)).Msg("inicialização concluída, processando mensagens das câmeras")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Info().Msg("sinal recebido, encerrando...")
	cancel()

	waitDone := make(chan struct{})
	go func() {
		acq.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(5 * time.Second):
		log.Warn().Int64("in_flight", acq.InFlight()).Msg("aquisições ainda em andamento no encerramento")
	}

	// offline precisa sair antes do Close desconectar o cliente
	select {
	case <-reporterDone:
	case <-time.After(mqttclient.PublishTimeout + time.Second):
		log.Warn().Msg("status offline não confirmado no encerramento")
	}
}
