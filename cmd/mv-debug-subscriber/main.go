package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sua-org/cam-icu/internal/config"
	"github.com/sua-org/cam-icu/internal/core"
	"github.com/sua-org/cam-icu/internal/logging"
	"github.com/sua-org/cam-icu/internal/mqttclient"
	"github.com/sua-org/cam-icu/internal/router"
)

func main() {
	config.LoadDotEnv()
	// aqui só os campos de MQTT importam, o resto pode faltar
	cfg, _ := config.Load()
	logging.Init("debug", true, "mv-debug-subscriber")

	subscribeTopic := getenv("MQTT_DEBUG_TOPIC", "/"+cfg.TopicMarker+"/#")

	mc := mqttclient.FromConfig(cfg)
	mc.ClientID = cfg.MQTTClientID + "-debug-subscriber"
	mqttCli, err := mqttclient.NewClient(mc)
	if err != nil {
		log.Fatal().Err(err).Msg("erro ao conectar no MQTT")
	}
	defer mqttCli.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	if err := mqttCli.Subscribe(subscribeTopic, 0, func(topic string, payload []byte) {
		handleMessage(cfg.TopicMarker, topic, payload)
	}); err != nil {
		log.Fatal().Err(err).Str("topic", subscribeTopic).Msg("erro ao assinar tópico")
	}

	go func() {
		<-sig
		log.Info().Msg("sinal recebido, encerrando subscriber...")
		cancel()
	}()

	<-ctx.Done()
	time.Sleep(500 * time.Millisecond)
}

func handleMessage(marker, topic string, payload []byte) {
	l := log.With().Str("topic", topic).Logger()

	cameraID, err := router.ParseTopic(topic, marker)
	if err != nil {
		l.Debug().Bytes("payload", payload).Msg("tópico fora do padrão /marker/camera/0")
		return
	}

	p, err := router.ParsePayload(payload)
	if err != nil {
		l.Warn().Err(err).Str("payload", string(payload)).Msg("payload inválido")
		return
	}

	evt := l.Info().
		Str("camera", cameraID).
		Int64("ts", p.Millis()).
		Str("iso", core.FormatTimestamp(core.FromMillis(p.Millis())))
	for key, raw := range *p.Counts {
		evt = evt.RawJSON(key, raw)
	}
	evt.Msg("[EVENT]")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
