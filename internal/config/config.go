// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// ConfigError indica configuração ausente ou inválida. É fatal na subida.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Key, e.Reason)
}

type Config struct {
	// Meraki dashboard
	MerakiAPIKey  string
	MerakiBaseURL string
	OrgName       string
	NetworkName   string

	// Log
	Debug     bool
	LogLevel  string
	LogPretty bool

	// MQTT
	MQTTHost     string
	MQTTPort     int
	MQTTUsername string
	MQTTPassword string
	MQTTClientID string
	CameraTopics []string
	TopicMarker  string
	ResultsTopic string
	StatusTopic  string
	StatusEvery  time.Duration

	// Pipeline
	DebounceWindow  time.Duration
	ResolveAttempts int
	FetchAttempts   int
	ReadyDelay      time.Duration
	FetchRetryDelay time.Duration
	EngineTimeout   time.Duration

	// Lookup de veículos roubados
	UseStolen     bool
	StolenSource  string
	StolenRefresh time.Duration

	// Providers
	UsePlateRecognizer   bool
	PlateRecognizerToken string
	PlateRecognizerURL   string
	PlateRecognizerRPS   float64

	UseOpenALPR    bool
	OpenALPRSecret string
	OpenALPRURL    string
	Country        string

	UseRekognition bool
	AWSRegion      string

	// Persistência de imagens
	SaveImages bool
	ImageStore string
	ImageDir   string

	// MinIO (IMAGE_STORE=minio)
	MinioEndpoint      string
	MinioAccessKey     string
	MinioSecretKey     string
	MinioBucket        string
	MinioUseSSL        bool
	MinioPublicBaseURL string

	MetricsAddr string
}

const (
	DefaultMerakiBaseURL      = "https://api.meraki.com/api/v0"
	DefaultPlateRecognizerURL = "https://api.platerecognizer.com/v1/plate-reader/"
	DefaultOpenALPRURL        = "https://api.openalpr.com/v2/recognize_bytes"
	DefaultStolenSource       = "https://www.police.govt.nz/stolenwheels/vehicles/csv"
)

// LoadDotEnv carrega .env do diretório atual e ~/.meraki.env, se existirem.
func LoadDotEnv() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Str("component", "config").Err(err).Msg("aviso: não foi possível carregar .env")
	}
	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, ".meraki.env")
		if err := godotenv.Load(p); err != nil {
			log.Debug().Str("component", "config").Str("path", p).Err(err).Msg("aviso: não foi possível carregar .meraki.env")
		}
	}
}

// Load lê a configuração do ambiente. Chame LoadDotEnv antes se quiser .env.
func Load() (Config, error) {
	cfg := Config{
		MerakiAPIKey:  first("x_cisco_meraki_api_key", "MERAKI_API_KEY"),
		MerakiBaseURL: getenv("MERAKI_BASE_URL", DefaultMerakiBaseURL),
		OrgName:       first("orgName", "MERAKI_ORG_NAME"),
		NetworkName:   first("networkName", "MERAKI_NETWORK_NAME"),

		Debug:     getbool("debug") || getbool("DEBUG"),
		LogLevel:  getenv("LOG_LEVEL", "info"),
		LogPretty: getbool("LOG_PRETTY"),

		MQTTHost:     getenv("MQTT_HOST", "127.0.0.1"),
		MQTTPort:     getenvInt("MQTT_PORT", 1883),
		MQTTUsername: os.Getenv("MQTT_USERNAME"),
		MQTTPassword: os.Getenv("MQTT_PASSWORD"),
		MQTTClientID: getenv("MQTT_CLIENT_ID", "cam-icu"),
		CameraTopics: parseCSV(first("mqttCameras", "MQTT_CAMERAS")),
		TopicMarker:  getenv("MQTT_TOPIC_MARKER", "merakimv"),
		ResultsTopic: strings.TrimSuffix(os.Getenv("MQTT_RESULTS_TOPIC"), "/"),
		StatusTopic:  getenv("MQTT_STATUS_TOPIC", "cam-icu/status"),
		StatusEvery:  envSeconds("STATUS_INTERVAL_SECONDS", 60*time.Second),

		DebounceWindow:  time.Duration(getenvInt("DEBOUNCE_WINDOW_MS", 500)) * time.Millisecond,
		ResolveAttempts: getenvInt("SNAPSHOT_RESOLVE_ATTEMPTS", 10),
		FetchAttempts:   getenvInt("SNAPSHOT_FETCH_ATTEMPTS", 30),
		ReadyDelay:      envSeconds("SNAPSHOT_READY_DELAY_SECONDS", 5*time.Second),
		FetchRetryDelay: envSeconds("SNAPSHOT_FETCH_RETRY_SECONDS", 2*time.Second),
		EngineTimeout:   envSeconds("ENGINE_TIMEOUT_SECONDS", 30*time.Second),

		UseStolen:     getbool("useNZStolen"),
		StolenSource:  getenv("STOLEN_SOURCE", DefaultStolenSource),
		StolenRefresh: time.Duration(getenvInt("STOLEN_REFRESH_MINUTES", 0)) * time.Minute,

		UsePlateRecognizer:   getbool("usePR"),
		PlateRecognizerToken: first("plateRecognizerAPIToken", "PLATERECOGNIZER_TOKEN"),
		PlateRecognizerURL:   getenv("PLATERECOGNIZER_URL", DefaultPlateRecognizerURL),
		PlateRecognizerRPS:   getenvFloat("PLATERECOGNIZER_RPS", 1),

		UseOpenALPR:    getbool("useOpenALPR"),
		OpenALPRSecret: first("openALPRsecret", "OPENALPR_SECRET"),
		OpenALPRURL:    getenv("OPENALPR_URL", DefaultOpenALPRURL),
		Country:        getenv("country", "us"),

		UseRekognition: getbool("useAWSRekognition"),
		AWSRegion:      os.Getenv("AWS_REGION"),

		SaveImages: getbool("useSaveImages"),
		ImageStore: strings.ToLower(getenv("IMAGE_STORE", "disk")),
		ImageDir:   getenv("IMAGE_DIR", "."),

		MinioEndpoint:      getenv("MINIO_ENDPOINT", "localhost:9000"),
		MinioAccessKey:     os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey:     os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:        getenv("MINIO_BUCKET", "cam-icu-snapshots"),
		MinioUseSSL:        getbool("MINIO_USE_SSL"),
		MinioPublicBaseURL: os.Getenv("MINIO_PUBLIC_BASE_URL"),

		MetricsAddr: os.Getenv("METRICS_ADDR"),
	}

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}

	return cfg, cfg.Validate()
}

// Validate confere os campos obrigatórios e as credenciais dos providers ligados.
func (c Config) Validate() error {
	switch {
	case c.MerakiAPIKey == "":
		return &ConfigError{Key: "x_cisco_meraki_api_key", Reason: "não definido"}
	case c.OrgName == "":
		return &ConfigError{Key: "orgName", Reason: "não definido"}
	case c.NetworkName == "":
		return &ConfigError{Key: "networkName", Reason: "não definido"}
	case len(c.CameraTopics) == 0:
		return &ConfigError{Key: "mqttCameras", Reason: "nenhuma câmera para processar"}
	case c.UsePlateRecognizer && c.PlateRecognizerToken == "":
		return &ConfigError{Key: "plateRecognizerAPIToken", Reason: "usePR=true sem token"}
	case c.UseOpenALPR && c.OpenALPRSecret == "":
		return &ConfigError{Key: "openALPRsecret", Reason: "useOpenALPR=true sem secret"}
	case c.ResolveAttempts <= 0 || c.FetchAttempts <= 0:
		return &ConfigError{Key: "SNAPSHOT_*_ATTEMPTS", Reason: "precisa ser > 0"}
	case c.SaveImages && c.ImageStore != "disk" && c.ImageStore != "minio":
		return &ConfigError{Key: "IMAGE_STORE", Reason: fmt.Sprintf("valor %q não suportado", c.ImageStore)}
	case c.SaveImages && c.ImageStore == "minio" && (c.MinioAccessKey == "" || c.MinioSecretKey == ""):
		return &ConfigError{Key: "MINIO_ACCESS_KEY", Reason: "MINIO_ACCESS_KEY / MINIO_SECRET_KEY não configurados"}
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// first devolve o primeiro valor não vazio entre as chaves (nome legado primeiro).
func first(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func getbool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "true", "1", "yes", "y", "on":
		return true
	}
	return false
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	x, err := strconv.Atoi(v)
	if err != nil || x < 0 {
		log.Warn().Str("component", "config").Str("key", key).Str("value", v).Msg("valor inválido, usando default")
		return def
	}
	return x
}

func getenvFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	x, err := strconv.ParseFloat(v, 64)
	if err != nil || x <= 0 {
		return def
	}
	return x
}

func envSeconds(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	sec, err := strconv.ParseFloat(v, 64)
	if err != nil || sec < 0 {
		log.Warn().Str("component", "config").Str("key", key).Str("value", v).Msg("valor inválido, usando default")
		return def
	}
	return time.Duration(sec * float64(time.Second))
}

func parseCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
