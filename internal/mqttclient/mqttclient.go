// internal/mqttclient/mqttclient.go
package mqttclient

import (
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sua-org/cam-icu/internal/config"
)

// MessageHandler recebe tópico e payload de cada mensagem.
type MessageHandler func(topic string, payload []byte)

// PublishTimeout limita a espera pelo token de publicação; durante uma
// reconexão o token do paho só completa quando o broker volta.
const PublishTimeout = 5 * time.Second

// ErrPublishTimeout indica que o broker não confirmou a publicação a tempo.
var ErrPublishTimeout = errors.New("mqtt publish timeout")

type Client struct {
	client         mqtt.Client
	log            zerolog.Logger
	publishTimeout time.Duration

	mu   sync.Mutex
	subs map[string]subscription
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	ClientID string

	// WillTopic vazio desliga o last will.
	WillTopic   string
	WillPayload []byte
}

// FromConfig extrai os campos de broker da configuração do serviço.
func FromConfig(cfg config.Config) Config {
	return Config{
		Host:     cfg.MQTTHost,
		Port:     cfg.MQTTPort,
		Username: cfg.MQTTUsername,
		Password: cfg.MQTTPassword,
		ClientID: cfg.MQTTClientID,
	}
}

func (c Config) BrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", c.Host, c.Port)
}

// NewClient conecta no broker. Com clean session o broker esquece as
// assinaturas a cada reconexão, então o OnConnect reassina tudo.
func NewClient(cfg Config) (*Client, error) {
	c := &Client{
		log:            log.With().Str("component", "mqtt").Str("broker", cfg.BrokerURL()).Logger(),
		subs:           make(map[string]subscription),
		publishTimeout: PublishTimeout,
	}

	cli := mqtt.NewClient(c.options(cfg))
	c.client = cli

	token := cli.Connect()
	if ok := token.WaitTimeout(10 * time.Second); !ok {
		return nil, errors.New("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect error: %w", err)
	}

	return c, nil
}

func (c *Client) options(cfg Config) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL())
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.log.Warn().Err(err).Msg("conexão perdida, reconectando")
	})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if cfg.WillTopic != "" {
		opts.SetBinaryWill(cfg.WillTopic, cfg.WillPayload, 1, true)
	}
	return opts
}

func (c *Client) onConnect(cli mqtt.Client) {
	c.mu.Lock()
	subs := make(map[string]subscription, len(c.subs))
	for t, s := range c.subs {
		subs[t] = s
	}
	c.mu.Unlock()

	c.log.Info().Int("subscriptions", len(subs)).Msg("conectado")
	for topic, s := range subs {
		token := cli.Subscribe(topic, s.qos, wrap(s.handler))
		token.Wait()
		if err := token.Error(); err != nil {
			c.log.Error().Err(err).Str("topic", topic).Msg("erro ao reassinar")
		}
	}
}

func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(c.publishTimeout) {
		return fmt.Errorf("%w: %s", ErrPublishTimeout, topic)
	}
	return token.Error()
}

// Subscribe assina o tópico e lembra a assinatura para as reconexões.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	c.mu.Lock()
	c.subs[topic] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()

	token := c.client.Subscribe(topic, qos, wrap(handler))
	token.Wait()
	if err := token.Error(); err != nil {
		return err
	}
	c.log.Info().Str("topic", topic).Msg("assinado")
	return nil
}

func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnected()
}

func (c *Client) Close() {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
	}
}

func wrap(h MessageHandler) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		h(msg.Topic(), msg.Payload())
	}
}
