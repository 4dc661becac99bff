package mqttclient

import (
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sua-org/cam-icu/internal/config"
)

func TestFromConfig(t *testing.T) {
	c := FromConfig(config.Config{
		MQTTHost:     "broker.local",
		MQTTPort:     8883,
		MQTTUsername: "u",
		MQTTPassword: "p",
		MQTTClientID: "cam-icu",
	})

	assert.Equal(t, "tcp://broker.local:8883", c.BrokerURL())
	assert.Equal(t, "u", c.Username)
	assert.Equal(t, "p", c.Password)
	assert.Equal(t, "cam-icu", c.ClientID)
}

func TestOptions_LastWill(t *testing.T) {
	c := &Client{}

	opts := c.options(Config{Host: "h", Port: 1883, ClientID: "cam-icu", WillTopic: "cam-icu/status", WillPayload: []byte(`{"status":"offline"}`)})
	assert.True(t, opts.WillEnabled)
	assert.Equal(t, "cam-icu/status", opts.WillTopic)
	assert.Equal(t, []byte(`{"status":"offline"}`), opts.WillPayload)
	assert.True(t, opts.WillRetained)
	assert.Equal(t, byte(1), opts.WillQos)

	opts = c.options(Config{Host: "h", Port: 1883, ClientID: "cam-icu"})
	assert.False(t, opts.WillEnabled)
}

func TestPublish(t *testing.T) {
	tests := []struct {
		name    string
		token   *fakeToken
		wantErr error
	}{
		{name: "confirmado", token: &fakeToken{done: true}},
		{name: "erro do broker", token: &fakeToken{done: true, err: errors.New("not authorized")}, wantErr: errors.New("not authorized")},
		{name: "reconectando", token: &fakeToken{}, wantErr: ErrPublishTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Client{client: &fakePaho{token: tt.token}, publishTimeout: 10 * time.Millisecond}

			start := time.Now()
			err := c.Publish("cam-icu/results", 1, false, []byte("{}"))
			assert.Less(t, time.Since(start), time.Second)
			assert.Equal(t, 10*time.Millisecond, tt.token.waited)

			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			if errors.Is(tt.wantErr, ErrPublishTimeout) {
				assert.ErrorIs(t, err, ErrPublishTimeout)
			} else {
				assert.EqualError(t, err, tt.wantErr.Error())
			}
		})
	}
}

func TestWrap(t *testing.T) {
	var gotTopic string
	var gotPayload []byte
	h := wrap(func(topic string, payload []byte) {
		gotTopic, gotPayload = topic, payload
	})

	h(nil, fakeMessage{topic: "/merakimv/A/0", payload: []byte(`{"ts":1}`)})

	assert.Equal(t, "/merakimv/A/0", gotTopic)
	assert.Equal(t, []byte(`{"ts":1}`), gotPayload)
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type fakePaho struct {
	mqtt.Client
	token *fakeToken
}

func (f *fakePaho) Publish(string, byte, bool, interface{}) mqtt.Token { return f.token }

// fakeToken com done=false simula um publish preso na reconexão.
type fakeToken struct {
	done   bool
	err    error
	waited time.Duration
}

func (f *fakeToken) Wait() bool {
	if !f.done {
		select {}
	}
	return true
}

func (f *fakeToken) WaitTimeout(d time.Duration) bool {
	f.waited = d
	return f.done
}

func (f *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if f.done {
		close(ch)
	}
	return ch
}

func (f *fakeToken) Error() error { return f.err }
