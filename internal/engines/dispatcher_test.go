package engines

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sua-org/cam-icu/internal/core"
	"github.com/sua-org/cam-icu/internal/storage"
)

type vehicleCall struct {
	cameraID   string
	occurredAt time.Time
	image      []byte
}

type fakeVehicle struct {
	name  string
	plate string
	err   error
	panic bool

	mu    sync.Mutex
	calls []vehicleCall
}

func (f *fakeVehicle) Name() string { return f.name }

func (f *fakeVehicle) Recognize(_ context.Context, cameraID string, occurredAt time.Time, image []byte) (*core.PlateResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, vehicleCall{cameraID, occurredAt, image})
	f.mu.Unlock()
	if f.panic {
		panic("boom")
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.plate == "" {
		return nil, nil
	}
	return &core.PlateResult{Plate: f.plate}, nil
}

type fakePerson struct {
	faces []core.FaceDetail
	err   error
}

func (f *fakePerson) Name() string { return "fake-person" }

func (f *fakePerson) Analyze(context.Context, []byte) ([]core.FaceDetail, error) {
	return f.faces, f.err
}

type stolenSet map[string]bool

func (s stolenSet) Stolen(plate string) bool { return s[plate] }

type published struct {
	topic   string
	payload []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *fakePublisher) Publish(topic string, _ byte, _ bool, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic, payload})
	return nil
}

func (p *fakePublisher) events(t *testing.T) []core.ResultEvent {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]core.ResultEvent, 0, len(p.msgs))
	for _, m := range p.msgs {
		var evt core.ResultEvent
		require.NoError(t, json.Unmarshal(m.payload, &evt))
		out = append(out, evt)
	}
	return out
}

// blockingPublisher segura o Publish até release, como o paho durante a reconexão.
type blockingPublisher struct {
	release chan struct{}
	calls   atomic.Int32
}

func (p *blockingPublisher) Publish(string, byte, bool, []byte) error {
	p.calls.Add(1)
	<-p.release
	return nil
}

type memStore struct {
	mu   sync.Mutex
	keys []string
	data [][]byte
}

func (s *memStore) SaveSnapshot(_ context.Context, key string, data []byte, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, key)
	s.data = append(s.data, data)
	return "mem://" + key, nil
}

// captureLog troca o logger global e devolve o buffer com as linhas JSON.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&syncWriter{w: &buf})
	t.Cleanup(func() { log.Logger = prev })
	return &buf
}

type syncWriter struct {
	mu sync.Mutex
	w  *bytes.Buffer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

var occurred = time.UnixMilli(1572567835571).UTC()

func TestDispatchVehicle_FansOutToEveryEngine(t *testing.T) {
	failing := &fakeVehicle{name: "openalpr", err: errors.New("quota exceeded")}
	working := &fakeVehicle{name: "platerecognizer", plate: "abc123"}
	pub := &fakePublisher{}

	d := NewDispatcher([]VehicleEngine{failing, working}, nil, Options{Publisher: pub, ResultsTopic: "cam-icu/results/"})
	img := []byte("vehicle-jpeg")
	d.DispatchVehicle(context.Background(), "Q2JV-0000-0000", occurred, img)

	for _, e := range []*fakeVehicle{failing, working} {
		require.Len(t, e.calls, 1, e.name)
		assert.Equal(t, "Q2JV-0000-0000", e.calls[0].cameraID)
		assert.Equal(t, occurred, e.calls[0].occurredAt)
		assert.Equal(t, img, e.calls[0].image)
	}

	events := pub.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, "ABC123", events[0].Plate)
	assert.Equal(t, "platerecognizer", events[0].Engine)
	assert.Equal(t, "2019-11-01T00:23:55.571Z", events[0].Timestamp)
	assert.False(t, events[0].Stolen)
	assert.Equal(t, "cam-icu/results/Q2JV-0000-0000/vehicle", pub.msgs[0].topic)
}

func TestDispatchVehicle_PanicDoesNotStopOthers(t *testing.T) {
	bad := &fakeVehicle{name: "bad", panic: true}
	good := &fakeVehicle{name: "good", plate: "xyz789"}
	pub := &fakePublisher{}

	d := NewDispatcher([]VehicleEngine{bad, good}, nil, Options{Publisher: pub, ResultsTopic: "r"})
	d.DispatchVehicle(context.Background(), "CAM", occurred, []byte("x"))

	events := pub.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, "XYZ789", events[0].Plate)
}

func TestDispatchVehicle_StolenPlateRaisesAlert(t *testing.T) {
	buf := captureLog(t)
	pub := &fakePublisher{}
	d := NewDispatcher(
		[]VehicleEngine{&fakeVehicle{name: "platerecognizer", plate: "abc123"}},
		nil,
		Options{Lookup: stolenSet{"ABC123": true}, Publisher: pub, ResultsTopic: "r"},
	)

	d.DispatchVehicle(context.Background(), "CAM", occurred, []byte("x"))

	var alert map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		if m["alert"] == true {
			alert = m
		}
	}
	require.NotNil(t, alert, "nenhuma linha com alert=true")
	assert.Equal(t, "error", alert["level"])
	assert.Equal(t, "ABC123", alert["plate"])
	assert.Equal(t, "2019-11-01T00:23:55.571Z", alert["ts"])

	events := pub.events(t)
	require.Len(t, events, 1)
	assert.True(t, events[0].Stolen)
}

func TestDispatchVehicle_NoPlateNoEvent(t *testing.T) {
	pub := &fakePublisher{}
	d := NewDispatcher([]VehicleEngine{&fakeVehicle{name: "empty"}}, nil, Options{Publisher: pub, ResultsTopic: "r"})

	d.DispatchVehicle(context.Background(), "CAM", occurred, []byte("x"))

	assert.Empty(t, pub.msgs)
}

func TestDispatch_SavesHandlerImage(t *testing.T) {
	store := &memStore{}
	pub := &fakePublisher{}
	d := NewDispatcher(
		[]VehicleEngine{&fakeVehicle{name: "v", plate: "p1"}},
		[]PersonEngine{&fakePerson{faces: []core.FaceDetail{{Gender: core.Gender{Value: "Female", Confidence: 99}}}}},
		Options{Store: store, Publisher: pub, ResultsTopic: "r"},
	)

	d.DispatchVehicle(context.Background(), "CAM", occurred, []byte("vehicle"))
	d.DispatchPerson(context.Background(), "CAM", occurred, []byte("person"))

	require.Len(t, store.keys, 2)
	assert.Equal(t, storage.SnapshotKey(core.Vehicle, occurred), store.keys[0])
	assert.Equal(t, []byte("vehicle"), store.data[0])
	assert.Equal(t, storage.SnapshotKey(core.Person, occurred), store.keys[1])
	assert.Equal(t, []byte("person"), store.data[1])

	events := pub.events(t)
	require.Len(t, events, 2)
	assert.Equal(t, "mem://vehicles/2019-11-01T00-23-55.571Z.jpg", events[0].ImageURL)
	assert.Equal(t, "mem://people/2019-11-01T00-23-55.571Z.jpg", events[1].ImageURL)
}

func TestDispatch_StalledPublisherDoesNotBlockFanOut(t *testing.T) {
	pub := &blockingPublisher{release: make(chan struct{})}
	t.Cleanup(func() { close(pub.release) })

	d := NewDispatcher(
		[]VehicleEngine{&fakeVehicle{name: "platerecognizer", plate: "abc123"}, &fakeVehicle{name: "openalpr", plate: "abc123"}},
		[]PersonEngine{&fakePerson{faces: []core.FaceDetail{{Gender: core.Gender{Value: "Female", Confidence: 99}}}}},
		Options{Publisher: pub, ResultsTopic: "r", PublishTimeout: 20 * time.Millisecond},
	)

	done := make(chan struct{})
	go func() {
		d.DispatchVehicle(context.Background(), "CAM", occurred, []byte("x"))
		d.DispatchPerson(context.Background(), "CAM", occurred, []byte("x"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch preso no publish")
	}
	require.Eventually(t, func() bool { return pub.calls.Load() == 3 }, time.Second, 5*time.Millisecond)
}

func TestDispatchPerson_FiltersEmotions(t *testing.T) {
	pub := &fakePublisher{}
	d := NewDispatcher(nil, []PersonEngine{&fakePerson{faces: []core.FaceDetail{{
		Gender:   core.Gender{Value: "Male", Confidence: 99.7},
		AgeRange: core.AgeRange{Low: 26, High: 43},
		Emotions: []core.Emotion{
			{Type: "CALM", Confidence: 87.2},
			{Type: "SAD", Confidence: 50},
			{Type: "HAPPY", Confidence: 3.1},
		},
	}}}}, Options{Publisher: pub, ResultsTopic: "r"})

	d.DispatchPerson(context.Background(), "CAM", occurred, []byte("x"))

	events := pub.events(t)
	require.Len(t, events, 1)
	require.Len(t, events[0].Faces, 1)
	face := events[0].Faces[0]
	assert.Equal(t, "Male", face.Gender.Value)
	assert.Equal(t, int32(26), face.AgeRange.Low)
	require.Len(t, face.Emotions, 1)
	assert.Equal(t, "CALM", face.Emotions[0].Type)
}

func TestDispatchPerson_EngineErrorIsLogged(t *testing.T) {
	pub := &fakePublisher{}
	d := NewDispatcher(nil, []PersonEngine{&fakePerson{err: errors.New("AccessDenied")}}, Options{Publisher: pub, ResultsTopic: "r"})

	d.DispatchPerson(context.Background(), "CAM", occurred, []byte("x"))

	assert.Empty(t, pub.msgs)
}

func TestInvoke_Timeout(t *testing.T) {
	_, err := invoke(context.Background(), 10*time.Millisecond, "slow", func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNames(t *testing.T) {
	d := NewDispatcher(
		[]VehicleEngine{&fakeVehicle{name: "platerecognizer"}, &fakeVehicle{name: "openalpr"}},
		[]PersonEngine{&fakePerson{}},
		Options{},
	)
	assert.Equal(t, []string{"platerecognizer", "openalpr", "fake-person"}, d.Names())
	assert.True(t, d.HasVehicleEngines())
	assert.True(t, d.HasPersonEngines())
}
