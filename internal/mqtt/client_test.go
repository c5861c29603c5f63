package mqtt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ponytojas/go-iot-dashboard/config"
	"github.com/ponytojas/go-iot-dashboard/internal/metrics"
	"github.com/ponytojas/go-iot-dashboard/internal/models"
)

type memStore struct {
	mu      sync.Mutex
	samples []models.Sample
	err     error
}

func (s *memStore) InsertSamples(_ context.Context, samples []models.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.samples = append(s.samples, samples...)
	return nil
}

func (s *memStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

func freePort(t *testing.T) int {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// Spin up an in-process MQTT broker and return a config pointing at it.
func setupBroker(t *testing.T) *config.Config {
	port := freePort(t)

	broker := mochi.New(nil)
	require.NoError(t, broker.AddHook(new(auth.AllowHook), nil))
	require.NoError(t, broker.AddListener(listeners.NewTCP(listeners.Config{
		ID:      "test",
		Type:    "tcp",
		Address: fmt.Sprintf("127.0.0.1:%d", port),
	})))
	require.NoError(t, broker.Serve())
	t.Cleanup(func() { _ = broker.Close() })

	cfg := config.GetDefaultConfig()
	cfg.MQTT.Broker = "tcp://127.0.0.1"
	cfg.MQTT.Port = port
	cfg.MQTT.ClientID = "dashboard-test"
	cfg.MQTT.PublishTimeout = 5 * time.Second
	return cfg
}

func rawClient(t *testing.T, cfg *config.Config, id string) paho.Client {
	opts := paho.NewClientOptions().AddBroker(cfg.GetMQTTBrokerURL()).SetClientID(id)
	c := paho.NewClient(opts)
	tok := c.Connect()
	require.True(t, tok.WaitTimeout(5*time.Second))
	require.NoError(t, tok.Error())
	t.Cleanup(func() { c.Disconnect(100) })
	return c
}

func TestSubscribeStoresTelemetry(t *testing.T) {
	cfg := setupBroker(t)
	store := &memStore{}
	m := metrics.New()

	c := NewClient(cfg, store, m, zaptest.NewLogger(t))
	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))
	defer c.Disconnect()
	require.NoError(t, c.Subscribe(ctx))

	device := rawClient(t, cfg, "esp32-01")
	payload := `{"created_at":1700000000,"device":{"serial_number":"esp32-01"},"data":[{"name":"velocity","value":3.5},{"name":"frequency","value":"50"}]}`
	tok := device.Publish(cfg.MQTT.Topic, 1, false, payload)
	require.True(t, tok.WaitTimeout(5*time.Second))
	require.NoError(t, tok.Error())

	require.Eventually(t, func() bool { return store.len() == 2 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "esp32-01", store.samples[0].DeviceID)
}

func TestPublishCommand(t *testing.T) {
	cfg := setupBroker(t)

	received := make(chan paho.Message, 1)
	device := rawClient(t, cfg, "esp32-02")
	tok := device.Subscribe(cfg.CommandTopic("esp32-02"), 1, func(_ paho.Client, msg paho.Message) {
		received <- msg
	})
	require.True(t, tok.WaitTimeout(5*time.Second))
	require.NoError(t, tok.Error())

	c := NewClient(cfg, nil, nil, zaptest.NewLogger(t))
	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))
	defer c.Disconnect()

	require.NoError(t, c.PublishCommand(ctx, "esp32-02", []byte(`{"command":"ota"}`)))

	select {
	case msg := <-received:
		assert.Equal(t, "/topic/command/esp32-02", msg.Topic())
		assert.JSONEq(t, `{"command":"ota"}`, string(msg.Payload()))
	case <-time.After(5 * time.Second):
		t.Fatal("command not delivered")
	}
}

func TestPublishCommandNotConnected(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.MQTT.ClientID = "offline"
	c := NewClient(cfg, nil, nil, zaptest.NewLogger(t))
	err := c.PublishCommand(context.Background(), "d", []byte("{}"))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSubscribeWithoutStore(t *testing.T) {
	c := NewClient(config.GetDefaultConfig(), nil, nil, zaptest.NewLogger(t))
	assert.Error(t, c.Subscribe(context.Background()))
}

func TestProcessMessage(t *testing.T) {
	cfg := config.GetDefaultConfig()
	m := metrics.New()
	store := &memStore{}
	c := NewClient(cfg, store, m, zaptest.NewLogger(t))
	c.now = func() time.Time { return time.Unix(42, 0) }

	c.processMessage(context.Background(), []byte(`garbage`))
	c.processMessage(context.Background(), []byte(`{"data":[{"name":"status","value":"ok"}]}`))
	c.processMessage(context.Background(), []byte(`{"data":[{"name":"velocity","value":1}]}`))

	require.Equal(t, 1, store.len())
	assert.Equal(t, time.Unix(42, 0), store.samples[0].Time)
	assert.Equal(t, models.UnknownDevice, store.samples[0].DeviceID)

	store.err = errors.New("db down")
	c.processMessage(context.Background(), []byte(`{"data":[{"name":"velocity","value":1}]}`))
	assert.Equal(t, 1, store.len())
}
