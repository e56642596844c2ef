package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig describes the broker delivering verdicts.
type MQTTConfig struct {
	Broker   string // tcp://host:1883
	Topic    string
	ClientID string
	Username string
	Password string
	QoS      byte

	ConnectTimeout time.Duration // how long Start waits for the first connect
	RetryInterval  time.Duration // between failed first connects
}

// ErrMQTTPending is returned by Start when the broker has not answered yet.
// The client keeps retrying in the background.
var ErrMQTTPending = errors.New("oracle: mqtt not connected yet, retrying")

// MQTTSource subscribes to a topic of JSON verdicts published by an
// external vision worker and offers each one to a Store.
type MQTTSource struct {
	cfg    MQTTConfig
	store  *Store
	logger *slog.Logger

	mu        sync.Mutex
	client    mqtt.Client
	connected bool
}

// NewMQTTSource creates a source. Nothing connects until Start.
func NewMQTTSource(cfg MQTTConfig, store *Store, logger *slog.Logger) *MQTTSource {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 2 * time.Second
	}
	return &MQTTSource{
		cfg:    cfg,
		store:  store,
		logger: logger.With("component", "oracle.mqtt"),
	}
}

// Start connects and subscribes. A broker that is not up yet is retried
// every RetryInterval, and a lost connection is re-established; both
// resubscribe on connect. ctx only bounds how long Start waits.
func (s *MQTTSource) Start(ctx context.Context) error {
	if s.cfg.Broker == "" || s.cfg.Topic == "" {
		return errors.New("oracle: mqtt broker and topic required")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.cfg.Broker)
	opts.SetClientID(s.cfg.ClientID)
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
	}
	if s.cfg.Password != "" {
		opts.SetPassword(s.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(s.cfg.RetryInterval)
	opts.SetCleanSession(true)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		s.setConnected(true)
		token := c.Subscribe(s.cfg.Topic, s.cfg.QoS, func(_ mqtt.Client, m mqtt.Message) {
			s.handle(m.Payload())
		})
		if token.Wait() && token.Error() != nil {
			s.logger.Error("mqtt subscribe failed", "topic", s.cfg.Topic, "error", token.Error())
			return
		}
		s.logger.Info("mqtt subscribed", "broker", s.cfg.Broker, "topic", s.cfg.Topic)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		s.setConnected(false)
		s.logger.Warn("mqtt connection lost, will reconnect", "error", err)
	}

	client := mqtt.NewClient(opts)
	s.mu.Lock()
	s.client = client
	s.mu.Unlock()

	// With connect retry on, the token only completes once connected.
	token := client.Connect()
	timeout := s.cfg.ConnectTimeout
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < timeout {
		timeout = time.Until(dl)
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%w: %s", ErrMQTTPending, s.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("oracle: mqtt connect: %w", err)
	}
	return nil
}

// handle offers one message payload. Bad payloads are dropped.
func (s *MQTTSource) handle(payload []byte) {
	_ = s.store.OfferPayload(payload)
}

// Connected reports the broker connection state.
func (s *MQTTSource) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *MQTTSource) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

// Close disconnects from the broker.
func (s *MQTTSource) Close() {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.connected = false
	s.mu.Unlock()

	if client != nil {
		client.Disconnect(250)
	}
}
