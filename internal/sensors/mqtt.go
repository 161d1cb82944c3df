package sensors

import (
	"context"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/auralink/proactive/internal/conf"
	"github.com/auralink/proactive/internal/errors"
	"github.com/auralink/proactive/internal/logger"
	"github.com/auralink/proactive/internal/observability/metrics"
)

const (
	connectTimeout    = 10 * time.Second
	disconnectQuiesce = 250
)

// Subscriber feeds MQTT readings published on <prefix>/<senseId> into a
// Store.
type Subscriber struct {
	cfg     conf.MQTTSettings
	store   *Store
	client  mqtt.Client
	metrics *metrics.Metrics
	log     logger.Logger
}

// NewSubscriber creates a Subscriber. Call Start to connect.
func NewSubscriber(cfg conf.MQTTSettings, store *Store, m *metrics.Metrics, log logger.Logger) *Subscriber {
	if log == nil {
		log = logger.Discard()
	}
	return &Subscriber{
		cfg:     cfg,
		store:   store,
		metrics: m,
		log:     log.Module("sensors"),
	}
}

func (s *Subscriber) topic() string {
	return strings.TrimRight(s.cfg.TopicPrefix, "/") + "/+"
}

// Start connects to the broker and subscribes. Subscriptions are restored
// on reconnect.
func (s *Subscriber) Start(ctx context.Context) error {
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
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		if token := c.Subscribe(s.topic(), s.cfg.QoS, s.handle); token.Wait() && token.Error() != nil {
			s.log.Error("failed to subscribe", logger.String("topic", s.topic()), logger.Error(token.Error()))
			return
		}
		s.log.Info("subscribed to sensor feed", logger.String("topic", s.topic()))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.log.Warn("mqtt connection lost", logger.Error(err))
	})

	s.client = mqtt.NewClient(opts)
	token := s.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return errors.New(err).
			Component("sensors").
			Category(errors.CategoryNetwork).
			Context("broker", s.cfg.Broker).
			Build()
	}
	return nil
}

func (s *Subscriber) handle(_ mqtt.Client, msg mqtt.Message) {
	senseID := msg.Topic()
	if i := strings.LastIndexByte(senseID, '/'); i >= 0 {
		senseID = senseID[i+1:]
	}
	if err := s.store.Ingest(senseID, msg.Payload()); err != nil {
		s.metrics.RecordSensorReading(false)
		s.log.Warn("rejected sensor payload",
			logger.String("topic", msg.Topic()),
			logger.Error(err))
		return
	}
	s.metrics.RecordSensorReading(true)
}

// IsConnected reports the broker connection state.
func (s *Subscriber) IsConnected() bool {
	return s.client != nil && s.client.IsConnected()
}

// Stop disconnects from the broker.
func (s *Subscriber) Stop() {
	if s.client != nil {
		s.client.Disconnect(disconnectQuiesce)
	}
}
