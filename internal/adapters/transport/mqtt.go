package transport

import (
	"context"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/okian/parley/internal/domain/model"
	"github.com/okian/parley/pkg/logger"
	"github.com/okian/parley/pkg/metrics"
)

const publishTimeout = 5 * time.Second

// MQTTConfig describes the broker session.
type MQTTConfig struct {
	Broker    string        `koanf:"broker"`
	ClientID  string        `koanf:"client_id"`
	Username  string        `koanf:"username"`
	Password  string        `koanf:"password"`
	InTopic   string        `koanf:"in_topic"`
	OutTopic  string        `koanf:"out_topic"`
	QoS       int           `koanf:"qos"`
	KeepAlive time.Duration `koanf:"keep_alive"`
	Quiesce   time.Duration `koanf:"quiesce"`
}

// MQTT receives events on one topic and publishes replies under
// OutTopic/<target>.
type MQTT struct {
	base
	cfg    MQTTConfig
	client mqtt.Client
}

// NewMQTT prepares an MQTT transport. Start connects.
func NewMQTT(cfg MQTTConfig, opts ...Option) *MQTT {
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 10 * time.Second
	}
	if cfg.Quiesce <= 0 {
		cfg.Quiesce = 100 * time.Millisecond
	}
	m := &MQTT{cfg: cfg}
	m.init("mqtt", opts)
	return m
}

// Start connects to the broker and subscribes to the inbound topic.
func (m *MQTT) Start(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(m.cfg.Broker)
	opts.SetClientID(m.cfg.ClientID)
	opts.SetKeepAlive(m.cfg.KeepAlive)
	opts.SetUsername(m.cfg.Username)
	opts.SetPassword(m.cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		m.logger.Warn(ctx, "connection lost", logger.Error(err))
	})
	m.client = mqtt.NewClient(opts)

	if t := m.client.Connect(); t.Wait() && t.Error() != nil {
		return fmt.Errorf("connect %s: %w", m.cfg.Broker, t.Error())
	}
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		m.handle(ctx, msg.Topic(), msg.Payload())
	}
	if t := m.client.Subscribe(m.cfg.InTopic, byte(m.cfg.QoS), handler); t.Wait() && t.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", m.cfg.InTopic, t.Error())
	}
	m.logger.Info(ctx, "connected",
		logger.String("broker", m.cfg.Broker),
		logger.String("topic", m.cfg.InTopic),
	)
	return nil
}

// handle decodes one inbound publish. QoS 1 may redeliver; the
// dispatcher drops repeated event ids.
func (m *MQTT) handle(ctx context.Context, topic string, payload []byte) {
	ev, err := m.decode(payload)
	if err != nil {
		m.logger.Warn(ctx, "skipping frame", logger.String("topic", topic), logger.Error(err))
		return
	}
	m.deliver(ctx, ev)
}

// topicFor returns the publish topic of a reply to target.
func (m *MQTT) topicFor(target string) string {
	return strings.TrimSuffix(m.cfg.OutTopic, "/") + "/" + target
}

// Send publishes msg and waits for the broker to accept it.
func (m *MQTT) Send(ctx context.Context, msg model.Message) error {
	if m.client == nil {
		return ErrNotStarted
	}
	bs, err := encode(msg)
	if err != nil {
		return err
	}
	t := m.client.Publish(m.topicFor(msg.Target), byte(m.cfg.QoS), false, bs)
	wait := publishTimeout
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < wait {
		wait = time.Until(dl)
	}
	if !t.WaitTimeout(wait) {
		metrics.RecordTransportFrame(m.name, "out", "timeout")
		return fmt.Errorf("publish to %s: %w", msg.Target, context.DeadlineExceeded)
	}
	if err := t.Error(); err != nil {
		metrics.RecordTransportFrame(m.name, "out", "error")
		return fmt.Errorf("publish: %w", err)
	}
	metrics.RecordTransportFrame(m.name, "out", "ok")
	return nil
}

// Stop unsubscribes, disconnects and closes Events.
func (m *MQTT) Stop(context.Context) error {
	if m.client != nil {
		m.client.Unsubscribe(m.cfg.InTopic).WaitTimeout(m.cfg.Quiesce)
		m.client.Disconnect(uint(m.cfg.Quiesce.Milliseconds()))
	}
	m.closeEvents()
	return nil
}
