package notify

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/carepilot/internal/calendar"
	"github.com/nugget/carepilot/internal/config"
)

// queueSize bounds changes waiting for the broker.
const queueSize = 64

// Change is the JSON payload of a calendar notification.
type Change struct {
	Action string         `json:"action"` // added, updated, removed
	Event  calendar.Event `json:"event"`
}

type change struct {
	owner   string
	payload Change
}

// Publisher manages the MQTT connection and forwards calendar changes
// to the broker.
type Publisher struct {
	cfg      config.MQTTConfig
	clientID string
	logger   *slog.Logger
	cm       *autopaho.ConnectionManager

	// send publishes one message. It is the connection manager once
	// Start has connected.
	send func(ctx context.Context, p *paho.Publish) error

	queue chan change
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to begin the connection and publish loop. instanceID, when set, is
// appended to the configured client ID.
func New(cfg config.MQTTConfig, instanceID string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	clientID := cfg.ClientID
	if instanceID != "" {
		clientID += "-" + instanceID
	}
	return &Publisher{
		cfg:      cfg,
		clientID: clientID,
		logger:   logger.With("component", "notify"),
		queue:    make(chan change, queueSize),
	}
}

// Start connects to the MQTT broker and publishes queued changes. It
// blocks until ctx is cancelled.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	availTopic := p.availabilityTopic()

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: p.clientID,
		},
	}

	// Enable TLS for mqtts:// or ssl:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm
	p.send = func(ctx context.Context, msg *paho.Publish) error {
		_, err := cm.Publish(ctx, msg)
		return err
	}

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	p.drain(ctx)
	return nil
}

// Stop publishes an "offline" availability message and closes the
// connection.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, p.cm, "offline")
	return p.cm.Disconnect(ctx)
}

// CalendarChanged queues a change for publishing. It matches
// calendar.ChangeFunc and never blocks: a full queue drops the change.
func (p *Publisher) CalendarChanged(_ context.Context, action string, e calendar.Event) {
	select {
	case p.queue <- change{owner: e.Owner, payload: Change{Action: action, Event: e}}:
	default:
		p.logger.Warn("mqtt queue full, dropping calendar change",
			"username", e.Owner, "action", action, "event_id", e.ID)
	}
}

// --- Topic helpers ---

func (p *Publisher) availabilityTopic() string {
	return p.cfg.TopicPrefix + "/status"
}

// CalendarTopic is the topic carrying username's calendar changes.
func (p *Publisher) CalendarTopic(username string) string {
	return p.cfg.TopicPrefix + "/" + username + "/calendar"
}

func (p *Publisher) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed",
			"status", status, "error", err)
	} else {
		p.logger.Info("mqtt availability published", "status", status)
	}
}

// --- Publish loop ---

func (p *Publisher) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-p.queue:
			p.publish(ctx, c)
		}
	}
}

func (p *Publisher) publish(ctx context.Context, c change) {
	payload, err := json.Marshal(c.payload)
	if err != nil {
		p.logger.Warn("mqtt payload encode failed", "error", err)
		return
	}
	topic := p.CalendarTopic(c.owner)
	if err := p.send(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     1,
		Retain:  false,
	}); err != nil {
		p.logger.Warn("mqtt calendar publish failed",
			"topic", topic, "action", c.payload.Action, "error", err)
		return
	}
	p.logger.Debug("mqtt calendar change published",
		"topic", topic, "action", c.payload.Action, "event_id", c.payload.Event.ID)
}
