// Package publisher republishes accepted telemetry onto a durable message
// bus so downstream consumers (dashboards, alerting) never have to read the
// relational store directly.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/fleettrack/ingestd/internal/codec"
)

// Config is the RABBITMQ_* environment surface. An empty Host disables
// publishing entirely: Connect returns a nil *Publisher in that case, and
// callers treat a nil publisher as a no-op.
type Config struct {
	Host       string
	Port       int
	Username   string
	Password   string
	Exchange   string
	RoutingKey string
}

// DefaultConfig is the broker surface used when no environment overrides
// are present.
func DefaultConfig() Config {
	return Config{
		Port:       5672,
		Username:   "guest",
		Password:   "guest",
		Exchange:   "telemetry.raw",
		RoutingKey: "hh",
	}
}

// Publisher republishes accepted frames to a durable topic exchange.
type Publisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	cfg     Config
	log     *logrus.Entry
}

// Connect dials RabbitMQ, opens a channel, and declares cfg.Exchange as a
// durable topic exchange. Returns (nil, nil) when cfg.Host is empty, so the
// caller can run with publishing disabled. A dial, channel, or
// exchange-declare failure is returned as an error; failures after
// connecting surface per call from PublishFrame.
func Connect(cfg Config, log *logrus.Entry) (*Publisher, error) {
	if cfg.Host == "" {
		return nil, nil
	}

	url := fmt.Sprintf("amqp://%s:%s@%s:%d/", cfg.Username, cfg.Password, cfg.Host, cfg.Port)
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("publisher: dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("publisher: open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("publisher: declare exchange: %w", err)
	}

	return &Publisher{conn: conn, channel: ch, cfg: cfg, log: log}, nil
}

// Close releases the channel and connection. A nil receiver is a no-op.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.closeLive()
}

func (p *Publisher) closeLive() error {
	if err := p.channel.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}

type hhEventPayload struct {
	DeviceUID    string  `json:"device_uid"`
	Protocol     string  `json:"protocol"`
	RecordedAt   string  `json:"recorded_at"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	SpeedKPH     float64 `json:"speed_kph"`
	HeadingDeg   float64 `json:"heading_deg"`
	IgnitionOn   bool    `json:"ignition_on"`
	FuelRaw      int     `json:"fuel_raw"`
	PowerVoltage int     `json:"power_voltage"`
	RawPayload   string  `json:"raw_payload"`
}

// PublishFrame republishes one accepted frame under deviceUID/protocol.
// A nil receiver is a no-op, so callers don't need to guard every call site
// on whether publishing is configured.
func (p *Publisher) PublishFrame(ctx context.Context, deviceUID, protocol string, frame *codec.Frame) error {
	if p == nil {
		return nil
	}

	body, err := json.Marshal(hhEventPayload{
		DeviceUID:    deviceUID,
		Protocol:     protocol,
		RecordedAt:   frame.RecordedAt.UTC().Format(time.RFC3339),
		Latitude:     frame.Latitude,
		Longitude:    frame.Longitude,
		SpeedKPH:     frame.SpeedKPH,
		HeadingDeg:   frame.HeadingDeg,
		IgnitionOn:   frame.IgnitionOn,
		FuelRaw:      frame.FuelRaw,
		PowerVoltage: frame.PowerVoltage,
		RawPayload:   frame.RawPayload,
	})
	if err != nil {
		return fmt.Errorf("publisher: marshal event: %w", err)
	}

	err = p.channel.PublishWithContext(ctx, p.cfg.Exchange, p.cfg.RoutingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
		Timestamp:   time.Now(),
	})
	if err != nil {
		if p.log != nil {
			p.log.WithFields(logrus.Fields{"device_uid": deviceUID, "stage": "publisher"}).WithError(err).Warn("failed to publish telemetry event")
		}
		return fmt.Errorf("publisher: publish: %w", err)
	}
	return nil
}
