package clients

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"aa-backend/internal/config"
	"aa-backend/internal/metrics"

	"github.com/nats-io/nats.go"
)

// Lifecycle event subjects
const (
	SubjectOtpCreated            = "aa.otp.created"
	SubjectRedeemCompleted       = "aa.redeem.completed"
	SubjectDisbursementCompleted = "aa.disbursement.completed"
	SubjectTriggerCommitted      = "aa.trigger.committed"
	SubjectJobFailed             = "aa.job.failed"
)

// NATSClient publishes lifecycle events over JetStream
type NATSClient struct {
	conn       *nats.Conn
	js         nats.JetStreamContext
	streamName string
}

// NewNATSClient creates the NATS client and ensures the event stream exists
func NewNATSClient(cfg config.NATSConfig) (*NATSClient, error) {
	connectTimeout := 10 * time.Second
	if cfg.Timeout > 0 {
		connectTimeout = time.Duration(cfg.Timeout) * time.Second
	}

	reconnectWait := 5 * time.Second
	if cfg.ReconnectWait > 0 {
		reconnectWait = time.Duration(cfg.ReconnectWait) * time.Second
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Printf("⚠️ [NATS] disconnected: %v", err)
			metrics.NATSConnectionStatus.Set(0)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("✅ [NATS] reconnected")
			metrics.NATSConnectionStatus.Set(1)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	client := &NATSClient{
		conn:       conn,
		js:         js,
		streamName: cfg.StreamName,
	}

	if err := client.ensureStream(); err != nil {
		log.Printf("⚠️ [NATS] stream setup failed, publishing may be lossy: %v", err)
	}

	metrics.NATSConnectionStatus.Set(1)
	log.Printf("✅ [NATS] connected to %s (stream %s)", cfg.URL, cfg.StreamName)

	return client, nil
}

// ensureStream creates the event stream when it does not exist yet
func (c *NATSClient) ensureStream() error {
	_, err := c.js.StreamInfo(c.streamName)
	if err == nil {
		return nil
	}

	_, err = c.js.AddStream(&nats.StreamConfig{
		Name:      c.streamName,
		Subjects:  []string{"aa.>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	log.Printf("✅ [NATS] created stream %s", c.streamName)
	return nil
}

// Publish sends one lifecycle event, JSON-encoded
func (c *NATSClient) Publish(subject string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode event payload: %w", err)
	}

	if _, err := c.js.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}

	metrics.NATSEventsPublished.WithLabelValues(subject).Inc()
	return nil
}

// Close drains and closes the connection
func (c *NATSClient) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}
