package services

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/abrezinsky/cragboard/internal/logger"
	"github.com/abrezinsky/cragboard/internal/models"
	"github.com/abrezinsky/cragboard/internal/ranking"
)

// Publisher mirrors box events and finalized results to other systems
type Publisher interface {
	PublishBoxEvent(ev models.Event) error
	PublishResults(msg ResultsMessage) error
	Close() error
}

// ResultsMessage is published once a category is finalized or rescored
type ResultsMessage struct {
	BoxID    int                   `json:"boxId"`
	Revision int                   `json:"revision"`
	Payload  models.ResultsPayload `json:"payload"`
	Rows     []ranking.Row         `json:"rows"`
}

// NoopPublisher drops everything. Used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishBoxEvent(models.Event) error  { return nil }
func (NoopPublisher) PublishResults(ResultsMessage) error { return nil }
func (NoopPublisher) Close() error                        { return nil }

// NATSConfig configures the NATS publisher
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSConfig returns reconnect settings suited to a venue network
func DefaultNATSConfig(url, prefix string) NATSConfig {
	if prefix == "" {
		prefix = "cragboard"
	}
	return NATSConfig{
		URL:           url,
		SubjectPrefix: prefix,
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// NATSPublisher publishes on core NATS subjects
// <prefix>.box.<boxId> and <prefix>.results.<category>.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	log    logger.Logger
}

// NewNATSPublisher connects to NATS
func NewNATSPublisher(cfg NATSConfig, log logger.Logger) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name("cragboard"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error("NATS error", "error", err)
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATSPublisher{nc: nc, prefix: cfg.SubjectPrefix, log: log}, nil
}

// PublishBoxEvent mirrors a box event. The session token is never published.
func (p *NATSPublisher) PublishBoxEvent(ev models.Event) error {
	data, err := json.Marshal(ev.Redacted())
	if err != nil {
		return err
	}
	return p.nc.Publish(BoxSubject(p.prefix, ev.BoxID), data)
}

// PublishResults publishes a finalized ranking
func (p *NATSPublisher) PublishResults(msg ResultsMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.nc.Publish(ResultsSubject(p.prefix, msg.Payload.Category), data)
}

// Close flushes pending messages and closes the connection
func (p *NATSPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}

// BoxSubject is the subject box events are mirrored on
func BoxSubject(prefix string, boxID int) string {
	return fmt.Sprintf("%s.box.%d", prefix, boxID)
}

var subjectToken = strings.NewReplacer(" ", "_", ".", "_", "*", "_", ">", "_", "\t", "_")

// ResultsSubject is the subject a category's results are published on
func ResultsSubject(prefix, category string) string {
	return fmt.Sprintf("%s.results.%s", prefix, subjectToken.Replace(category))
}
