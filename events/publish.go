// Package events publishes mission aggregation status to NATS so
// downstream consumers (site generation, dashboards) can react to state
// transitions without polling artifacts. Publishing is best-effort and
// degrades gracefully when no NATS connection is configured.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is the root of the status subject hierarchy.
const DefaultSubjectPrefix = "missionspend"

// StatusEvent reports one mission-computation state transition.
type StatusEvent struct {
	BatchID   string    `json:"batch_id"`
	MissionID string    `json:"mission_id"`
	Kind      string    `json:"kind,omitempty"`
	State     string    `json:"state"`
	Error     string    `json:"error,omitempty"`
	CacheHit  bool      `json:"cache_hit,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// BatchEvent reports batch completion.
type BatchEvent struct {
	BatchID   string    `json:"batch_id"`
	Missions  int       `json:"missions"`
	Failed    int       `json:"failed"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher emits status events over a NATS connection.
type Publisher struct {
	nc     *nats.Conn
	prefix string
}

// NewPublisher wraps a NATS connection. A nil connection yields a
// publisher whose methods are no-ops, so callers never branch on whether
// eventing is configured.
func NewPublisher(nc *nats.Conn, prefix string) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Publisher{nc: nc, prefix: prefix}
}

// PublishStatus emits a mission state transition on
// <prefix>.status.<missionID>.
func (p *Publisher) PublishStatus(ev StatusEvent) error {
	if p == nil || p.nc == nil {
		return nil
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}
	subject := fmt.Sprintf("%s.status.%s", p.prefix, ev.MissionID)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish status event: %w", err)
	}
	return nil
}

// PublishBatch emits batch completion on <prefix>.batch.
func (p *Publisher) PublishBatch(ev BatchEvent) error {
	if p == nil || p.nc == nil {
		return nil
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal batch event: %w", err)
	}
	if err := p.nc.Publish(p.prefix+".batch", data); err != nil {
		return fmt.Errorf("publish batch event: %w", err)
	}
	return nil
}
