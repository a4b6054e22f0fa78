// Package events emits trace events for a run. Publication is
// fire-and-forget: a publish failure is logged and otherwise ignored, never
// propagated back to the caller driving the run.
package events

import (
	"context"
	"encoding/json"

	redisclient "github.com/lyzr/flowcore/common/redis"
	"github.com/lyzr/flowcore/internal/planning"
)

// Logger is the subset of *logger.Logger publisher needs.
type Logger interface {
	Error(msg string, args ...any)
}

// Publisher fans trace events out to a run's Redis channel.
type Publisher struct {
	redis         *redisclient.Client
	channelPrefix string
	logger        Logger
}

// NewPublisher builds a Redis-backed publisher. redis may be nil, in which
// case Publish is a no-op.
func NewPublisher(redis *redisclient.Client, channelPrefix string, logger Logger) *Publisher {
	return &Publisher{redis: redis, channelPrefix: channelPrefix, logger: logger}
}

// Publish emits every event for runID to its trace channel. Errors are
// logged, never returned — a dropped trace event must not fail a run.
func (p *Publisher) Publish(ctx context.Context, runID string, evts []planning.Event) {
	if p.redis == nil {
		return
	}
	channel := p.channelPrefix + ":" + runID
	for _, e := range evts {
		body, err := json.Marshal(map[string]interface{}{
			"run_id":  runID,
			"type":    e.Type,
			"payload": e.Payload,
		})
		if err != nil {
			p.logger.Error("marshal trace event", "error", err, "type", e.Type)
			continue
		}
		if err := p.redis.PublishEvent(ctx, channel, string(body)); err != nil {
			p.logger.Error("publish trace event", "error", err, "type", e.Type)
		}
	}
}
