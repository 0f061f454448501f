// Package ingest applies driver telemetry from a Redis-backed queue to the
// boards of live sessions.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/adjust/rmq/v5"
	"github.com/rs/zerolog/log"

	"ride-tracking-system/board"
	"ride-tracking-system/config"
	"ride-tracking-system/session"
)

const cacheTimeout = 2 * time.Second

// Event is one telemetry message. Removed events drop the driver instead of
// reconciling a position.
type Event struct {
	SessionID string `json:"session_id"`
	board.Sighting
	Removed bool `json:"removed,omitempty"`
}

// DriverCache receives the board changes made by the consumer.
type DriverCache interface {
	Store(ctx context.Context, sessionID string, rec board.Record) error
	Remove(ctx context.Context, sessionID, driverID string) error
}

type Consumer struct {
	sessions *session.Manager
	cache    DriverCache
}

// NewConsumer returns a consumer for sessions. cache may be nil.
func NewConsumer(sessions *session.Manager, cache DriverCache) *Consumer {
	return &Consumer{sessions: sessions, cache: cache}
}

// Apply routes ev to its session's board.
func (c *Consumer) Apply(ctx context.Context, ev Event) error {
	sess, err := c.sessions.Get(ev.SessionID)
	if err != nil {
		return err
	}

	if ev.Removed {
		if sess.RemoveDriver(ev.ID) && c.cache != nil {
			if err := c.cache.Remove(ctx, sess.ID, ev.ID); err != nil {
				log.Warn().Err(err).Str("session", sess.ID).Str("driver", ev.ID).Msg("Failed to remove cached driver")
			}
		}
		return nil
	}

	result, rec, err := sess.Apply(ev.Sighting)
	if err != nil {
		return err
	}
	log.Debug().Str("session", sess.ID).Str("driver", ev.ID).Stringer("result", result).Msg("Driver sighting applied")

	if c.cache != nil {
		if err := c.cache.Store(ctx, sess.ID, rec); err != nil {
			log.Warn().Err(err).Str("session", sess.ID).Str("driver", ev.ID).Msg("Failed to cache driver")
		}
	}
	return nil
}

// Consume implements rmq.Consumer.
func (c *Consumer) Consume(delivery rmq.Delivery) {
	var ev Event
	if err := json.Unmarshal([]byte(delivery.Payload()), &ev); err != nil {
		log.Error().Err(err).Msg("Failed to decode driver sighting")
		reject(delivery)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
	defer cancel()

	if err := c.Apply(ctx, ev); err != nil {
		log.Warn().Err(err).Str("session", ev.SessionID).Str("driver", ev.ID).Msg("Rejected driver sighting")
		reject(delivery)
		return
	}

	if err := delivery.Ack(); err != nil {
		log.Error().Err(err).Msg("Failed to ack driver sighting")
	}
}

func reject(delivery rmq.Delivery) {
	if err := delivery.Reject(); err != nil {
		log.Error().Err(err).Msg("Failed to reject driver sighting")
	}
}

// Start opens the configured queue and attaches cfg.Consumers consumers.
func Start(conn rmq.Connection, cfg config.IngestConfig, consumer *Consumer) (rmq.Queue, error) {
	queue, err := conn.OpenQueue(cfg.Queue)
	if err != nil {
		return nil, err
	}
	if err := queue.StartConsuming(cfg.Prefetch, cfg.PollInterval); err != nil {
		return nil, err
	}

	for i := 0; i < cfg.Consumers; i++ {
		tag := fmt.Sprintf("%s-%d", cfg.Queue, i)
		if _, err := queue.AddConsumer(tag, consumer); err != nil {
			return nil, err
		}
		log.Info().Str("consumer", tag).Msg("Starting sighting consumer")
	}
	return queue, nil
}

// Publish enqueues ev on queue.
func Publish(queue rmq.Queue, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return queue.Publish(string(payload))
}
