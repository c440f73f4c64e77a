package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"bias-aggregator/internal/aggregator"
	"bias-aggregator/internal/config"
	"bias-aggregator/internal/logging"
)

// Publisher hands a freshly advanced snapshot to downstream readers.
type Publisher interface {
	Publish(ctx context.Context, snap *aggregator.Snapshot) error
}

// Announcement is the pub/sub message sent for every advanced version.
type Announcement struct {
	Symbol     string    `json:"symbol"`
	Version    string    `json:"version"`
	Key        string    `json:"key"`
	Direction  string    `json:"direction"`
	Percentage string    `json:"percentage"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// RedisPublisher stores the latest snapshot document under a per-symbol key
// and announces the new version on a channel.
type RedisPublisher struct {
	client    *redis.Client
	keyPrefix string
	channel   string
	ttl       time.Duration
	logger    zerolog.Logger
}

// NewRedisPublisher builds a publisher from the redis config section.
func NewRedisPublisher(cfg config.RedisConfig, logger zerolog.Logger) *RedisPublisher {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	return &RedisPublisher{
		client:    rdb,
		keyPrefix: cfg.KeyPrefix,
		channel:   cfg.Channel,
		ttl:       cfg.TTL,
		logger:    logging.Component(logger, "publish_redis"),
	}
}

// Ping checks connectivity.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Close releases the underlying connections.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// Key returns the redis key holding the latest document of symbol.
func (p *RedisPublisher) Key(symbol string) string {
	return p.keyPrefix + symbol
}

// Publish writes the document and the announcement in one pipeline.
func (p *RedisPublisher) Publish(ctx context.Context, snap *aggregator.Snapshot) error {
	if snap == nil {
		return nil
	}
	doc, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	msg, err := json.Marshal(announce(snap, p.Key(snap.Symbol)))
	if err != nil {
		return fmt.Errorf("marshal announcement: %w", err)
	}

	_, err = p.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, p.Key(snap.Symbol), doc, p.ttl)
		if p.channel != "" {
			pipe.Publish(ctx, p.channel, msg)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish snapshot %s: %w", snap.Version, err)
	}

	p.logger.Debug().Str("symbol", snap.Symbol).Str("version", snap.Version).Msg("snapshot published")
	return nil
}

func announce(snap *aggregator.Snapshot, key string) Announcement {
	return Announcement{
		Symbol:     snap.Symbol,
		Version:    snap.Version,
		Key:        key,
		Direction:  string(snap.Direction),
		Percentage: snap.Percentage.StringFixed(2),
		UpdatedAt:  snap.UpdatedAt,
	}
}

var _ Publisher = (*RedisPublisher)(nil)
