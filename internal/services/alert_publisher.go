package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"playtrack/internal/models"
)

// AlertPublisher fans regression alerts out over Redis pub/sub so
// dashboards on other instances can react without polling. Optional: when
// REDIS_URL is unset the engine runs without it.
type AlertPublisher struct {
	client  *redis.Client
	channel string
}

// NewAlertPublisher connects to Redis and returns a publisher
func NewAlertPublisher(redisURL, channel string) (*AlertPublisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = 5
	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Printf("✅ [ALERTS] Redis publisher connected (channel: %s)", channel)
	return &AlertPublisher{client: client, channel: channel}, nil
}

// PublishAlert sends one alert to the channel. Best effort: the alert is
// already durably committed, so a publish failure is only logged.
func (p *AlertPublisher) PublishAlert(ctx context.Context, alert *models.RegressionAlert) {
	payload, err := json.Marshal(alert)
	if err != nil {
		log.Printf("⚠️ [ALERTS] Failed to marshal alert %s: %v", alert.ID, err)
		return
	}

	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		log.Printf("⚠️ [ALERTS] Failed to publish alert %s: %v", alert.ID, err)
		return
	}

	log.Printf("📡 [ALERTS] Published regression alert %s (%s, build gap %d)",
		alert.ID, alert.Title, alert.BuildGap)
}

// Close releases the Redis connection
func (p *AlertPublisher) Close() error {
	return p.client.Close()
}
