package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultStream is the Redis stream notifications are appended to.
const DefaultStream = "tripwise:notifications"

// RedisStreamSender appends notifications to a Redis stream for an external
// mailer to consume.
type RedisStreamSender struct {
	client redis.Cmdable
	stream string
	maxLen int64
	now    func() time.Time
}

func NewRedisStreamSender(client redis.Cmdable, stream string) *RedisStreamSender {
	stream = strings.TrimSpace(stream)
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisStreamSender{client: client, stream: stream, maxLen: 10000, now: time.Now}
}

func (s *RedisStreamSender) Send(ctx context.Context, address, subject, body string) error {
	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Values: map[string]any{
			"to":        address,
			"subject":   subject,
			"body":      body,
			"queued_at": s.now().UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}

// NewRedisClient connects and pings the server.
func NewRedisClient(ctx context.Context, addr, password string) (*redis.Client, error) {
	if strings.TrimSpace(addr) == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
