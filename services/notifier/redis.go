package notifier

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"strconv"

	werrors "sjsage522/noticewatcher/pkg/errors"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures a RedisNotifier
type RedisConfig struct {
	Addr string
	DB   int
	// StreamPrefix names the streams; with StreamCount 3 they are
	// prefix:0 .. prefix:2
	StreamPrefix    string
	StreamCount     int
	StreamMaxLength int
}

// RedisNotifier publishes notifications to Redis streams for downstream consumers
type RedisNotifier struct {
	client          *redis.Client
	streamPrefix    string
	streamCount     int
	streamMaxLength int
}

// NewRedisNotifier creates a new Redis notifier
func NewRedisNotifier(cfg RedisConfig) *RedisNotifier {
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
		DB:   cfg.DB,
	})

	if cfg.StreamPrefix == "" {
		cfg.StreamPrefix = "notices"
	}
	if cfg.StreamCount <= 0 {
		cfg.StreamCount = 1
	}

	return &RedisNotifier{
		client:          client,
		streamPrefix:    cfg.StreamPrefix,
		streamCount:     cfg.StreamCount,
		streamMaxLength: cfg.StreamMaxLength,
	}
}

// Name returns "redis"
func (n *RedisNotifier) Name() string { return "redis" }

// Ping checks the connection
func (n *RedisNotifier) Ping(ctx context.Context) error {
	return n.client.Ping(ctx).Err()
}

// StreamFor returns the stream a source publishes to. A source always maps
// to the same stream so consumers see its notices in order.
func (n *RedisNotifier) StreamFor(sourceID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sourceID))
	return n.streamPrefix + ":" + strconv.Itoa(int(h.Sum32()%uint32(n.streamCount)))
}

// Send appends msg to the source's stream
func (n *RedisNotifier) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return werrors.NewSend(msg.SourceID, "encode message", err)
	}

	err = n.client.XAdd(ctx, &redis.XAddArgs{
		Stream: n.StreamFor(msg.SourceID),
		Values: map[string]interface{}{
			"id":      msg.ID,
			"source":  msg.SourceID,
			"title":   msg.Title,
			"link":    msg.Link,
			"payload": string(payload),
		},
	}).Err()
	if err != nil {
		return werrors.NewSend(msg.SourceID, "redis XADD failed", err)
	}
	return nil
}

// TrimStreams trims all streams to the configured maximum length
func (n *RedisNotifier) TrimStreams(ctx context.Context) error {
	if n.streamMaxLength <= 0 {
		return nil
	}

	for i := 0; i < n.streamCount; i++ {
		stream := n.streamPrefix + ":" + strconv.Itoa(i)
		if err := n.client.XTrimMaxLen(ctx, stream, int64(n.streamMaxLength)).Err(); err != nil {
			return err
		}
	}

	return nil
}

// Close closes the Redis connection
func (n *RedisNotifier) Close() error {
	return n.client.Close()
}
