package fact

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisMirror copies appended facts onto a Redis stream per session.
type RedisMirror struct {
	client *redis.Client
	prefix string
	maxLen int64
}

// NewRedisMirror returns a mirror writing to "<prefix>:<session>" streams,
// trimmed to roughly maxLen entries (0 keeps everything).
func NewRedisMirror(client *redis.Client, prefix string, maxLen int64) *RedisMirror {
	if prefix == "" {
		prefix = "castaway:facts"
	}
	return &RedisMirror{
		client: client,
		prefix: prefix,
		maxLen: maxLen,
	}
}

// StreamKey returns the stream a session's facts are mirrored to.
func (m *RedisMirror) StreamKey(sessionID string) string {
	return m.prefix + ":" + sessionID
}

// Mirror appends facts to the session stream in one pipeline.
func (m *RedisMirror) Mirror(ctx context.Context, sessionID string, facts []Fact) error {
	if len(facts) == 0 {
		return nil
	}

	key := m.StreamKey(sessionID)
	pipe := m.client.Pipeline()
	for _, f := range facts {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: key,
			MaxLen: m.maxLen,
			Approx: m.maxLen > 0,
			Values: map[string]any{
				"seq":       f.Sequence,
				"type":      string(f.Type),
				"actor":     f.ActorID,
				"timestamp": f.Timestamp.UnixMilli(),
				"payload":   string(f.Payload),
			},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mirror facts to %s: %w", key, err)
	}
	return nil
}
