package broadcast

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultChannelPrefix = "gmaps:events:"

var _ Publisher = (*RedisPublisher)(nil)

// RedisPublisher forwards events to a pub/sub channel per job so that
// processes other than the one running the job can stream them.
type RedisPublisher struct {
	client redis.UniversalClient
	prefix string
	log    *zap.Logger
}

func NewRedisPublisher(client redis.UniversalClient, prefix string, log *zap.Logger) *RedisPublisher {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}

	if log == nil {
		log = zap.NewNop()
	}

	return &RedisPublisher{client: client, prefix: prefix, log: log}
}

func (r *RedisPublisher) Publish(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		r.log.Warn("failed to encode event", zap.Error(err))
		return
	}

	if err := r.client.Publish(ctx, r.prefix+ev.JobID, payload).Err(); err != nil {
		r.log.Warn("failed to publish event",
			zap.String("job_id", ev.JobID),
			zap.String("event_type", string(ev.Type)),
			zap.Error(err),
		)
	}
}

// Relay copies events published on redis into a local Publisher, usually a
// Broker serving HTTP subscribers. It blocks until ctx is done.
func Relay(ctx context.Context, client redis.UniversalClient, prefix string, dst Publisher, log *zap.Logger) error {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}

	if log == nil {
		log = zap.NewNop()
	}

	sub := client.PSubscribe(ctx, prefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Warn("dropping malformed event", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}

			if ev.JobID == "" {
				ev.JobID = strings.TrimPrefix(msg.Channel, prefix)
			}

			dst.Publish(ctx, ev)
		}
	}
}
