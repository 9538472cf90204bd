package notifier

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/redis/go-redis/v9"

	"sealwatch/internal/decision"
)

// RedisPublisher 是 *redis.Client 上用到的那一部分。
type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Redis 通过 PUBLISH 把记录发到频道；订阅方自行过滤。
type Redis struct {
	client  RedisPublisher
	channel string
}

func NewRedis(client RedisPublisher, channel string) *Redis {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = "sealwatch:decisions"
	}
	return &Redis{client: client, channel: channel}
}

// NewRedisClient 按配置创建连接。
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
}

func (r *Redis) Name() string { return "redis" }

func (r *Redis) Publish(ctx context.Context, rec decision.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, body).Err()
}
