package service

import (
	"context"
	"strconv"
	"time"

	"market_ingest/internal/models"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "ingest:watermark:"

// advanceScript sets field ARGV[1] of hash KEYS[1] to ARGV[2] only if that is
// later than the stored value.
var advanceScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if (not cur) or tonumber(cur) < tonumber(ARGV[2]) then
	redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
	return 1
end
return 0
`)

// Redis keeps one hash per pipeline: ticker -> unix milliseconds.
type Redis struct {
	client redis.UniversalClient
}

func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

func redisKey(pipeline string) string { return keyPrefix + pipeline }

func (r *Redis) Load(ctx context.Context, pipelines ...string) (map[models.WatermarkKey]time.Time, error) {
	marks := make(map[models.WatermarkKey]time.Time)
	for _, p := range pipelines {
		fields, err := r.client.HGetAll(ctx, redisKey(p)).Result()
		if err != nil {
			return nil, errors.Wrapf(err, "watermark.Redis.Load %s", p)
		}
		for ticker, v := range fields {
			ms, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				continue
			}
			marks[models.WatermarkKey{Pipeline: p, Ticker: ticker}] = time.UnixMilli(ms).UTC()
		}
	}
	return marks, nil
}

func (r *Redis) Save(ctx context.Context, marks map[models.WatermarkKey]time.Time) error {
	for k, at := range marks {
		err := advanceScript.Run(ctx, r.client, []string{redisKey(k.Pipeline)}, k.Ticker, at.UnixMilli()).Err()
		if err != nil {
			return errors.Wrapf(err, "watermark.Redis.Save %s/%s", k.Pipeline, k.Ticker)
		}
	}
	return nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
