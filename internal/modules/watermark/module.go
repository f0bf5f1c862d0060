package watermark

import (
	"context"
	"time"

	"market_ingest/internal/modules/config"
	"market_ingest/internal/modules/watermark/service"
	"market_ingest/pkg/db"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func Module() fx.Option {
	return fx.Module("watermark",
		fx.Provide(NewStore),
	)
}

// NewStore picks the backend named by watermark.backend.
func NewStore(lc fx.Lifecycle, cfg *config.Config, pg *db.PgTxManager, gdb *gorm.DB, log *zap.Logger) (service.Store, error) {
	switch cfg.Watermark.Backend {
	case config.WatermarkPostgres:
		return service.NewPg(pg), nil
	case config.WatermarkSQLite:
		return service.NewSQLite(gdb)
	case config.WatermarkNone:
		log.Info("watermarks are not persisted, every run starts from the lookback")
		return service.NewMemory(), nil
	case config.WatermarkRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Watermark.Redis.Addr,
			Password: cfg.Watermark.Redis.Password,
			DB:       cfg.Watermark.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, errors.Wrapf(err, "ping redis %s", cfg.Watermark.Redis.Addr)
		}
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error { return client.Close() },
		})
		return service.NewRedis(client), nil
	}
	return nil, errors.Errorf("unknown watermark backend %q", cfg.Watermark.Backend)
}
