// cmd/coupon-scheduler/main.go
package main

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"

	"couponhub/internal/pkg/bootstrap"
	"couponhub/internal/pkg/lock"
	"couponhub/internal/pkg/logger"
	"couponhub/internal/pkg/redis"
	"couponhub/internal/service/coupon/application"
	"couponhub/internal/service/coupon/infrastructure"
)

const (
	serviceName   = "coupon-scheduler"
	sweepInterval = time.Minute
)

// coupon-scheduler 周期性执行过期扫描。多实例部署是安全的：
// 每一轮扫描都在分布式互斥锁的保护下进行。
func main() {
	var (
		redisClient *redis.Client
		cancelSweep context.CancelFunc
	)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        8087,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			ctx, cancel := context.WithCancel(context.Background())
			cancelSweep = cancel
			cfg := appCtx.Config

			db, err := infrastructure.NewMysqlDB(cfg)
			if err != nil {
				logger.Logger().Fatal().Err(err).Msg("failed to connect mysql")
			}

			mutex, client, err := newMutex(ctx, cfg)
			if err != nil {
				logger.Logger().Fatal().Err(err).Msg("failed to init distributed mutex")
			}
			redisClient = client

			expiry := application.NewExpiryService(
				infrastructure.NewGormUserCouponRepository(db),
				mutex,
				otel.Tracer(serviceName),
			)

			go runSweepLoop(ctx, expiry)
		},
		OnShutdown: func(ctx context.Context) {
			if cancelSweep != nil {
				cancelSweep()
			}
			if redisClient != nil {
				redisClient.Close()
			}
		},
	})
}

// newMutex 根据配置选择互斥锁后端。Redis 是默认，
// Zookeeper 适合已有 ZK 集群且要求会话级租约的部署。
func newMutex(ctx context.Context, cfg *bootstrap.Config) (lock.Mutex, *redis.Client, error) {
	if cfg.App.LockBackend == "zookeeper" {
		m, err := lock.NewZookeeperMutex(cfg.Infra.Zookeeper.Servers, 10*time.Second)
		return m, nil, err
	}
	client, err := redis.NewClient(ctx, cfg.Infra.Redis.Addr)
	if err != nil {
		return nil, nil, err
	}
	m, err := lock.NewRedisMutex(client)
	if err != nil {
		return nil, nil, err
	}
	return m, client, nil
}

func runSweepLoop(ctx context.Context, expiry *application.ExpiryService) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := expiry.RunOnce(ctx); err != nil {
				logger.Ctx(ctx).Error().Err(err).Msg("expiry sweep failed")
			}
		}
	}
}
