// cmd/coupon-service/main.go
package main

import (
	"context"

	"go.opentelemetry.io/otel"

	"couponhub/internal/pkg/bootstrap"
	"couponhub/internal/pkg/logger"
	"couponhub/internal/pkg/mq"
	"couponhub/internal/pkg/redis"
	"couponhub/internal/service/coupon/application"
	"couponhub/internal/service/coupon/infrastructure"
	"couponhub/internal/service/coupon/infrastructure/adapter"
	"couponhub/internal/service/coupon/infrastructure/rule"
	"couponhub/internal/service/coupon/interfaces"

	kafkago "github.com/segmentio/kafka-go"
)

const serviceName = "coupon-service"

// main 是组装根：创建并组装所有依赖项，然后启动应用。
func main() {
	var (
		redisClient *redis.Client
		queueWriter *kafkago.Writer
	)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        8085,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			ctx := context.Background()
			cfg := appCtx.Config

			var err error
			redisClient, err = redis.NewClient(ctx, cfg.Infra.Redis.Addr)
			if err != nil {
				logger.Logger().Fatal().Err(err).Msg("failed to connect redis")
			}

			db, err := infrastructure.NewMysqlDB(cfg)
			if err != nil {
				logger.Logger().Fatal().Err(err).Msg("failed to connect mysql")
			}

			gate, err := adapter.NewIssuanceRedisAdapter(redisClient)
			if err != nil {
				logger.Logger().Fatal().Err(err).Msg("failed to init issuance gate")
			}

			queueWriter = mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, cfg.App.IssuanceTopic)
			queue := adapter.NewIssuanceQueueKafkaAdapter(queueWriter)

			ruleEngine, err := rule.NewCELRuleEngineAdapter()
			if err != nil {
				logger.Logger().Fatal().Err(err).Msg("failed to init rule engine")
			}

			svc, err := application.NewCouponApplicationService(
				infrastructure.NewGormCouponRepository(db),
				infrastructure.NewGormUserCouponRepository(db),
				gate,
				queue,
				ruleEngine,
				otel.Tracer(serviceName),
			)
			if err != nil {
				logger.Logger().Fatal().Err(err).Msg("failed to init application service")
			}

			interfaces.NewCouponHandler(svc).RegisterRoutes(appCtx.Mux)
		},
		OnShutdown: func(ctx context.Context) {
			if queueWriter != nil {
				queueWriter.Close()
			}
			if redisClient != nil {
				redisClient.Close()
			}
		},
	})
}
