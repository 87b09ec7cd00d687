// cmd/issuance-worker/main.go
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
	"couponhub/internal/service/coupon/interfaces"

	kafkago "github.com/segmentio/kafka-go"
)

const serviceName = "issuance-worker"

// issuance-worker 消费发放队列，把已接受的请求固化为用户券。
// 它同时消费死信队列做结构化留痕。HTTP 端口只暴露 /metrics 和 /healthz。
func main() {
	var (
		redisClient        *redis.Client
		notificationWriter *kafkago.Writer
		dltWriter          *kafkago.Writer
		consumer           *interfaces.IssuanceConsumerAdapter
		dltConsumer        *interfaces.DltConsumerAdapter
	)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        8086,
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

			notificationWriter = mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, cfg.App.NotificationTopic)
			dltWriter = mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, cfg.App.IssuanceDLTTopic)

			fulfiller := application.NewIssuanceFulfiller(
				infrastructure.NewGormCouponRepository(db),
				infrastructure.NewGormUserCouponRepository(db),
				infrastructure.NewGormIssuanceHistoryRepository(db),
				gate,
				adapter.NewIdempotencyRedisAdapter(redisClient),
				adapter.NewNotificationKafkaAdapter(notificationWriter),
				otel.Tracer(serviceName),
			)

			reader := mq.NewKafkaReader(cfg.Infra.Kafka.Brokers, cfg.App.IssuanceTopic, cfg.App.ConsumerGroup)
			consumer = interfaces.NewIssuanceConsumerAdapter(reader, fulfiller, dltWriter)
			if err := consumer.Start(ctx); err != nil {
				logger.Logger().Fatal().Err(err).Msg("failed to start issuance consumer")
			}

			dltReader := mq.NewKafkaReader(cfg.Infra.Kafka.Brokers, cfg.App.IssuanceDLTTopic, cfg.App.ConsumerGroup+"-dlt")
			dltConsumer = interfaces.NewDltConsumerAdapter(dltReader)
			if err := dltConsumer.Start(ctx); err != nil {
				logger.Logger().Fatal().Err(err).Msg("failed to start DLT consumer")
			}
		},
		OnShutdown: func(ctx context.Context) {
			if consumer != nil {
				consumer.Stop(ctx)
			}
			if dltConsumer != nil {
				dltConsumer.Stop(ctx)
			}
			if notificationWriter != nil {
				notificationWriter.Close()
			}
			if dltWriter != nil {
				dltWriter.Close()
			}
			if redisClient != nil {
				redisClient.Close()
			}
		},
	})
}
