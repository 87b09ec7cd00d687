// internal/service/coupon/interfaces/issuance_consumer.go
package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"couponhub/internal/pkg/logger"
	"couponhub/internal/pkg/mq"
	"couponhub/internal/service/coupon/application"
	"couponhub/internal/service/coupon/domain"
)

const (
	// 瞬时失败在进程内的重试次数。超过之后消息进死信队列，
	// 消费循环继续前进，不让一条坏消息阻塞整个分区。
	maxProcessAttempts = 3
	retryBackoffBase   = 200 * time.Millisecond
)

// IssuanceConsumerAdapter 是一个驱动适配器：监听发放队列并驱动 Fulfiller。
// 队列按 couponID 分区，同一张券的请求由同一个消费者按序处理。
type IssuanceConsumerAdapter struct {
	reader    *kafka.Reader
	fulfiller *application.IssuanceFulfiller
	dltWriter *kafka.Writer
	wg        sync.WaitGroup
	stopped   atomic.Bool
}

func NewIssuanceConsumerAdapter(reader *kafka.Reader, fulfiller *application.IssuanceFulfiller, dltWriter *kafka.Writer) *IssuanceConsumerAdapter {
	return &IssuanceConsumerAdapter{
		reader:    reader,
		fulfiller: fulfiller,
		dltWriter: dltWriter,
	}
}

// Start 开始监听发放队列。这是一个长期运行的方法。
func (a *IssuanceConsumerAdapter) Start(ctx context.Context) error {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Ctx(ctx).Info().Str("topic", a.reader.Config().Topic).Msg("✅ Issuance Consumer Adapter started.")
		for {
			if a.stopped.Load() {
				return
			}
			// 使用 FetchMessage 而不是 ReadMessage：位点提交由我们显式控制
			msg, err := a.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					logger.Ctx(ctx).Info().Msg("🛑 Issuance Consumer Adapter shutting down.")
					return
				}
				logger.Ctx(ctx).Error().Err(err).Msg("could not fetch message, retrying")
				time.Sleep(time.Second)
				continue
			}

			propagator := otel.GetTextMapPropagator()
			headerCarrier := mq.KafkaHeaderCarrier(msg.Headers)
			msgCtx := propagator.Extract(ctx, &headerCarrier)

			if err := a.processWithRetry(msgCtx, msg); err != nil {
				if !shouldDeadLetter(err) {
					// 停机打断的健康消息不进死信。位点不提交，
					// 重启后重新投递
					continue
				}
				// 重试已耗尽或不可重试：移交死信队列后照常提交，
				// 保证分区继续前进
				a.sendToDeadLetter(msgCtx, msg, err)
			}

			if err := a.reader.CommitMessages(ctx, msg); err != nil {
				logger.Ctx(ctx).Error().Err(err).Msg("Failed to commit messages")
			}
		}
	}()
	return nil
}

// Stop 优雅地停止消费者。
func (a *IssuanceConsumerAdapter) Stop(ctx context.Context) {
	a.stopped.Store(true)
	a.reader.Close()
	a.wg.Wait()
	logger.Ctx(ctx).Info().Msg("✅ Issuance Consumer Adapter stopped.")
}

// processWithRetry 反序列化并处理一条消息，瞬时失败做有界退避重试。
func (a *IssuanceConsumerAdapter) processWithRetry(ctx context.Context, msg kafka.Message) error {
	var event domain.IssuanceRequested
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		// 坏格式的消息重试没有意义
		return errors.Join(application.ErrNonRetryable, err)
	}

	var lastErr error
	for attempt := 0; attempt < maxProcessAttempts; attempt++ {
		lastErr = a.fulfiller.Fulfill(ctx, &event)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, application.ErrNonRetryable) {
			return lastErr
		}
		logger.Ctx(ctx).Warn().Err(lastErr).
			Int("attempt", attempt+1).
			Int64("coupon_id", event.CouponID).Int64("user_id", event.UserID).
			Msg("fulfillment failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryBackoffBase * time.Duration(attempt+1)):
		}
	}
	return lastErr
}

// shouldDeadLetter 区分真正的处理失败和停机打断：
// 上下文取消/超时不说明消息本身有问题，不配进死信队列。
func shouldDeadLetter(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (a *IssuanceConsumerAdapter) sendToDeadLetter(ctx context.Context, msg kafka.Message, cause error) {
	dlt := mq.DeadLetterMessage(msg, maxProcessAttempts, cause)
	mq.InjectTraceContext(ctx, &dlt.Headers)

	if err := a.dltWriter.WriteMessages(ctx, dlt); err != nil {
		// 死信都写不进去只能靠日志留痕了
		logger.Ctx(ctx).Error().Err(err).
			Str("key", string(msg.Key)).
			Str("value", string(msg.Value)).
			Msg("🚨 CRITICAL: failed to forward message to dead letter topic")
		return
	}

	logger.Ctx(ctx).Error().Err(cause).
		Str("key", string(msg.Key)).
		Int64("offset", msg.Offset).
		Msg("message forwarded to dead letter topic")
}
