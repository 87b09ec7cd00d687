// internal/service/coupon/application/fulfiller.go
package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"couponhub/internal/pkg/logger"
	"couponhub/internal/service/coupon/domain"
	"couponhub/internal/service/coupon/domain/port"
)

// ErrNonRetryable 标记不应重投递的失败：输入本身不合法，
// 重试多少次结果都一样，应当直接送入死信队列。
var ErrNonRetryable = errors.New("non-retryable fulfillment failure")

// 幂等标记的保留时长。消费者位点最多回溯到这个窗口之前，
// 窗口外的重复由数据库唯一约束兜底。
const idempotencyTTL = 48 * time.Hour

// IssuanceFulfiller 消费发放队列，把"已接受"的请求固化为用户券。
// 队列是至少一次投递，所有副作用都必须在重投递下幂等。
type IssuanceFulfiller struct {
	couponRepo     domain.CouponRepository
	userCouponRepo domain.UserCouponRepository
	historyRepo    domain.IssuanceHistoryRepository
	gate           port.IssuanceGate
	guard          port.IdempotencyGuard
	notifier       port.NotificationProducer
	tracer         trace.Tracer
}

func NewIssuanceFulfiller(
	couponRepo domain.CouponRepository,
	userCouponRepo domain.UserCouponRepository,
	historyRepo domain.IssuanceHistoryRepository,
	gate port.IssuanceGate,
	guard port.IdempotencyGuard,
	notifier port.NotificationProducer,
	tracer trace.Tracer,
) *IssuanceFulfiller {
	return &IssuanceFulfiller{
		couponRepo:     couponRepo,
		userCouponRepo: userCouponRepo,
		historyRepo:    historyRepo,
		gate:           gate,
		guard:          guard,
		notifier:       notifier,
		tracer:         tracer,
	}
}

func fulfillmentKey(couponID, userID int64) string {
	return fmt.Sprintf("coupon:issued:%d:%d", couponID, userID)
}

// Fulfill 处理一条发放请求。返回 nil 表示可以提交位点；
// 返回 ErrNonRetryable（或其包装）表示应送入死信队列后提交；
// 其余错误视为瞬时失败，由消费循环决定重试。
func (f *IssuanceFulfiller) Fulfill(ctx context.Context, event *domain.IssuanceRequested) error {
	ctx, span := f.tracer.Start(ctx, "app.Fulfill")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("coupon.id", event.CouponID),
		attribute.Int64("user.id", event.UserID),
	)

	coupon, err := f.couponRepo.FindByID(ctx, event.CouponID)
	if err != nil {
		if errors.Is(err, domain.ErrCouponNotFound) {
			// 券定义已不存在，重试无意义
			span.SetStatus(codes.Error, "coupon definition missing")
			fulfillmentTotal.WithLabelValues("poison").Inc()
			return fmt.Errorf("%w: coupon %d not found", ErrNonRetryable, event.CouponID)
		}
		return fmt.Errorf("failed to load coupon %d: %w", event.CouponID, err)
	}

	// 幂等判定：同一 (couponId, userId) 只允许一次写入者通过。
	// 键按业务身份构造而不是按消息位点，重发布的等价消息也会被挡住。
	key := fulfillmentKey(event.CouponID, event.UserID)
	acquired, err := f.guard.TryAcquire(ctx, key, idempotencyTTL)
	if err != nil {
		return fmt.Errorf("idempotency guard failed: %w", err)
	}
	if !acquired {
		span.AddEvent("duplicate delivery suppressed")
		fulfillmentTotal.WithLabelValues("duplicate").Inc()
		logger.Ctx(ctx).Debug().
			Int64("coupon_id", event.CouponID).Int64("user_id", event.UserID).
			Msg("duplicate fulfillment suppressed by idempotency guard")
		return nil
	}

	if err := f.issue(ctx, coupon, event); err != nil {
		// 标记先于写入，写入失败必须释放标记，否则重投递会被误判为重复
		if relErr := f.guard.Release(ctx, key); relErr != nil {
			logger.Ctx(ctx).Error().Err(relErr).Str("key", key).
				Msg("CRITICAL: failed to release idempotency marker after write failure")
		}
		span.RecordError(err)
		fulfillmentTotal.WithLabelValues("error").Inc()
		return err
	}

	fulfillmentTotal.WithLabelValues("issued").Inc()
	return nil
}

func (f *IssuanceFulfiller) issue(ctx context.Context, coupon *domain.Coupon, event *domain.IssuanceRequested) error {
	// 标记窗口过期后的最后防线：数据库里已有这条券就直接收敛
	existing, err := f.userCouponRepo.FindByUserAndCoupon(ctx, event.UserID, event.CouponID)
	if err != nil && !errors.Is(err, domain.ErrUserCouponNotFound) {
		return fmt.Errorf("failed to check existing issuance: %w", err)
	}
	if existing != nil {
		logger.Ctx(ctx).Debug().
			Int64("coupon_id", event.CouponID).Int64("user_id", event.UserID).
			Msg("user coupon already persisted, skipping")
		return nil
	}

	uc := domain.NewUserCoupon(event.UserID, event.CouponID, time.Now())
	if err := f.userCouponRepo.Create(ctx, uc); err != nil {
		if errors.Is(err, domain.ErrDuplicateIssuance) {
			// 并发写入者赢了，结果等价
			return nil
		}
		return fmt.Errorf("failed to persist user coupon: %w", err)
	}

	// 流水是尽力而为：丢一条流水不值得让整次发放重来
	if err := f.historyRepo.Record(ctx, &domain.IssuanceHistory{
		CouponID: event.CouponID,
		UserID:   event.UserID,
		IssuedAt: uc.IssuedAt,
	}); err != nil {
		logger.Ctx(ctx).Warn().Err(err).
			Int64("coupon_id", event.CouponID).Int64("user_id", event.UserID).
			Msg("failed to record issuance history")
	}

	if err := f.gate.CompleteFulfillment(ctx, event.CouponID, event.UserID); err != nil {
		logger.Ctx(ctx).Warn().Err(err).
			Int64("coupon_id", event.CouponID).Int64("user_id", event.UserID).
			Msg("failed to dequeue user after fulfillment")
	}

	if err := f.notifier.SendCouponIssued(ctx, &domain.NotificationEvent{
		UserID:     event.UserID,
		CouponID:   event.CouponID,
		CouponName: coupon.Name,
		EventType:  domain.EventTypeCouponIssued,
	}); err != nil {
		// 通知失败不回滚发放，用户下次查询列表依然能看到券
		logger.Ctx(ctx).Warn().Err(err).
			Int64("user_id", event.UserID).
			Msg("failed to send issuance notification")
	}

	logger.Ctx(ctx).Info().
		Int64("coupon_id", event.CouponID).Int64("user_id", event.UserID).
		Int64("user_coupon_id", uc.ID).
		Msg("coupon issued")
	return nil
}
