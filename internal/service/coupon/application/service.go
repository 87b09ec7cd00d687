// internal/service/coupon/application/service.go
package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"couponhub/internal/pkg/logger"
	"couponhub/internal/service/coupon/domain"
	"couponhub/internal/service/coupon/domain/port"
)

const (
	termsCacheSize = 1024
	// 静态条款缓存的陈旧上限。缓存只服务读路径展示和校验，
	// 准入的上限判断永远走协调存储，参见 TryIssueWithStoredQuantity。
	termsCacheTTL = 30 * time.Second
)

type cachedCoupon struct {
	coupon    *domain.Coupon
	fetchedAt time.Time
}

// CouponApplicationService 编排发放核心的同步用例：
// 准入、状态查询、活动激活，以及面向订单域的核销和预校验。
type CouponApplicationService struct {
	couponRepo     domain.CouponRepository
	userCouponRepo domain.UserCouponRepository
	gate           port.IssuanceGate
	queue          port.IssuanceQueueProducer
	ruleEngine     port.RuleEngine
	tracer         trace.Tracer

	termsCache *lru.Cache
}

func NewCouponApplicationService(
	couponRepo domain.CouponRepository,
	userCouponRepo domain.UserCouponRepository,
	gate port.IssuanceGate,
	queue port.IssuanceQueueProducer,
	ruleEngine port.RuleEngine,
	tracer trace.Tracer,
) (*CouponApplicationService, error) {
	cache, err := lru.New(termsCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create coupon terms cache: %w", err)
	}
	return &CouponApplicationService{
		couponRepo:     couponRepo,
		userCouponRepo: userCouponRepo,
		gate:           gate,
		queue:          queue,
		ruleEngine:     ruleEngine,
		tracer:         tracer,
		termsCache:     cache,
	}, nil
}

// RequestIssuance 是准入入口：同步决定 QUEUED / ALREADY_ISSUED / SOLD_OUT。
// 整个路径只做有界延迟的原子操作，不做任何持久化写入。
func (s *CouponApplicationService) RequestIssuance(ctx context.Context, req *IssueCouponRequest) (*IssueCouponResponse, error) {
	ctx, span := s.tracer.Start(ctx, "app.RequestIssuance")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("coupon.id", req.CouponID),
		attribute.Int64("user.id", req.UserID),
	)

	// 静态条款走缓存：状态和有效期是展示级校验，允许有界陈旧
	coupon, err := s.loadCouponTerms(ctx, req.CouponID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if coupon.Status != domain.CouponStatusActive {
		return nil, domain.ErrCouponNotActive
	}
	if err := coupon.IsWithinValidity(time.Now()); err != nil {
		span.RecordError(err)
		return nil, err
	}

	// 权威上限判断：缓存值绝不参与，上限以激活时写入协调存储的为准
	result, err := s.gate.TryIssueWithStoredQuantity(ctx, req.CouponID, req.UserID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "admission gate failed")
		return nil, err
	}
	admissionTotal.WithLabelValues(strings.ToLower(result.String())).Inc()
	span.SetAttributes(attribute.String("admission.result", result.String()))

	if result == port.AdmissionQueued {
		event := &domain.IssuanceRequested{
			CouponID:   req.CouponID,
			UserID:     req.UserID,
			AcceptedAt: time.Now().UTC(),
			EventID:    uuid.NewString(),
		}
		if err := s.queue.Publish(ctx, event); err != nil {
			// 入队失败：同一操作内补偿撤销准入，用户重试时仍然干净。
			// 到这一步为止没有任何持久化写入，撤销是安全的。
			span.RecordError(err)
			span.SetStatus(codes.Error, "enqueue failed after admission")
			if rbErr := s.gate.RollbackAdmission(ctx, req.CouponID, req.UserID); rbErr != nil {
				logger.Ctx(ctx).Error().Err(rbErr).
					Int64("coupon_id", req.CouponID).Int64("user_id", req.UserID).
					Msg("CRITICAL: failed to rollback admission after enqueue failure")
			}
			return nil, fmt.Errorf("failed to enqueue issuance request: %w", err)
		}
		span.AddEvent("issuance request enqueued")
	}

	issued, pending := s.currentCounts(ctx, req.CouponID)
	return &IssueCouponResponse{
		Result:       result.String(),
		IssuedCount:  issued,
		PendingCount: pending,
		MaxQuantity:  coupon.MaxQuantity,
	}, nil
}

// IssuanceStatus 返回当前计数；userID 非零时附带该用户是否已请求过。
func (s *CouponApplicationService) IssuanceStatus(ctx context.Context, couponID, userID int64) (*IssuanceStatusResponse, error) {
	ctx, span := s.tracer.Start(ctx, "app.IssuanceStatus")
	defer span.End()

	if _, err := s.loadCouponTerms(ctx, couponID); err != nil {
		return nil, err
	}

	issued, err := s.gate.IssuedCount(ctx, couponID)
	if err != nil {
		return nil, err
	}
	pending, err := s.gate.PendingCount(ctx, couponID)
	if err != nil {
		return nil, err
	}

	resp := &IssuanceStatusResponse{CouponID: couponID, IssuedCount: issued, PendingCount: pending}
	if userID != 0 {
		has, err := s.gate.HasIssued(ctx, couponID, userID)
		if err != nil {
			return nil, err
		}
		resp.HasRequested = &has
	}
	return resp, nil
}

// ActivateIssuance 开启一张券的发放：把权威上限写入协调存储并清空
// 历史状态，然后把活动状态置为 ACTIVE。
func (s *CouponApplicationService) ActivateIssuance(ctx context.Context, couponID int64) error {
	ctx, span := s.tracer.Start(ctx, "app.ActivateIssuance")
	defer span.End()
	span.SetAttributes(attribute.Int64("coupon.id", couponID))

	coupon, err := s.couponRepo.FindByID(ctx, couponID)
	if err != nil {
		span.RecordError(err)
		return err
	}

	if err := s.gate.PrepareIssuance(ctx, couponID, coupon.MaxQuantity); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to prepare issuance state: %w", err)
	}
	if err := s.couponRepo.UpdateStatus(ctx, couponID, domain.CouponStatusActive); err != nil {
		span.RecordError(err)
		return err
	}
	s.termsCache.Remove(couponID)

	logger.Ctx(ctx).Info().Int64("coupon_id", couponID).Int64("max_quantity", coupon.MaxQuantity).
		Msg("coupon issuance activated")
	return nil
}

// ApplyCoupon 是订单域的核销入口：校验可用性，计算折扣，状态置为 USED。
func (s *CouponApplicationService) ApplyCoupon(ctx context.Context, req *ApplyCouponRequest) (*ApplyCouponResponse, error) {
	ctx, span := s.tracer.Start(ctx, "app.ApplyCoupon")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("user.id", req.UserID),
		attribute.Int64("user_coupon.id", req.UserCouponID),
		attribute.String("order.id", req.OrderID),
	)

	userCoupon, coupon, discount, err := s.validateUsage(ctx, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if err := userCoupon.Use(req.OrderID, time.Now()); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := s.userCouponRepo.Save(ctx, userCoupon); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to save coupon status: %w", err)
	}

	logger.Ctx(ctx).Info().
		Int64("user_coupon_id", userCoupon.ID).
		Str("order_id", req.OrderID).
		Int64("discount", discount).
		Str("coupon_name", coupon.Name).
		Msg("coupon applied to order")

	return &ApplyCouponResponse{
		DiscountAmount: discount,
		FinalAmount:    req.OrderAmount - discount,
	}, nil
}

// ValidateCouponUsage 是核销的只读预览：同样的校验和折扣计算，无状态变更。
func (s *CouponApplicationService) ValidateCouponUsage(ctx context.Context, req *ApplyCouponRequest) (*ApplyCouponResponse, error) {
	ctx, span := s.tracer.Start(ctx, "app.ValidateCouponUsage")
	defer span.End()

	_, _, discount, err := s.validateUsage(ctx, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return &ApplyCouponResponse{
		DiscountAmount: discount,
		FinalAmount:    req.OrderAmount - discount,
	}, nil
}

// validateUsage 汇集核销前的全部校验：归属、状态机、券级条款、附加规则。
func (s *CouponApplicationService) validateUsage(ctx context.Context, req *ApplyCouponRequest) (*domain.UserCoupon, *domain.Coupon, int64, error) {
	userCoupon, err := s.userCouponRepo.FindByID(ctx, req.UserCouponID)
	if err != nil {
		return nil, nil, 0, err
	}
	if userCoupon.UserID != req.UserID {
		return nil, nil, 0, domain.ErrNotCouponOwner
	}
	if !userCoupon.IsUsable() {
		if userCoupon.Status == domain.StatusUsed {
			return nil, nil, 0, domain.ErrAlreadyUsedCoupon
		}
		return nil, nil, 0, domain.ErrCouponNotUsable
	}

	coupon, err := s.loadCouponTerms(ctx, userCoupon.CouponID)
	if err != nil {
		return nil, nil, 0, err
	}
	if err := coupon.ValidateUsable(req.OrderAmount, time.Now()); err != nil {
		return nil, nil, 0, err
	}

	eligible, err := s.ruleEngine.Evaluate(coupon.EligibilityRule, map[string]interface{}{
		"user_id":      req.UserID,
		"order_amount": req.OrderAmount,
		"item_count":   req.ItemCount,
	})
	if err != nil {
		return nil, nil, 0, err
	}
	if !eligible {
		return nil, nil, 0, domain.ErrNotEligible
	}

	return userCoupon, coupon, coupon.CalculateDiscount(req.OrderAmount), nil
}

// loadCouponTerms 读取静态条款，带 LRU+TTL 缓存。
func (s *CouponApplicationService) loadCouponTerms(ctx context.Context, couponID int64) (*domain.Coupon, error) {
	if v, ok := s.termsCache.Get(couponID); ok {
		entry := v.(cachedCoupon)
		if time.Since(entry.fetchedAt) < termsCacheTTL {
			return entry.coupon, nil
		}
	}
	coupon, err := s.couponRepo.FindByID(ctx, couponID)
	if err != nil {
		return nil, err
	}
	s.termsCache.Add(couponID, cachedCoupon{coupon: coupon, fetchedAt: time.Now()})
	return coupon, nil
}

// currentCounts 读取展示用计数，失败时降级为 0 而不是让准入结果丢失。
func (s *CouponApplicationService) currentCounts(ctx context.Context, couponID int64) (int64, int64) {
	issued, err := s.gate.IssuedCount(ctx, couponID)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Int64("coupon_id", couponID).Msg("failed to read issued count")
	}
	pending, err := s.gate.PendingCount(ctx, couponID)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Int64("coupon_id", couponID).Msg("failed to read pending count")
	}
	return issued, pending
}
