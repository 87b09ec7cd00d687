// internal/service/coupon/application/expiry.go
package application

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"couponhub/internal/pkg/lock"
	"couponhub/internal/pkg/logger"
	"couponhub/internal/service/coupon/domain"
)

const (
	expirySweepLockKey = "coupon:expiry-sweep"
	expirySweepWait    = 3 * time.Second
	expirySweepLease   = 60 * time.Second
	expiryBatchSize    = 500
	expiryConcurrency  = 8
)

// ExpiryService 周期性地把有效期已过的用户券置为 EXPIRED。
// 多实例部署下用分布式互斥保证同一时刻只有一个实例在扫描。
type ExpiryService struct {
	userCouponRepo domain.UserCouponRepository
	mutex          lock.Mutex
	tracer         trace.Tracer
}

func NewExpiryService(userCouponRepo domain.UserCouponRepository, mutex lock.Mutex, tracer trace.Tracer) *ExpiryService {
	return &ExpiryService{userCouponRepo: userCouponRepo, mutex: mutex, tracer: tracer}
}

// RunOnce 执行一轮扫描。抢不到锁说明别的实例正在扫，直接跳过，
// 这不是错误。
func (s *ExpiryService) RunOnce(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "app.ExpirySweep")
	defer span.End()

	err := lock.WithLock(ctx, s.mutex, expirySweepLockKey, expirySweepWait, expirySweepLease, s.sweep)
	if errors.Is(err, lock.ErrNotAcquired) {
		logger.Ctx(ctx).Debug().Msg("expiry sweep already running elsewhere, skipping")
		return nil
	}
	return err
}

func (s *ExpiryService) sweep(ctx context.Context) error {
	now := time.Now()
	var expired atomic.Int64

	for {
		batch, err := s.userCouponRepo.FindExpiredCandidates(ctx, now, expiryBatchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			break
		}

		// 批内并发写回，候选行互不相同
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(expiryConcurrency)
		for _, uc := range batch {
			uc := uc
			g.Go(func() error {
				if err := uc.Expire(now); err != nil {
					// 候选查询和状态变更之间券被核销了，放过它
					logger.Ctx(gctx).Debug().Err(err).Int64("user_coupon_id", uc.ID).
						Msg("skipping expiry candidate")
					return nil
				}
				if err := s.userCouponRepo.Save(gctx, uc); err != nil {
					// 候选读取后被并发核销：状态守卫拒绝覆盖，放过它
					if errors.Is(err, domain.ErrAlreadyUsedCoupon) || errors.Is(err, domain.ErrCouponNotUsable) {
						logger.Ctx(gctx).Debug().Err(err).Int64("user_coupon_id", uc.ID).
							Msg("expiry candidate changed state concurrently, skipping")
						return nil
					}
					return err
				}
				expiredSweepTotal.Inc()
				expired.Add(1)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		if len(batch) < expiryBatchSize {
			break
		}
	}

	if n := expired.Load(); n > 0 {
		logger.Ctx(ctx).Info().Int64("expired", n).Msg("expiry sweep completed")
	}
	return nil
}
