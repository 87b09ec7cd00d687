// internal/service/coupon/application/fulfiller_test.go
package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"couponhub/internal/service/coupon/domain"
)

func newTestFulfiller(t *testing.T, coupons ...*domain.Coupon) (*IssuanceFulfiller, *memoryGate, *memoryGuard, *memoryUserCouponRepo, *memoryHistoryRepo, *memoryNotifier) {
	t.Helper()
	gate := newMemoryGate()
	guard := newMemoryGuard()
	userRepo := newMemoryUserCouponRepo()
	historyRepo := &memoryHistoryRepo{}
	notifier := &memoryNotifier{}
	f := NewIssuanceFulfiller(
		newMemoryCouponRepo(coupons...),
		userRepo,
		historyRepo,
		gate,
		guard,
		notifier,
		noop.NewTracerProvider().Tracer("test"),
	)
	return f, gate, guard, userRepo, historyRepo, notifier
}

func issuanceEvent(couponID, userID int64) *domain.IssuanceRequested {
	return &domain.IssuanceRequested{
		CouponID:   couponID,
		UserID:     userID,
		AcceptedAt: time.Now().UTC(),
	}
}

func TestFulfill_IssuesCoupon(t *testing.T) {
	coupon := activeCoupon(1, 10)
	f, gate, _, userRepo, historyRepo, notifier := newTestFulfiller(t, coupon)
	ctx := context.Background()
	require.NoError(t, gate.PrepareIssuance(ctx, 1, 10))
	_, err := gate.TryIssueWithStoredQuantity(ctx, 1, 42)
	require.NoError(t, err)

	require.NoError(t, f.Fulfill(ctx, issuanceEvent(1, 42)))

	uc, err := userRepo.FindByUserAndCoupon(ctx, 42, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusIssued, uc.Status)
	assert.Len(t, historyRepo.rows, 1)
	assert.Equal(t, 1, notifier.sent())

	// 发放完成后从等待队列移除
	pending, err := gate.PendingCount(ctx, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 0, pending)
}

func TestFulfill_RedeliveryIsIdempotent(t *testing.T) {
	coupon := activeCoupon(1, 10)
	f, _, _, userRepo, _, notifier := newTestFulfiller(t, coupon)
	ctx := context.Background()

	event := issuanceEvent(1, 42)
	require.NoError(t, f.Fulfill(ctx, event))
	// 至少一次投递：同一条消息可能再来任意多次
	require.NoError(t, f.Fulfill(ctx, event))
	require.NoError(t, f.Fulfill(ctx, event))

	assert.Equal(t, 1, userRepo.count(), "重投递只能产生一条用户券")
	assert.Equal(t, 1, notifier.sent(), "重投递不能重复通知")
}

func TestFulfill_MissingCouponIsNonRetryable(t *testing.T) {
	f, _, _, _, _, _ := newTestFulfiller(t)

	err := f.Fulfill(context.Background(), issuanceEvent(404, 1))
	assert.ErrorIs(t, err, ErrNonRetryable)
}

func TestFulfill_WriteFailureReleasesMarker(t *testing.T) {
	coupon := activeCoupon(1, 10)
	f, _, guard, userRepo, _, _ := newTestFulfiller(t, coupon)
	ctx := context.Background()

	userRepo.failNext = errInjected
	err := f.Fulfill(ctx, issuanceEvent(1, 42))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNonRetryable, "写失败是瞬时错误，应当重试")

	// 标记已释放，重投递可以再次执行并成功
	acquired, err := guard.TryAcquire(ctx, fulfillmentKey(1, 42), time.Hour)
	require.NoError(t, err)
	require.True(t, acquired, "写失败后幂等标记必须被释放")
	require.NoError(t, guard.Release(ctx, fulfillmentKey(1, 42)))

	require.NoError(t, f.Fulfill(ctx, issuanceEvent(1, 42)))
	assert.Equal(t, 1, userRepo.count())
}

func TestFulfill_ExistingRowShortCircuits(t *testing.T) {
	// 幂等标记窗口过期后，数据库中的已有记录是最后防线
	coupon := activeCoupon(1, 10)
	f, _, _, userRepo, _, notifier := newTestFulfiller(t, coupon)
	ctx := context.Background()

	uc := domain.NewUserCoupon(42, 1, time.Now())
	require.NoError(t, userRepo.Create(ctx, uc))

	require.NoError(t, f.Fulfill(ctx, issuanceEvent(1, 42)))
	assert.Equal(t, 1, userRepo.count())
	assert.Equal(t, 0, notifier.sent(), "补偿路径不重复通知")
}
