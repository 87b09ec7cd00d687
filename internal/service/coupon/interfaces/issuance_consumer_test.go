// internal/service/coupon/interfaces/issuance_consumer_test.go
package interfaces

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"couponhub/internal/service/coupon/application"
	"couponhub/internal/service/coupon/domain"
	"couponhub/internal/service/coupon/domain/port"
)

type stubCouponRepo struct{ coupon *domain.Coupon }

func (r *stubCouponRepo) FindByID(context.Context, int64) (*domain.Coupon, error) {
	if r.coupon == nil {
		return nil, domain.ErrCouponNotFound
	}
	return r.coupon, nil
}
func (r *stubCouponRepo) UpdateStatus(context.Context, int64, domain.CouponStatus) error { return nil }

type stubUserCouponRepo struct {
	createErr func() error
}

func (r *stubUserCouponRepo) Create(context.Context, *domain.UserCoupon) error {
	if r.createErr != nil {
		return r.createErr()
	}
	return nil
}
func (r *stubUserCouponRepo) FindByID(context.Context, int64) (*domain.UserCoupon, error) {
	return nil, domain.ErrUserCouponNotFound
}
func (r *stubUserCouponRepo) FindByUserAndCoupon(context.Context, int64, int64) (*domain.UserCoupon, error) {
	return nil, domain.ErrUserCouponNotFound
}
func (r *stubUserCouponRepo) Save(context.Context, *domain.UserCoupon) error { return nil }
func (r *stubUserCouponRepo) FindExpiredCandidates(context.Context, time.Time, int) ([]*domain.UserCoupon, error) {
	return nil, nil
}

type stubHistoryRepo struct{}

func (stubHistoryRepo) Record(context.Context, *domain.IssuanceHistory) error { return nil }

type stubGate struct{}

func (stubGate) TryIssue(context.Context, int64, int64, int64) (port.AdmissionResult, error) {
	return port.AdmissionQueued, nil
}
func (stubGate) TryIssueWithStoredQuantity(context.Context, int64, int64) (port.AdmissionResult, error) {
	return port.AdmissionQueued, nil
}
func (stubGate) PrepareIssuance(context.Context, int64, int64) error     { return nil }
func (stubGate) CompleteFulfillment(context.Context, int64, int64) error { return nil }
func (stubGate) RollbackAdmission(context.Context, int64, int64) error   { return nil }
func (stubGate) IssuedCount(context.Context, int64) (int64, error)       { return 0, nil }
func (stubGate) PendingCount(context.Context, int64) (int64, error)      { return 0, nil }
func (stubGate) HasIssued(context.Context, int64, int64) (bool, error)   { return false, nil }

type stubGuard struct{}

func (stubGuard) TryAcquire(context.Context, string, time.Duration) (bool, error) { return true, nil }
func (stubGuard) Release(context.Context, string) error                           { return nil }

type stubNotifier struct{}

func (stubNotifier) SendCouponIssued(context.Context, *domain.NotificationEvent) error { return nil }

func newTestAdapter(userRepo *stubUserCouponRepo) *IssuanceConsumerAdapter {
	fulfiller := application.NewIssuanceFulfiller(
		&stubCouponRepo{coupon: &domain.Coupon{ID: 1, Name: "测试券", Status: domain.CouponStatusActive}},
		userRepo,
		stubHistoryRepo{},
		stubGate{},
		stubGuard{},
		stubNotifier{},
		noop.NewTracerProvider().Tracer("test"),
	)
	return NewIssuanceConsumerAdapter(nil, fulfiller, nil)
}

func TestShouldDeadLetter(t *testing.T) {
	assert.False(t, shouldDeadLetter(context.Canceled))
	assert.False(t, shouldDeadLetter(context.DeadlineExceeded))
	assert.False(t, shouldDeadLetter(errors.Join(errors.New("fetch aborted"), context.Canceled)))

	assert.True(t, shouldDeadLetter(application.ErrNonRetryable))
	assert.True(t, shouldDeadLetter(errors.New("store unavailable")))
}

func TestProcessWithRetry_ShutdownDoesNotDeadLetter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	// 第一次写入失败的同时停机：健康消息被打断，不应被判为死信
	userRepo := &stubUserCouponRepo{createErr: func() error {
		cancel()
		return errors.New("store unavailable")
	}}
	adapter := newTestAdapter(userRepo)

	msg := kafka.Message{Value: []byte(`{"couponId":1,"userId":42,"acceptedAt":"2026-08-28T00:00:00Z"}`)}
	err := adapter.processWithRetry(ctx, msg)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, shouldDeadLetter(err), "停机打断的消息必须留待重投递")
}

func TestProcessWithRetry_MalformedPayloadIsDeadLettered(t *testing.T) {
	adapter := newTestAdapter(&stubUserCouponRepo{})

	err := adapter.processWithRetry(context.Background(), kafka.Message{Value: []byte("not-json")})
	require.Error(t, err)
	assert.ErrorIs(t, err, application.ErrNonRetryable)
	assert.True(t, shouldDeadLetter(err))
}
