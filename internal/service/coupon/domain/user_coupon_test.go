package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUseFromIssued(t *testing.T) {
	uc := NewUserCoupon(100, 1, time.Now())
	require.Equal(t, StatusIssued, uc.Status)
	require.True(t, uc.IsUsable())

	now := time.Now()
	require.NoError(t, uc.Use("order-1", now))

	assert.Equal(t, StatusUsed, uc.Status)
	assert.Equal(t, "order-1", uc.UsedOrderID)
	assert.Equal(t, now, uc.UsedAt)
}

func TestUseIsNotReentrant(t *testing.T) {
	uc := NewUserCoupon(100, 1, time.Now())
	require.NoError(t, uc.Use("order-1", time.Now()))

	err := uc.Use("order-2", time.Now())
	assert.ErrorIs(t, err, ErrAlreadyUsedCoupon)
	// 第一次核销的订单号不受影响
	assert.Equal(t, "order-1", uc.UsedOrderID)
}

func TestUseOnExpiredFails(t *testing.T) {
	uc := NewUserCoupon(100, 1, time.Now())
	require.NoError(t, uc.Expire(time.Now()))

	assert.ErrorIs(t, uc.Use("order-1", time.Now()), ErrCouponNotUsable)
	assert.Equal(t, StatusExpired, uc.Status)
}

func TestExpireFromIssued(t *testing.T) {
	uc := NewUserCoupon(100, 1, time.Now())
	now := time.Now()

	require.NoError(t, uc.Expire(now))
	assert.Equal(t, StatusExpired, uc.Status)
	assert.Equal(t, now, uc.ExpiredAt)
}

func TestExpireOnUsedFails(t *testing.T) {
	uc := NewUserCoupon(100, 1, time.Now())
	require.NoError(t, uc.Use("order-1", time.Now()))

	// 终态之间互不可达
	assert.ErrorIs(t, uc.Expire(time.Now()), ErrAlreadyUsedCoupon)
	assert.Equal(t, StatusUsed, uc.Status)
}

func TestExpireIsNotReentrant(t *testing.T) {
	uc := NewUserCoupon(100, 1, time.Now())
	require.NoError(t, uc.Expire(time.Now()))

	assert.ErrorIs(t, uc.Expire(time.Now()), ErrCouponNotUsable)
}
