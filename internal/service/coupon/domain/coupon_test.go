package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fixedCoupon(value, minOrder int64) *Coupon {
	now := time.Now()
	return &Coupon{
		ID:             1,
		Name:           "满减券",
		DiscountType:   DiscountTypeFixedAmount,
		DiscountValue:  value,
		MinOrderAmount: minOrder,
		ValidFrom:      now.Add(-time.Hour),
		ValidTo:        now.Add(time.Hour),
		Status:         CouponStatusActive,
	}
}

func TestCalculateDiscountFixedAmount(t *testing.T) {
	c := fixedCoupon(2000, 0)

	assert.Equal(t, int64(2000), c.CalculateDiscount(10000))
	// 折扣不能超过订单金额
	assert.Equal(t, int64(1500), c.CalculateDiscount(1500))
}

func TestCalculateDiscountPercentage(t *testing.T) {
	c := &Coupon{DiscountType: DiscountTypePercentage, DiscountValue: 12, MaxDiscount: 5000}

	assert.Equal(t, int64(1200), c.CalculateDiscount(10000))
	// 命中封顶
	assert.Equal(t, int64(5000), c.CalculateDiscount(100000))
}

func TestCalculateDiscountPercentageNoCeiling(t *testing.T) {
	c := &Coupon{DiscountType: DiscountTypePercentage, DiscountValue: 50}
	assert.Equal(t, int64(50000), c.CalculateDiscount(100000))
}

func TestCalculateDiscountNeverNegative(t *testing.T) {
	c := &Coupon{DiscountType: DiscountTypeFixedAmount, DiscountValue: -100}
	assert.Equal(t, int64(0), c.CalculateDiscount(10000))
}

func TestValidateUsableMinOrderAmount(t *testing.T) {
	c := fixedCoupon(2000, 30000)

	assert.ErrorIs(t, c.ValidateUsable(29999, time.Now()), ErrMinOrderAmount)
	assert.NoError(t, c.ValidateUsable(30000, time.Now()))
}

func TestValidateUsableValidityWindow(t *testing.T) {
	c := fixedCoupon(2000, 0)

	assert.ErrorIs(t, c.ValidateUsable(10000, c.ValidFrom.Add(-time.Minute)), ErrCouponNotYetValid)
	assert.ErrorIs(t, c.ValidateUsable(10000, c.ValidTo.Add(time.Minute)), ErrCouponExpired)
	assert.NoError(t, c.ValidateUsable(10000, c.ValidFrom.Add(time.Minute)))
}
