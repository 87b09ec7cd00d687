// internal/service/coupon/domain/coupon.go
package domain

import "time"

// DiscountType 定义了优惠的计算方式。
type DiscountType string

const (
	DiscountTypeFixedAmount DiscountType = "FIXED_AMOUNT" // 立减固定金额
	DiscountTypePercentage  DiscountType = "PERCENTAGE"   // 按比例折扣
)

// CouponStatus 是发放活动级别的状态。
type CouponStatus string

const (
	CouponStatusDraft    CouponStatus = "DRAFT"    // 已创建，未开放领取
	CouponStatusActive   CouponStatus = "ACTIVE"   // 开放领取中
	CouponStatusFinished CouponStatus = "FINISHED" // 活动结束
)

// Coupon 是优惠券的静态定义，对发放核心来说是只读的。
// 金额一律使用最小货币单位（分）的整数，避免浮点误差。
//
// 注意：MaxQuantity 在这里只是创建时的静态快照；
// 准入判断使用的权威上限以协调存储（激活时写入）为准。
type Coupon struct {
	ID              int64
	Name            string
	DiscountType    DiscountType
	DiscountValue   int64 // FIXED_AMOUNT: 金额(分); PERCENTAGE: 百分比 (1-100)
	MaxDiscount     int64 // 折扣上限(分)，仅 PERCENTAGE 有意义，0 表示不封顶
	MinOrderAmount  int64 // 使用门槛(分)
	MaxQuantity     int64 // 发放总量上限
	ValidFrom       time.Time
	ValidTo         time.Time
	Status          CouponStatus
	EligibilityRule string // 可选的 CEL 表达式，空串表示无额外条件
}

// IsWithinValidity 检查给定时刻是否在有效期内。
func (c *Coupon) IsWithinValidity(now time.Time) error {
	if now.Before(c.ValidFrom) {
		return ErrCouponNotYetValid
	}
	if now.After(c.ValidTo) {
		return ErrCouponExpired
	}
	return nil
}

// ValidateUsable 是核销前的券级校验：有效期 + 最低订单金额。
func (c *Coupon) ValidateUsable(orderAmount int64, now time.Time) error {
	if err := c.IsWithinValidity(now); err != nil {
		return err
	}
	if orderAmount < c.MinOrderAmount {
		return ErrMinOrderAmount
	}
	return nil
}

// CalculateDiscount 计算折扣金额，结果始终落在 [0, orderAmount] 区间。
func (c *Coupon) CalculateDiscount(orderAmount int64) int64 {
	var discount int64
	switch c.DiscountType {
	case DiscountTypeFixedAmount:
		discount = c.DiscountValue
	case DiscountTypePercentage:
		discount = orderAmount * c.DiscountValue / 100
		if c.MaxDiscount > 0 && discount > c.MaxDiscount {
			discount = c.MaxDiscount
		}
	default:
		return 0
	}
	if discount < 0 {
		return 0
	}
	if discount > orderAmount {
		return orderAmount
	}
	return discount
}
