// internal/service/coupon/domain/user_coupon.go
package domain

import "time"

// UserCouponStatus 定义了用户优惠券的生命周期状态。
// ISSUED 是唯一的非终态；USED 和 EXPIRED 互相之间不可转换。
type UserCouponStatus string

const (
	StatusIssued  UserCouponStatus = "ISSUED"  // 已发放，可用
	StatusUsed    UserCouponStatus = "USED"    // 已核销（终态）
	StatusExpired UserCouponStatus = "EXPIRED" // 已过期（终态）
)

// UserCoupon 代表一个用户对一张优惠券的持有。(UserID, CouponID) 全局唯一。
type UserCoupon struct {
	ID          int64
	UserID      int64
	CouponID    int64
	Status      UserCouponStatus
	IssuedAt    time.Time
	UsedOrderID string
	UsedAt      time.Time
	ExpiredAt   time.Time
}

// NewUserCoupon 是发放时的工厂函数，初始状态恒为 ISSUED。
func NewUserCoupon(userID, couponID int64, issuedAt time.Time) *UserCoupon {
	return &UserCoupon{
		UserID:   userID,
		CouponID: couponID,
		Status:   StatusIssued,
		IssuedAt: issuedAt,
	}
}

// IsUsable 报告该券当前是否处于可核销状态。
func (uc *UserCoupon) IsUsable() bool {
	return uc.Status == StatusIssued
}

// Use 将状态从 ISSUED 转换为 USED，并记录核销订单。
// 对非 ISSUED 状态调用返回 ErrAlreadyUsedCoupon / ErrCouponNotUsable。
func (uc *UserCoupon) Use(orderID string, now time.Time) error {
	switch uc.Status {
	case StatusIssued:
		uc.Status = StatusUsed
		uc.UsedOrderID = orderID
		uc.UsedAt = now
		return nil
	case StatusUsed:
		return ErrAlreadyUsedCoupon
	default:
		return ErrCouponNotUsable
	}
}

// Expire 将状态从 ISSUED 转换为 EXPIRED。
// 已核销的券不能再被置为过期，终态之间互不可达。
func (uc *UserCoupon) Expire(now time.Time) error {
	switch uc.Status {
	case StatusIssued:
		uc.Status = StatusExpired
		uc.ExpiredAt = now
		return nil
	case StatusUsed:
		return ErrAlreadyUsedCoupon
	default:
		return ErrCouponNotUsable
	}
}
