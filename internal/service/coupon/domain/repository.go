// internal/service/coupon/domain/repository.go
package domain

import (
	"context"
	"time"
)

// CouponRepository 是优惠券静态定义的读取端口。
// 发放核心对 Coupon 只读；创建和编辑属于管理后台的职责。
type CouponRepository interface {
	FindByID(ctx context.Context, id int64) (*Coupon, error)
	UpdateStatus(ctx context.Context, id int64, status CouponStatus) error
}

// UserCouponRepository 是用户券的持久化端口。
type UserCouponRepository interface {
	// Create 插入一条新的用户券。违反 (user_id, coupon_id) 唯一约束时
	// 返回 ErrDuplicateIssuance。
	Create(ctx context.Context, uc *UserCoupon) error
	FindByID(ctx context.Context, id int64) (*UserCoupon, error)
	FindByUserAndCoupon(ctx context.Context, userID, couponID int64) (*UserCoupon, error)
	// Save 持久化状态变更（USED / EXPIRED 及其附带字段）。
	// 写入以存储中的当前状态为守卫：只有仍为 ISSUED 的行才会被更新，
	// 并发竞争的败者得到 ErrAlreadyUsedCoupon（已被核销）或
	// ErrCouponNotUsable（已过期等其他终态）。终态行永不被覆盖。
	Save(ctx context.Context, uc *UserCoupon) error
	// FindExpiredCandidates 返回一批 validTo 已过但仍为 ISSUED 的券。
	FindExpiredCandidates(ctx context.Context, now time.Time, limit int) ([]*UserCoupon, error)
}

// IssuanceHistory 是一条发放流水，仅追加。
type IssuanceHistory struct {
	ID       int64
	CouponID int64
	UserID   int64
	IssuedAt time.Time
}

// IssuanceHistoryRepository 记录发放流水。
type IssuanceHistoryRepository interface {
	Record(ctx context.Context, h *IssuanceHistory) error
}
