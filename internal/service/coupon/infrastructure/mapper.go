// internal/service/coupon/infrastructure/mapper.go
package infrastructure

import (
	"database/sql"

	"couponhub/internal/service/coupon/domain"
)

// ToDomainCoupon 将数据库模型转换为领域模型。
func ToDomainCoupon(m *CouponModel) *domain.Coupon {
	return &domain.Coupon{
		ID:              int64(m.ID),
		Name:            m.Name,
		DiscountType:    domain.DiscountType(m.DiscountType),
		DiscountValue:   m.DiscountValue,
		MaxDiscount:     m.MaxDiscount,
		MinOrderAmount:  m.MinOrderAmount,
		MaxQuantity:     m.MaxQuantity,
		ValidFrom:       m.ValidFrom,
		ValidTo:         m.ValidTo,
		Status:          domain.CouponStatus(m.Status),
		EligibilityRule: m.EligibilityRule,
	}
}

// ToDomainUserCoupon 将数据库模型转换为领域模型。
func ToDomainUserCoupon(m *UserCouponModel) *domain.UserCoupon {
	uc := &domain.UserCoupon{
		ID:       int64(m.ID),
		UserID:   m.UserID,
		CouponID: m.CouponID,
		Status:   domain.UserCouponStatus(m.Status),
		IssuedAt: m.IssuedAt,
	}
	if m.UsedOrderID.Valid {
		uc.UsedOrderID = m.UsedOrderID.String
	}
	if m.UsedAt.Valid {
		uc.UsedAt = m.UsedAt.Time
	}
	if m.ExpiredAt.Valid {
		uc.ExpiredAt = m.ExpiredAt.Time
	}
	return uc
}

// ToUserCouponModel 将领域模型转换为数据库模型，用于插入。
func ToUserCouponModel(uc *domain.UserCoupon) *UserCouponModel {
	m := &UserCouponModel{
		UserID:   uc.UserID,
		CouponID: uc.CouponID,
		Status:   string(uc.Status),
		IssuedAt: uc.IssuedAt,
	}
	if uc.UsedOrderID != "" {
		m.UsedOrderID = sql.NullString{String: uc.UsedOrderID, Valid: true}
	}
	if !uc.UsedAt.IsZero() {
		m.UsedAt = sql.NullTime{Time: uc.UsedAt, Valid: true}
	}
	if !uc.ExpiredAt.IsZero() {
		m.ExpiredAt = sql.NullTime{Time: uc.ExpiredAt, Valid: true}
	}
	return m
}
