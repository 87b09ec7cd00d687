// internal/service/coupon/infrastructure/gorm_model.go
package infrastructure

import (
	"database/sql"
	"time"

	"gorm.io/gorm"
)

// CouponModel 对应数据库中的 coupon 表。
type CouponModel struct {
	gorm.Model
	Name            string
	DiscountType    string `gorm:"type:varchar(20)"`
	DiscountValue   int64
	MaxDiscount     int64
	MinOrderAmount  int64
	MaxQuantity     int64
	ValidFrom       time.Time
	ValidTo         time.Time
	Status          string `gorm:"type:varchar(20);index"`
	EligibilityRule string `gorm:"type:text"`
}

// TableName 指定 GORM 应该使用的表名
func (CouponModel) TableName() string {
	return "coupon"
}

// UserCouponModel 对应数据库中的 user_coupon 表。
// (user_id, coupon_id) 上的唯一索引是防重复发放的最后一道防线：
// 即使幂等标记失效，数据库也会拒绝第二行。
type UserCouponModel struct {
	gorm.Model
	UserID      int64  `gorm:"not null;uniqueIndex:uk_user_coupon"`
	CouponID    int64  `gorm:"not null;uniqueIndex:uk_user_coupon"`
	Status      string `gorm:"type:varchar(20);not null;index"`
	IssuedAt    time.Time
	UsedOrderID sql.NullString `gorm:"type:varchar(64)"`
	UsedAt      sql.NullTime
	ExpiredAt   sql.NullTime
}

// TableName 指定 GORM 应该使用的表名
func (UserCouponModel) TableName() string {
	return "user_coupon"
}

// IssuanceHistoryModel 对应 coupon_issue_history 表，仅追加。
type IssuanceHistoryModel struct {
	ID        int64 `gorm:"primaryKey"`
	CouponID  int64 `gorm:"not null;index"`
	UserID    int64 `gorm:"not null;index"`
	IssuedAt  time.Time
	CreatedAt time.Time
}

func (IssuanceHistoryModel) TableName() string {
	return "coupon_issue_history"
}
