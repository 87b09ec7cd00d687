// internal/service/coupon/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"database/sql"
	"errors"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"couponhub/internal/service/coupon/domain"
)

const mysqlDuplicateEntry = 1062

// GormCouponRepository 是 domain.CouponRepository 的 GORM 实现。
type GormCouponRepository struct {
	db *gorm.DB
}

func NewGormCouponRepository(db *gorm.DB) *GormCouponRepository {
	return &GormCouponRepository{db: db}
}

// FindByID 使用 GORM 从数据库中查找优惠券定义。
func (r *GormCouponRepository) FindByID(ctx context.Context, id int64) (*domain.Coupon, error) {
	var model CouponModel
	err := r.db.WithContext(ctx).First(&model, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrCouponNotFound
		}
		return nil, err
	}
	return ToDomainCoupon(&model), nil
}

// UpdateStatus 更新活动状态（激活 / 结束）。
func (r *GormCouponRepository) UpdateStatus(ctx context.Context, id int64, status domain.CouponStatus) error {
	return r.db.WithContext(ctx).
		Model(&CouponModel{}).
		Where("id = ?", id).
		Update("status", string(status)).Error
}

// GormUserCouponRepository 是 domain.UserCouponRepository 的 GORM 实现。
type GormUserCouponRepository struct {
	db *gorm.DB
}

func NewGormUserCouponRepository(db *gorm.DB) *GormUserCouponRepository {
	return &GormUserCouponRepository{db: db}
}

// Create 插入新的用户券。唯一索引冲突被翻译为 ErrDuplicateIssuance，
// 调用方（Fulfiller）据此把重复落库当作幂等跳过处理。
func (r *GormUserCouponRepository) Create(ctx context.Context, uc *domain.UserCoupon) error {
	model := ToUserCouponModel(uc)
	err := r.db.WithContext(ctx).Create(model).Error
	if err != nil {
		var mysqlErr *gomysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
			return domain.ErrDuplicateIssuance
		}
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrDuplicateIssuance
		}
		return err
	}
	uc.ID = int64(model.ID)
	return nil
}

func (r *GormUserCouponRepository) FindByID(ctx context.Context, id int64) (*domain.UserCoupon, error) {
	var model UserCouponModel
	err := r.db.WithContext(ctx).First(&model, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrUserCouponNotFound
		}
		return nil, err
	}
	return ToDomainUserCoupon(&model), nil
}

func (r *GormUserCouponRepository) FindByUserAndCoupon(ctx context.Context, userID, couponID int64) (*domain.UserCoupon, error) {
	var model UserCouponModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND coupon_id = ?", userID, couponID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrUserCouponNotFound
		}
		return nil, err
	}
	return ToDomainUserCoupon(&model), nil
}

// Save 把状态机的变更写回数据库。带状态守卫：只有数据库中仍为
// ISSUED 的行才允许写入，内存里的状态检查挡不住两个并发调用方
// 各自读到 ISSUED 再先后落库的交错。0 行生效说明输掉了竞争，
// 回读当前状态翻译成对应的领域错误。
func (r *GormUserCouponRepository) Save(ctx context.Context, uc *domain.UserCoupon) error {
	updateData := map[string]interface{}{
		"status": string(uc.Status),
	}
	if uc.UsedOrderID != "" {
		updateData["used_order_id"] = sql.NullString{String: uc.UsedOrderID, Valid: true}
	}
	if !uc.UsedAt.IsZero() {
		updateData["used_at"] = sql.NullTime{Time: uc.UsedAt, Valid: true}
	}
	if !uc.ExpiredAt.IsZero() {
		updateData["expired_at"] = sql.NullTime{Time: uc.ExpiredAt, Valid: true}
	}
	result := r.db.WithContext(ctx).
		Model(&UserCouponModel{}).
		Where("id = ? AND status = ?", uc.ID, string(domain.StatusIssued)).
		Updates(updateData)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		current, err := r.FindByID(ctx, uc.ID)
		if err != nil {
			return err
		}
		if current.Status == domain.StatusUsed {
			return domain.ErrAlreadyUsedCoupon
		}
		return domain.ErrCouponNotUsable
	}
	return nil
}

// FindExpiredCandidates 找出一批有效期已过但仍为 ISSUED 的券，供过期扫描使用。
func (r *GormUserCouponRepository) FindExpiredCandidates(ctx context.Context, now time.Time, limit int) ([]*domain.UserCoupon, error) {
	var models []UserCouponModel
	err := r.db.WithContext(ctx).
		Joins("JOIN coupon ON coupon.id = user_coupon.coupon_id").
		Where("user_coupon.status = ? AND coupon.valid_to < ?", string(domain.StatusIssued), now).
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	result := make([]*domain.UserCoupon, 0, len(models))
	for i := range models {
		result = append(result, ToDomainUserCoupon(&models[i]))
	}
	return result, nil
}

// GormIssuanceHistoryRepository 是 domain.IssuanceHistoryRepository 的 GORM 实现。
type GormIssuanceHistoryRepository struct {
	db *gorm.DB
}

func NewGormIssuanceHistoryRepository(db *gorm.DB) *GormIssuanceHistoryRepository {
	return &GormIssuanceHistoryRepository{db: db}
}

func (r *GormIssuanceHistoryRepository) Record(ctx context.Context, h *domain.IssuanceHistory) error {
	model := &IssuanceHistoryModel{
		CouponID: h.CouponID,
		UserID:   h.UserID,
		IssuedAt: h.IssuedAt,
	}
	return r.db.WithContext(ctx).Create(model).Error
}
