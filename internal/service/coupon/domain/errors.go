// internal/service/coupon/domain/errors.go
package domain

import "errors"

var (
	ErrCouponNotFound     = errors.New("coupon not found")
	ErrUserCouponNotFound = errors.New("user coupon not found")
	ErrCouponNotActive    = errors.New("coupon is not active for issuance")
	ErrCouponExpired      = errors.New("coupon validity window has passed")
	ErrCouponNotYetValid  = errors.New("coupon validity window has not started")
	ErrAlreadyUsedCoupon  = errors.New("coupon has already been used")
	ErrCouponNotUsable    = errors.New("coupon is not in a usable state")
	ErrMinOrderAmount     = errors.New("order amount below coupon minimum")
	ErrNotEligible        = errors.New("order does not satisfy coupon eligibility rule")
	ErrNotCouponOwner     = errors.New("user coupon belongs to a different user")
	ErrDuplicateIssuance  = errors.New("user coupon already exists for this user and coupon")
)
