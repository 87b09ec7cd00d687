// internal/service/coupon/application/dto.go
package application

// IssueCouponRequest 是发起领取的请求体。
type IssueCouponRequest struct {
	CouponID int64 `json:"coupon_id"`
	UserID   int64 `json:"user_id"`
}

// IssueCouponResponse 携带准入结果和当前计数，供客户端展示。
type IssueCouponResponse struct {
	Result       string `json:"result"` // QUEUED / ALREADY_ISSUED / SOLD_OUT
	IssuedCount  int64  `json:"issued_count"`
	PendingCount int64  `json:"pending_count"`
	MaxQuantity  int64  `json:"max_quantity"`
}

// IssuanceStatusResponse 是状态查询的响应体。
type IssuanceStatusResponse struct {
	CouponID     int64 `json:"coupon_id"`
	IssuedCount  int64 `json:"issued_count"`
	PendingCount int64 `json:"pending_count"`
	HasRequested *bool `json:"has_requested,omitempty"`
}

// ApplyCouponRequest 是订单域核销优惠券的请求体。
type ApplyCouponRequest struct {
	UserID       int64  `json:"user_id"`
	UserCouponID int64  `json:"user_coupon_id"`
	OrderID      string `json:"order_id"`
	OrderAmount  int64  `json:"order_amount"`
	ItemCount    int64  `json:"item_count"`
}

// ApplyCouponResponse 是核销（或预校验）的响应体。
type ApplyCouponResponse struct {
	DiscountAmount int64 `json:"discount_amount"`
	FinalAmount    int64 `json:"final_amount"`
}
