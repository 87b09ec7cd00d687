// internal/service/coupon/domain/event.go
package domain

import "time"

// IssuanceRequested 是准入通过后进入发放队列的消息。
// 这是本模块唯一需要保持兼容的线上契约。
type IssuanceRequested struct {
	CouponID   int64     `json:"couponId"`
	UserID     int64     `json:"userId"`
	AcceptedAt time.Time `json:"acceptedAt"`
	EventID    string    `json:"eventId,omitempty"`
}

// NotificationEventType 标识用户通知的类型。
type NotificationEventType string

const EventTypeCouponIssued NotificationEventType = "COUPON_ISSUED"

// NotificationEvent 是发放成功后发往用户通知通道的事件。
type NotificationEvent struct {
	UserID     int64                 `json:"userId"`
	CouponID   int64                 `json:"couponId"`
	CouponName string                `json:"couponName"`
	EventType  NotificationEventType `json:"eventType"`
}
