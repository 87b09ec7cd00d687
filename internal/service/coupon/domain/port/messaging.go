// internal/service/coupon/domain/port/messaging.go
package port

import (
	"context"

	"couponhub/internal/service/coupon/domain"
)

// IssuanceQueueProducer 把已接受的请求写入持久化队列。
// 实现必须保证同一 couponID 的消息落在同一分区，维持券内顺序。
type IssuanceQueueProducer interface {
	Publish(ctx context.Context, event *domain.IssuanceRequested) error
}

// NotificationProducer 发送面向用户的通知事件。
type NotificationProducer interface {
	SendCouponIssued(ctx context.Context, event *domain.NotificationEvent) error
}

// RuleEngine 评估优惠券的附加使用条件。
type RuleEngine interface {
	Evaluate(rule string, fact map[string]interface{}) (bool, error)
}
