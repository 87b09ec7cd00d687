// internal/service/coupon/domain/port/issuance.go
package port

import (
	"context"
	"time"
)

// AdmissionResult 是准入判断的三种结局。它是业务结果而不是错误。
type AdmissionResult int

const (
	AdmissionQueued        AdmissionResult = iota + 1 // 已接受，进入发放队列
	AdmissionAlreadyIssued                            // 该用户此前已被接受
	AdmissionSoldOut                                  // 超出发放上限
)

func (r AdmissionResult) String() string {
	switch r {
	case AdmissionQueued:
		return "QUEUED"
	case AdmissionAlreadyIssued:
		return "ALREADY_ISSUED"
	case AdmissionSoldOut:
		return "SOLD_OUT"
	default:
		return "UNKNOWN"
	}
}

// IssuanceGate 是准入控制的出站端口，由协调存储（Redis）实现。
// 所有操作都是跨实例原子的，且不做任何持久化写入。
type IssuanceGate interface {
	// TryIssue 以调用方传入的上限做准入判断。仅供测试和回填场景使用，
	// 生产路径应使用 TryIssueWithStoredQuantity。
	TryIssue(ctx context.Context, couponID, userID, maxQuantity int64) (AdmissionResult, error)

	// TryIssueWithStoredQuantity 以协调存储中的权威上限（激活时写入）
	// 做准入判断，消除读路径缓存陈旧导致的超发。
	// 上限未写入时返回 domain.ErrCouponNotActive。
	TryIssueWithStoredQuantity(ctx context.Context, couponID, userID int64) (AdmissionResult, error)

	// PrepareIssuance 在活动激活时写入权威上限并清空历史状态。
	PrepareIssuance(ctx context.Context, couponID, maxQuantity int64) error

	// CompleteFulfillment 在发放落库后把该用户移出等待队列。
	CompleteFulfillment(ctx context.Context, couponID, userID int64) error

	// RollbackAdmission 撤销一次已接受的准入（移出集合与队列）。
	// 仅在同一次操作内部使用：准入通过但消息入队失败时，
	// 补偿撤销以允许用户干净地重试。调用方不得用它做业务取消。
	RollbackAdmission(ctx context.Context, couponID, userID int64) error

	// 以下是无副作用的读操作。
	IssuedCount(ctx context.Context, couponID int64) (int64, error)
	PendingCount(ctx context.Context, couponID int64) (int64, error)
	HasIssued(ctx context.Context, couponID, userID int64) (bool, error)
}

// IdempotencyGuard 把至少一次投递的副作用收敛为恰好一次。
// TryAcquire 原子地"不存在才写入"，返回本次调用是否是写入者。
type IdempotencyGuard interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release 撤销标记，用于副作用失败后允许重投递再次执行。
	Release(ctx context.Context, key string) error
}
