// internal/service/coupon/application/fakes_test.go
package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"couponhub/internal/service/coupon/domain"
	"couponhub/internal/service/coupon/domain/port"
)

// memoryGate 在进程内复现协调存储的准入语义。
// 单把互斥锁等价于 Lua 脚本的原子性。
type memoryGate struct {
	mu      sync.Mutex
	users   map[int64]map[int64]struct{} // couponID -> 已准入用户
	pending map[int64]map[int64]struct{} // couponID -> 待发放用户
	max     map[int64]int64              // 激活时写入的权威上限
}

func newMemoryGate() *memoryGate {
	return &memoryGate{
		users:   make(map[int64]map[int64]struct{}),
		pending: make(map[int64]map[int64]struct{}),
		max:     make(map[int64]int64),
	}
}

func (g *memoryGate) tryIssue(couponID, userID, maxQuantity int64) port.AdmissionResult {
	if g.users[couponID] == nil {
		g.users[couponID] = make(map[int64]struct{})
		g.pending[couponID] = make(map[int64]struct{})
	}
	if _, ok := g.users[couponID][userID]; ok {
		return port.AdmissionAlreadyIssued
	}
	if int64(len(g.users[couponID])) >= maxQuantity {
		return port.AdmissionSoldOut
	}
	g.users[couponID][userID] = struct{}{}
	g.pending[couponID][userID] = struct{}{}
	return port.AdmissionQueued
}

func (g *memoryGate) TryIssue(_ context.Context, couponID, userID, maxQuantity int64) (port.AdmissionResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tryIssue(couponID, userID, maxQuantity), nil
}

func (g *memoryGate) TryIssueWithStoredQuantity(_ context.Context, couponID, userID int64) (port.AdmissionResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	max, ok := g.max[couponID]
	if !ok {
		return 0, domain.ErrCouponNotActive
	}
	return g.tryIssue(couponID, userID, max), nil
}

func (g *memoryGate) PrepareIssuance(_ context.Context, couponID, maxQuantity int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.max[couponID] = maxQuantity
	delete(g.users, couponID)
	delete(g.pending, couponID)
	return nil
}

func (g *memoryGate) CompleteFulfillment(_ context.Context, couponID, userID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending[couponID] != nil {
		delete(g.pending[couponID], userID)
	}
	return nil
}

func (g *memoryGate) RollbackAdmission(_ context.Context, couponID, userID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.users[couponID] != nil {
		delete(g.users[couponID], userID)
		delete(g.pending[couponID], userID)
	}
	return nil
}

func (g *memoryGate) IssuedCount(_ context.Context, couponID int64) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return int64(len(g.users[couponID])), nil
}

func (g *memoryGate) PendingCount(_ context.Context, couponID int64) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return int64(len(g.pending[couponID])), nil
}

func (g *memoryGate) HasIssued(_ context.Context, couponID, userID int64) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.users[couponID] == nil {
		return false, nil
	}
	_, ok := g.users[couponID][userID]
	return ok, nil
}

// memoryGuard 复现 SETNX 语义。
type memoryGuard struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newMemoryGuard() *memoryGuard {
	return &memoryGuard{keys: make(map[string]struct{})}
}

func (g *memoryGuard) TryAcquire(_ context.Context, key string, _ time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.keys[key]; ok {
		return false, nil
	}
	g.keys[key] = struct{}{}
	return true, nil
}

func (g *memoryGuard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.keys, key)
	return nil
}

// memoryCouponRepo 只读券定义仓储。
type memoryCouponRepo struct {
	mu      sync.Mutex
	coupons map[int64]*domain.Coupon
}

func newMemoryCouponRepo(coupons ...*domain.Coupon) *memoryCouponRepo {
	r := &memoryCouponRepo{coupons: make(map[int64]*domain.Coupon)}
	for _, c := range coupons {
		r.coupons[c.ID] = c
	}
	return r
}

func (r *memoryCouponRepo) FindByID(_ context.Context, id int64) (*domain.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.coupons[id]
	if !ok {
		return nil, domain.ErrCouponNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *memoryCouponRepo) UpdateStatus(_ context.Context, id int64, status domain.CouponStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.coupons[id]
	if !ok {
		return domain.ErrCouponNotFound
	}
	c.Status = status
	return nil
}

type memoryUserCouponRepo struct {
	mu        sync.Mutex
	nextID    int64
	rows      map[int64]*domain.UserCoupon
	failNext  error // 下一次 Create 返回的错误，用于注入写失败
	createdAt []int64
}

func newMemoryUserCouponRepo() *memoryUserCouponRepo {
	return &memoryUserCouponRepo{rows: make(map[int64]*domain.UserCoupon)}
}

func (r *memoryUserCouponRepo) Create(_ context.Context, uc *domain.UserCoupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failNext != nil {
		err := r.failNext
		r.failNext = nil
		return err
	}
	for _, row := range r.rows {
		if row.UserID == uc.UserID && row.CouponID == uc.CouponID {
			return domain.ErrDuplicateIssuance
		}
	}
	r.nextID++
	uc.ID = r.nextID
	cp := *uc
	r.rows[uc.ID] = &cp
	r.createdAt = append(r.createdAt, uc.ID)
	return nil
}

func (r *memoryUserCouponRepo) FindByID(_ context.Context, id int64) (*domain.UserCoupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, domain.ErrUserCouponNotFound
	}
	cp := *row
	return &cp, nil
}

func (r *memoryUserCouponRepo) FindByUserAndCoupon(_ context.Context, userID, couponID int64) (*domain.UserCoupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.UserID == userID && row.CouponID == couponID {
			cp := *row
			return &cp, nil
		}
	}
	return nil, domain.ErrUserCouponNotFound
}

func (r *memoryUserCouponRepo) Save(_ context.Context, uc *domain.UserCoupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[uc.ID]
	if !ok {
		return domain.ErrUserCouponNotFound
	}
	// 状态守卫：存储中已离开 ISSUED 的行不允许再被覆盖
	if row.Status != domain.StatusIssued {
		if row.Status == domain.StatusUsed {
			return domain.ErrAlreadyUsedCoupon
		}
		return domain.ErrCouponNotUsable
	}
	cp := *uc
	r.rows[uc.ID] = &cp
	return nil
}

func (r *memoryUserCouponRepo) FindExpiredCandidates(_ context.Context, now time.Time, limit int) ([]*domain.UserCoupon, error) {
	return nil, nil
}

func (r *memoryUserCouponRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

type memoryHistoryRepo struct {
	mu   sync.Mutex
	rows []*domain.IssuanceHistory
}

func (r *memoryHistoryRepo) Record(_ context.Context, h *domain.IssuanceHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, h)
	return nil
}

// memoryQueue 收集发布的事件，failNext 非空时注入一次发布失败。
type memoryQueue struct {
	mu       sync.Mutex
	events   []*domain.IssuanceRequested
	failNext error
}

func (q *memoryQueue) Publish(_ context.Context, e *domain.IssuanceRequested) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failNext != nil {
		err := q.failNext
		q.failNext = nil
		return err
	}
	q.events = append(q.events, e)
	return nil
}

func (q *memoryQueue) published() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

type memoryNotifier struct {
	mu     sync.Mutex
	events []*domain.NotificationEvent
}

func (n *memoryNotifier) SendCouponIssued(_ context.Context, e *domain.NotificationEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return nil
}

func (n *memoryNotifier) sent() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

// allowAllRules 对任何规则都放行。
type allowAllRules struct{}

func (allowAllRules) Evaluate(string, map[string]interface{}) (bool, error) { return true, nil }

var errInjected = errors.New("injected failure")
