// internal/service/coupon/infrastructure/adapter/issuance_redis_adapter.go
package adapter

import (
	"context"
	"fmt"

	"couponhub/internal/pkg/redis"
	"couponhub/internal/service/coupon/domain"
	"couponhub/internal/service/coupon/domain/port"
)

const (
	tryIssueScriptName          = "coupon_try_issue"
	tryIssueStoredQtyScriptName = "coupon_try_issue_stored_qty"
)

// IssuanceRedisAdapter 是 port.IssuanceGate 的 Redis 实现。
//
// 每张券占用四个 Key（hash tag 保证同槽位，Lua 脚本才能原子操作）：
//
//	coupon:issue:users:{id}  SET    已接受的用户集合 (IssuanceSet)
//	coupon:issue:queue:{id}  ZSET   等待发放的队列，score 严格递增 (IssuanceQueue)
//	coupon:issue:seq:{id}    STRING 队列的序号计数器
//	coupon:issue:max:{id}    STRING 激活时写入的权威发放上限
type IssuanceRedisAdapter struct {
	redisClient *redis.Client
}

// NewIssuanceRedisAdapter 创建适配器并加载全部 Lua 脚本。
func NewIssuanceRedisAdapter(redisClient *redis.Client) (*IssuanceRedisAdapter, error) {
	if err := redisClient.LoadScriptFromContent(tryIssueScriptName, tryIssueScript); err != nil {
		return nil, fmt.Errorf("failed to load critical admission script: %w", err)
	}
	if err := redisClient.LoadScriptFromContent(tryIssueStoredQtyScriptName, tryIssueStoredQtyScript); err != nil {
		return nil, fmt.Errorf("failed to load critical admission script: %w", err)
	}
	return &IssuanceRedisAdapter{redisClient: redisClient}, nil
}

func usersKey(couponID int64) string { return fmt.Sprintf("coupon:issue:users:{%d}", couponID) }
func queueKey(couponID int64) string { return fmt.Sprintf("coupon:issue:queue:{%d}", couponID) }
func seqKey(couponID int64) string   { return fmt.Sprintf("coupon:issue:seq:{%d}", couponID) }
func maxKey(couponID int64) string   { return fmt.Sprintf("coupon:issue:max:{%d}", couponID) }

// TryIssue 以调用方传入的上限执行准入脚本。
func (a *IssuanceRedisAdapter) TryIssue(ctx context.Context, couponID, userID, maxQuantity int64) (port.AdmissionResult, error) {
	keys := []string{usersKey(couponID), queueKey(couponID), seqKey(couponID)}
	result, err := a.redisClient.RunScript(ctx, tryIssueScriptName, keys, userID, maxQuantity)
	if err != nil {
		return 0, fmt.Errorf("issuance gate failed to run script: %w", err)
	}
	return a.translate(result)
}

// TryIssueWithStoredQuantity 以存储中的权威上限执行准入脚本。
func (a *IssuanceRedisAdapter) TryIssueWithStoredQuantity(ctx context.Context, couponID, userID int64) (port.AdmissionResult, error) {
	keys := []string{usersKey(couponID), queueKey(couponID), seqKey(couponID), maxKey(couponID)}
	result, err := a.redisClient.RunScript(ctx, tryIssueStoredQtyScriptName, keys, userID)
	if err != nil {
		return 0, fmt.Errorf("issuance gate failed to run script: %w", err)
	}
	return a.translate(result)
}

func (a *IssuanceRedisAdapter) translate(result interface{}) (port.AdmissionResult, error) {
	code, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected result type from Lua script: %T", result)
	}
	switch code {
	case 1:
		return port.AdmissionQueued, nil
	case 2:
		return port.AdmissionAlreadyIssued, nil
	case 0:
		return port.AdmissionSoldOut, nil
	case -1:
		return 0, domain.ErrCouponNotActive
	default:
		return 0, fmt.Errorf("unknown result code from admission script: %d", code)
	}
}

// PrepareIssuance 在活动激活时写入权威上限并清空历史状态。
// 使用 pipeline 保证一次往返。
func (a *IssuanceRedisAdapter) PrepareIssuance(ctx context.Context, couponID, maxQuantity int64) error {
	pipe := a.redisClient.GetClient().Pipeline()
	pipe.Set(ctx, maxKey(couponID), maxQuantity, 0)
	pipe.Del(ctx, usersKey(couponID), queueKey(couponID), seqKey(couponID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to prepare coupon issuance: %w", err)
	}
	return nil
}

// CompleteFulfillment 在落库成功后把用户移出等待队列。
func (a *IssuanceRedisAdapter) CompleteFulfillment(ctx context.Context, couponID, userID int64) error {
	return a.redisClient.GetClient().ZRem(ctx, queueKey(couponID), fmt.Sprintf("%d", userID)).Err()
}

// RollbackAdmission 把用户同时移出集合和队列，撤销一次准入。
func (a *IssuanceRedisAdapter) RollbackAdmission(ctx context.Context, couponID, userID int64) error {
	member := fmt.Sprintf("%d", userID)
	pipe := a.redisClient.GetClient().Pipeline()
	pipe.SRem(ctx, usersKey(couponID), member)
	pipe.ZRem(ctx, queueKey(couponID), member)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to rollback admission: %w", err)
	}
	return nil
}

// IssuedCount 返回已接受的用户数。
func (a *IssuanceRedisAdapter) IssuedCount(ctx context.Context, couponID int64) (int64, error) {
	return a.redisClient.GetClient().SCard(ctx, usersKey(couponID)).Result()
}

// PendingCount 返回等待发放的队列深度。
func (a *IssuanceRedisAdapter) PendingCount(ctx context.Context, couponID int64) (int64, error) {
	return a.redisClient.GetClient().ZCard(ctx, queueKey(couponID)).Result()
}

// HasIssued 报告用户是否已被接受过。
func (a *IssuanceRedisAdapter) HasIssued(ctx context.Context, couponID, userID int64) (bool, error) {
	return a.redisClient.GetClient().SIsMember(ctx, usersKey(couponID), fmt.Sprintf("%d", userID)).Result()
}

// 准入算法：先加后查、超限回滚。
//
// SADD 对成员资格问题本身是原子且无竞态的；SCARD 检查在高并发下存在
// 不可避免的微小窗口，算法把损害限定为"临时加入、当场补偿移除"——
// 在 Fulfiller 落库之前没有任何持久化写入，所以绝不会持久超发。
//
// 队列 score 取自 INCR 计数器而不是时间戳：同一毫秒到达的请求
// 也要有严格递增、互不相同的 rank。
const tryIssueScript = `
-- KEYS[1]: 已接受用户集合, 例如 coupon:issue:users:{42}
-- KEYS[2]: 等待队列 (ZSET)
-- KEYS[3]: 队列序号计数器
-- ARGV[1]: 用户 ID
-- ARGV[2]: 发放上限

-- 1. 幂等快路径：用户已在集合中，直接返回
if redis.call('sismember', KEYS[1], ARGV[1]) == 1 then
    return 2
end

-- 2. 先加入集合
redis.call('sadd', KEYS[1], ARGV[1])

-- 3. 检查基数，超限则补偿回滚
local issued = redis.call('scard', KEYS[1])
if issued > tonumber(ARGV[2]) then
    redis.call('srem', KEYS[1], ARGV[1])
    return 0
end

-- 4. 以严格递增的 rank 入队
local rank = redis.call('incr', KEYS[3])
redis.call('zadd', KEYS[2], rank, ARGV[1])
return 1
`

// 与 tryIssueScript 相同，但上限读取存储中的权威值。
// 上限未写入（活动未激活）时返回 -1。
const tryIssueStoredQtyScript = `
-- KEYS[1]: 已接受用户集合
-- KEYS[2]: 等待队列 (ZSET)
-- KEYS[3]: 队列序号计数器
-- KEYS[4]: 权威发放上限
-- ARGV[1]: 用户 ID

local max = tonumber(redis.call('get', KEYS[4]))
if not max then
    return -1
end

if redis.call('sismember', KEYS[1], ARGV[1]) == 1 then
    return 2
end

redis.call('sadd', KEYS[1], ARGV[1])

local issued = redis.call('scard', KEYS[1])
if issued > max then
    redis.call('srem', KEYS[1], ARGV[1])
    return 0
end

local rank = redis.call('incr', KEYS[3])
redis.call('zadd', KEYS[2], rank, ARGV[1])
return 1
`
