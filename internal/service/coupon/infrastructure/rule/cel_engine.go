// internal/service/coupon/infrastructure/rule/cel_engine.go
package rule

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// CELRuleEngineAdapter 是 port.RuleEngine 的 CEL 实现。
// 优惠券的附加使用条件以 CEL 表达式存储，例如：
//
//	"order_amount >= 50000 && item_count >= 2"
//
// 表达式编译结果按原文缓存，同一条规则只编译一次。
type CELRuleEngineAdapter struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewCELRuleEngineAdapter 创建规则引擎并声明可用变量。
func NewCELRuleEngineAdapter() (*CELRuleEngineAdapter, error) {
	env, err := cel.NewEnv(
		cel.Variable("user_id", cel.IntType),
		cel.Variable("order_amount", cel.IntType),
		cel.Variable("item_count", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &CELRuleEngineAdapter{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Evaluate 评估一条规则。空规则视为无条件通过。
func (a *CELRuleEngineAdapter) Evaluate(rule string, fact map[string]interface{}) (bool, error) {
	if rule == "" {
		return true, nil
	}

	prg, err := a.program(rule)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(fact)
	if err != nil {
		return false, fmt.Errorf("rule evaluation failed: %w", err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rule %q did not evaluate to a boolean", rule)
	}
	return result, nil
}

func (a *CELRuleEngineAdapter) program(rule string) (cel.Program, error) {
	a.mu.RLock()
	prg, ok := a.programs[rule]
	a.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := a.env.Compile(rule)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("invalid rule %q: %w", rule, issues.Err())
	}
	prg, err := a.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build program for rule %q: %w", rule, err)
	}

	a.mu.Lock()
	a.programs[rule] = prg
	a.mu.Unlock()
	return prg, nil
}
