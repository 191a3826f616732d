package plan

import (
	"github.com/pkg/errors"

	"github.com/xiaobogaga/minidf/config"
)

// Rule rewrites a whole plan tree and reports whether it changed anything.
// Rules must be semantics preserving and must converge: a rule that keeps
// reporting change on its own output makes the optimizer hit the pass bound.
type Rule interface {
	Name() string
	Apply(p LogicPlan) (LogicPlan, bool)
}

// Optimize runs every rule over the plan until a full pass changes nothing.
// The pass count is bounded; exceeding it means a rule oscillates and the
// caller gets ErrOptimizerDiverged rather than a silently unoptimized plan.
func Optimize(p LogicPlan, conf *config.Config) (LogicPlan, error) {
	if conf == nil {
		conf = config.Default()
	}
	// Pushdown runs before combination: merging two filters first could
	// weld a one-sided predicate onto a spanning one and strand both above
	// a join. Repartitions always see filters pushed below them before any
	// other rewrite touches the subtree.
	rules := []Rule{
		PushDownFilterRule{},
		CombineFilterRule{},
		PruneColumnRule{},
		AggrFusionRule{},
		TopNRule{},
		JoinStrategyRule{Threshold: conf.BroadcastThresholdBytes},
	}
	lastRule := "none"
	for pass := 0; ; pass++ {
		if pass >= conf.MaxOptimizerPasses {
			return nil, errors.Wrapf(ErrOptimizerDiverged,
				"rule %s still rewriting %s after %d passes", lastRule, p.String(), pass)
		}
		changed := false
		for _, rule := range rules {
			next, ok := rule.Apply(p)
			if ok {
				p = next
				changed = true
				lastRule = rule.Name()
			}
		}
		if !changed {
			return p, nil
		}
	}
}

// transformDown applies f at the node, then rebuilds the node over the
// transformed children. f runs once per node per call; repeated progress
// comes from the optimizer's outer fixed point.
func transformDown(p LogicPlan, f func(LogicPlan) (LogicPlan, bool)) (LogicPlan, bool) {
	p, changed := f(p)
	children := p.Child()
	if len(children) == 0 {
		return p, changed
	}
	newChildren := make([]LogicPlan, len(children))
	childChanged := false
	for i, child := range children {
		newChild, ok := transformDown(child, f)
		newChildren[i] = newChild
		childChanged = childChanged || ok
	}
	if childChanged {
		p = withChildren(p, newChildren)
	}
	return p, changed || childChanged
}

// withChildren clones the node with new children, leaving the original
// untouched.
func withChildren(p LogicPlan, children []LogicPlan) LogicPlan {
	switch v := p.(type) {
	case *ScanLogicPlan:
		return v
	case *SelectionLogicPlan:
		return &SelectionLogicPlan{Input: children[0], Expr: v.Expr}
	case *ProjectionLogicPlan:
		return &ProjectionLogicPlan{Input: children[0], Exprs: v.Exprs}
	case *JoinLogicPlan:
		return &JoinLogicPlan{Left: children[0], Right: children[1],
			LeftKey: v.LeftKey, RightKey: v.RightKey, Hint: v.Hint}
	case *AggrLogicPlan:
		return &AggrLogicPlan{Input: children[0], GroupBy: v.GroupBy, Aggrs: v.Aggrs}
	case *OrderByLogicPlan:
		return &OrderByLogicPlan{Input: children[0], Keys: v.Keys, Asc: v.Asc, Limit: v.Limit}
	case *LimitLogicPlan:
		return &LimitLogicPlan{Input: children[0], Count: v.Count}
	case *RepartitionLogicPlan:
		return &RepartitionLogicPlan{Input: children[0], Key: v.Key, Count: v.Count}
	}
	return p
}
