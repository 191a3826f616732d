package plan

import (
	"strings"

	"github.com/xiaobogaga/minidf/storage"
)

// CombineFilterRule merges adjacent filters into one conjoined predicate so
// the rows are scanned once.
type CombineFilterRule struct{}

func (rule CombineFilterRule) Name() string { return "combine_filter" }

func (rule CombineFilterRule) Apply(p LogicPlan) (LogicPlan, bool) {
	return transformDown(p, func(node LogicPlan) (LogicPlan, bool) {
		outer, ok := node.(*SelectionLogicPlan)
		if !ok {
			return node, false
		}
		inner, ok := outer.Input.(*SelectionLogicPlan)
		if !ok {
			return node, false
		}
		return &SelectionLogicPlan{
			Input: inner.Input,
			Expr:  And(inner.Expr, outer.Expr),
		}, true
	})
}

// PushDownFilterRule commutes a filter below projections, repartitions,
// sorts and joins, moving it as close to the scan as legality allows. It
// stops at aggregates unless the predicate only touches group keys: a filter
// over an aggregate result is a HAVING and can never run before the
// aggregate that produces its input.
type PushDownFilterRule struct{}

func (rule PushDownFilterRule) Name() string { return "push_down_filter" }

func (rule PushDownFilterRule) Apply(p LogicPlan) (LogicPlan, bool) {
	return transformDown(p, func(node LogicPlan) (LogicPlan, bool) {
		sel, ok := node.(*SelectionLogicPlan)
		if !ok {
			return node, false
		}
		switch child := sel.Input.(type) {
		case *RepartitionLogicPlan:
			// Filtering first shrinks the volume crossing the shuffle.
			return &RepartitionLogicPlan{
				Input: &SelectionLogicPlan{Input: child.Input, Expr: sel.Expr},
				Key:   child.Key,
				Count: child.Count,
			}, true
		case *ProjectionLogicPlan:
			if _, overScan := child.Input.(*ScanLogicPlan); overScan {
				// Already adjacent to the scan, commuting gains nothing
				// and would fight the pruning rule forever.
				return node, false
			}
			if !projectionPassesThrough(child, sel.Expr.Columns()) {
				return node, false
			}
			return &ProjectionLogicPlan{
				Input: &SelectionLogicPlan{Input: child.Input, Expr: sel.Expr},
				Exprs: child.Exprs,
			}, true
		case *OrderByLogicPlan:
			// A bounded sort already dropped rows, filtering below it would
			// change which rows survive.
			if child.Limit > 0 {
				return node, false
			}
			return &OrderByLogicPlan{
				Input: &SelectionLogicPlan{Input: child.Input, Expr: sel.Expr},
				Keys:  child.Keys,
				Asc:   child.Asc,
			}, true
		case *JoinLogicPlan:
			cols := sel.Expr.Columns()
			if schemaHasAll(child.Left.Schema(), cols) {
				return &JoinLogicPlan{
					Left:     &SelectionLogicPlan{Input: child.Left, Expr: sel.Expr},
					Right:    child.Right,
					LeftKey:  child.LeftKey,
					RightKey: child.RightKey,
					Hint:     child.Hint,
				}, true
			}
			if schemaHasAll(child.Right.Schema(), cols) {
				return &JoinLogicPlan{
					Left:     child.Left,
					Right:    &SelectionLogicPlan{Input: child.Right, Expr: sel.Expr},
					LeftKey:  child.LeftKey,
					RightKey: child.RightKey,
					Hint:     child.Hint,
				}, true
			}
			return node, false
		case *AggrLogicPlan:
			for _, col := range sel.Expr.Columns() {
				if !contains(child.GroupBy, col) {
					return node, false
				}
			}
			return &AggrLogicPlan{
				Input:   &SelectionLogicPlan{Input: child.Input, Expr: sel.Expr},
				GroupBy: child.GroupBy,
				Aggrs:   child.Aggrs,
			}, true
		}
		return node, false
	})
}

// projectionPassesThrough reports whether every referenced column comes out
// of the projection as a plain unrenamed identifier, so the predicate reads
// the same values above and below it.
func projectionPassesThrough(proj *ProjectionLogicPlan, cols []string) bool {
	passed := map[string]bool{}
	for _, as := range proj.Exprs {
		ident, ok := as.Expr.(IdentifierLogicExpr)
		if !ok {
			continue
		}
		if as.Alias == "" || as.Alias == ident.Ident {
			passed[ident.Ident] = true
		}
	}
	for _, col := range cols {
		if !passed[col] {
			return false
		}
	}
	return true
}

func schemaHasAll(schema *storage.TableSchema, cols []string) bool {
	for _, col := range cols {
		if !schema.HasColumn(col) {
			return false
		}
	}
	return true
}

func contains(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}

// PruneColumnRule narrows scans to the columns some ancestor actually reads,
// inserting a projection right above the scan. Row width shrinks before the
// first shuffle instead of after the last projection.
type PruneColumnRule struct{}

func (rule PruneColumnRule) Name() string { return "prune_column" }

func (rule PruneColumnRule) Apply(p LogicPlan) (LogicPlan, bool) {
	required := map[string]bool{}
	for _, f := range p.Schema().Columns {
		required[f.Name] = true
	}
	return prune(p, required, false)
}

// prune walks down collecting the column set each subtree must produce.
// covered means the parent is already a projection, so wrapping the scan
// again would only stack projections forever.
func prune(p LogicPlan, required map[string]bool, covered bool) (LogicPlan, bool) {
	switch v := p.(type) {
	case *ScanLogicPlan:
		if covered || len(required) >= len(v.Schema().Columns) {
			return p, false
		}
		exprs := make([]AsLogicExpr, 0, len(required))
		for _, f := range v.Schema().Columns {
			if required[f.Name] {
				exprs = append(exprs, AsLogicExpr{Expr: Col(f.Name)})
			}
		}
		if len(exprs) == 0 {
			// count(*) over nothing else still needs rows to count.
			exprs = append(exprs, AsLogicExpr{Expr: Col(v.Schema().Columns[0].Name)})
		}
		return &ProjectionLogicPlan{Input: v, Exprs: exprs}, true
	case *ProjectionLogicPlan:
		need := map[string]bool{}
		for _, as := range v.Exprs {
			for _, col := range as.Expr.Columns() {
				need[col] = true
			}
		}
		input, changed := prune(v.Input, need, true)
		if !changed {
			return p, false
		}
		return &ProjectionLogicPlan{Input: input, Exprs: v.Exprs}, true
	case *SelectionLogicPlan:
		need := union(required, v.Expr.Columns())
		input, changed := prune(v.Input, need, false)
		if !changed {
			return p, false
		}
		return &SelectionLogicPlan{Input: input, Expr: v.Expr}, true
	case *JoinLogicPlan:
		need := union(required, []string{v.LeftKey, v.RightKey})
		leftNeed, rightNeed := map[string]bool{}, map[string]bool{}
		for col := range need {
			if v.Left.Schema().HasColumn(col) {
				leftNeed[col] = true
			}
			// A right.<name> reference points at the qualified right copy of
			// a shadowed column. Keeping the left twin too keeps the
			// qualified name stable after pruning.
			name := strings.TrimPrefix(col, "right.")
			if name != col && v.Left.Schema().HasColumn(name) {
				leftNeed[name] = true
			}
			if v.Right.Schema().HasColumn(name) {
				rightNeed[name] = true
			} else if v.Right.Schema().HasColumn(col) {
				rightNeed[col] = true
			}
		}
		left, leftChanged := prune(v.Left, leftNeed, false)
		right, rightChanged := prune(v.Right, rightNeed, false)
		if !leftChanged && !rightChanged {
			return p, false
		}
		return &JoinLogicPlan{Left: left, Right: right,
			LeftKey: v.LeftKey, RightKey: v.RightKey, Hint: v.Hint}, true
	case *AggrLogicPlan:
		need := map[string]bool{}
		for _, key := range v.GroupBy {
			need[key] = true
		}
		for _, a := range v.Aggrs {
			if a.Column != "" {
				need[a.Column] = true
			}
		}
		input, changed := prune(v.Input, need, false)
		if !changed {
			return p, false
		}
		return &AggrLogicPlan{Input: input, GroupBy: v.GroupBy, Aggrs: v.Aggrs}, true
	case *OrderByLogicPlan:
		input, changed := prune(v.Input, union(required, v.Keys), false)
		if !changed {
			return p, false
		}
		return &OrderByLogicPlan{Input: input, Keys: v.Keys, Asc: v.Asc, Limit: v.Limit}, true
	case *LimitLogicPlan:
		input, changed := prune(v.Input, required, false)
		if !changed {
			return p, false
		}
		return &LimitLogicPlan{Input: input, Count: v.Count}, true
	case *RepartitionLogicPlan:
		need := required
		if v.Key != "" {
			need = union(required, []string{v.Key})
		}
		input, changed := prune(v.Input, need, false)
		if !changed {
			return p, false
		}
		return &RepartitionLogicPlan{Input: input, Key: v.Key, Count: v.Count}, true
	}
	return p, false
}

func union(set map[string]bool, cols []string) map[string]bool {
	ret := make(map[string]bool, len(set)+len(cols))
	for col := range set {
		ret[col] = true
	}
	for _, col := range cols {
		ret[col] = true
	}
	return ret
}

// AggrFusionRule merges a self join of two aggregations over the same input
// and the same group key into one aggregation carrying the union of
// aggregate expressions. One scan and one shuffle instead of two of each;
// the join itself disappears since every group matches itself.
type AggrFusionRule struct{}

func (rule AggrFusionRule) Name() string { return "aggr_fusion" }

func (rule AggrFusionRule) Apply(p LogicPlan) (LogicPlan, bool) {
	return transformDown(p, func(node LogicPlan) (LogicPlan, bool) {
		join, ok := node.(*JoinLogicPlan)
		if !ok || join.LeftKey != join.RightKey {
			return node, false
		}
		left, ok := join.Left.(*AggrLogicPlan)
		if !ok {
			return node, false
		}
		right, ok := join.Right.(*AggrLogicPlan)
		if !ok {
			return node, false
		}
		if !sameStrings(left.GroupBy, right.GroupBy) {
			return node, false
		}
		if !contains(left.GroupBy, join.LeftKey) || len(left.GroupBy) != 1 {
			return node, false
		}
		if !sameInput(left.Input, right.Input) {
			return node, false
		}
		// An alias shared by both sides comes out of the join as a qualified
		// twin column; a single fused aggregation cannot produce it.
		seen := map[string]bool{}
		for _, a := range left.Aggrs {
			seen[a.Alias] = true
		}
		for _, a := range right.Aggrs {
			if seen[a.Alias] {
				return node, false
			}
		}
		aggrs := make([]AggrExpr, 0, len(left.Aggrs)+len(right.Aggrs))
		aggrs = append(aggrs, left.Aggrs...)
		aggrs = append(aggrs, right.Aggrs...)
		return &AggrLogicPlan{Input: left.Input, GroupBy: left.GroupBy, Aggrs: aggrs}, true
	})
}

// sameInput reports whether two subtrees read the same data: identical
// structure and, leaf by leaf, the very same Source. Rendered strings alone
// cannot tell apart two distinct sources registered under one scan name.
func sameInput(a, b LogicPlan) bool {
	if a == b {
		return true
	}
	if ExplainLogic(a) != ExplainLogic(b) {
		return false
	}
	as, bs := planSources(a), planSources(b)
	if len(as) != len(bs) {
		return false
	}
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// planSources collects the scan sources of a subtree in left to right order.
func planSources(p LogicPlan) []Source {
	if scan, ok := p.(*ScanLogicPlan); ok {
		return []Source{scan.Source}
	}
	var ret []Source
	for _, child := range p.Child() {
		ret = append(ret, planSources(child)...)
	}
	return ret
}

func sameStrings(left, right []string) bool {
	if len(left) != len(right) {
		return false
	}
	for i := range left {
		if left[i] != right[i] {
			return false
		}
	}
	return true
}

// TopNRule turns sort plus limit into one bounded sort, and recognizes the
// rank-then-filter spelling of the same thing: a row_number projection over
// a sort, filtered by rank <= n, keeps only the first n rows of the
// ordering.
type TopNRule struct{}

func (rule TopNRule) Name() string { return "top_n" }

func (rule TopNRule) Apply(p LogicPlan) (LogicPlan, bool) {
	return transformDown(p, func(node LogicPlan) (LogicPlan, bool) {
		if limit, ok := node.(*LimitLogicPlan); ok {
			orderBy, ok := limit.Input.(*OrderByLogicPlan)
			if !ok {
				return node, false
			}
			bound := limit.Count
			if orderBy.Limit > 0 && orderBy.Limit < bound {
				bound = orderBy.Limit
			}
			return &OrderByLogicPlan{
				Input: orderBy.Input,
				Keys:  orderBy.Keys,
				Asc:   orderBy.Asc,
				Limit: bound,
			}, true
		}
		sel, ok := node.(*SelectionLogicPlan)
		if !ok {
			return node, false
		}
		proj, ok := sel.Input.(*ProjectionLogicPlan)
		if !ok {
			return node, false
		}
		orderBy, ok := proj.Input.(*OrderByLogicPlan)
		if !ok || orderBy.Limit > 0 {
			return node, false
		}
		rankCol := rowNumberAlias(proj)
		if rankCol == "" {
			return node, false
		}
		bound, ok := rankBound(sel.Expr, rankCol)
		if !ok {
			return node, false
		}
		return &ProjectionLogicPlan{
			Input: &OrderByLogicPlan{
				Input: orderBy.Input,
				Keys:  orderBy.Keys,
				Asc:   orderBy.Asc,
				Limit: bound,
			},
			Exprs: proj.Exprs,
		}, true
	})
}

// rowNumberAlias returns the alias of the projection's row_number column, or
// "" when it has none.
func rowNumberAlias(proj *ProjectionLogicPlan) string {
	for _, as := range proj.Exprs {
		if _, ok := as.Expr.(RowNumberLogicExpr); ok && as.Alias != "" {
			return as.Alias
		}
	}
	return ""
}

// rankBound extracts n from a predicate of the shape rank <= n or rank < n
// over an integer literal. Anything looser does not strictly bound the rank
// and stays a plain filter.
func rankBound(expr LogicExpr, rankCol string) (int, bool) {
	cmp, ok := expr.(CompareLogicExpr)
	if !ok {
		return 0, false
	}
	ident, ok := cmp.Left.(IdentifierLogicExpr)
	if !ok || ident.Ident != rankCol {
		return 0, false
	}
	lit, ok := cmp.Right.(LiteralLogicExpr)
	if !ok || lit.TP != storage.Int {
		return 0, false
	}
	n := int(storage.DecodeInt(lit.Data))
	switch cmp.Op {
	case OpLessEqual:
		return n, n > 0
	case OpLess:
		return n - 1, n > 1
	}
	return 0, false
}

// JoinStrategyRule decides broadcast vs shuffle for joins the builder left
// unhinted. A side qualifies for broadcast when its estimated size is known
// and under the threshold; if both qualify the smaller one is replicated.
// Unknown estimates never broadcast.
type JoinStrategyRule struct {
	Threshold int64
}

func (rule JoinStrategyRule) Name() string { return "join_strategy" }

func (rule JoinStrategyRule) Apply(p LogicPlan) (LogicPlan, bool) {
	return transformDown(p, func(node LogicPlan) (LogicPlan, bool) {
		join, ok := node.(*JoinLogicPlan)
		if !ok || join.Hint != NoHint {
			return node, false
		}
		left := EstimateSizeBytes(join.Left)
		right := EstimateSizeBytes(join.Right)
		leftFits := left >= 0 && left <= rule.Threshold
		rightFits := right >= 0 && right <= rule.Threshold
		hint := HintShuffle
		switch {
		case leftFits && rightFits:
			if left <= right {
				hint = HintBroadcastLeft
			} else {
				hint = HintBroadcastRight
			}
		case leftFits:
			hint = HintBroadcastLeft
		case rightFits:
			hint = HintBroadcastRight
		}
		return &JoinLogicPlan{Left: join.Left, Right: join.Right,
			LeftKey: join.LeftKey, RightKey: join.RightKey, Hint: hint}, true
	})
}

// EstimateSizeBytes propagates the source size estimate up the tree,
// negative when unknown. Filters and aggregates keep the input estimate as
// an upper bound; projections scale it by the surviving column fraction;
// join output sizes are unknowable without statistics.
func EstimateSizeBytes(p LogicPlan) int64 {
	switch v := p.(type) {
	case *ScanLogicPlan:
		return v.Source.EstimatedSizeBytes()
	case *ProjectionLogicPlan:
		in := EstimateSizeBytes(v.Input)
		if in < 0 {
			return -1
		}
		total := len(v.Input.Schema().Columns)
		if total == 0 {
			return in
		}
		return in * int64(len(v.Exprs)) / int64(total)
	case *JoinLogicPlan:
		return -1
	case *SelectionLogicPlan, *AggrLogicPlan, *OrderByLogicPlan,
		*LimitLogicPlan, *RepartitionLogicPlan:
		return EstimateSizeBytes(p.Child()[0])
	}
	return -1
}
