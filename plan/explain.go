package plan

import (
	"fmt"
	"strings"
)

// ExplainLogic renders the logical plan tree, one node per line, children
// indented under their parent.
func ExplainLogic(p LogicPlan) string {
	buf := &strings.Builder{}
	explainLogic(buf, p, 0)
	return buf.String()
}

func explainLogic(buf *strings.Builder, p LogicPlan, depth int) {
	buf.WriteString(strings.Repeat("  ", depth))
	buf.WriteString(p.String())
	buf.WriteByte('\n')
	for _, child := range p.Child() {
		explainLogic(buf, child, depth+1)
	}
}

// Explain renders the physical plan with each node's output partitioning,
// the form returned by DataSet.Explain and attached to run stats.
func Explain(p PhysicalPlan) string {
	buf := &strings.Builder{}
	explainPhysical(buf, p, 0)
	return buf.String()
}

// Explain shows the physical plan this data set would run, without running
// it.
func (ds *DataSet) Explain() (string, error) {
	optimized, err := Optimize(ds.plan, ds.conf)
	if err != nil {
		return "", err
	}
	phys, err := NewPlanner(ds.conf).Plan(optimized)
	if err != nil {
		return "", err
	}
	return Explain(phys), nil
}

func explainPhysical(buf *strings.Builder, p PhysicalPlan, depth int) {
	buf.WriteString(strings.Repeat("  ", depth))
	if _, ok := p.(*PhysicalExchange); ok {
		buf.WriteString(p.String())
	} else {
		buf.WriteString(fmt.Sprintf("%s [%s]", p.String(), p.Partitioning()))
	}
	buf.WriteByte('\n')
	for _, child := range p.Children() {
		explainPhysical(buf, child, depth+1)
	}
}
