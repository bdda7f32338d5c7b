package orchestrator

import (
	"fmt"

	"github.com/forgecrew/foreman/internal/capability"
)

// ErrCyclicDependency rejects plans whose depends_on edges form a cycle.
var ErrCyclicDependency = fmt.Errorf("cyclic dependency in plan")

// PlanNode is one unit of delegable work inside a plan.
type PlanNode struct {
	ID             string                    `json:"id"`
	Objective      string                    `json:"objective"`
	Tags           []string                  `json:"tags"`
	Classification capability.Classification `json:"classification,omitempty"`
	DependsOn      []string                  `json:"depends_on,omitempty"`
	Risky          bool                      `json:"risky,omitempty"`
	MaxRetries     int                       `json:"max_retries,omitempty"`
}

// Plan is a validated dependency graph of delegable work. Nodes without
// dependency edges between them are independent and may run concurrently.
type Plan struct {
	nodes map[string]*PlanNode
	order []string // topological, declaration order among peers
}

// NewPlan validates the nodes and computes an execution order with Kahn's
// algorithm. Peers at the same depth keep their declaration order, so two
// plans over the same nodes always execute identically.
func NewPlan(nodes []PlanNode) (*Plan, error) {
	p := &Plan{nodes: make(map[string]*PlanNode, len(nodes))}
	for i := range nodes {
		n := &nodes[i]
		if n.ID == "" {
			return nil, fmt.Errorf("plan node %d: missing id", i)
		}
		if n.Objective == "" {
			return nil, fmt.Errorf("plan node %s: missing objective", n.ID)
		}
		if _, dup := p.nodes[n.ID]; dup {
			return nil, fmt.Errorf("plan node %s: duplicate id", n.ID)
		}
		p.nodes[n.ID] = n
	}

	inDegree := make(map[string]int, len(nodes))
	dependents := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		inDegree[n.ID] += 0
		for _, need := range n.DependsOn {
			if _, ok := p.nodes[need]; !ok {
				return nil, fmt.Errorf("plan node %s: depends on unknown node %s", n.ID, need)
			}
			inDegree[n.ID]++
			dependents[need] = append(dependents[need], n.ID)
		}
	}

	var queue []string
	for _, n := range nodes {
		if inDegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}

	var order []string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, dep := range dependents[id] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	if len(order) != len(nodes) {
		return nil, ErrCyclicDependency
	}

	p.order = order
	return p, nil
}

// Order returns node ids in execution order.
func (p *Plan) Order() []string {
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// Node returns the node with the given id, or nil.
func (p *Plan) Node(id string) *PlanNode {
	return p.nodes[id]
}

// Ready returns nodes whose dependencies are all in the done set, skipping
// nodes already done, in execution order.
func (p *Plan) Ready(done map[string]bool) []*PlanNode {
	var ready []*PlanNode
	for _, id := range p.order {
		if done[id] {
			continue
		}
		n := p.nodes[id]
		ok := true
		for _, need := range n.DependsOn {
			if !done[need] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, n)
		}
	}
	return ready
}

// Len returns the number of nodes.
func (p *Plan) Len() int {
	return len(p.nodes)
}
