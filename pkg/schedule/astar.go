// Package schedule picks joint reminder timings with branch-and-bound A* search
package schedule

import (
	"container/heap"
	"context"
	"time"

	"github.com/suggestd/suggestd/pkg"
	"github.com/suggestd/suggestd/pkg/logx"
)

// Skip marks a candidate left out of the schedule
const Skip = -1

// DefaultNodeBudget bounds the search before falling back to greedy
const DefaultNodeBudget = 10000

// Candidate is one suggestion with its timing options. The expected reward
// of option j is SuggestionScore times that option's confidence.
type Candidate struct {
	RuleID          int64
	SuggestionScore float64
	Options         []pkg.TimingOption
}

func (c *Candidate) reward(option int) float64 {
	return c.SuggestionScore * c.Options[option].Confidence
}

// Result is a complete schedule: one option index per candidate, or Skip
type Result struct {
	Assignments   []int
	TotalReward   float64
	NodesExplored int
	SearchTimeMS  float64
	Completed     bool
	Quality       string // optimal|greedy_fallback
}

// Optimizer runs the schedule search
type Optimizer struct {
	nodeBudget int
	logger     *logx.Logger
}

func NewOptimizer(nodeBudget int, logger *logx.Logger) *Optimizer {
	if nodeBudget < 1 {
		nodeBudget = DefaultNodeBudget
	}
	return &Optimizer{nodeBudget: nodeBudget, logger: logger}
}

// node is a partial schedule covering candidates [0, depth)
type node struct {
	depth    int
	chosen   []int
	g        float64
	priority float64 // g plus admissible remainder bound
	seq      int
}

type nodeQueue []*node

func (q nodeQueue) Len() int { return len(q) }

// Highest priority first; ties prefer shallower nodes, then insertion order
func (q nodeQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	if q[i].depth != q[j].depth {
		return q[i].depth < q[j].depth
	}
	return q[i].seq < q[j].seq
}

func (q nodeQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *nodeQueue) Push(x interface{}) { *q = append(*q, x.(*node)) }

func (q *nodeQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// Optimize searches for the assignment maximizing total expected reward.
// Every candidate may also be skipped for zero reward. If the node budget
// runs out or the context is cancelled before a provably optimal schedule
// is found, a greedy per-candidate choice is returned instead.
func (o *Optimizer) Optimize(ctx context.Context, candidates []*Candidate) *Result {
	start := time.Now()

	if len(candidates) == 0 {
		return &Result{
			Assignments: []int{},
			Completed:   true,
			Quality:     "optimal",
		}
	}

	// maxRemaining[i] bounds the reward obtainable from candidates i..n-1.
	// Per-candidate choices are independent, so summing each candidate's
	// best option never underestimates any completion.
	n := len(candidates)
	maxRemaining := make([]float64, n+1)
	for i := n - 1; i >= 0; i-- {
		best := 0.0 // skip is always available
		for j := range candidates[i].Options {
			if r := candidates[i].reward(j); r > best {
				best = r
			}
		}
		maxRemaining[i] = maxRemaining[i+1] + best
	}

	queue := &nodeQueue{}
	heap.Init(queue)
	heap.Push(queue, &node{chosen: []int{}, priority: maxRemaining[0]})

	var best *node
	nodes := 0
	seq := 0
	cancelled := false

	for queue.Len() > 0 && nodes < o.nodeBudget {
		if ctx.Err() != nil {
			o.logger.Warn("schedule search cancelled", "nodes_explored", nodes)
			cancelled = true
			break
		}

		current := heap.Pop(queue).(*node)
		nodes++

		if current.depth == n {
			if best == nil || current.g > best.g {
				best = current
			}
			continue
		}

		// Once a complete schedule is at hand, bounds at or below it
		// cannot improve on it
		if best != nil && current.priority <= best.g {
			continue
		}

		cand := candidates[current.depth]
		for j := 0; j <= len(cand.Options); j++ {
			choice := Skip
			reward := 0.0
			if j < len(cand.Options) {
				choice = j
				reward = cand.reward(j)
			}

			g := current.g + reward
			priority := g + maxRemaining[current.depth+1]
			if best != nil && priority <= best.g {
				continue
			}

			chosen := make([]int, len(current.chosen)+1)
			copy(chosen, current.chosen)
			chosen[len(current.chosen)] = choice

			seq++
			heap.Push(queue, &node{
				depth:    current.depth + 1,
				chosen:   chosen,
				g:        g,
				priority: priority,
				seq:      seq,
			})
		}
	}

	completed := !cancelled && queue.Len() == 0

	if best == nil {
		o.logger.Warn("schedule search budget exhausted",
			"nodes_explored", nodes, "budget", o.nodeBudget)
		return o.greedy(candidates, nodes, start)
	}

	quality := "optimal"
	if !completed {
		quality = "greedy_fallback"
	}

	o.logger.Debug("schedule search finished",
		"candidates", n, "nodes_explored", nodes,
		"total_reward", best.g, "completed", completed)
	return &Result{
		Assignments:   best.chosen,
		TotalReward:   best.g,
		NodesExplored: nodes,
		SearchTimeMS:  float64(time.Since(start).Microseconds()) / 1000.0,
		Completed:     completed,
		Quality:       quality,
	}
}

// greedy picks each candidate's highest-reward option independently,
// preferring shorter lead-times on ties
func (o *Optimizer) greedy(candidates []*Candidate, nodes int, start time.Time) *Result {
	assignments := make([]int, len(candidates))
	total := 0.0

	for i, cand := range candidates {
		choice := Skip
		best := 0.0
		for j := range cand.Options {
			r := cand.reward(j)
			better := r > best
			tie := r == best && choice != Skip && cand.Options[j].LeadMinutes < cand.Options[choice].LeadMinutes
			if better || tie {
				best = r
				choice = j
			}
		}
		assignments[i] = choice
		total += best
	}

	return &Result{
		Assignments:   assignments,
		TotalReward:   total,
		NodesExplored: nodes,
		SearchTimeMS:  float64(time.Since(start).Microseconds()) / 1000.0,
		Completed:     false,
		Quality:       "greedy_fallback",
	}
}
