package transaction

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/initcore/initcore/internal/unit"
)

// deleteCycles implements Phase 2: restrict the After-graph to the
// transaction's candidate jobs, find strongly connected components, and
// break each multi-node component by deleting a non-anchor, non-essential
// job. An unbreakable component fails the whole transaction.
func (b *Builder) deleteCycles(tx *Transaction) error {
	for {
		scc := firstCycle(tx)
		if scc == nil {
			return nil
		}

		victim := ""
		for _, id := range scc {
			c := tx.jobs[id]
			if id == tx.anchor || c.essential {
				continue
			}
			victim = id
			break
		}
		if victim == "" {
			return errors.Wrapf(ErrOrderingCycle, "units %v", scc)
		}
		delete(tx.jobs, victim)
	}
}

// afterSuccessors returns the candidate unit ids that id's unit is ordered
// After, restricted to the transaction.
func (tx *Transaction) afterSuccessors(id string) []string {
	c := tx.jobs[id]
	var out []string
	for targetID := range c.unit.Dependencies[unit.After] {
		if _, in := tx.jobs[targetID]; in {
			out = append(out, targetID)
		}
	}
	sort.Strings(out)
	return out
}

// firstCycle runs Tarjan's algorithm over the transaction's After-graph and
// returns the first strongly connected component with more than one node,
// or nil if the graph is acyclic. Node order is made deterministic by
// sorting ids, so repeated runs break the same cycle the same way.
func firstCycle(tx *Transaction) []string {
	ids := make([]string, 0, len(tx.jobs))
	for id := range tx.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	t := &tarjan{
		tx:      tx,
		index:   make(map[string]int),
		lowlink: make(map[string]int),
		onStack: make(map[string]bool),
	}
	for _, id := range ids {
		if _, seen := t.index[id]; !seen {
			if scc := t.strongconnect(id); scc != nil {
				return scc
			}
		}
	}
	return nil
}

type tarjan struct {
	tx      *Transaction
	counter int
	index   map[string]int
	lowlink map[string]int
	stack   []string
	onStack map[string]bool
}

func (t *tarjan) strongconnect(v string) []string {
	t.index[v] = t.counter
	t.lowlink[v] = t.counter
	t.counter++
	t.stack = append(t.stack, v)
	t.onStack[v] = true

	for _, w := range t.tx.afterSuccessors(v) {
		if _, seen := t.index[w]; !seen {
			if scc := t.strongconnect(w); scc != nil {
				return scc
			}
			if t.lowlink[w] < t.lowlink[v] {
				t.lowlink[v] = t.lowlink[w]
			}
		} else if t.onStack[w] {
			if t.index[w] < t.lowlink[v] {
				t.lowlink[v] = t.index[w]
			}
		}
	}

	if t.lowlink[v] == t.index[v] {
		var scc []string
		for {
			n := len(t.stack) - 1
			w := t.stack[n]
			t.stack = t.stack[:n]
			t.onStack[w] = false
			scc = append(scc, w)
			if w == v {
				break
			}
		}
		if len(scc) > 1 {
			sort.Strings(scc)
			return scc
		}
	}
	return nil
}
