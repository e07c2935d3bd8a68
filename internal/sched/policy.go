package sched

// DefaultSlice is the instruction budget handed out when a policy is
// built with none.
const DefaultSlice = 1000

// Candidate is one schedulable process as a policy sees it. The kernel
// builds the slice in slot order on every pick.
type Candidate struct {
	Slot     int
	Priority int
	// Pending is true when upcalls sit queued for the process.
	Pending bool
}

// Decision names the chosen slot and its instruction budget.
type Decision struct {
	Slot  int
	Slice uint64
}

// Policy selects the next process to run. Pick reports false when no
// candidate is eligible. Forget drops per-slot bookkeeping once a slot
// empties so a future occupant starts clean.
type Policy interface {
	Name() string
	Pick(cands []Candidate) (Decision, bool)
	Forget(slot int)
}

// RoundRobin rotates through candidates in slot order with a fixed
// budget per turn. Rotation alone satisfies the fairness bound: no
// candidate is ever skipped while eligible.
type RoundRobin struct {
	slice uint64
	next  int
}

func NewRoundRobin(slice uint64) *RoundRobin {
	if slice == 0 {
		slice = DefaultSlice
	}
	return &RoundRobin{slice: slice}
}

func (r *RoundRobin) Name() string { return "round_robin" }

func (r *RoundRobin) Pick(cands []Candidate) (Decision, bool) {
	if len(cands) == 0 {
		return Decision{}, false
	}
	chosen := cands[0]
	for _, c := range cands {
		if c.Slot >= r.next {
			chosen = c
			break
		}
	}
	r.next = chosen.Slot + 1
	return Decision{Slot: chosen.Slot, Slice: r.slice}, true
}

func (r *RoundRobin) Forget(int) {}

// PriorityTimeslice runs the highest-priority candidate, breaking ties
// toward whoever has waited longest. A candidate with pending upcalls
// that has been passed over MaxSkips times in a row is chosen ahead of
// priority.
type PriorityTimeslice struct {
	slice    uint64
	maxSkips int
	skips    map[int]int
}

// DefaultMaxSkips keeps a pending candidate from being skipped twice
// in a row.
const DefaultMaxSkips = 1

func NewPriorityTimeslice(slice uint64, maxSkips int) *PriorityTimeslice {
	if slice == 0 {
		slice = DefaultSlice
	}
	if maxSkips <= 0 {
		maxSkips = DefaultMaxSkips
	}
	return &PriorityTimeslice{
		slice:    slice,
		maxSkips: maxSkips,
		skips:    make(map[int]int),
	}
}

func (p *PriorityTimeslice) Name() string { return "priority" }

func (p *PriorityTimeslice) Pick(cands []Candidate) (Decision, bool) {
	if len(cands) == 0 {
		return Decision{}, false
	}

	chosen, found := p.overdue(cands)
	if !found {
		chosen = cands[0]
		for _, c := range cands[1:] {
			if p.better(c, chosen) {
				chosen = c
			}
		}
	}

	// Skips count consecutive picks while eligible; a slot that sits
	// out a pick starts over.
	next := make(map[int]int, len(cands))
	for _, c := range cands {
		if c.Slot != chosen.Slot {
			next[c.Slot] = p.skips[c.Slot] + 1
		}
	}
	p.skips = next
	return Decision{Slot: chosen.Slot, Slice: p.slice}, true
}

// overdue finds the pending candidate that has exhausted its skip
// allowance, preferring the most-skipped.
func (p *PriorityTimeslice) overdue(cands []Candidate) (Candidate, bool) {
	var chosen Candidate
	found := false
	for _, c := range cands {
		if !c.Pending || p.skips[c.Slot] < p.maxSkips {
			continue
		}
		if !found || p.skips[c.Slot] > p.skips[chosen.Slot] {
			chosen = c
			found = true
		}
	}
	return chosen, found
}

func (p *PriorityTimeslice) better(c, than Candidate) bool {
	if c.Priority != than.Priority {
		return c.Priority > than.Priority
	}
	return p.skips[c.Slot] > p.skips[than.Slot]
}

func (p *PriorityTimeslice) Forget(slot int) {
	delete(p.skips, slot)
}
