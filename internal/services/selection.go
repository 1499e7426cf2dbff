package services

import (
	"slices"

	"raffle-system/internal/status"
)

// Selection is the visitor's cart: distinct ticket numbers in the order they were picked.
type Selection struct {
	numbers []int
}

func (s *Selection) Contains(n int) bool {
	return slices.Contains(s.numbers, n)
}

func (s *Selection) Len() int {
	return len(s.numbers)
}

func (s *Selection) Numbers() []int {
	return slices.Clone(s.numbers)
}

func (s *Selection) add(n int) bool {
	if s.Contains(n) {
		return false
	}
	s.numbers = append(s.numbers, n)
	return true
}

func (s *Selection) remove(n int) bool {
	i := slices.Index(s.numbers, n)
	if i < 0 {
		return false
	}
	s.numbers = slices.Delete(s.numbers, i, i+1)
	return true
}

func (s *Selection) replace(numbers ...int) {
	s.numbers = append(s.numbers[:0], numbers...)
}

// SelectionEngine applies selection rules against a raffle's occupied set.
// It never performs I/O; CheckoutSession serialises access to it.
type SelectionEngine struct {
	occupied  *OccupiedIndex
	selection *Selection
	total     int
	multi     bool
}

func NewSelectionEngine(occupied *OccupiedIndex, total int, multi bool) *SelectionEngine {
	return &SelectionEngine{
		occupied:  occupied,
		selection: &Selection{},
		total:     total,
		multi:     multi,
	}
}

func (e *SelectionEngine) Selection() *Selection {
	return e.selection
}

func (e *SelectionEngine) Occupied() *OccupiedIndex {
	return e.occupied
}

func (e *SelectionEngine) InRange(n int) bool {
	return n >= 0 && n < e.total
}

// Excluded reports whether n can not be drawn: taken or already in the cart.
func (e *SelectionEngine) Excluded(n int) bool {
	return e.occupied.Has(n) || e.selection.Contains(n)
}

// Toggle flips n in the cart. Occupied numbers are ignored. Single-ticket
// raffles always end with the cart set to {n}, even when n was already in it.
func (e *SelectionEngine) Toggle(n int) (bool, error) {
	if !e.InRange(n) {
		return false, status.ErrInvalidNumber
	}
	if e.occupied.Has(n) {
		return false, nil
	}
	if !e.multi {
		changed := e.selection.Len() != 1 || !e.selection.Contains(n)
		e.selection.replace(n)
		return changed, nil
	}
	if e.selection.Contains(n) {
		return e.selection.remove(n), nil
	}
	return e.Add(n), nil
}

// Add puts n in the cart with the raffle's add semantics, used by manual
// picks and by accepted draws alike.
func (e *SelectionEngine) Add(n int) bool {
	if !e.InRange(n) || e.occupied.Has(n) || e.selection.Contains(n) {
		return false
	}
	if !e.multi {
		e.selection.replace(n)
		return true
	}
	return e.selection.add(n)
}

func (e *SelectionEngine) Remove(n int) bool {
	return e.selection.remove(n)
}

func (e *SelectionEngine) Clear() {
	e.selection.replace()
}

// Conflicts lists cart numbers that have been taken meanwhile.
func (e *SelectionEngine) Conflicts() []int {
	var out []int
	for _, n := range e.selection.numbers {
		if e.occupied.Has(n) {
			out = append(out, n)
		}
	}
	return out
}

// Evict drops every conflicting number from the cart and returns them.
func (e *SelectionEngine) Evict() []int {
	conflicts := e.Conflicts()
	for _, n := range conflicts {
		e.selection.remove(n)
	}
	return conflicts
}

// Available is how many numbers could still be drawn.
func (e *SelectionEngine) Available() int {
	free := e.total - e.occupied.Len() - e.selection.Len()
	for _, n := range e.selection.numbers {
		if e.occupied.Has(n) {
			free++
		}
	}
	for n := range e.occupied.entries {
		if !e.InRange(n) {
			free++
		}
	}
	if free < 0 {
		return 0
	}
	return free
}
