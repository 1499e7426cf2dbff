package services

import (
	"sort"

	"raffle-system/models"
)

// OccupiedIndex maps every taken ticket number of one raffle to its status.
// Merges are add-wins: a number never becomes free through Mark, and a paid
// ticket never goes back to reserved. Only Replace can shrink the set.
type OccupiedIndex struct {
	entries map[int]models.TicketStatus
}

func NewOccupiedIndex(tickets []models.OccupiedTicket) *OccupiedIndex {
	o := &OccupiedIndex{}
	o.Replace(tickets)
	return o
}

// Mark records number as taken and reports whether the index changed.
func (o *OccupiedIndex) Mark(number int, st models.TicketStatus) bool {
	if !st.Valid() {
		st = models.TicketReserved
	}
	cur, ok := o.entries[number]
	if ok && !cur.CanTransition(st) {
		return false
	}
	if ok && cur == st {
		return false
	}
	o.entries[number] = st
	return true
}

// Replace swaps the whole index for a freshly fetched set.
func (o *OccupiedIndex) Replace(tickets []models.OccupiedTicket) {
	entries := make(map[int]models.TicketStatus, len(tickets))
	for _, t := range tickets {
		st := t.Status
		if !st.Valid() {
			st = models.TicketReserved
		}
		if cur, ok := entries[t.Number]; ok && cur == models.TicketPaid {
			continue
		}
		entries[t.Number] = st
	}
	o.entries = entries
}

func (o *OccupiedIndex) Has(number int) bool {
	_, ok := o.entries[number]
	return ok
}

func (o *OccupiedIndex) Status(number int) (models.TicketStatus, bool) {
	st, ok := o.entries[number]
	return st, ok
}

func (o *OccupiedIndex) Len() int {
	return len(o.entries)
}

func (o *OccupiedIndex) Counts() (reserved, paid int) {
	for _, st := range o.entries {
		if st == models.TicketPaid {
			paid++
		} else {
			reserved++
		}
	}
	return reserved, paid
}

func (o *OccupiedIndex) Snapshot() []models.OccupiedTicket {
	out := make([]models.OccupiedTicket, 0, len(o.entries))
	for n, st := range o.entries {
		out = append(out, models.OccupiedTicket{Number: n, Status: st})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}
