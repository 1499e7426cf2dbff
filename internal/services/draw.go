package services

import (
	"math/rand/v2"
	"slices"

	"raffle-system/internal/status"
)

const (
	SpinMaxAttempts  = 1000
	BurstMaxAttempts = 5000
	MaxBurstCount    = 10
)

// DrawOne picks a uniformly random number in [0,total) that is not excluded.
// It gives up after SpinMaxAttempts probes and touches no state.
func DrawOne(rng *rand.Rand, total int, excluded func(int) bool) (int, error) {
	if total <= 0 {
		return 0, status.ErrNearlySoldOut
	}
	for i := 0; i < SpinMaxAttempts; i++ {
		n := rng.IntN(total)
		if !excluded(n) {
			return n, nil
		}
	}
	return 0, status.ErrNearlySoldOut
}

// DrawBurst picks up to count distinct free numbers. Random probing is capped
// at BurstMaxAttempts; when it falls short the remainder is sampled uniformly
// from the numbers still free, so the result holds min(count, free) numbers.
// A result shorter than count means the raffle could not fill the request.
func DrawBurst(rng *rand.Rand, total, count int, excluded func(int) bool) ([]int, error) {
	if count < 1 || count > MaxBurstCount {
		return nil, status.ErrBurstCount
	}

	picked := make([]int, 0, count)
	taken := func(n int) bool {
		return excluded(n) || slices.Contains(picked, n)
	}

	for attempts := 0; attempts < BurstMaxAttempts && len(picked) < count && total > 0; attempts++ {
		n := rng.IntN(total)
		if !taken(n) {
			picked = append(picked, n)
		}
	}
	if len(picked) == count {
		return picked, nil
	}

	var free []int
	for n := 0; n < total; n++ {
		if !taken(n) {
			free = append(free, n)
		}
	}
	for len(picked) < count && len(free) > 0 {
		i := rng.IntN(len(free))
		picked = append(picked, free[i])
		free[i] = free[len(free)-1]
		free = free[:len(free)-1]
	}

	if len(picked) == 0 {
		return nil, status.ErrNearlySoldOut
	}
	return picked, nil
}

// RerollSlot replaces batch[slot] with a fresh number that avoids the
// exclusions and every other member of the batch.
func RerollSlot(rng *rand.Rand, total int, batch []int, slot int, excluded func(int) bool) (int, error) {
	if slot < 0 || slot >= len(batch) {
		return 0, status.ErrInvalidSlot
	}
	current := batch[slot]
	return DrawOne(rng, total, func(n int) bool {
		if n == current {
			return true
		}
		return excluded(n) || slices.Contains(batch, n)
	})
}

func newRand() *rand.Rand {
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}
