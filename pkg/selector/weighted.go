package selector

import (
	"errors"
	"math/rand/v2"
	"sync"

	"tonaccess/pkg/models"
)

var (
	// ErrNoCandidates is returned when selecting from an empty candidate set.
	ErrNoCandidates = errors.New("no candidates to select from")

	// ErrInvalidCount is returned when fewer than one node is requested.
	ErrInvalidCount = errors.New("selection count must be at least 1")
)

// Selector performs weighted-random node selection. It is safe for concurrent use.
type Selector struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a selector drawing from src.
func New(src rand.Source) *Selector {
	return &Selector{rng: rand.New(src)}
}

// NewSeeded creates a deterministic selector, for tests and reproducible runs.
func NewSeeded(seed uint64) *Selector {
	return New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// NewRandom creates a selector seeded from the runtime's entropy.
func NewRandom() *Selector {
	return New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// Pick draws count nodes independently; the same node may be drawn more than once.
func (s *Selector) Pick(candidates []models.NodeRecord, count int) ([]models.NodeRecord, error) {
	if err := validate(candidates, count); err != nil {
		return nil, err
	}

	pool := eligible(candidates)

	s.mu.Lock()
	defer s.mu.Unlock()

	picked := make([]models.NodeRecord, 0, count)
	for range count {
		picked = append(picked, pool[s.draw(pool)])
	}
	return picked, nil
}

// PickDistinct draws up to count distinct nodes, weighted, without replacement. When
// count exceeds the eligible set, the remainder is filled with independent draws.
func (s *Selector) PickDistinct(candidates []models.NodeRecord, count int) ([]models.NodeRecord, error) {
	if err := validate(candidates, count); err != nil {
		return nil, err
	}

	pool := eligible(candidates)
	remaining := make([]models.NodeRecord, len(pool))
	copy(remaining, pool)

	s.mu.Lock()
	defer s.mu.Unlock()

	picked := make([]models.NodeRecord, 0, count)
	for len(picked) < count && len(remaining) > 0 {
		idx := s.draw(remaining)
		picked = append(picked, remaining[idx])
		remaining = append(remaining[:idx], remaining[idx+1:]...)
	}
	for len(picked) < count {
		picked = append(picked, pool[s.draw(pool)])
	}

	return picked, nil
}

// draw returns an index into pool. With a zero total weight every node is equally
// likely; otherwise the first node whose running weight sum exceeds a uniform draw
// in [0, total) wins. Callers hold s.mu.
func (s *Selector) draw(pool []models.NodeRecord) int {
	total := totalWeight(pool)
	if total <= 0 {
		return s.rng.IntN(len(pool))
	}

	target := s.rng.Float64() * total
	running := 0.0
	for i, node := range pool {
		running += node.Weight
		if running > target {
			return i
		}
	}

	// Float rounding can leave target at the very top; take the last weighted node.
	for i := len(pool) - 1; i >= 0; i-- {
		if pool[i].Weight > 0 {
			return i
		}
	}
	return len(pool) - 1
}

// eligible drops zero-weight nodes unless every candidate has zero weight.
func eligible(candidates []models.NodeRecord) []models.NodeRecord {
	weighted := make([]models.NodeRecord, 0, len(candidates))
	for _, node := range candidates {
		if node.Weight > 0 {
			weighted = append(weighted, node)
		}
	}
	if len(weighted) == 0 {
		return candidates
	}
	return weighted
}

func totalWeight(pool []models.NodeRecord) float64 {
	total := 0.0
	for _, node := range pool {
		if node.Weight > 0 {
			total += node.Weight
		}
	}
	return total
}

func validate(candidates []models.NodeRecord, count int) error {
	if count < 1 {
		return ErrInvalidCount
	}
	if len(candidates) == 0 {
		return ErrNoCandidates
	}
	return nil
}
