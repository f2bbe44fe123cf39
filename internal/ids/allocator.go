// Package ids allocates unique decimal identifiers for Gestima entities
// from disjoint reserved ranges, with collision-retry for the random
// allocators and a simple max+1 strategy for WorkCenter.
package ids

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
)

// Entity identifies which reserved range and uniqueness column an
// allocation request targets.
type Entity string

const (
	Part       Entity = "part"
	Material   Entity = "material"
	Batch      Entity = "batch"
	BatchSet   Entity = "batch_set"
	Partner    Entity = "partner"
	WorkCenter Entity = "work_center"
	Quote      Entity = "quote"
)

// Range is an inclusive [Min, Max] window of the decimal number space
// reserved for an entity class.
type Range struct {
	Min int64
	Max int64
}

func (r Range) size() int64 { return r.Max - r.Min + 1 }

// ranges mirrors the reserved windows from the source number generator
// exactly; WorkCenter's minimum is one above its nominal range start
// because 80000000 is reserved as a sentinel in the source schema.
var ranges = map[Entity]Range{
	Part:       {10000000, 10999999},
	Material:   {20000000, 20999999},
	Batch:      {30000000, 30999999},
	BatchSet:   {35000000, 35999999},
	Partner:    {70000000, 70999999},
	WorkCenter: {80000001, 80999999},
	Quote:      {85000000, 85999999},
}

const (
	maxRetries    = 10
	maxBatchSize  = 1000
	capacity      = 1_000_000
)

// ErrNumberExhausted is returned when the reserved range is saturated or
// the collision rate is too high for the retry budget to overcome.
var ErrNumberExhausted = errors.New("ids: number range exhausted")

// ErrInvalidBatchSize is returned for n <= 0 or n > maxBatchSize.
var ErrInvalidBatchSize = errors.New("ids: invalid batch size")

// Store is the persistence dependency an Allocator needs: counting
// current utilization, checking which candidate numbers are already
// taken, and finding the current maximum for the sequential allocator.
type Store interface {
	// CountEntities returns how many non-deleted rows currently exist for
	// the entity's unique numeric column.
	CountEntities(ctx context.Context, entity Entity) (int64, error)

	// ExistingNumbers returns the subset of candidates already present
	// (non-deleted) for the entity's unique numeric column.
	ExistingNumbers(ctx context.Context, entity Entity, candidates []int64) (map[int64]bool, error)

	// MaxNumber returns the current maximum allocated number for the
	// entity, and false if none exist yet.
	MaxNumber(ctx context.Context, entity Entity) (int64, bool, error)
}

// Allocator issues unique identifiers per entity class.
type Allocator struct {
	store Store
}

// New builds an Allocator backed by store.
func New(store Store) *Allocator {
	return &Allocator{store: store}
}

// bufferMultiplier chooses how many extra candidates to sample beyond the
// requested count, based on how saturated the range already is.
func bufferMultiplier(utilization float64) float64 {
	switch {
	case utilization < 0.5:
		return 2.0
	case utilization < 0.8:
		return 3.0
	default:
		return 5.0
	}
}

// GenerateBatch allocates n unique numbers for entity using the
// collision-retry random strategy. WorkCenter is sequential and must use
// GenerateWorkCenterNumber instead.
func (a *Allocator) GenerateBatch(ctx context.Context, entity Entity, n int) ([]int64, error) {
	if entity == WorkCenter {
		return nil, fmt.Errorf("ids: %s uses sequential allocation, call GenerateWorkCenterNumber", entity)
	}
	if n <= 0 || n > maxBatchSize {
		return nil, ErrInvalidBatchSize
	}

	rng, ok := ranges[entity]
	if !ok {
		return nil, fmt.Errorf("ids: unknown entity %q", entity)
	}

	count, err := a.store.CountEntities(ctx, entity)
	if err != nil {
		return nil, fmt.Errorf("ids: count entities: %w", err)
	}
	utilization := float64(count) / float64(capacity)
	multiplier := bufferMultiplier(utilization)

	for attempt := 0; attempt < maxRetries; attempt++ {
		bufferSize := int(float64(n) * multiplier)
		if bufferSize < n {
			bufferSize = n
		}
		maxIterations := bufferSize * 10

		candidates := make(map[int64]struct{}, bufferSize)
		iterations := 0
		for int64(len(candidates)) < int64(bufferSize) && iterations < maxIterations {
			num := rng.Min + int64(randIntN(rng.size()))
			candidates[num] = struct{}{}
			iterations++
		}

		candidateSlice := make([]int64, 0, len(candidates))
		for c := range candidates {
			candidateSlice = append(candidateSlice, c)
		}

		existing, err := a.store.ExistingNumbers(ctx, entity, candidateSlice)
		if err != nil {
			return nil, fmt.Errorf("ids: existing numbers: %w", err)
		}

		available := make([]int64, 0, len(candidateSlice))
		for _, c := range candidateSlice {
			if !existing[c] {
				available = append(available, c)
			}
		}

		if len(available) >= n {
			return available[:n], nil
		}
	}

	return nil, fmt.Errorf("%w: entity=%s requested=%d", ErrNumberExhausted, entity, n)
}

// Generate allocates a single number; a degenerate call to GenerateBatch
// with n = 1.
func (a *Allocator) Generate(ctx context.Context, entity Entity) (int64, error) {
	nums, err := a.GenerateBatch(ctx, entity, 1)
	if err != nil {
		return 0, err
	}
	return nums[0], nil
}

// GenerateWorkCenterNumber returns max(existing)+1, or the range minimum
// if no WorkCenter exists yet.
func (a *Allocator) GenerateWorkCenterNumber(ctx context.Context) (int64, error) {
	rng := ranges[WorkCenter]

	max, found, err := a.store.MaxNumber(ctx, WorkCenter)
	if err != nil {
		return 0, fmt.Errorf("ids: max work center number: %w", err)
	}
	if !found {
		return rng.Min, nil
	}

	next := max + 1
	if next > rng.Max {
		return 0, fmt.Errorf("%w: work_center range saturated at %d", ErrNumberExhausted, rng.Max)
	}
	return next, nil
}

func randIntN(n int64) int64 {
	if n <= 0 {
		return 0
	}
	return rand.Int64N(n)
}
