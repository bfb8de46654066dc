package mesh

import (
	"errors"
	"sync"
)

// Errors returned by collective operations.
var (
	ErrCollectiveMismatch = errors.New("mesh: buffer length mismatch across ranks")
	ErrBadRoot            = errors.New("mesh: broadcast root out of range")
)

// Comm provides the collective operations the estimation pipeline needs:
// elementwise sum reductions, concatenating gathers and broadcasts. Every
// rank of a communicator must call every collective in the same order;
// collectives block until all ranks arrive.
//
// Reductions sum rank contributions in rank order, so results are
// bit-identical on every rank and across repeated runs.
type Comm interface {
	// Size returns the number of ranks in the communicator.
	Size() int

	// Rank returns the calling rank, in [0, Size).
	Rank() int

	// AllReduceFloat64 sums x elementwise across all ranks, in place.
	// All ranks must pass slices of the same length.
	AllReduceFloat64(x []float64) error

	// AllReduceInt64 sums x elementwise across all ranks, in place.
	AllReduceInt64(x []int64) error

	// AllGatherFloat64 concatenates the per-rank slices in rank order and
	// returns the same concatenation on every rank. Lengths may differ
	// between ranks.
	AllGatherFloat64(x []float64) ([]float64, error)

	// AllGatherComplex128 is AllGatherFloat64 for complex data.
	AllGatherComplex128(x []complex128) ([]complex128, error)

	// BcastFloat64 overwrites x on every rank with the root's x.
	// All ranks must pass slices of the same length.
	BcastFloat64(x []float64, root int) error
}

// selfComm is the trivial single-rank communicator.
type selfComm struct{}

// Self returns a single-rank communicator. All collectives are no-ops.
func Self() Comm { return selfComm{} }

func (selfComm) Size() int                        { return 1 }
func (selfComm) Rank() int                        { return 0 }
func (selfComm) AllReduceFloat64([]float64) error { return nil }
func (selfComm) AllReduceInt64([]int64) error     { return nil }

func (selfComm) AllGatherFloat64(x []float64) ([]float64, error) {
	out := make([]float64, len(x))
	copy(out, x)
	return out, nil
}

func (selfComm) AllGatherComplex128(x []complex128) ([]complex128, error) {
	out := make([]complex128, len(x))
	copy(out, x)
	return out, nil
}

func (selfComm) BcastFloat64(x []float64, root int) error {
	if root != 0 {
		return ErrBadRoot
	}
	return nil
}

// localGroup is shared state for an in-process SPMD communicator whose
// ranks are goroutines. It is used to exercise multi-rank code paths
// (slab decomposition, reductions) inside a single process.
type localGroup struct {
	size int

	mu      sync.Mutex
	cond    *sync.Cond
	gen     uint64
	arrived int

	slotsF [][]float64
	slotsC [][]complex128
	slotsI [][]int64
}

// localComm is one rank's handle into a localGroup.
type localComm struct {
	g    *localGroup
	rank int
}

// NewLocalGroup returns size communicator handles backed by shared
// in-process state. Handle i must be used exclusively by goroutine i;
// all handles must participate in every collective or the group
// deadlocks, matching the semantics of a distributed communicator.
func NewLocalGroup(size int) []Comm {
	if size < 1 {
		size = 1
	}
	g := &localGroup{
		size:   size,
		slotsF: make([][]float64, size),
		slotsC: make([][]complex128, size),
		slotsI: make([][]int64, size),
	}
	g.cond = sync.NewCond(&g.mu)
	comms := make([]Comm, size)
	for i := range comms {
		comms[i] = &localComm{g: g, rank: i}
	}
	return comms
}

// barrier blocks until all ranks of the group have entered it.
func (g *localGroup) barrier() {
	g.mu.Lock()
	defer g.mu.Unlock()
	gen := g.gen
	g.arrived++
	if g.arrived == g.size {
		g.arrived = 0
		g.gen++
		g.cond.Broadcast()
		return
	}
	for gen == g.gen {
		g.cond.Wait()
	}
}

func (c *localComm) Size() int { return c.g.size }
func (c *localComm) Rank() int { return c.rank }

func (c *localComm) AllReduceFloat64(x []float64) error {
	g := c.g
	g.slotsF[c.rank] = x
	g.barrier()
	// Fail fast on shape mismatch instead of corrupting the reduction.
	for r := 0; r < g.size; r++ {
		if len(g.slotsF[r]) != len(x) {
			g.barrier()
			return ErrCollectiveMismatch
		}
	}
	acc := make([]float64, len(x))
	for r := 0; r < g.size; r++ {
		src := g.slotsF[r]
		for i, v := range src {
			acc[i] += v
		}
	}
	g.barrier()
	copy(x, acc)
	g.barrier()
	return nil
}

func (c *localComm) AllReduceInt64(x []int64) error {
	g := c.g
	g.slotsI[c.rank] = x
	g.barrier()
	for r := 0; r < g.size; r++ {
		if len(g.slotsI[r]) != len(x) {
			g.barrier()
			return ErrCollectiveMismatch
		}
	}
	acc := make([]int64, len(x))
	for r := 0; r < g.size; r++ {
		src := g.slotsI[r]
		for i, v := range src {
			acc[i] += v
		}
	}
	g.barrier()
	copy(x, acc)
	g.barrier()
	return nil
}

func (c *localComm) AllGatherFloat64(x []float64) ([]float64, error) {
	g := c.g
	g.slotsF[c.rank] = x
	g.barrier()
	total := 0
	for r := 0; r < g.size; r++ {
		total += len(g.slotsF[r])
	}
	out := make([]float64, 0, total)
	for r := 0; r < g.size; r++ {
		out = append(out, g.slotsF[r]...)
	}
	g.barrier()
	return out, nil
}

func (c *localComm) AllGatherComplex128(x []complex128) ([]complex128, error) {
	g := c.g
	g.slotsC[c.rank] = x
	g.barrier()
	total := 0
	for r := 0; r < g.size; r++ {
		total += len(g.slotsC[r])
	}
	out := make([]complex128, 0, total)
	for r := 0; r < g.size; r++ {
		out = append(out, g.slotsC[r]...)
	}
	g.barrier()
	return out, nil
}

func (c *localComm) BcastFloat64(x []float64, root int) error {
	g := c.g
	if root < 0 || root >= g.size {
		return ErrBadRoot
	}
	g.slotsF[c.rank] = x
	g.barrier()
	if len(g.slotsF[root]) != len(x) {
		g.barrier()
		return ErrCollectiveMismatch
	}
	if c.rank != root {
		copy(x, g.slotsF[root])
	}
	g.barrier()
	return nil
}
