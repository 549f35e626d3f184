package bvh

import (
	"math"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine/logger"
)

// Builder partitions item bounds into a Tree.
type Builder interface {
	// Build constructs a tree over the given item bounds. Item i of the result refers
	// to items[i].
	//
	// Parameters:
	//   - items: the bounds of every item to partition
	//
	// Returns:
	//   - Tree: the flattened hierarchy
	Build(items []common.AABB) Tree

	// Release stops the builder's worker pool if the builder created it.
	Release()
}

// ScoreStrategy scores candidate partitions. Lower scores are better.
type ScoreStrategy interface {
	// ScoreSplit scores splitting the work list at splitPoint along axis.
	ScoreSplit(items []common.AABB, work []uint32, axis Axis, splitPoint float32) (leftCount, rightCount int, score float32)

	// ScorePartition scores keeping the work list in a single leaf.
	ScorePartition(items []common.AABB, work []uint32) float32
}

type builder struct {
	logger logger.Logger

	pool     worker.DynamicWorkerPool
	ownsPool bool
	workers  int

	minLeafItems  int
	scoreStrategy ScoreStrategy
}

var _ Builder = &builder{}

type splitScore struct {
	axis       Axis
	splitPoint float32

	leftCount, rightCount int
	score                 float32
}

// build holds the state of a single Build call.
type build struct {
	b     *builder
	items []common.AABB
	tree  Tree
}

// NewBuilder creates a Builder. Without WithPool the builder owns a worker pool that is
// stopped by Release.
//
// Parameters:
//   - options: variadic list of BuilderOption functions to configure the builder
//
// Returns:
//   - Builder: the configured builder
func NewBuilder(options ...BuilderOption) Builder {
	b := &builder{
		logger:        logger.New("bvh"),
		workers:       4,
		minLeafItems:  2,
		scoreStrategy: SurfaceAreaHeuristic,
	}
	for _, opt := range options {
		opt(b)
	}
	if b.pool == nil {
		b.pool = worker.NewDynamicWorkerPool(b.workers, 256, 1*time.Second)
		b.ownsPool = true
	}
	return b
}

func (b *builder) Build(items []common.AABB) Tree {
	bl := &build{
		b:     b,
		items: items,
		tree: Tree{
			Nodes: make([]Node, 0, 2*len(items)),
			Order: make([]uint32, 0, len(items)),
		},
	}
	bl.tree.Stats.Items = len(items)
	if len(items) == 0 {
		return bl.tree
	}

	work := make([]uint32, len(items))
	for i := range work {
		work[i] = uint32(i)
	}

	start := time.Now()
	bl.partition(work, 0)
	b.logger.Debugf("tree build time: %d ms, maxDepth: %d, nodes: %d, leaves: %d",
		time.Since(start).Milliseconds(), bl.tree.Stats.MaxDepth, bl.tree.Stats.Nodes, bl.tree.Stats.Leaves)
	return bl.tree
}

func (b *builder) Release() {
	if b.ownsPool && b.pool != nil {
		b.pool.Stop()
		b.pool = nil
	}
}

// partition appends the subtree for work and returns its root index.
func (bl *build) partition(work []uint32, depth int) uint32 {
	if depth > bl.tree.Stats.MaxDepth {
		bl.tree.Stats.MaxDepth = depth
	}

	bounds := common.EmptyAABB()
	centroids := common.EmptyAABB()
	for _, item := range work {
		bounds = bounds.Union(bl.items[item])
		centroids = centroids.Extend(bl.items[item].Center())
	}

	if len(work) <= bl.b.minLeafItems {
		return bl.createLeaf(bounds, work)
	}

	bestScore := bl.b.scoreStrategy.ScorePartition(bl.items, work)
	best := bl.bestSplit(work, centroids, depth)
	if best == nil || best.score >= bestScore {
		return bl.createLeaf(bounds, work)
	}

	left := make([]uint32, 0, best.leftCount)
	right := make([]uint32, 0, best.rightCount)
	for _, item := range work {
		if bl.items[item].Center()[best.axis] < best.splitPoint {
			left = append(left, item)
		} else {
			right = append(right, item)
		}
	}

	nodeIndex := uint32(len(bl.tree.Nodes))
	bl.tree.Nodes = append(bl.tree.Nodes, Node{Bounds: bounds})
	bl.tree.Stats.Nodes++

	bl.partition(left, depth+1)
	rightIndex := bl.partition(right, depth+1)
	bl.tree.Nodes[nodeIndex].Offset = rightIndex

	return nodeIndex
}

// bestSplit scores candidate planes across the centroid bounds and returns the lowest
// scoring one, or nil if no axis is long enough to split.
func (bl *build) bestSplit(work []uint32, centroids common.AABB, depth int) *splitScore {
	candidates := rootSplitCandidates >> min(depth, 16)
	if candidates < minSplitCandidates {
		candidates = minSplitCandidates
	}

	type plane struct {
		axis  Axis
		point float32
	}
	var planes []plane
	side := centroids.Max.Sub(centroids.Min)
	for axis := AxisX; axis <= AxisZ; axis++ {
		if side[axis] < minSideLength {
			continue
		}
		splitStep := side[axis] / float32(candidates)
		if splitStep < minSplitStep {
			continue
		}
		for splitPoint := centroids.Min[axis] + splitStep; splitPoint < centroids.Max[axis]; splitPoint += splitStep {
			planes = append(planes, plane{axis: axis, point: splitPoint})
		}
	}
	if len(planes) == 0 {
		return nil
	}

	scores := make([]splitScore, len(planes))
	score := func(i int) {
		l, r, s := bl.b.scoreStrategy.ScoreSplit(bl.items, work, planes[i].axis, planes[i].point)
		scores[i] = splitScore{axis: planes[i].axis, splitPoint: planes[i].point, leftCount: l, rightCount: r, score: s}
	}

	if len(work) < parallelThreshold {
		for i := range planes {
			score(i)
		}
	} else {
		var wg sync.WaitGroup
		for i := range planes {
			wg.Add(1)
			idx := i
			bl.b.pool.SubmitTask(worker.Task{
				ID: idx,
				Do: func() (any, error) {
					defer wg.Done()
					score(idx)
					return nil, nil
				},
			})
		}
		wg.Wait()
	}

	var best *splitScore
	for i := range scores {
		if best == nil || scores[i].score < best.score {
			best = &scores[i]
		}
	}
	if best.score == math.MaxFloat32 {
		return nil
	}
	return best
}

func (bl *build) createLeaf(bounds common.AABB, work []uint32) uint32 {
	nodeIndex := uint32(len(bl.tree.Nodes))
	bl.tree.Nodes = append(bl.tree.Nodes, Node{
		Bounds: bounds,
		Offset: uint32(len(bl.tree.Order)),
		Count:  uint32(len(work)),
	})
	bl.tree.Order = append(bl.tree.Order, work...)
	bl.tree.Stats.Leaves++
	return nodeIndex
}

// SurfaceAreaHeuristic scores splits as
// leftCount * leftArea + rightCount * rightArea.
// Splits that leave one side empty score MaxFloat32.
var SurfaceAreaHeuristic ScoreStrategy = surfaceAreaHeuristic{}

type surfaceAreaHeuristic struct{}

func (surfaceAreaHeuristic) ScoreSplit(items []common.AABB, work []uint32, axis Axis, splitPoint float32) (int, int, float32) {
	left := common.EmptyAABB()
	right := common.EmptyAABB()
	leftCount, rightCount := 0, 0
	for _, item := range work {
		if items[item].Center()[axis] < splitPoint {
			leftCount++
			left = left.Union(items[item])
		} else {
			rightCount++
			right = right.Union(items[item])
		}
	}

	if leftCount == 0 || rightCount == 0 {
		return leftCount, rightCount, math.MaxFloat32
	}
	return leftCount, rightCount, float32(leftCount)*left.HalfArea() + float32(rightCount)*right.HalfArea()
}

func (surfaceAreaHeuristic) ScorePartition(items []common.AABB, work []uint32) float32 {
	if len(work) == 0 {
		return math.MaxFloat32
	}
	bounds := common.EmptyAABB()
	for _, item := range work {
		bounds = bounds.Union(items[item])
	}
	return float32(len(work)) * bounds.HalfArea()
}
