package bvh

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unitBox(x, y, z float32) common.AABB {
	return common.AABB{
		Min: common.Vec3{x - 0.5, y - 0.5, z - 0.5},
		Max: common.Vec3{x + 0.5, y + 0.5, z + 0.5},
	}
}

func TestBuildEmpty(t *testing.T) {
	b := NewBuilder()
	defer b.Release()

	tree := b.Build(nil)
	assert.Empty(t, tree.Nodes)
	assert.True(t, tree.Bounds().IsEmpty())

	_, _, ok := tree.Intersect(common.Ray{Direction: common.Vec3{0, 0, 1}}, 100, func(uint32, float32) (float32, bool) {
		return 0, true
	})
	assert.False(t, ok)
}

func TestBuildCoversEveryItemOnce(t *testing.T) {
	b := NewBuilder(WithMinLeafItems(1))
	defer b.Release()

	var items []common.AABB
	for i := 0; i < 40; i++ {
		items = append(items, unitBox(float32(i)*3, float32(i%4), 0))
	}

	tree := b.Build(items)
	require.NotEmpty(t, tree.Nodes)
	assert.Len(t, tree.Order, len(items))

	seen := make(map[uint32]bool)
	for _, n := range tree.Nodes {
		if !n.IsLeaf() {
			continue
		}
		for _, item := range tree.Order[n.Offset : n.Offset+n.Count] {
			assert.False(t, seen[item], "item %d placed twice", item)
			seen[item] = true
			// leaf bounds enclose their items
			assert.Equal(t, n.Bounds.Union(items[item]), n.Bounds)
		}
	}
	assert.Len(t, seen, len(items))
	assert.Equal(t, tree.Stats.Items, len(items))
	assert.Greater(t, tree.Stats.Leaves, 1)
}

func TestBuildParallelScoring(t *testing.T) {
	b := NewBuilder(WithWorkers(2))
	defer b.Release()

	var items []common.AABB
	for i := 0; i < parallelThreshold*2; i++ {
		items = append(items, unitBox(float32(i%32)*2, float32(i/32)*2, 0))
	}

	tree := b.Build(items)
	assert.Len(t, tree.Order, len(items))
	assert.Greater(t, tree.Stats.MaxDepth, 3)
}

func TestIntersectFindsClosest(t *testing.T) {
	b := NewBuilder(WithMinLeafItems(1))
	defer b.Release()

	items := []common.AABB{
		unitBox(0, 0, 10),
		unitBox(0, 0, 5),
		unitBox(5, 0, 5),
		unitBox(0, 0, 20),
	}
	tree := b.Build(items)

	invDir := common.Vec3{0, 0, 1}.Inverse()
	ray := common.Ray{Origin: common.Vec3{0, 0, 0}, Direction: common.Vec3{0, 0, 1}}
	item, dist, ok := tree.Intersect(ray, 1000, func(i uint32, tMax float32) (float32, bool) {
		d := items[i].IntersectRay(ray.Origin, invDir, tMax)
		return d, d <= tMax
	})

	require.True(t, ok)
	assert.Equal(t, uint32(1), item)
	assert.InDelta(t, 4.5, dist, 1e-5)

	// a ray that passes beside every box
	miss := common.Ray{Origin: common.Vec3{-10, 0, 0}, Direction: common.Vec3{0, 1, 0}}
	_, _, ok = tree.Intersect(miss, 1000, func(i uint32, tMax float32) (float32, bool) {
		d := items[i].IntersectRay(miss.Origin, miss.Direction.Inverse(), tMax)
		return d, d <= tMax
	})
	assert.False(t, ok)
}

func TestSurfaceAreaHeuristicRejectsEmptySides(t *testing.T) {
	items := []common.AABB{unitBox(0, 0, 0), unitBox(4, 0, 0)}
	work := []uint32{0, 1}

	_, _, score := SurfaceAreaHeuristic.ScoreSplit(items, work, AxisX, -10)
	assert.Equal(t, float32(3.4028235e38), score)

	l, r, score := SurfaceAreaHeuristic.ScoreSplit(items, work, AxisX, 2)
	assert.Equal(t, 1, l)
	assert.Equal(t, 1, r)
	// two unit cubes: 1*3 + 1*3
	assert.InDelta(t, 6, score, 1e-5)
	assert.Less(t, score, SurfaceAreaHeuristic.ScorePartition(items, work))
}
