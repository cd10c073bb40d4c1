package forest

import (
	"math"
	"math/rand/v2"
	"sort"
)

// Node is one node of a fitted tree, stored in a flat slice. Leaves have
// Feature -1. Rows with x[Feature] <= Threshold go Left.
type Node struct {
	_msgpack struct{} `msgpack:",as_array"`

	Feature   int32   `msgpack:"feature"`
	Threshold float64 `msgpack:"threshold"`
	Left      int32   `msgpack:"left"`
	Right     int32   `msgpack:"right"`
	Value     float64 `msgpack:"value"` // weighted fraction of bad rows reaching the node
	Cover     float64 `msgpack:"cover"` // weighted row count reaching the node
	Samples   int32   `msgpack:"samples"`
}

// IsLeaf reports whether n has no children.
func (n *Node) IsLeaf() bool {
	return n.Feature < 0
}

// Tree is a fitted CART classification tree. Nodes[0] is the root.
type Tree struct {
	Nodes []Node `msgpack:"nodes"`
}

// Predict returns the probability of the bad class for x.
func (t *Tree) Predict(x []float64) float64 {
	i := int32(0)
	for {
		n := &t.Nodes[i]
		if n.IsLeaf() {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// Depth returns the length of the longest root-to-leaf path.
func (t *Tree) Depth() int {
	var walk func(i int32) int
	walk = func(i int32) int {
		n := &t.Nodes[i]
		if n.IsLeaf() {
			return 0
		}
		l, r := walk(n.Left), walk(n.Right)
		if l > r {
			return l + 1
		}
		return r + 1
	}
	return walk(0)
}

// treeBuilder grows one tree. weights[i] folds the class weight of row i
// with its bootstrap multiplicity; rows with zero weight are never passed in.
type treeBuilder struct {
	X       [][]float64
	y       []int
	weights []float64
	params  Params
	mtry    int
	rng     *rand.Rand

	nodes      []Node
	importance []float64
}

type split struct {
	feature   int
	threshold float64
	decrease  float64
	pos       int // rows sorted[:pos] go left
	sorted    []int
}

func gini(bad, total float64) float64 {
	if total <= 0 {
		return 0
	}
	p := bad / total
	return 2 * p * (1 - p)
}

func (b *treeBuilder) weightedCounts(idx []int) (bad, total float64) {
	for _, i := range idx {
		total += b.weights[i]
		if b.y[i] == 1 {
			bad += b.weights[i]
		}
	}
	return bad, total
}

// grow builds the subtree over idx and returns its node index.
func (b *treeBuilder) grow(idx []int, depth int) int32 {
	bad, total := b.weightedCounts(idx)
	id := int32(len(b.nodes))
	b.nodes = append(b.nodes, Node{
		Feature: -1,
		Left:    -1,
		Right:   -1,
		Value:   bad / total,
		Cover:   total,
		Samples: int32(len(idx)),
	})

	p := b.params
	if (p.MaxDepth > 0 && depth >= p.MaxDepth) ||
		len(idx) < p.MinSamplesSplit ||
		len(idx) < 2*p.MinSamplesLeaf ||
		bad == 0 || bad == total {
		return id
	}

	best, ok := b.bestSplit(idx, bad, total)
	if !ok {
		return id
	}

	b.importance[best.feature] += best.decrease
	left := append([]int(nil), best.sorted[:best.pos]...)
	right := append([]int(nil), best.sorted[best.pos:]...)

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)

	n := &b.nodes[id]
	n.Feature = int32(best.feature)
	n.Threshold = best.threshold
	n.Left = l
	n.Right = r
	return id
}

// bestSplit draws candidate features without replacement and keeps drawing
// past mtry until at least one valid split has been found.
func (b *treeBuilder) bestSplit(idx []int, bad, total float64) (split, bool) {
	parent := total * gini(bad, total)
	order := b.rng.Perm(len(b.X[0]))

	var best split
	found := false
	for visited, f := range order {
		if visited >= b.mtry && found {
			break
		}
		s, ok := b.splitOn(f, idx, bad, total, parent)
		if ok && (!found || s.decrease > best.decrease) {
			best = s
			found = true
		}
	}
	return best, found && best.decrease > 0
}

func (b *treeBuilder) splitOn(f int, idx []int, bad, total, parent float64) (split, bool) {
	sorted := append([]int(nil), idx...)
	sort.SliceStable(sorted, func(a, c int) bool {
		return b.X[sorted[a]][f] < b.X[sorted[c]][f]
	})

	minLeaf := b.params.MinSamplesLeaf
	n := len(sorted)
	var leftBad, leftTotal float64
	var best split
	found := false

	for k := 0; k < n-1; k++ {
		i := sorted[k]
		leftTotal += b.weights[i]
		if b.y[i] == 1 {
			leftBad += b.weights[i]
		}

		lo, hi := b.X[i][f], b.X[sorted[k+1]][f]
		if lo == hi || k+1 < minLeaf || n-k-1 < minLeaf {
			continue
		}

		rightTotal := total - leftTotal
		decrease := parent - leftTotal*gini(leftBad, leftTotal) - rightTotal*gini(bad-leftBad, rightTotal)
		if !found || decrease > best.decrease {
			threshold := lo + (hi-lo)/2
			if threshold >= hi || math.IsInf(threshold, 0) {
				threshold = lo
			}
			best = split{feature: f, threshold: threshold, decrease: decrease, pos: k + 1}
			found = true
		}
	}
	if found {
		best.sorted = sorted
	}
	return best, found
}

// fitTree grows a tree over the rows with positive weight.
func fitTree(X [][]float64, y []int, weights []float64, params Params, mtry int, rng *rand.Rand) (Tree, []float64) {
	idx := make([]int, 0, len(X))
	for i, w := range weights {
		if w > 0 {
			idx = append(idx, i)
		}
	}

	b := &treeBuilder{
		X:          X,
		y:          y,
		weights:    weights,
		params:     params,
		mtry:       mtry,
		rng:        rng,
		importance: make([]float64, len(X[0])),
	}
	b.grow(idx, 0)
	return Tree{Nodes: b.nodes}, b.importance
}
