package explain

import (
	"math"

	"github.com/aristath/riskscore/internal/modules/forest"
)

const (
	sideNone int8 = iota
	sideX
	sideZ
)

// shapleyWeights returns w[s][n] = s!(n-s-1)!/n! for 0 <= s < n <= maxN.
func shapleyWeights(maxN int) [][]float64 {
	w := make([][]float64, maxN+1)
	for s := range w {
		w[s] = make([]float64, maxN+1)
		for n := s + 1; n <= maxN; n++ {
			ls, _ := math.Lgamma(float64(s + 1))
			lr, _ := math.Lgamma(float64(n - s))
			ln, _ := math.Lgamma(float64(n + 1))
			w[s][n] = math.Exp(ls + lr - ln)
		}
	}
	return w
}

// pairWalker computes interventional Shapley values of one tree for the
// foreground row x against one background row z. A split where x and z
// disagree puts its feature on x's side or z's side; a leaf reached with
// a features on x's side and b on z's side credits each x-side feature
// with v*w(a-1, a+b) and debits each z-side feature with v*w(a, a+b).
// The per-tree sum is exactly f(x) - f(z).
type pairWalker struct {
	x, z    []float64
	side    []int8
	members []int
	a, b    int
	weights [][]float64
	phi     []float64
}

func newPairWalker(nFeatures int, weights [][]float64, phi []float64) *pairWalker {
	return &pairWalker{
		side:    make([]int8, nFeatures),
		members: make([]int, 0, nFeatures),
		weights: weights,
		phi:     phi,
	}
}

func child(n *forest.Node, left bool) int32 {
	if left {
		return n.Left
	}
	return n.Right
}

func (p *pairWalker) run(tree *forest.Tree, x, z []float64) {
	p.x, p.z = x, z
	p.walk(tree.Nodes, 0)
}

func (p *pairWalker) walk(nodes []forest.Node, i int32) {
	n := &nodes[i]
	if n.IsLeaf() {
		p.leaf(n.Value)
		return
	}

	f := int(n.Feature)
	xLeft := p.x[f] <= n.Threshold
	zLeft := p.z[f] <= n.Threshold
	if xLeft == zLeft {
		p.walk(nodes, child(n, xLeft))
		return
	}

	switch p.side[f] {
	case sideX:
		p.walk(nodes, child(n, xLeft))
		return
	case sideZ:
		p.walk(nodes, child(n, zLeft))
		return
	}

	p.members = append(p.members, f)

	p.side[f] = sideX
	p.a++
	p.walk(nodes, child(n, xLeft))
	p.a--

	p.side[f] = sideZ
	p.b++
	p.walk(nodes, child(n, zLeft))
	p.b--

	p.side[f] = sideNone
	p.members = p.members[:len(p.members)-1]
}

func (p *pairWalker) leaf(v float64) {
	n := p.a + p.b
	if n == 0 {
		return
	}
	for _, f := range p.members {
		if p.side[f] == sideX {
			p.phi[f] += v * p.weights[p.a-1][n]
		} else {
			p.phi[f] -= v * p.weights[p.a][n]
		}
	}
}
