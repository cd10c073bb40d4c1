package forest

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

// separable builds rows where feature 0 decides the label and the rest is noise.
func separable(n int, seed uint64) ([][]float64, []int) {
	rng := rand.New(rand.NewPCG(seed, 1))
	X := make([][]float64, n)
	y := make([]int, n)
	for i := range X {
		X[i] = []float64{rng.Float64(), rng.Float64(), rng.Float64(), rng.Float64()}
		if X[i][0] > 0.6 {
			y[i] = 1
		}
	}
	return X, y
}

func defaultParams() Params {
	return Params{
		NEstimators:     25,
		MaxDepth:        6,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		MaxFeatures:     MaxFeaturesAll,
		Bootstrap:       true,
		Seed:            42,
	}
}

func TestFit_LearnsSeparableData(t *testing.T) {
	X, y := separable(400, 1)
	f, err := Fit(context.Background(), X, y, defaultParams(), Balanced(y))
	require.NoError(t, err)
	require.NoError(t, f.Validate())

	assert.Len(t, f.Trees, 25)
	assert.Greater(t, f.PredictProba([]float64{0.95, 0.5, 0.5, 0.5}), 0.8)
	assert.Less(t, f.PredictProba([]float64{0.05, 0.5, 0.5, 0.5}), 0.2)
	assert.Equal(t, 1, f.Predict([]float64{0.9, 0.1, 0.1, 0.1}))

	imp := f.FeatureImportances()
	require.Len(t, imp, 4)
	assert.InDelta(t, 1.0, imp[0]+imp[1]+imp[2]+imp[3], 1e-9)
	for i := 1; i < 4; i++ {
		assert.Greater(t, imp[0], imp[i])
	}
}

func TestFit_Deterministic(t *testing.T) {
	X, y := separable(300, 2)
	params := defaultParams()
	params.MaxFeatures = MaxFeaturesSqrt

	a, err := Fit(context.Background(), X, y, params, Balanced(y))
	require.NoError(t, err)
	b, err := Fit(context.Background(), X, y, params, Balanced(y))
	require.NoError(t, err)

	assert.Equal(t, a.PredictProbaBatch(X), b.PredictProbaBatch(X))
	assert.Equal(t, a.Importances, b.Importances)

	params.Seed = 7
	c, err := Fit(context.Background(), X, y, params, Balanced(y))
	require.NoError(t, err)
	assert.NotEqual(t, a.PredictProbaBatch(X), c.PredictProbaBatch(X))
}

func TestFit_RespectsDepthAndLeafSize(t *testing.T) {
	X, y := separable(300, 3)
	params := defaultParams()
	params.MaxDepth = 2
	params.MinSamplesLeaf = 10

	f, err := Fit(context.Background(), X, y, params, Uniform)
	require.NoError(t, err)
	for _, tree := range f.Trees {
		assert.LessOrEqual(t, tree.Depth(), 2)
		for _, n := range tree.Nodes {
			if n.IsLeaf() {
				assert.GreaterOrEqual(t, n.Samples, int32(10))
			}
		}
	}
}

func TestFit_ProbabilitiesInRange(t *testing.T) {
	X, y := separable(200, 4)
	f, err := Fit(context.Background(), X, y, defaultParams(), Balanced(y))
	require.NoError(t, err)
	for _, p := range f.PredictProbaBatch(X) {
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0)
	}
}

func TestFit_InvalidInput(t *testing.T) {
	ctx := context.Background()
	X, y := separable(50, 5)

	tests := []struct {
		name   string
		X      [][]float64
		y      []int
		params func(*Params)
	}{
		{name: "empty", X: nil, y: nil},
		{name: "length mismatch", X: X, y: y[:10]},
		{name: "single class", X: X[:3], y: []int{0, 0, 0}},
		{name: "ragged", X: [][]float64{{1, 2}, {1}}, y: []int{0, 1}},
		{name: "zero trees", X: X, y: y, params: func(p *Params) { p.NEstimators = 0 }},
		{name: "bad max features", X: X, y: y, params: func(p *Params) { p.MaxFeatures = "half" }},
		{name: "bad leaf size", X: X, y: y, params: func(p *Params) { p.MinSamplesLeaf = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := defaultParams()
			if tt.params != nil {
				tt.params(&params)
			}
			_, err := Fit(ctx, tt.X, tt.y, params, Uniform)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestFit_Cancelled(t *testing.T) {
	X, y := separable(100, 6)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Fit(ctx, X, y, defaultParams(), Uniform)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBalanced(t *testing.T) {
	w := Balanced([]int{0, 0, 0, 1})
	assert.InDelta(t, 4.0/6.0, w[0], 1e-12)
	assert.InDelta(t, 2.0, w[1], 1e-12)
}

func TestMtry(t *testing.T) {
	assert.Equal(t, 4, Params{MaxFeatures: MaxFeaturesSqrt}.Mtry(20))
	assert.Equal(t, 4, Params{MaxFeatures: MaxFeaturesLog2}.Mtry(20))
	assert.Equal(t, 20, Params{MaxFeatures: MaxFeaturesAll}.Mtry(20))
	assert.Equal(t, 1, Params{MaxFeatures: MaxFeaturesLog2}.Mtry(1))
}

func TestMsgpackRoundTrip(t *testing.T) {
	X, y := separable(200, 8)
	f, err := Fit(context.Background(), X, y, defaultParams(), Balanced(y))
	require.NoError(t, err)

	data, err := msgpack.Marshal(f)
	require.NoError(t, err)

	var decoded Forest
	require.NoError(t, msgpack.Unmarshal(data, &decoded))
	require.NoError(t, decoded.Validate())

	assert.Equal(t, f.PredictProbaBatch(X), decoded.PredictProbaBatch(X))
	assert.Equal(t, f.Params, decoded.Params)
	assert.Equal(t, f.ClassWeights, decoded.ClassWeights)
}

func TestValidate_RejectsBrokenLinks(t *testing.T) {
	f := &Forest{
		NFeatures:   1,
		Importances: []float64{1},
		Trees: []Tree{{Nodes: []Node{
			{Feature: 0, Threshold: 0.5, Left: 1, Right: 7},
			{Feature: -1, Value: 0.2},
		}}},
	}
	assert.ErrorIs(t, f.Validate(), ErrInvalidInput)
}
