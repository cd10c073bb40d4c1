package dataprep

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strconv"

	"github.com/aristath/riskscore/internal/metrics"
	"github.com/rs/zerolog"
)

// Preparer owns the fitted encoders and scaler. It is immutable once fitted
// or restored, so Transform is safe for concurrent use.
type Preparer struct {
	schema   Schema
	encoders map[string]*Encoder
	scaler   *Scaler

	// scalerIndex maps a schema position to its scaler column, -1 for categoricals
	scalerIndex []int
	log         zerolog.Logger
}

// NewPreparer creates an unfitted preparer for schema.
func NewPreparer(schema Schema, log zerolog.Logger) *Preparer {
	return &Preparer{
		schema: schema,
		log:    log.With().Str("component", "data_preparer").Logger(),
	}
}

// Schema returns the schema the preparer was built for.
func (p *Preparer) Schema() Schema {
	return p.schema
}

// Fitted reports whether transforms are available.
func (p *Preparer) Fitted() bool {
	return p.scaler != nil && p.encoders != nil
}

// Encoder returns the fitted encoder for a categorical feature.
func (p *Preparer) Encoder(feature string) (*Encoder, bool) {
	e, ok := p.encoders[feature]
	return e, ok
}

// Scaler returns the fitted scaler.
func (p *Preparer) Scaler() *Scaler {
	return p.scaler
}

// FitTransform fits one encoder per categorical column and the scaler over
// the numeric columns, then returns the transformed matrix and labels.
func (p *Preparer) FitTransform(table *Table) ([][]float64, []int, error) {
	if err := p.schema.Validate(); err != nil {
		return nil, nil, err
	}
	if !table.Schema.Equal(p.schema) {
		return nil, nil, fmt.Errorf("%w: table schema differs from preparer schema", ErrSchemaMismatch)
	}
	if len(table.Records) == 0 {
		return nil, nil, fmt.Errorf("%w: empty table", ErrDataset)
	}

	encoders := make(map[string]*Encoder)
	var numericNames []string
	var numericCols [][]float64
	scalerIndex := make([]int, p.schema.Len())

	for j, f := range p.schema.Features {
		switch f.Kind {
		case Categorical:
			col := make([]string, len(table.Records))
			for i, r := range table.Records {
				col[i] = r.Values[j]
			}
			encoders[f.Name] = FitEncoder(f.Name, col)
			scalerIndex[j] = -1
		case Numeric:
			col := make([]float64, len(table.Records))
			for i, r := range table.Records {
				v, err := strconv.ParseFloat(r.Values[j], 64)
				if err != nil {
					return nil, nil, fmt.Errorf("%w: row %d: %s is not numeric: %q", ErrDataset, i, f.Name, r.Values[j])
				}
				col[i] = v
			}
			scalerIndex[j] = len(numericNames)
			numericNames = append(numericNames, f.Name)
			numericCols = append(numericCols, col)
		}
	}

	scaler, err := FitScaler(numericNames, numericCols)
	if err != nil {
		return nil, nil, err
	}

	p.encoders = encoders
	p.scaler = scaler
	p.scalerIndex = scalerIndex

	X := make([][]float64, len(table.Records))
	for i, r := range table.Records {
		// Every category was seen during fit, so no warnings here
		row, _, err := p.transformValues(r.Values)
		if err != nil {
			return nil, nil, fmt.Errorf("row %d: %w", i, err)
		}
		X[i] = row
	}

	p.log.Info().
		Int("rows", len(X)).
		Int("categorical", len(encoders)).
		Int("numeric", len(numericNames)).
		Msg("Fitted encoders and scaler")

	return X, table.Labels(), nil
}

// Transform applies the fitted transforms to records without refitting.
// Unseen categories fall back to code 0 and are reported, not failed.
func (p *Preparer) Transform(records []Record) ([][]float64, []UnseenCategory, error) {
	if !p.Fitted() {
		return nil, nil, ErrNotFitted
	}

	X := make([][]float64, len(records))
	var warnings []UnseenCategory
	for i, r := range records {
		row, unseen, err := p.transformValues(r.Values)
		if err != nil {
			return nil, nil, fmt.Errorf("row %d: %w", i, err)
		}
		X[i] = row
		warnings = append(warnings, unseen...)
	}
	return X, warnings, nil
}

// TransformRow transforms a single row of raw values in schema order.
func (p *Preparer) TransformRow(values []string) ([]float64, []UnseenCategory, error) {
	if !p.Fitted() {
		return nil, nil, ErrNotFitted
	}
	return p.transformValues(values)
}

func (p *Preparer) transformValues(values []string) ([]float64, []UnseenCategory, error) {
	if len(values) != p.schema.Len() {
		return nil, nil, fmt.Errorf("%w: expected %d values, got %d", ErrSchemaMismatch, p.schema.Len(), len(values))
	}

	row := make([]float64, len(values))
	var warnings []UnseenCategory
	for j, f := range p.schema.Features {
		v := values[j]
		switch f.Kind {
		case Categorical:
			enc := p.encoders[f.Name]
			code, ok := enc.Encode(v)
			if !ok {
				w := UnseenCategory{Feature: f.Name, Value: v, Code: code}
				if len(enc.Classes) > 0 {
					w.Fallback = enc.Classes[0]
				}
				warnings = append(warnings, w)
				metrics.UnseenCategoriesTotal.WithLabelValues(f.Name).Inc()
				p.log.Warn().Str("feature", f.Name).Str("value", v).Str("fallback", w.Fallback).Msg("Unseen category")
			}
			row[j] = float64(code)
		case Numeric:
			x, err := strconv.ParseFloat(v, 64)
			if err != nil || math.IsNaN(x) || math.IsInf(x, 0) {
				return nil, nil, fmt.Errorf("%w: %s is not numeric: %q", ErrSchemaMismatch, f.Name, v)
			}
			row[j] = p.scaler.Apply(p.scalerIndex[j], x)
		}
	}
	return row, warnings, nil
}

// Midpoints returns the normalized midpoint of each transformed feature: 0
// for scaled numerics and (k-1)/2 for categorical codes.
func (p *Preparer) Midpoints() []float64 {
	mids := make([]float64, p.schema.Len())
	for j, f := range p.schema.Features {
		if f.Kind == Categorical && p.encoders != nil {
			if enc, ok := p.encoders[f.Name]; ok && enc.Len() > 0 {
				mids[j] = float64(enc.Len()-1) / 2
			}
		}
	}
	return mids
}

// InverseRow maps a transformed row back to the values the model scored:
// category labels for codes and unscaled numbers rounded to 6 decimals.
// An unseen category therefore comes back as its fallback label.
func (p *Preparer) InverseRow(row []float64) ([]string, error) {
	if !p.Fitted() {
		return nil, ErrNotFitted
	}
	if len(row) != p.schema.Len() {
		return nil, fmt.Errorf("%w: expected %d values, got %d", ErrSchemaMismatch, p.schema.Len(), len(row))
	}

	values := make([]string, len(row))
	for j, f := range p.schema.Features {
		switch f.Kind {
		case Categorical:
			label, err := p.encoders[f.Name].Decode(int(row[j]))
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
			}
			values[j] = label
		case Numeric:
			x := p.scaler.Inverse(p.scalerIndex[j], row[j])
			values[j] = strconv.FormatFloat(math.Round(x*1e6)/1e6, 'f', -1, 64)
		}
	}
	return values, nil
}

// SplitResult holds a train/test partition.
type SplitResult struct {
	XTrain   [][]float64
	XTest    [][]float64
	YTrain   []int
	YTest    []int
	TrainIdx []int
	TestIdx  []int
}

// Split partitions X and y, stratified by label. The same seed yields the
// same partition. Rows are shared with X, not copied.
func Split(X [][]float64, y []int, testFraction float64, seed uint64) (*SplitResult, error) {
	if len(X) != len(y) {
		return nil, fmt.Errorf("%w: %d rows but %d labels", ErrSchemaMismatch, len(X), len(y))
	}
	if testFraction <= 0 || testFraction >= 1 {
		return nil, fmt.Errorf("test fraction must be in (0, 1), got %v", testFraction)
	}

	rng := rand.New(rand.NewPCG(seed, 0x5eed))

	byClass := map[int][]int{}
	var classes []int
	for i, label := range y {
		if _, ok := byClass[label]; !ok {
			classes = append(classes, label)
		}
		byClass[label] = append(byClass[label], i)
	}
	// Deterministic class order regardless of row order
	sort.Ints(classes)

	var trainIdx, testIdx []int
	for _, c := range classes {
		idx := byClass[c]
		rng.Shuffle(len(idx), func(a, b int) { idx[a], idx[b] = idx[b], idx[a] })
		nTest := int(math.Round(float64(len(idx)) * testFraction))
		if nTest >= len(idx) && len(idx) > 1 {
			nTest = len(idx) - 1
		}
		testIdx = append(testIdx, idx[:nTest]...)
		trainIdx = append(trainIdx, idx[nTest:]...)
	}
	rng.Shuffle(len(trainIdx), func(a, b int) { trainIdx[a], trainIdx[b] = trainIdx[b], trainIdx[a] })
	rng.Shuffle(len(testIdx), func(a, b int) { testIdx[a], testIdx[b] = testIdx[b], testIdx[a] })

	res := &SplitResult{TrainIdx: trainIdx, TestIdx: testIdx}
	for _, i := range trainIdx {
		res.XTrain = append(res.XTrain, X[i])
		res.YTrain = append(res.YTrain, y[i])
	}
	for _, i := range testIdx {
		res.XTest = append(res.XTest, X[i])
		res.YTest = append(res.YTest, y[i])
	}
	return res, nil
}
