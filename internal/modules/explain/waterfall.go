package explain

import (
	"fmt"
	"io"
	"math"
	"text/template"

	"github.com/aristath/riskscore/internal/artifacts"
)

// MaxWaterfallBars caps the bars drawn; the remainder is folded into one bar.
const MaxWaterfallBars = 15

const (
	svgWidth     = 860
	labelWidth   = 300
	plotWidth    = 480
	rowHeight    = 26
	headerHeight = 48
	footerHeight = 40
)

type waterfallBar struct {
	Label    string
	Value    string
	X, Width float64
	Y        float64
	TextY    float64
	Fill     string
	Amount   string
}

type waterfallView struct {
	Width, Height float64
	LabelX        float64
	Bars          []waterfallBar
	BaseX, PredX  float64
	PlotTop       float64
	PlotBottom    float64
	AxisY         float64
	BaseLabel     string
	PredLabel     string
	PredLabelY    float64
}

var waterfallTemplate = template.Must(template.New("waterfall").Parse(`<svg xmlns="http://www.w3.org/2000/svg" width="{{.Width}}" height="{{.Height}}" font-family="sans-serif" font-size="12">
<rect width="100%" height="100%" fill="#ffffff"/>
<text x="{{.LabelX}}" y="24" font-size="15" font-weight="bold">Risk prediction breakdown</text>
{{- range .Bars}}
<text x="{{$.LabelX}}" y="{{.TextY}}" fill="#333333">{{html .Label}}{{if .Value}} = {{html .Value}}{{end}}</text>
<rect x="{{printf "%.2f" .X}}" y="{{printf "%.2f" .Y}}" width="{{printf "%.2f" .Width}}" height="18" fill="{{.Fill}}"/>
<text x="{{printf "%.2f" .X}}" y="{{.TextY}}" dx="-4" text-anchor="end" fill="{{.Fill}}">{{.Amount}}</text>
{{- end}}
<line x1="{{printf "%.2f" .BaseX}}" y1="{{.PlotTop}}" x2="{{printf "%.2f" .BaseX}}" y2="{{.PlotBottom}}" stroke="#888888" stroke-dasharray="4,3"/>
<line x1="{{printf "%.2f" .PredX}}" y1="{{.PlotTop}}" x2="{{printf "%.2f" .PredX}}" y2="{{.PlotBottom}}" stroke="#222222"/>
<text x="{{printf "%.2f" .BaseX}}" y="{{.AxisY}}" text-anchor="middle" fill="#888888">{{.BaseLabel}}</text>
<text x="{{printf "%.2f" .PredX}}" y="{{.PredLabelY}}" text-anchor="middle" fill="#222222">{{.PredLabel}}</text>
</svg>
`))

// WriteWaterfall renders the explanation as an SVG waterfall: bars start at
// the base value and accumulate to the prediction, largest effects on top.
func WriteWaterfall(w io.Writer, expl *Explanation) error {
	contributions := ranked(expl.Contributions)
	if len(contributions) > MaxWaterfallBars {
		rest := contributions[MaxWaterfallBars-1:]
		var sum float64
		for _, c := range rest {
			sum += c.Contribution
		}
		contributions = append(contributions[:MaxWaterfallBars-1:MaxWaterfallBars-1], Contribution{
			Label:           fmt.Sprintf("%d other features", len(rest)),
			Contribution:    sum,
			ContributionAbs: math.Abs(sum),
		})
	}

	// Draw from the base upward: the smallest effect sits next to the base
	// at the bottom and the prediction is reached at the top.
	lo, hi := expl.BaseValue, expl.BaseValue
	running := expl.BaseValue
	for i := len(contributions) - 1; i >= 0; i-- {
		running += contributions[i].Contribution
		lo, hi = math.Min(lo, running), math.Max(hi, running)
	}
	lo, hi = math.Min(lo, expl.Prediction), math.Max(hi, expl.Prediction)
	if hi-lo < 1e-9 {
		hi = lo + 1e-9
	}
	scale := func(v float64) float64 {
		return labelWidth + (v-lo)/(hi-lo)*plotWidth
	}

	view := waterfallView{
		Width:      svgWidth,
		Height:     float64(headerHeight + len(contributions)*rowHeight + footerHeight),
		LabelX:     16,
		BaseX:      scale(expl.BaseValue),
		PredX:      scale(expl.Prediction),
		PlotTop:    headerHeight - 8,
		BaseLabel:  fmt.Sprintf("E[f(x)] = %.3f", expl.BaseValue),
		PredLabel:  fmt.Sprintf("f(x) = %.3f", expl.Prediction),
		PredLabelY: headerHeight - 12,
	}
	view.PlotBottom = float64(headerHeight + len(contributions)*rowHeight)
	view.AxisY = view.PlotBottom + 20

	bars := make([]waterfallBar, len(contributions))
	running = expl.BaseValue
	for i := len(contributions) - 1; i >= 0; i-- {
		c := contributions[i]
		start, end := running, running+c.Contribution
		running = end

		x1, x2 := scale(math.Min(start, end)), scale(math.Max(start, end))
		fill := "#ff0051" // raises risk
		if c.Contribution < 0 {
			fill = "#008bfb"
		}
		y := float64(headerHeight + i*rowHeight)
		bars[i] = waterfallBar{
			Label:  c.Label,
			Value:  c.RawValue,
			X:      x1,
			Width:  math.Max(x2-x1, 1),
			Y:      y,
			TextY:  y + 13,
			Fill:   fill,
			Amount: fmt.Sprintf("%+.3f", c.Contribution),
		}
	}
	view.Bars = bars

	return waterfallTemplate.Execute(w, view)
}

// RenderWaterfall writes the waterfall SVG to path atomically.
func RenderWaterfall(expl *Explanation, path string) error {
	err := artifacts.WriteAtomic(path, 0644, func(w io.Writer) error {
		return WriteWaterfall(w, expl)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExplanation, err)
	}
	return nil
}
