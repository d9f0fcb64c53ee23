package analysis

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// segmentDivisor sizes the top and struggling groups at 20% of the
// samples, rounded up
const segmentDivisor = 5

// Sample is one (x, y) observation for a scatter chart
type Sample struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Label string  `json:"label"`
}

// Point is a trendline vertex
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// SegmentInsights compares the mean x of the best and worst performers by y
// with the overall mean x.
type SegmentInsights struct {
	AvgX                float64 `json:"avgX"`
	TopGroupAvgX        float64 `json:"topGroupAvgX"`
	StrugglingGroupAvgX float64 `json:"strugglingGroupAvgX"`
	TopGroupSize        int     `json:"topGroupSize"`
	StrugglingGroupSize int     `json:"strugglingGroupSize"`
}

// CorrelationResult is the payload of a hypothesis scatter chart
type CorrelationResult struct {
	Correlation float64         `json:"correlation"`
	PValue      float64         `json:"pValue"`
	Trendline   []Point         `json:"trendline"`
	Insights    SegmentInsights `json:"insights"`
}

// Correlate computes Pearson's r (rounded to two decimals), a least-squares
// trendline evaluated at x=0 and x=max(x), and top/struggling segment
// means. PValue is the two-sided t-test of r against zero. Degenerate
// inputs yield zeros, never NaN.
//
// Segments hold ceil(n/5) samples by integer arithmetic, which differs
// from the float ceil(n*0.2) at n=15, 30 and so on (3 rather than 4 for
// n=15).
func Correlate(samples []Sample) CorrelationResult {
	if len(samples) == 0 {
		return CorrelationResult{Correlation: 0, PValue: 1, Trendline: []Point{}}
	}

	xs := make([]float64, len(samples))
	ys := make([]float64, len(samples))
	for i, s := range samples {
		xs[i] = s.X
		ys[i] = s.Y
	}

	n := float64(len(samples))
	sumX := floats.Sum(xs)
	sumY := floats.Sum(ys)
	sumXY := floats.Dot(xs, ys)
	sumX2 := floats.Dot(xs, xs)
	sumY2 := floats.Dot(ys, ys)

	// Constant x or y has zero variance. The sum formula only gets there
	// approximately for non-representable values like 0.1, so check it
	// exactly and keep r and slope at zero.
	flatX := floats.Min(xs) == floats.Max(xs)
	flatY := floats.Min(ys) == floats.Max(ys)

	r := 0.0
	slope := 0.0
	if !flatX && !flatY {
		denom := math.Sqrt((n*sumX2 - sumX*sumX) * (n*sumY2 - sumY*sumY))
		if denom > 0 {
			r = (n*sumXY - sumX*sumY) / denom
		}
		if slopeDenom := n*sumX2 - sumX*sumX; slopeDenom != 0 {
			slope = (n*sumXY - sumX*sumY) / slopeDenom
		}
	}
	intercept := (sumY - slope*sumX) / n

	maxX := floats.Max(xs)

	return CorrelationResult{
		Correlation: roundTo(r, 2),
		PValue:      roundTo(pValue(r, len(samples)), 4),
		Trendline: []Point{
			{X: 0, Y: intercept},
			{X: maxX, Y: intercept + slope*maxX},
		},
		Insights: segmentInsights(samples, xs),
	}
}

// pValue tests r against zero with n-2 degrees of freedom. Fewer than
// three samples carry no evidence, so the result is 1.
func pValue(r float64, n int) float64 {
	if n < 3 {
		return 1
	}
	if math.Abs(r) >= 1 {
		return 0
	}
	df := float64(n - 2)
	t := math.Abs(r) * math.Sqrt(df/(1-r*r))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	return 2 * dist.Survival(t)
}

func segmentInsights(samples []Sample, xs []float64) SegmentInsights {
	sorted := append([]Sample(nil), samples...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Y > sorted[j].Y })

	// integer ceiling; float n*0.2 overshoots for n=15, 30, ...
	size := (len(sorted) + segmentDivisor - 1) / segmentDivisor
	top := sorted[:size]
	struggling := sorted[len(sorted)-size:]

	return SegmentInsights{
		AvgX:                mean(xs),
		TopGroupAvgX:        meanX(top),
		StrugglingGroupAvgX: meanX(struggling),
		TopGroupSize:        len(top),
		StrugglingGroupSize: len(struggling),
	}
}

func meanX(samples []Sample) float64 {
	xs := make([]float64, len(samples))
	for i, s := range samples {
		xs[i] = s.X
	}
	return mean(xs)
}

func mean(data []float64) float64 {
	m, err := stats.Mean(data)
	if err != nil {
		return 0
	}
	return m
}

// roundTo rounds half away from zero. A result of -0 comes back as 0 so
// it never reaches JSON as "-0".
func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	rounded := math.Round(v*p) / p
	if rounded == 0 {
		return 0
	}
	return rounded
}
