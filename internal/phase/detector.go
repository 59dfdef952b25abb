// internal/phase/detector.go
// Package phase locates the arrival rate at which output quality changes
// regime, by comparing a single linear fit against the best two-segment fit.
package phase

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"
)

var (
	// ErrInsufficientPoints is returned when fewer than MinPoints usable rows remain.
	ErrInsufficientPoints = errors.New("need at least 5 valid points to evaluate a 1-breakpoint model")
	// ErrNoQualitySignal is returned when no quality column is present.
	ErrNoQualitySignal = errors.New("no quality signal found; expected one of mean_quality, task_exact_match, stability_edit_similarity")
	// ErrNoFeasibleSplit is returned when no split leaves two distinct rates on each side.
	ErrNoFeasibleSplit = errors.New("unable to fit breakpoint model")
)

const (
	// MinPoints is the smallest table the detector accepts.
	MinPoints = 5
	// DefaultBootstrapSamples is the default number of bootstrap resamples.
	DefaultBootstrapSamples = 200
	// DefaultMinSegmentSize is the default smallest segment on either side of a split.
	DefaultMinSegmentSize = 2

	rssFloor = 1e-12
)

// Point is one (arrival rate, quality) observation.
type Point struct {
	Rate    float64
	Quality float64
}

// Options tune DetectPhaseTransition.
type Options struct {
	// BootstrapSamples defaults to DefaultBootstrapSamples. Negative disables
	// the bootstrap.
	BootstrapSamples int
	// MinSegmentSize defaults to DefaultMinSegmentSize.
	MinSegmentSize int
	// Seed seeds the bootstrap when Rand is nil.
	Seed int64
	Rand *rand.Rand
}

func (o Options) withDefaults() Options {
	if o.BootstrapSamples == 0 {
		o.BootstrapSamples = DefaultBootstrapSamples
	}
	if o.BootstrapSamples < 0 {
		o.BootstrapSamples = 0
	}
	if o.MinSegmentSize <= 0 {
		o.MinSegmentSize = DefaultMinSegmentSize
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewSource(o.Seed))
	}
	return o
}

// PhaseFit is the best single-breakpoint model of a sorted table.
type PhaseFit struct {
	SplitIdx     int     `json:"split_idx"`
	Breakpoint   float64 `json:"breakpoint_rps"`
	BICPiecewise float64 `json:"bic_piecewise"`
	BICLinear    float64 `json:"bic_linear"`
}

// BICGain is how much the piecewise model improves on the linear one.
func (f PhaseFit) BICGain() float64 {
	return f.BICLinear - f.BICPiecewise
}

// PhaseResult is the detector output.
type PhaseResult struct {
	BreakpointRPS float64       `json:"breakpoint_rps"`
	CILow         float64       `json:"ci_low"`
	CIHigh        float64       `json:"ci_high"`
	BICGain       float64       `json:"bic_gain"`
	QualitySource QualitySource `json:"quality_source"`
	BootstrapOK   int           `json:"bootstrap_ok"`
}

// DetectPhaseTransition fits the best breakpoint over points and bootstraps
// a 95% interval around it. Points need not be sorted. The returned result
// carries no quality source; Detect fills it in.
func DetectPhaseTransition(points []Point, opts Options) (PhaseResult, error) {
	opts = opts.withDefaults()
	points = finitePoints(points)
	if len(points) < MinPoints {
		return PhaseResult{}, fmt.Errorf("%w (got %d)", ErrInsufficientPoints, len(points))
	}

	sorted := sortedCopy(points)
	best, err := FitBestBreakpoint(sorted, opts.MinSegmentSize)
	if err != nil {
		return PhaseResult{}, err
	}

	var breakpoints []float64
	sample := make([]Point, len(sorted))
	for b := 0; b < opts.BootstrapSamples; b++ {
		for i := range sample {
			sample[i] = sorted[opts.Rand.Intn(len(sorted))]
		}
		sort.SliceStable(sample, func(i, j int) bool { return sample[i].Rate < sample[j].Rate })
		if distinctRates(sample) < 2*opts.MinSegmentSize {
			continue
		}
		fit, err := FitBestBreakpoint(sample, opts.MinSegmentSize)
		if err != nil {
			continue
		}
		breakpoints = append(breakpoints, fit.Breakpoint)
	}

	res := PhaseResult{
		BreakpointRPS: best.Breakpoint,
		CILow:         best.Breakpoint,
		CIHigh:        best.Breakpoint,
		BICGain:       best.BICGain(),
		BootstrapOK:   len(breakpoints),
	}
	if len(breakpoints) > 0 {
		sort.Float64s(breakpoints)
		res.CILow = percentile(breakpoints, 2.5)
		res.CIHigh = percentile(breakpoints, 97.5)
	}
	return res, nil
}

// FitBestBreakpoint scans every split of points, which must be sorted by
// rate, and returns the one with the lowest piecewise BIC.
func FitBestBreakpoint(points []Point, minSegment int) (PhaseFit, error) {
	n := len(points)
	x, y := columns(points)

	rssLinear, err := fitLine(x, y)
	if err != nil {
		return PhaseFit{}, err
	}
	bicLinear := bic(rssLinear, n, 2)

	start, end := minSegment, n-minSegment
	if start >= end {
		return PhaseFit{}, fmt.Errorf("%w: %d points cannot hold two segments of %d", ErrNoFeasibleSplit, n, minSegment)
	}

	var (
		best  PhaseFit
		found bool
	)
	for split := start; split < end; split++ {
		if distinctValues(x[:split]) < 2 || distinctValues(x[split:]) < 2 {
			continue
		}
		rssLeft, err := fitLine(x[:split], y[:split])
		if err != nil {
			continue
		}
		rssRight, err := fitLine(x[split:], y[split:])
		if err != nil {
			continue
		}
		candidate := PhaseFit{
			SplitIdx:     split,
			Breakpoint:   (x[split-1] + x[split]) / 2,
			BICPiecewise: bic(rssLeft+rssRight, n, 4),
			BICLinear:    bicLinear,
		}
		if !found || candidate.BICPiecewise < best.BICPiecewise {
			best = candidate
			found = true
		}
	}
	if !found {
		return PhaseFit{}, ErrNoFeasibleSplit
	}
	return best, nil
}

// fitLine returns the residual sum of squares of the OLS line through x, y.
func fitLine(x, y []float64) (float64, error) {
	if distinctValues(x) < 2 {
		return 0, fmt.Errorf("%w: fewer than two distinct rates", ErrNoFeasibleSplit)
	}
	alpha, beta := stat.LinearRegression(x, y, nil, false)
	rss := 0.0
	for i := range x {
		r := y[i] - (alpha + beta*x[i])
		rss += r * r
	}
	if math.IsNaN(rss) {
		return 0, fmt.Errorf("%w: degenerate fit", ErrNoFeasibleSplit)
	}
	return rss, nil
}

// percentile interpolates linearly between the closest ranks of sorted,
// at position (n-1)*p/100.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	h := float64(n-1) * p / 100
	lo := int(math.Floor(h))
	if lo >= n-1 {
		return sorted[n-1]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[lo+1]-sorted[lo])
}

// finitePoints drops points whose rate or quality is NaN or infinite.
func finitePoints(points []Point) []Point {
	out := make([]Point, 0, len(points))
	for _, p := range points {
		if math.IsNaN(p.Rate) || math.IsInf(p.Rate, 0) || math.IsNaN(p.Quality) || math.IsInf(p.Quality, 0) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func bic(rss float64, n, k int) float64 {
	rss = math.Max(rss, rssFloor)
	return float64(n)*math.Log(rss/float64(n)) + float64(k)*math.Log(float64(n))
}

func sortedCopy(points []Point) []Point {
	out := append([]Point(nil), points...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Rate < out[j].Rate })
	return out
}

func columns(points []Point) ([]float64, []float64) {
	x := make([]float64, len(points))
	y := make([]float64, len(points))
	for i, p := range points {
		x[i] = p.Rate
		y[i] = p.Quality
	}
	return x, y
}

func distinctRates(points []Point) int {
	x, _ := columns(points)
	return distinctValues(x)
}

func distinctValues(v []float64) int {
	seen := make(map[float64]struct{}, len(v))
	for _, f := range v {
		seen[f] = struct{}{}
	}
	return len(seen)
}
