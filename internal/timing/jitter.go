// Package timing produces bounded random delays and pointer paths that pace automated actions like a
// person would. A Sampler is not safe for concurrent use: every job or loop owns its own, so parallel
// tasks never share a random stream.
package timing

import (
	"math"
	"math/rand/v2"
	"time"
)

type ClickMode string

const (
	ClickRacing ClickMode = "racing"
	ClickNormal ClickMode = "normal"
)

// Distribution is a normal distribution clamped to [Min, Max].
type Distribution struct {
	Mean   time.Duration
	StdDev time.Duration
	Min    time.Duration
	Max    time.Duration
}

var (
	RacingClick      = Distribution{Mean: 180 * time.Millisecond, StdDev: 40 * time.Millisecond, Min: 80 * time.Millisecond, Max: 300 * time.Millisecond}
	NormalClick      = Distribution{Mean: 350 * time.Millisecond, StdDev: 80 * time.Millisecond, Min: 150 * time.Millisecond, Max: 600 * time.Millisecond}
	UIInteraction    = Distribution{Mean: 400 * time.Millisecond, StdDev: 100 * time.Millisecond, Min: 50 * time.Millisecond, Max: 700 * time.Millisecond}
	PointerStepDelay = Distribution{Mean: 8 * time.Millisecond, StdDev: 2 * time.Millisecond, Min: 5 * time.Millisecond, Max: 15 * time.Millisecond}
)

const (
	DefaultPageWaitVariance = 0.25

	pageWaitFloor   = 0.5
	pageWaitCeiling = 2.0

	pathCurvature  = 0.1
	pathTremor     = 1.5
	pathStepPixels = 60.0
	pathMinSteps   = 2
	pathMaxSteps   = 15
)

type Sampler struct {
	rng              *rand.Rand
	pageWaitVariance float64
}

// NewSampler returns a sampler with a freshly seeded stream. A non-positive variance falls back to
// DefaultPageWaitVariance.
func NewSampler(pageWaitVariance float64) *Sampler {
	return NewSeededSampler(pageWaitVariance, rand.Uint64(), rand.Uint64())
}

// NewSeededSampler is NewSampler with a reproducible stream.
func NewSeededSampler(pageWaitVariance float64, seed1, seed2 uint64) *Sampler {
	if pageWaitVariance <= 0 {
		pageWaitVariance = DefaultPageWaitVariance
	}
	return &Sampler{
		rng:              rand.New(rand.NewPCG(seed1, seed2)),
		pageWaitVariance: pageWaitVariance,
	}
}

// SampleDelay draws from N(mean, stddev) and clamps the result to [min, max].
func (s *Sampler) SampleDelay(mean, stddev, min, max time.Duration) time.Duration {
	if max < min {
		min, max = max, min
	}
	d := time.Duration(s.gauss(float64(mean), float64(stddev)))
	return clamp(d, min, max)
}

func (s *Sampler) Sample(d Distribution) time.Duration {
	return s.SampleDelay(d.Mean, d.StdDev, d.Min, d.Max)
}

// SamplePageWait is centred on expected with a standard deviation proportional to it and is bounded
// to [expected/2, 2*expected].
func (s *Sampler) SamplePageWait(expected time.Duration) time.Duration {
	if expected <= 0 {
		return 0
	}
	e := float64(expected)
	return s.SampleDelay(
		expected,
		time.Duration(e*s.pageWaitVariance),
		time.Duration(e*pageWaitFloor),
		time.Duration(e*pageWaitCeiling),
	)
}

func (s *Sampler) SampleClickDelay(mode ClickMode) time.Duration {
	if mode == ClickNormal {
		return s.Sample(NormalClick)
	}
	return s.Sample(RacingClick)
}

func (s *Sampler) SampleUIDelay() time.Duration {
	return s.Sample(UIInteraction)
}

func (s *Sampler) SamplePointerStepDelay() time.Duration {
	return s.Sample(PointerStepDelay)
}

type Point struct {
	X float64
	Y float64
}

// PointerPath is a finite, single-use sequence of points. Once Next reports false it stays exhausted.
type PointerPath struct {
	points []Point
	pos    int
}

func (p *PointerPath) Next() (Point, bool) {
	if p.pos >= len(p.points) {
		return Point{}, false
	}
	pt := p.points[p.pos]
	p.pos++
	return pt, true
}

// Len is the total number of points, consumed or not.
func (p *PointerPath) Len() int {
	return len(p.points)
}

// SamplePointerPath follows one quadratic Bezier curve from start to end. The control point sits near
// the midpoint, offset by about a tenth of the distance, and each point carries a small tremor.
func (s *Sampler) SamplePointerPath(start, end Point) *PointerPath {
	dx, dy := end.X-start.X, end.Y-start.Y
	distance := math.Hypot(dx, dy)

	steps := int(distance / pathStepPixels)
	steps = max(pathMinSteps, min(pathMaxSteps, steps))

	ctrl := Point{
		X: (start.X+end.X)/2 + s.gauss(0, distance*pathCurvature),
		Y: (start.Y+end.Y)/2 + s.gauss(0, distance*pathCurvature),
	}

	points := make([]Point, 0, steps+1)
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		u := 1 - t
		points = append(points, Point{
			X: u*u*start.X + 2*u*t*ctrl.X + t*t*end.X + s.gauss(0, pathTremor),
			Y: u*u*start.Y + 2*u*t*ctrl.Y + t*t*end.Y + s.gauss(0, pathTremor),
		})
	}
	return &PointerPath{points: points}
}

func (s *Sampler) gauss(mean, stddev float64) float64 {
	return mean + s.rng.NormFloat64()*stddev
}

func clamp(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
