// Package forecast holds the statistical point-and-band estimators used by
// the forecast worker. Every method takes a closing-price series in
// ascending time order and a horizon in steps (days).
package forecast

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const (
	NaiveLast = "naive_last"
	SMA7      = "sma_7"
	EWMA20    = "ewma_20"
	AR1Ret    = "ar1_ret"
	GBMMC     = "gbm_mc"

	maxSteps = 90
	z95      = 1.96
	gbmSims  = 2000
	gbmSeed  = 42
)

var (
	ErrUnknownMethod    = errors.New("unknown forecast method")
	ErrInsufficientData = errors.New("not enough data points")
	ErrInvalidHorizon   = errors.New("invalid horizon")
	ErrNonPositive      = errors.New("series has non-positive prices")
)

type Estimate struct {
	YHat  float64
	Lower float64
	Upper float64
}

type Method func(y []float64, steps int) (Estimate, error)

var registry = map[string]Method{
	NaiveLast: naiveLast,
	SMA7:      sma7,
	EWMA20:    ewma20,
	AR1Ret:    ar1Ret,
	GBMMC:     gbmMC,
}

func Methods() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func Known(name string) bool {
	_, ok := registry[name]
	return ok
}

func Run(name string, y []float64, steps int) (Estimate, error) {
	m, ok := registry[name]
	if !ok {
		return Estimate{}, fmt.Errorf("%w: %q", ErrUnknownMethod, name)
	}
	if steps < 1 || steps > maxSteps {
		return Estimate{}, fmt.Errorf("%w: %d steps", ErrInvalidHorizon, steps)
	}
	if len(y) < 3 {
		return Estimate{}, fmt.Errorf("%w: have %d", ErrInsufficientData, len(y))
	}
	for _, v := range y {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Estimate{}, errors.New("series contains NaN or Inf")
		}
	}
	e, err := m(y, steps)
	if err != nil {
		return Estimate{}, err
	}
	if e.Lower > e.YHat {
		e.Lower = e.YHat
	}
	if e.Upper < e.YHat {
		e.Upper = e.YHat
	}
	return e, nil
}

// Confidence maps band width relative to the point estimate into [0, 1].
func Confidence(e Estimate) float64 {
	if e.YHat == 0 {
		return 0
	}
	rel := (e.Upper - e.Lower) / (2 * math.Abs(e.YHat))
	c := 1 - rel
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

var horizonRe = regexp.MustCompile(`^(\d+)\s*(d|day|days|w|wk|week|weeks)?$`)

// ParseHorizon turns "1d", "5 days" or "2w" into a step count in days.
func ParseHorizon(h string) (int, error) {
	m := horizonRe.FindStringSubmatch(strings.ToLower(strings.TrimSpace(h)))
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidHorizon, h)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidHorizon, h)
	}
	if strings.HasPrefix(m[2], "w") {
		n *= 7
	}
	if n < 1 || n > maxSteps {
		return 0, fmt.Errorf("%w: %q", ErrInvalidHorizon, h)
	}
	return n, nil
}

func naiveLast(y []float64, steps int) (Estimate, error) {
	last := y[len(y)-1]
	resid := make([]float64, 0, len(y)-1)
	for i := 1; i < len(y); i++ {
		resid = append(resid, y[i]-y[i-1])
	}
	return band(last, stddev(resid), steps), nil
}

func sma7(y []float64, steps int) (Estimate, error) {
	w := 7
	if len(y) < w {
		w = len(y)
	}
	yhat := mean(y[len(y)-w:])
	resid := []float64{}
	for t := w; t < len(y); t++ {
		resid = append(resid, y[t]-mean(y[t-w:t]))
	}
	return band(yhat, stddev(resid), steps), nil
}

func ewma20(y []float64, steps int) (Estimate, error) {
	alpha := 2.0 / (20 + 1)
	level := y[0]
	resid := make([]float64, 0, len(y)-1)
	for _, v := range y[1:] {
		resid = append(resid, v-level)
		level = alpha*v + (1-alpha)*level
	}
	return band(level, stddev(resid), steps), nil
}

func ar1Ret(y []float64, steps int) (Estimate, error) {
	r, err := logReturns(y)
	if err != nil {
		return Estimate{}, err
	}
	x, z := r[:len(r)-1], r[1:]
	mx, mz := mean(x), mean(z)
	var cov, vx float64
	for i := range x {
		cov += (x[i] - mx) * (z[i] - mz)
		vx += (x[i] - mx) * (x[i] - mx)
	}
	b := 0.0
	if vx > 0 {
		b = cov / vx
	}
	a := mz - b*mx
	resid := make([]float64, len(x))
	for i := range x {
		resid[i] = z[i] - (a + b*x[i])
	}
	s := stddev(resid)

	prev, cum := r[len(r)-1], 0.0
	for i := 0; i < steps; i++ {
		prev = a + b*prev
		cum += prev
	}
	last := y[len(y)-1]
	width := z95 * s * math.Sqrt(float64(steps))
	return Estimate{
		YHat:  last * math.Exp(cum),
		Lower: last * math.Exp(cum-width),
		Upper: last * math.Exp(cum+width),
	}, nil
}

func gbmMC(y []float64, steps int) (Estimate, error) {
	r, err := logReturns(y)
	if err != nil {
		return Estimate{}, err
	}
	mu, sigma := mean(r), stddev(r)
	drift := mu - 0.5*sigma*sigma
	rng := rand.New(rand.NewSource(gbmSeed))
	last := y[len(y)-1]

	terminal := make([]float64, gbmSims)
	sum := 0.0
	for i := range terminal {
		acc := 0.0
		for k := 0; k < steps; k++ {
			acc += drift + sigma*rng.NormFloat64()
		}
		terminal[i] = last * math.Exp(acc)
		sum += terminal[i]
	}
	sort.Float64s(terminal)
	return Estimate{
		YHat:  sum / float64(gbmSims),
		Lower: percentile(terminal, 5),
		Upper: percentile(terminal, 95),
	}, nil
}

func band(center, s float64, steps int) Estimate {
	width := z95 * s * math.Sqrt(float64(steps))
	return Estimate{YHat: center, Lower: center - width, Upper: center + width}
}

func logReturns(y []float64) ([]float64, error) {
	out := make([]float64, 0, len(y)-1)
	for i := 1; i < len(y); i++ {
		if y[i] <= 0 || y[i-1] <= 0 {
			return nil, ErrNonPositive
		}
		out = append(out, math.Log(y[i]/y[i-1]))
	}
	return out, nil
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	s := 0.0
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}

// stddev is the sample standard deviation; fewer than two values give 0.
func stddev(v []float64) float64 {
	if len(v) < 2 {
		return 0
	}
	m := mean(v)
	ss := 0.0
	for _, x := range v {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(v)-1))
}

// percentile uses linear interpolation between closest ranks on sorted input.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
