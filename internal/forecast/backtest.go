package forecast

import (
	"fmt"
	"math"
	"sort"
)

// Auto asks for the method with the lowest one-step backtest error on the
// series being forecast.
const Auto = "auto"

// backtestPoints caps how many trailing one-step predictions are scored.
const backtestPoints = 30

type Score struct {
	Method string  `json:"method"`
	RMSE   float64 `json:"rmse"`
	MAE    float64 `json:"mae"`
	N      int     `json:"n"`
}

// Valid reports whether name is a registered method or Auto.
func Valid(name string) bool {
	return name == Auto || Known(name)
}

// Backtest walks forward over y, predicting each of the last points one step
// ahead from the prices before it, and scores the point estimates.
func Backtest(y []float64, method string) (Score, error) {
	if !Known(method) {
		return Score{}, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
	if len(y) < 4 {
		return Score{}, fmt.Errorf("%w: have %d", ErrInsufficientData, len(y))
	}
	start := 3
	if len(y)-backtestPoints > start {
		start = len(y) - backtestPoints
	}
	var sq, abs float64
	n := 0
	for t := start; t < len(y); t++ {
		e, err := Run(method, y[:t], 1)
		if err != nil {
			return Score{}, fmt.Errorf("backtest %s at %d: %w", method, t, err)
		}
		d := e.YHat - y[t]
		sq += d * d
		abs += math.Abs(d)
		n++
	}
	return Score{Method: method, RMSE: math.Sqrt(sq / float64(n)), MAE: abs / float64(n), N: n}, nil
}

// Select backtests every method on y and returns the lowest-RMSE score first
// along with all scores sorted best to worst. Ties go to the method name that
// sorts first. Methods that fail on y are left out.
func Select(y []float64) (Score, []Score, error) {
	scores := []Score{}
	var lastErr error
	for _, name := range Methods() {
		s, err := Backtest(y, name)
		if err != nil {
			lastErr = err
			continue
		}
		scores = append(scores, s)
	}
	if len(scores) == 0 {
		return Score{}, nil, lastErr
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].RMSE < scores[j].RMSE })
	return scores[0], scores, nil
}
