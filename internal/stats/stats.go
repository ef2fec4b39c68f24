// Package stats holds the sample-size and proportion arithmetic behind
// evaluation runs.
package stats

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidConfidenceLevel    = errors.New("invalid confidence level")
	ErrInvalidMarginOfError      = errors.New("invalid margin of error")
	ErrInvalidExpectedProportion = errors.New("invalid expected proportion")
)

// zScores maps a confidence level, in whole percent, to its two-sided z-score
// in hundredths.
var zScores = map[int64]int64{
	80: 128,
	85: 144,
	90: 164,
	95: 196,
	99: 258,
}

// ConfidenceLevels lists the accepted confidence levels in whole percent.
var ConfidenceLevels = []int{80, 85, 90, 95, 99}

// SampleSize returns the number of trials Cochran's formula requires for the
// expected proportion p, confidence level c and margin of error e:
//
//	n = ceil(z² · p · (1−p) / e²), at least 1
//
// p and e may have any precision; they are read at their shortest decimal
// form and the quotient is exact. c must be one of ConfidenceLevels as a
// fraction.
func SampleSize(p, c, e float64) (int, error) {
	z, err := zDecimal(c)
	if err != nil {
		return 0, err
	}

	pp, ok := exact(p)
	if !ok || pp.IsNegative() || pp.GreaterThan(one) {
		return 0, ErrInvalidExpectedProportion
	}
	ee, ok := exact(e)
	if !ok || !ee.IsPositive() || ee.GreaterThan(one) {
		return 0, ErrInvalidMarginOfError
	}

	num := z.Mul(z).Mul(pp).Mul(one.Sub(pp))
	q, r := num.QuoRem(ee.Mul(ee), 0)
	if !r.IsZero() {
		q = q.Add(one)
	}
	if q.GreaterThan(maxSampleSize) {
		return 0, fmt.Errorf("%w: sample size %s is too large", ErrInvalidMarginOfError, q)
	}
	if q.LessThan(one) {
		return 1, nil
	}
	return int(q.IntPart()), nil
}

var (
	one           = decimal.NewFromInt(1)
	maxSampleSize = decimal.NewFromInt(math.MaxInt32)
)

// ZScore returns the z-score for confidence level c.
func ZScore(c float64) (float64, error) {
	z, err := zDecimal(c)
	if err != nil {
		return 0, err
	}
	return z.InexactFloat64(), nil
}

func zDecimal(c float64) (decimal.Decimal, error) {
	level, ok := hundredths(c)
	if !ok {
		return decimal.Zero, ErrInvalidConfidenceLevel
	}
	z, ok := zScores[level]
	if !ok {
		return decimal.Zero, ErrInvalidConfidenceLevel
	}
	return decimal.New(z, -2), nil
}

func exact(v float64) (decimal.Decimal, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(v), true
}

// hundredths converts a two-decimal fraction to an integer count of
// hundredths. Values with more precision are rejected, so 0.951 is not a
// confidence level.
func hundredths(v float64) (int64, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	scaled := v * 100
	r := math.Round(scaled)
	if math.Abs(scaled-r) > 1e-6 {
		return 0, false
	}
	return int64(r), true
}

// RoundRatio rounds k/n to two decimal places, ties to even.
func RoundRatio(k, n int) float64 {
	if n <= 0 {
		return 0
	}
	num := int64(k) * 100
	den := int64(n)
	q, r := num/den, num%den
	switch {
	case 2*r > den:
		q++
	case 2*r == den && q%2 == 1:
		q++
	}
	return float64(q) / 100
}

// Interval is a closed range of proportions.
type Interval struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// WilsonInterval is the Wilson score interval for k successes in n trials.
func WilsonInterval(k, n int, z float64) Interval {
	if n == 0 {
		return Interval{}
	}
	p := float64(k) / float64(n)
	zz := z * z
	den := 1 + zz/float64(n)
	center := (p + zz/(2*float64(n))) / den
	half := (z / den) * math.Sqrt((p*(1-p)+zz/(4*float64(n)))/float64(n))
	return Interval{
		Low:  math.Max(0, center-half),
		High: math.Min(1, center+half),
	}
}

// CumulativeRate returns the running success rate after each outcome.
func CumulativeRate(passed []bool) []float64 {
	out := make([]float64, len(passed))
	ok := 0
	for i, p := range passed {
		if p {
			ok++
		}
		out[i] = float64(ok) / float64(i+1)
	}
	return out
}
