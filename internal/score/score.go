package score

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Direction is the discrete bias category derived from a bipolar percentage.
type Direction string

const (
	StrongBull Direction = "STRONG_BULL"
	Bull       Direction = "BULL"
	Neutral    Direction = "NEUTRAL"
	Bear       Direction = "BEAR"
	StrongBear Direction = "STRONG_BEAR"
)

// ErrDegenerateRange is returned when the bound relevant to the sign of the
// actual score is zero.
var ErrDegenerateRange = errors.New("score: degenerate range")

// PercentPlaces is the precision percentages are rounded to.
const PercentPlaces int32 = 2

var (
	hundred        = decimal.NewFromInt(100)
	strongBoundary = decimal.NewFromInt(85)
	plainBoundary  = decimal.NewFromInt(70)
)

// BipolarPercentage normalises actual into [-100, 100] against the negative
// bound when actual is below zero and the positive bound otherwise.
func BipolarPercentage(min, max, actual decimal.Decimal) (decimal.Decimal, error) {
	bound := max
	if actual.IsNegative() {
		bound = min.Abs()
	}
	if bound.IsZero() {
		return decimal.Decimal{}, ErrDegenerateRange
	}
	return actual.Mul(hundred).Div(bound).Round(PercentPlaces), nil
}

// ClassifyDirection maps a percentage onto a Direction.
func ClassifyDirection(pct decimal.Decimal) Direction {
	magnitude := pct.Abs()
	bullish := !pct.IsNegative()

	switch {
	case magnitude.GreaterThanOrEqual(strongBoundary):
		if bullish {
			return StrongBull
		}
		return StrongBear
	case magnitude.GreaterThanOrEqual(plainBoundary):
		if bullish {
			return Bull
		}
		return Bear
	default:
		return Neutral
	}
}

// Evaluate returns both the percentage and its direction.
func Evaluate(min, max, actual decimal.Decimal) (decimal.Decimal, Direction, error) {
	pct, err := BipolarPercentage(min, max, actual)
	if err != nil {
		return decimal.Decimal{}, "", err
	}
	return pct, ClassifyDirection(pct), nil
}

// Valid reports whether d is one of the known directions.
func (d Direction) Valid() bool {
	switch d {
	case StrongBull, Bull, Neutral, Bear, StrongBear:
		return true
	}
	return false
}

// Bullish reports whether the direction leans long.
func (d Direction) Bullish() bool {
	return d == StrongBull || d == Bull
}

// Bearish reports whether the direction leans short.
func (d Direction) Bearish() bool {
	return d == StrongBear || d == Bear
}
