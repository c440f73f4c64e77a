package catalog

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrNoMatchingRule indicates no rule pattern satisfied the message.
	ErrNoMatchingRule = errors.New("catalog: no matching rule")
	// ErrInvalidMatchType indicates a rule declared an unknown match kind.
	ErrInvalidMatchType = errors.New("catalog: invalid match type")
	// ErrMissingRange indicates a scoring rule has no computed score range.
	ErrMissingRange = errors.New("catalog: missing score range")
)

// MatchType selects how a rule pattern is compared to an alert message.
type MatchType int

const (
	MatchPrefix MatchType = iota + 1
	MatchExact
	MatchRegex
	MatchContains
)

var matchTypeNames = map[MatchType]string{
	MatchPrefix:   "PREFIX",
	MatchExact:    "EXACT",
	MatchRegex:    "REGEX",
	MatchContains: "CONTAINS",
}

// ParseMatchType resolves a match type name, ignoring case and surrounding space.
func ParseMatchType(raw string) (MatchType, error) {
	name := strings.ToUpper(strings.TrimSpace(raw))
	for mt, n := range matchTypeNames {
		if n == name {
			return mt, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidMatchType, raw)
}

func (m MatchType) String() string {
	if n, ok := matchTypeNames[m]; ok {
		return n
	}
	return fmt.Sprintf("MatchType(%d)", int(m))
}

// Rule maps one alert pattern of an indicator onto a raw score.
type Rule struct {
	IndicatorName          string
	IndicatorDisplayName   string
	Description            string
	SubCategory            string
	SubCategoryDisplayName string
	MatchType              MatchType
	AlertPattern           string
	Score                  decimal.Decimal
	SkipScoring            bool
	Alertable              bool
	Intervals              []string

	re *regexp.Regexp
}

// RangeKey identifies the score range shared by rules of one sub-category.
type RangeKey struct {
	Indicator   string
	SubCategory string
}

// ScoreRange bounds the raw score of a sub-category.
type ScoreRange struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// MatchedRule is a rule decorated with the range of its sub-category.
type MatchedRule struct {
	Rule
	Range ScoreRange
}

// Key returns the range key of the rule.
func (r Rule) Key() RangeKey {
	return RangeKey{Indicator: r.IndicatorName, SubCategory: r.SubCategory}
}

// AppliesTo reports whether the rule is configured for the interval. Rules
// without intervals apply everywhere.
func (r Rule) AppliesTo(interval string) bool {
	if len(r.Intervals) == 0 {
		return true
	}
	for _, iv := range r.Intervals {
		if strings.EqualFold(iv, interval) {
			return true
		}
	}
	return false
}

func (r *Rule) prepare() error {
	if strings.TrimSpace(r.IndicatorName) == "" {
		return errors.New("indicator name is required")
	}
	if strings.TrimSpace(r.SubCategory) == "" {
		return errors.New("sub-category is required")
	}
	if _, ok := matchTypeNames[r.MatchType]; !ok {
		return fmt.Errorf("%w: %s", ErrInvalidMatchType, r.MatchType)
	}
	if r.AlertPattern == "" {
		return errors.New("alert pattern is required")
	}
	if r.MatchType == MatchRegex {
		re, err := regexp.Compile(r.AlertPattern)
		if err != nil {
			return fmt.Errorf("compile pattern %q: %w", r.AlertPattern, err)
		}
		r.re = re
	}
	return nil
}

func (r *Rule) matches(message string) bool {
	switch r.MatchType {
	case MatchPrefix:
		return matchPrefix(r.AlertPattern, message)
	case MatchExact:
		return matchExact(r.AlertPattern, message)
	case MatchRegex:
		return r.re.MatchString(message)
	case MatchContains:
		return matchContains(r.AlertPattern, message)
	}
	return false
}

func matchPrefix(pattern, message string) bool {
	return strings.HasPrefix(normalise(message), normalise(pattern))
}

func matchExact(pattern, message string) bool {
	return normalise(message) == normalise(pattern)
}

func matchContains(pattern, message string) bool {
	return strings.Contains(strings.ToLower(message), strings.ToLower(pattern))
}

func normalise(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
