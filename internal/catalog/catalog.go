package catalog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Catalog holds rules in load order together with per sub-category ranges.
// It is read-only once built.
type Catalog struct {
	rules  []Rule
	ranges map[RangeKey]ScoreRange
}

// New validates rules and computes their score ranges.
func New(rules []Rule) (*Catalog, error) {
	prepared := make([]Rule, len(rules))
	for i := range rules {
		rule := rules[i]
		rule.IndicatorName = strings.TrimSpace(rule.IndicatorName)
		rule.SubCategory = strings.TrimSpace(rule.SubCategory)
		if err := rule.prepare(); err != nil {
			return nil, fmt.Errorf("rule %d (%s/%s): %w", i+1, rule.IndicatorName, rule.SubCategory, err)
		}
		prepared[i] = rule
	}

	c := &Catalog{rules: prepared, ranges: computeRanges(prepared)}
	for i, rule := range c.rules {
		if rule.SkipScoring {
			continue
		}
		if _, ok := c.ranges[rule.Key()]; !ok {
			return nil, fmt.Errorf("rule %d (%s/%s): %w", i+1, rule.IndicatorName, rule.SubCategory, ErrMissingRange)
		}
	}
	return c, nil
}

// computeRanges derives min/max over scoring rules. Zero is always inside the
// range so every sub-category stays bipolar.
func computeRanges(rules []Rule) map[RangeKey]ScoreRange {
	ranges := make(map[RangeKey]ScoreRange)
	for _, rule := range rules {
		if rule.SkipScoring {
			continue
		}
		key := rangeKey(rule.IndicatorName, rule.SubCategory)
		current, ok := ranges[key]
		if !ok {
			current = ScoreRange{Min: decimal.Zero, Max: decimal.Zero}
		}
		current.Min = decimal.Min(current.Min, rule.Score)
		current.Max = decimal.Max(current.Max, rule.Score)
		ranges[key] = current
	}
	return ranges
}

// Match returns the first rule of the indicator whose pattern matches message.
func (c *Catalog) Match(indicatorName, message string) (MatchedRule, error) {
	indicator := strings.TrimSpace(indicatorName)
	for i := range c.rules {
		rule := &c.rules[i]
		if !strings.EqualFold(rule.IndicatorName, indicator) {
			continue
		}
		if !rule.matches(message) {
			continue
		}
		matched := MatchedRule{Rule: *rule}
		if rng, ok := c.ranges[rule.Key()]; ok {
			matched.Range = rng
		}
		return matched, nil
	}
	return MatchedRule{}, fmt.Errorf("%w: indicator=%s message=%q", ErrNoMatchingRule, indicator, message)
}

// Range returns the computed range for an indicator's sub-category.
func (c *Catalog) Range(indicator, subCategory string) (ScoreRange, bool) {
	rng, ok := c.ranges[rangeKey(indicator, subCategory)]
	return rng, ok
}

// Ranges lists every computed range ordered by key.
func (c *Catalog) Ranges() []RangeEntry {
	entries := make([]RangeEntry, 0, len(c.ranges))
	for key, rng := range c.ranges {
		entries = append(entries, RangeEntry{RangeKey: key, ScoreRange: rng})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Indicator != entries[j].Indicator {
			return entries[i].Indicator < entries[j].Indicator
		}
		return entries[i].SubCategory < entries[j].SubCategory
	})
	return entries
}

// RangeEntry pairs a key with its range.
type RangeEntry struct {
	RangeKey
	ScoreRange
}

// Rules returns a copy of the rules in load order.
func (c *Catalog) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// Len returns the number of loaded rules.
func (c *Catalog) Len() int {
	return len(c.rules)
}

func rangeKey(indicator, subCategory string) RangeKey {
	return RangeKey{Indicator: strings.TrimSpace(indicator), SubCategory: strings.TrimSpace(subCategory)}
}
