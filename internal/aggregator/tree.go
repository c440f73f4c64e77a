package aggregator

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"bias-aggregator/internal/score"
)

// Tally carries the bounded score shared by every level of the tree.
type Tally struct {
	Score      decimal.Decimal `json:"score"`
	Min        decimal.Decimal `json:"min"`
	Max        decimal.Decimal `json:"max"`
	Percentage decimal.Decimal `json:"percentage"`
	Direction  score.Direction `json:"direction"`
}

func (t *Tally) settle() error {
	pct, dir, err := score.Evaluate(t.Min, t.Max, t.Score)
	if err != nil {
		return err
	}
	t.Percentage = pct
	t.Direction = dir
	return nil
}

func sumTallies(parts []Tally) Tally {
	total := Tally{Score: decimal.Zero, Min: decimal.Zero, Max: decimal.Zero}
	for _, p := range parts {
		total.Score = total.Score.Add(p.Score)
		total.Min = total.Min.Add(p.Min)
		total.Max = total.Max.Add(p.Max)
	}
	return total
}

// SubCategoryScore is the leaf of the tree: the last scored alert of one
// sub-condition of an indicator.
type SubCategoryScore struct {
	SubCategory  string    `json:"sub_category"`
	DisplayName  string    `json:"display_name,omitempty"`
	LastMessage  string    `json:"last_message"`
	IsStrategy   bool      `json:"is_strategy"`
	StrategyName string    `json:"strategy_name,omitempty"`
	EventID      int64     `json:"event_id,omitempty"`
	EventTime    time.Time `json:"event_time"`
	Tally
}

// IndicatorScore sums the sub-categories of one indicator.
type IndicatorScore struct {
	Indicator     string                       `json:"indicator"`
	DisplayName   string                       `json:"display_name,omitempty"`
	SubCategories map[string]*SubCategoryScore `json:"sub_categories"`
	Tally
}

// CandleIntervalGroup sums the indicators of one candle type and interval.
type CandleIntervalGroup struct {
	CandleType string                     `json:"candle_type"`
	Interval   string                     `json:"interval"`
	Indicators map[string]*IndicatorScore `json:"indicators"`
	Tally
}

// Snapshot is one immutable version of a symbol's composite score tree.
type Snapshot struct {
	Version       string                          `json:"version"`
	Symbol        string                          `json:"symbol"`
	UpdatedAt     time.Time                       `json:"updated_at"`
	LastEventID   int64                           `json:"last_event_id,omitempty"`
	LastEventTime time.Time                       `json:"last_event_time"`
	Groups        map[string]*CandleIntervalGroup `json:"groups"`
	Tally
}

// groupKeySep separates the parts of a group key. Validate rejects events
// carrying it.
const groupKeySep = "\x1f"

// GroupKey composes the map key of a candle/interval group. Distinct
// (candleType, interval) pairs always yield distinct keys.
func GroupKey(candleType, interval string) string {
	return candleType + groupKeySep + interval
}

// GroupLabel renders a group for humans as candleType/interval.
func GroupLabel(candleType, interval string) string {
	return candleType + "/" + interval
}

// UnmarshalJSON rebuilds the group keys from each group's own candle type
// and interval, so documents written with an older key scheme still resolve.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	type plain Snapshot
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	groups := make(map[string]*CandleIntervalGroup, len(p.Groups))
	for _, g := range p.Groups {
		if g == nil {
			continue
		}
		groups[GroupKey(g.CandleType, g.Interval)] = g
	}
	p.Groups = groups
	*s = Snapshot(p)
	return nil
}

// NewSnapshot returns an empty, unversioned tree for symbol.
func NewSnapshot(symbol string) *Snapshot {
	return &Snapshot{Symbol: symbol, Groups: make(map[string]*CandleIntervalGroup)}
}

// Recompute sums the sub-categories and derives percentage and direction.
func (i *IndicatorScore) Recompute() error {
	parts := make([]Tally, 0, len(i.SubCategories))
	for _, sub := range i.SubCategories {
		parts = append(parts, sub.Tally)
	}
	i.Tally = sumTallies(parts)
	return i.Tally.settle()
}

// Recompute sums the indicators and derives percentage and direction.
func (g *CandleIntervalGroup) Recompute() error {
	parts := make([]Tally, 0, len(g.Indicators))
	for _, ind := range g.Indicators {
		parts = append(parts, ind.Tally)
	}
	g.Tally = sumTallies(parts)
	return g.Tally.settle()
}

// Recompute sums the groups and derives percentage and direction.
func (s *Snapshot) Recompute() error {
	parts := make([]Tally, 0, len(s.Groups))
	for _, g := range s.Groups {
		parts = append(parts, g.Tally)
	}
	s.Tally = sumTallies(parts)
	return s.Tally.settle()
}

// Group returns the group for candle type and interval, if present.
func (s *Snapshot) Group(candleType, interval string) (*CandleIntervalGroup, bool) {
	g, ok := s.Groups[GroupKey(candleType, interval)]
	return g, ok
}

// Timeframe returns the bias of one candle type and interval. An absent
// timeframe reports a zero tally and false.
func (s *Snapshot) Timeframe(candleType, interval string) (Tally, bool) {
	g, ok := s.Group(candleType, interval)
	if !ok {
		return Tally{}, false
	}
	return g.Tally, true
}

// Indicator returns the named indicator of the group, if present.
func (g *CandleIntervalGroup) Indicator(name string) (*IndicatorScore, bool) {
	ind, ok := g.Indicators[name]
	return ind, ok
}

// SubCategory returns the named sub-category of the indicator, if present.
func (i *IndicatorScore) SubCategory(name string) (*SubCategoryScore, bool) {
	sub, ok := i.SubCategories[name]
	return sub, ok
}

// Applied reports whether the leaf addressed by event already reflects it:
// either it holds event itself, or a later-enqueued event that is not older.
// A nil snapshot has applied nothing.
func (s *Snapshot) Applied(event ScoredEvent) bool {
	if s == nil {
		return false
	}
	_, candle, interval, indicator, sub := event.key()
	leaf, ok := s.Leaf(candle, interval, indicator, sub)
	if !ok {
		return false
	}
	if event.ID != 0 && leaf.EventID == event.ID {
		return true
	}
	return leaf.EventID > event.ID && !leaf.EventTime.Before(event.EventTime)
}

// Leaf looks up a sub-category by its full key.
func (s *Snapshot) Leaf(candleType, interval, indicator, subCategory string) (*SubCategoryScore, bool) {
	g, ok := s.Group(candleType, interval)
	if !ok {
		return nil, false
	}
	ind, ok := g.Indicator(indicator)
	if !ok {
		return nil, false
	}
	return ind.SubCategory(subCategory)
}

// Leaves counts sub-category nodes across the tree.
func (s *Snapshot) Leaves() int {
	n := 0
	for _, g := range s.Groups {
		for _, ind := range g.Indicators {
			n += len(ind.SubCategories)
		}
	}
	return n
}

// SortedGroups returns groups ordered by candle type then interval.
func (s *Snapshot) SortedGroups() []*CandleIntervalGroup {
	out := make([]*CandleIntervalGroup, 0, len(s.Groups))
	for _, g := range s.Groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CandleType != out[j].CandleType {
			return out[i].CandleType < out[j].CandleType
		}
		return out[i].Interval < out[j].Interval
	})
	return out
}

// SortedIndicators returns indicators ordered by name.
func (g *CandleIntervalGroup) SortedIndicators() []*IndicatorScore {
	out := make([]*IndicatorScore, 0, len(g.Indicators))
	for _, ind := range g.Indicators {
		out = append(out, ind)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Indicator < out[j].Indicator })
	return out
}

// SortedSubCategories returns sub-categories ordered by name.
func (i *IndicatorScore) SortedSubCategories() []*SubCategoryScore {
	out := make([]*SubCategoryScore, 0, len(i.SubCategories))
	for _, sub := range i.SubCategories {
		out = append(out, sub)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].SubCategory < out[b].SubCategory })
	return out
}

// Clone deep-copies the tree.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Groups = make(map[string]*CandleIntervalGroup, len(s.Groups))
	for key, g := range s.Groups {
		out.Groups[key] = g.clone()
	}
	return &out
}

func (g *CandleIntervalGroup) clone() *CandleIntervalGroup {
	out := *g
	out.Indicators = make(map[string]*IndicatorScore, len(g.Indicators))
	for key, ind := range g.Indicators {
		out.Indicators[key] = ind.clone()
	}
	return &out
}

func (i *IndicatorScore) clone() *IndicatorScore {
	out := *i
	out.SubCategories = make(map[string]*SubCategoryScore, len(i.SubCategories))
	for key, sub := range i.SubCategories {
		copied := *sub
		out.SubCategories[key] = &copied
	}
	return &out
}
