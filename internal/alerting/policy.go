package alerting

import (
	"strings"

	"bias-aggregator/internal/score"
)

// Policy decides which direction changes are worth a notification.
type Policy struct {
	watch map[score.Direction]struct{}
}

// NewPolicy watches the named directions. Unknown names are ignored.
func NewPolicy(directions []string) Policy {
	p := Policy{watch: make(map[score.Direction]struct{}, len(directions))}
	for _, raw := range directions {
		d := score.Direction(strings.ToUpper(strings.TrimSpace(raw)))
		if d.Valid() {
			p.watch[d] = struct{}{}
		}
	}
	return p
}

// Triggered reports whether moving from previous to next should notify:
// the direction must change and land on a watched direction.
func (p Policy) Triggered(previous, next score.Direction) bool {
	if previous == next {
		return false
	}
	_, ok := p.watch[next]
	return ok
}
