package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	colIndicatorName = iota
	colIndicatorDisplayName
	colDescription
	colMatchType
	colAlertPattern
	colInterval
	colSubCategory
	colSubCategoryDisplayName
	colSkipScoring
	colScore
	colAlertable
	columnCount
)

const (
	headerText    = "indicatorname"
	commentMarker = "#"
)

// LoadFile reads a catalog from a CSV file.
func LoadFile(path string) (*Catalog, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer file.Close()

	c, err := Load(file)
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", path, err)
	}
	return c, nil
}

// Load parses the tabular rule source. Comment rows and repeated header rows
// are ignored.
func Load(r io.Reader) (*Catalog, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	var rules []Rule
	line := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", line, err)
		}
		if skipRecord(record) {
			continue
		}

		rule, err := parseRecord(record)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		rules = append(rules, rule)
	}

	return New(rules)
}

func skipRecord(record []string) bool {
	if len(record) == 0 {
		return true
	}
	first := strings.TrimSpace(record[0])
	if strings.HasPrefix(first, commentMarker) {
		return true
	}
	if strings.EqualFold(first, headerText) {
		return true
	}
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

func parseRecord(record []string) (Rule, error) {
	if len(record) < columnCount {
		padded := make([]string, columnCount)
		copy(padded, record)
		record = padded
	}

	field := func(i int) string {
		return strings.TrimSpace(record[i])
	}

	matchType, err := ParseMatchType(field(colMatchType))
	if err != nil {
		return Rule{}, err
	}

	skip := parseBool(field(colSkipScoring))

	rawScore := field(colScore)
	score := decimal.Zero
	if rawScore != "" {
		score, err = decimal.NewFromString(rawScore)
		if err != nil {
			return Rule{}, fmt.Errorf("parse score %q: %w", rawScore, err)
		}
	} else if !skip {
		return Rule{}, errors.New("score is required for scoring rules")
	}

	return Rule{
		IndicatorName:          field(colIndicatorName),
		IndicatorDisplayName:   field(colIndicatorDisplayName),
		Description:            field(colDescription),
		MatchType:              matchType,
		// kept verbatim: REGEX and CONTAINS patterns may depend on surrounding spaces
		AlertPattern:           record[colAlertPattern],
		Intervals:              splitList(field(colInterval)),
		SubCategory:            field(colSubCategory),
		SubCategoryDisplayName: field(colSubCategoryDisplayName),
		SkipScoring:            skip,
		Score:                  score,
		Alertable:              parseBool(field(colAlertable)),
	}, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(v) {
	case "true", "yes", "y", "1", "x":
		return true
	}
	return false
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.FieldsFunc(v, func(r rune) bool {
		return r == ',' || r == '|' || r == ';'
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
