package dataset

import (
	"strings"
	"time"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

// Column names of the input contract.
const (
	ColumnDate           = "date"
	ColumnSales          = "sales"
	ColumnInventoryLevel = "inventory_level"
)

// RequiredColumns lists the columns every input table must carry.
var RequiredColumns = []string{ColumnDate, ColumnSales, ColumnInventoryLevel}

// DefaultDateLayout is the ISO calendar date.
const DefaultDateLayout = "2006-01-02"

var fallbackLayouts = []string{
	DefaultDateLayout,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// missing cell spellings for nullable columns
var nullValues = map[string]struct{}{
	"":      {},
	"na":    {},
	"nan":   {},
	"null":  {},
	"none":  {},
	"<nil>": {},
}

func isNull(s string) bool {
	_, ok := nullValues[strings.ToLower(strings.TrimSpace(s))]
	return ok
}

// ValidateColumns checks that names contain every required column.
func ValidateColumns(names []string) error {
	present := make(map[string]bool, len(names))
	for _, n := range names {
		present[strings.TrimSpace(n)] = true
	}

	var missing []string
	for _, c := range RequiredColumns {
		if !present[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return domain.DataErrorf("missing required column(s): %s", strings.Join(missing, ", "))
	}
	return nil
}

// ParseDate parses s with layout first, then the ISO date, RFC3339 and
// datetime layouts.
func ParseDate(s, layout string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if layout != "" {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	for _, l := range fallbackLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, domain.DataErrorf("unparseable date %q", s)
}
