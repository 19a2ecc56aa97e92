package reconciliation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"incentive-controlplane/services/campaign"
)

var ErrOrderColumnNotMapped = errors.New("no spreadsheet column mapped for " + campaign.FieldOrderNumber)

// Row is one spreadsheet line keyed by column header, as decoded from JSON with UseNumber.
type Row map[string]any

// Value renders the cell under column as text. Nil and missing cells are absent.
func (r Row) Value(column string) (string, bool) {
	v, ok := r[column]
	if !ok || v == nil {
		return "", false
	}

	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return fmt.Sprint(t), true
	}
}

// Field resolves a logical field through mapping, taking the first mapped column present in the row.
// Unmapped fields are looked up by their own name.
func (r Row) Field(mapping campaign.ColumnMapping, field string) (string, bool) {
	columns := mapping.Columns(field)
	if len(columns) == 0 {
		return r.Value(field)
	}
	for _, col := range columns {
		if v, ok := r.Value(col); ok {
			return v, true
		}
	}
	return "", false
}

// Strings flattens the row for expression evaluation.
func (r Row) Strings() map[string]string {
	out := make(map[string]string, len(r))
	for k := range r {
		if v, ok := r.Value(k); ok {
			out[k] = v
		}
	}
	return out
}

type MatchOutcome string

const (
	MatchFound     MatchOutcome = "FOUND"
	MatchNotFound  MatchOutcome = "NOT_FOUND"
	MatchAmbiguous MatchOutcome = "AMBIGUOUS"
)

type MatchResult struct {
	Outcome MatchOutcome
	// Rows holds every matching row in spreadsheet order; evaluation uses the first.
	Rows []Row
	// Columns lists the distinct order columns that produced a hit.
	Columns []string
}

func MatchRows(orderNumber string, rows []Row, mapping campaign.ColumnMapping) (MatchResult, error) {
	columns := mapping.Columns(campaign.FieldOrderNumber)
	if len(columns) == 0 {
		return MatchResult{}, ErrOrderColumnNotMapped
	}

	target := strings.TrimSpace(orderNumber)
	hitColumns := make([]string, 0, 1)
	seen := make(map[string]bool, len(columns))
	var matched []Row

	for _, row := range rows {
		hit := false
		for _, col := range columns {
			v, ok := row.Value(col)
			if !ok || strings.TrimSpace(v) != target {
				continue
			}
			hit = true
			if !seen[col] {
				seen[col] = true
				hitColumns = append(hitColumns, col)
			}
		}
		if hit {
			matched = append(matched, row)
		}
	}

	switch {
	case len(hitColumns) == 0:
		return MatchResult{Outcome: MatchNotFound}, nil
	case len(hitColumns) > 1:
		return MatchResult{Outcome: MatchAmbiguous, Rows: matched, Columns: hitColumns}, nil
	}
	return MatchResult{Outcome: MatchFound, Rows: matched, Columns: hitColumns}, nil
}
