package mapping

import (
	"fmt"
	"strings"
)

// Tier is the derived confidence banding. It is never stored; recompute it
// wherever a score is displayed or filtered.
type Tier int

const (
	TierLow Tier = iota
	TierMedium
	TierHigh
)

func (t Tier) String() string {
	switch t {
	case TierHigh:
		return "High"
	case TierMedium:
		return "Medium"
	default:
		return "Low"
	}
}

// ClassifyConfidence bands an integer score: >=70 High, 50-69 Medium, <50 Low.
// Scores outside [0,100] are classified by the same thresholds, not clamped.
func ClassifyConfidence(score int) Tier {
	switch {
	case score >= 70:
		return TierHigh
	case score >= 50:
		return TierMedium
	default:
		return TierLow
	}
}

// ColumnSpec is a derived display column: the backing row key and the name it
// renders under.
type ColumnSpec struct {
	Key     string
	Display string
}

// DeriveColumns derives the visible column set from the first row's keys, in
// wire order. Keys containing "UDM Field Name" display as "UDM Name", keys
// containing "RawLog Field Name" display as "Product Field", and the
// "LLM Reasoning" / "Predicted Keys" columns are held back for the detail
// view. Empty input yields an empty column set.
func DeriveColumns(rows []Row) []ColumnSpec {
	if len(rows) == 0 {
		return nil
	}
	var cols []ColumnSpec
	for _, key := range rows[0].Keys() {
		if key == KeyReasoning || key == KeyPredicted {
			continue
		}
		display := key
		switch {
		case strings.Contains(key, KeyUDMField):
			display = "UDM Name"
		case strings.Contains(key, KeyRawLogField):
			display = "Product Field"
		}
		cols = append(cols, ColumnSpec{Key: key, Display: display})
	}
	return cols
}

// IndexOutOfRangeError reports a manual override aimed at a row position that
// does not exist in the current generation.
type IndexOutOfRangeError struct {
	Index int
	Len   int
}

func (e *IndexOutOfRangeError) Error() string {
	return fmt.Sprintf("row index %d out of range (have %d rows)", e.Index, e.Len)
}

// OverrideSource identifies where a manual override's value came from: a
// recommended prediction or a free-text searched UDM field. The two are
// mutually exclusive by construction.
type OverrideSource struct {
	kind  overrideKind
	field string
}

type overrideKind int

const (
	overrideNone overrideKind = iota
	overrideSuggested
	overrideSearched
)

// SuggestedField builds an override sourced from a row's predicted keys.
func SuggestedField(field string) OverrideSource {
	return OverrideSource{kind: overrideSuggested, field: field}
}

// SearchedField builds an override sourced from a free-text UDM field search.
func SearchedField(field string) OverrideSource {
	return OverrideSource{kind: overrideSearched, field: field}
}

// Resolve returns the single override value, or an error when no source was
// selected.
func (o OverrideSource) Resolve() (string, error) {
	if o.kind == overrideNone || o.field == "" {
		return "", fmt.Errorf("no override source selected")
	}
	return o.field, nil
}

// ApplyManualOverride returns a new row collection identical to rows except at
// rowIndex, where the UDM field is replaced with newUDMField and the reasoning
// is set to the override sentinel. The input is not mutated; callers replace
// their held reference with the return value.
func ApplyManualOverride(rows []Row, rowIndex int, newUDMField string) ([]Row, error) {
	if rowIndex < 0 || rowIndex >= len(rows) {
		return nil, &IndexOutOfRangeError{Index: rowIndex, Len: len(rows)}
	}
	out := make([]Row, len(rows))
	copy(out, rows)

	row := rows[rowIndex].Clone()
	udmKey, ok := row.KeyContaining(KeyUDMField)
	if !ok {
		udmKey = KeyUDMField
	}
	row.Set(udmKey, newUDMField)
	row.Set(KeyReasoning, OverrideMessage)
	out[rowIndex] = row
	return out, nil
}

// ReplaceGeneration swaps in a fresh generation of rows wholesale. The previous
// generation, including any manual overrides, is discarded: the backend's new
// output is full truth, since resume feedback reaches it as free text rather
// than a diff. Row indices are meaningless across generations.
func ReplaceGeneration(next []Row) []Row {
	out := make([]Row, len(next))
	copy(out, next)
	return out
}
