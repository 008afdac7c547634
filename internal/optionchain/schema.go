package optionchain

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SchemaColumns are the positional offsets of a known table layout.
type SchemaColumns struct {
	CallOI     int `yaml:"call_oi"`
	CallChange int `yaml:"call_change"`
	Strike     int `yaml:"strike"`
	PutChange  int `yaml:"put_change"`
	PutOI      int `yaml:"put_oi"`
}

// SchemaKeywords drive header-text column discovery. Matching is case-insensitive.
type SchemaKeywords struct {
	Strike       []string `yaml:"strike"`
	OpenInterest []string `yaml:"open_interest"`
	Change       []string `yaml:"change"`
	// Calls and Strike markers identify the option chain among other tables on the page.
	CallsMarker []string `yaml:"calls_marker"`
}

// Schema describes one known option chain layout.
type Schema struct {
	Name     string         `yaml:"name"`
	MinCells int            `yaml:"min_cells"`
	Columns  SchemaColumns  `yaml:"columns"`
	Keywords SchemaKeywords `yaml:"keywords"`
}

// DefaultSchema is the NSE option chain layout: a chart column first, calls on the left,
// the strike in the middle and puts mirrored on the right.
func DefaultSchema() Schema {
	return Schema{
		Name:     "nse-option-chain",
		MinCells: 22,
		Columns: SchemaColumns{
			CallOI:     1,
			CallChange: 2,
			Strike:     11,
			PutChange:  20,
			PutOI:      21,
		},
		Keywords: SchemaKeywords{
			Strike:       []string{"strike"},
			OpenInterest: []string{"oi", "open interest"},
			Change:       []string{"chng", "change"},
			CallsMarker:  []string{"calls"},
		},
	}
}

// Mapping returns the positional mapping defined by the schema.
func (s Schema) Mapping() ColumnMapping {
	return ColumnMapping{
		StrikeColumnIndex:           s.Columns.Strike,
		CallOpenInterestColumnIndex: s.Columns.CallOI,
		CallChangeColumnIndex:       s.Columns.CallChange,
		PutOpenInterestColumnIndex:  s.Columns.PutOI,
		PutChangeColumnIndex:        s.Columns.PutChange,
		Positional:                  true,
		MinCells:                    s.MinCells,
	}
}

// LoadSchema reads a YAML schema file. Missing keyword lists fall back to the defaults.
func LoadSchema(path string) (Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Schema{}, fmt.Errorf("schema: %w", err)
	}
	def := DefaultSchema()
	s := Schema{Keywords: def.Keywords}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Schema{}, fmt.Errorf("schema: %w", err)
	}
	if s.Name == "" {
		return Schema{}, fmt.Errorf("schema: missing name")
	}
	cols := []int{s.Columns.CallOI, s.Columns.CallChange, s.Columns.Strike, s.Columns.PutChange, s.Columns.PutOI}
	for _, c := range cols {
		if c < 0 {
			return Schema{}, fmt.Errorf("schema %s: negative column offset %d", s.Name, c)
		}
	}
	if s.Columns.CallOI >= s.Columns.Strike || s.Columns.PutOI <= s.Columns.Strike {
		return Schema{}, fmt.Errorf("schema %s: call columns must sit left of strike and put columns right of it", s.Name)
	}
	if len(s.Keywords.Strike) == 0 {
		s.Keywords.Strike = def.Keywords.Strike
	}
	if len(s.Keywords.OpenInterest) == 0 {
		s.Keywords.OpenInterest = def.Keywords.OpenInterest
	}
	if len(s.Keywords.Change) == 0 {
		s.Keywords.Change = def.Keywords.Change
	}
	if len(s.Keywords.CallsMarker) == 0 {
		s.Keywords.CallsMarker = def.Keywords.CallsMarker
	}
	return s, nil
}
