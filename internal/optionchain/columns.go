package optionchain

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode"
)

// ColumnMapper infers the strike and open interest columns of a table.
type ColumnMapper struct {
	schema Schema
}

func NewColumnMapper(schema Schema) *ColumnMapper {
	return &ColumnMapper{schema: schema}
}

// MapColumns reads header text to find the strike column, then the OI and change-in-OI columns
// on each side of it. Any column the headers cannot resolve takes the schema's positional offset.
func (m *ColumnMapper) MapColumns(table TableCandidate) (ColumnMapping, error) {
	mapping := ColumnMapping{
		StrikeColumnIndex:           Unresolved,
		CallOpenInterestColumnIndex: Unresolved,
		CallChangeColumnIndex:       Unresolved,
		PutOpenInterestColumnIndex:  Unresolved,
		PutChangeColumnIndex:        Unresolved,
	}

	if header := m.headerRow(table.HeaderRows); header != nil {
		m.fromHeader(header, &mapping)
	}

	fallback := m.schema.Mapping()
	if mapping.StrikeColumnIndex == Unresolved {
		mapping = fallback
	} else {
		fill := func(dst *int, src int) {
			if *dst == Unresolved {
				*dst = src
				mapping.Positional = true
			}
		}
		fill(&mapping.CallOpenInterestColumnIndex, fallback.CallOpenInterestColumnIndex)
		fill(&mapping.CallChangeColumnIndex, fallback.CallChangeColumnIndex)
		fill(&mapping.PutOpenInterestColumnIndex, fallback.PutOpenInterestColumnIndex)
		fill(&mapping.PutChangeColumnIndex, fallback.PutChangeColumnIndex)
		if mapping.Positional {
			mapping.MinCells = mapping.maxIndex() + 1
		}
	}

	if err := validateMapping(mapping, tableWidth(table)); err != nil {
		return ColumnMapping{}, err
	}
	slog.Debug("columns mapped",
		"table_id", table.ID,
		"strike", mapping.StrikeColumnIndex,
		"call_oi", mapping.CallOpenInterestColumnIndex,
		"call_change", mapping.CallChangeColumnIndex,
		"put_change", mapping.PutChangeColumnIndex,
		"put_oi", mapping.PutOpenInterestColumnIndex,
		"positional", mapping.Positional,
	)
	return mapping, nil
}

// headerRow returns the widest header row mentioning a strike keyword.
func (m *ColumnMapper) headerRow(rows [][]string) []string {
	var best []string
	for _, row := range rows {
		for _, cell := range row {
			if matchesKeyword(cell, m.schema.Keywords.Strike) {
				if len(row) > len(best) {
					best = row
				}
				break
			}
		}
	}
	return best
}

func (m *ColumnMapper) fromHeader(header []string, mapping *ColumnMapping) {
	strike := Unresolved
	for i, cell := range header {
		if matchesKeyword(cell, m.schema.Keywords.Strike) {
			strike = i
			break
		}
	}
	if strike == Unresolved {
		return
	}
	mapping.StrikeColumnIndex = strike

	kw := m.schema.Keywords
	isOI := func(cell string) bool {
		return matchesKeyword(cell, kw.OpenInterest) && !matchesKeyword(cell, kw.Change)
	}
	isOIChange := func(cell string) bool {
		return matchesKeyword(cell, kw.Change) && matchesKeyword(cell, kw.OpenInterest)
	}

	// Each side is scanned from its outer edge inwards.
	for i := 0; i < strike; i++ {
		if mapping.CallOpenInterestColumnIndex == Unresolved && isOI(header[i]) {
			mapping.CallOpenInterestColumnIndex = i
		}
		if mapping.CallChangeColumnIndex == Unresolved && isOIChange(header[i]) {
			mapping.CallChangeColumnIndex = i
		}
	}
	for i := len(header) - 1; i > strike; i-- {
		if mapping.PutOpenInterestColumnIndex == Unresolved && isOI(header[i]) {
			mapping.PutOpenInterestColumnIndex = i
		}
		if mapping.PutChangeColumnIndex == Unresolved && isOIChange(header[i]) {
			mapping.PutChangeColumnIndex = i
		}
	}
}

func validateMapping(m ColumnMapping, width int) error {
	idx := []int{m.StrikeColumnIndex, m.CallOpenInterestColumnIndex, m.CallChangeColumnIndex, m.PutOpenInterestColumnIndex, m.PutChangeColumnIndex}
	seen := make(map[int]bool, len(idx))
	for _, i := range idx {
		if i < 0 {
			return fmt.Errorf("%w: unresolved column", ErrColumnMappingFailed)
		}
		if width > 0 && i >= width {
			return fmt.Errorf("%w: column %d out of range for row width %d", ErrColumnMappingFailed, i, width)
		}
		if seen[i] {
			return fmt.Errorf("%w: column %d mapped twice", ErrColumnMappingFailed, i)
		}
		seen[i] = true
	}
	return nil
}

func tableWidth(t TableCandidate) int {
	w := 0
	for _, row := range t.Rows {
		if len(row) > w {
			w = len(row)
		}
	}
	return w
}

// matchesKeyword reports whether any keyword appears in cell as a whole word or phrase.
func matchesKeyword(cell string, keywords []string) bool {
	norm := " " + normalizeHeader(cell) + " "
	for _, k := range keywords {
		k = normalizeHeader(k)
		if k != "" && strings.Contains(norm, " "+k+" ") {
			return true
		}
	}
	return false
}

func normalizeHeader(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(fields, " ")
}

// MappingCache keeps one mapping per table identity.
type MappingCache struct {
	mapper  *ColumnMapper
	tableID string
	mapping ColumnMapping
	valid   bool
}

func NewMappingCache(mapper *ColumnMapper) *MappingCache {
	return &MappingCache{mapper: mapper}
}

// Resolve returns the cached mapping for the table, remapping when its identity changed.
// Failed mappings are not cached so the next pass retries.
func (c *MappingCache) Resolve(table TableCandidate) (mapping ColumnMapping, remapped bool, err error) {
	if c.valid && c.tableID == table.ID {
		return c.mapping, false, nil
	}
	mapping, err = c.mapper.MapColumns(table)
	if err != nil {
		c.valid = false
		return ColumnMapping{}, false, err
	}
	if c.valid {
		slog.Info("option chain table replaced, columns remapped", "old_table_id", c.tableID, "table_id", table.ID)
	}
	c.tableID = table.ID
	c.mapping = mapping
	c.valid = true
	return mapping, true, nil
}

// Invalidate forgets the cached mapping.
func (c *MappingCache) Invalidate() {
	c.valid = false
	c.tableID = ""
}

// Current returns the cached mapping and table identity, if any.
func (c *MappingCache) Current() (ColumnMapping, string, bool) {
	return c.mapping, c.tableID, c.valid
}
