// Command oi_replay runs the overlay pipeline against a saved option chain page.
// It prints the located table, the column mapping and the display window as JSON,
// and optionally writes the rendered panel body to a file.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/dgnsrekt/oi_overlay/internal/optionchain"
	"github.com/dgnsrekt/oi_overlay/internal/render"
)

type report struct {
	Schema    string                    `json:"schema"`
	TableID   string                    `json:"table_id"`
	Tables    int                       `json:"tables_seen"`
	Mapping   optionchain.ColumnMapping `json:"mapping"`
	Parsed    int                       `json:"parsed_rows"`
	Spot      *float64                  `json:"spot"`
	Radius    int                       `json:"radius"`
	Centering bool                      `json:"centering"`
	Window    optionchain.DisplayWindow `json:"window"`
}

func main() {
	file := flag.String("file", "", "saved option chain HTML page (required)")
	spot := flag.Float64("spot", 0, "underlying value; overrides the value read from the page when > 0")
	spotID := flag.String("spot-id", "equity_underlyingVal", "element id holding the underlying value")
	radius := flag.Int("radius", 5, "strikes shown on each side of the center")
	centering := flag.Bool("centering", true, "center the window on the at-the-money strike")
	pad := flag.Bool("pad", false, "shift the window inward at the table edges instead of shrinking it")
	schemaFile := flag.String("schema", "", "YAML schema file; the built-in NSE layout when empty")
	out := flag.String("html", "", "write the rendered panel body to this path")
	flag.Parse()

	if err := run(*file, *spot, *spotID, *radius, *centering, *pad, *schemaFile, *out); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "oi_replay: %v\n", err)
		os.Exit(1)
	}
}

func run(file string, spot float64, spotID string, radius int, centering, pad bool, schemaFile, out string) error {
	if strings.TrimSpace(file) == "" {
		return fmt.Errorf("-file is required")
	}
	if radius < 1 {
		return fmt.Errorf("-radius must be positive")
	}

	schema := optionchain.DefaultSchema()
	if schemaFile != "" {
		s, err := optionchain.LoadSchema(schemaFile)
		if err != nil {
			return err
		}
		schema = s
	}

	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()
	doc, err := optionchain.ParseDocument(f)
	if err != nil {
		return err
	}

	tables := doc.Tables()
	table, ok := optionchain.NewLocator(schema, optionchain.Readiness{MinRows: 1}).Locate(tables)
	if !ok {
		return fmt.Errorf("%w in %s (%d tables)", optionchain.ErrTableNotFound, file, len(tables))
	}
	mapping, err := optionchain.NewColumnMapper(schema).MapColumns(table)
	if err != nil {
		return err
	}
	records := optionchain.ParseRows(table.Rows, mapping)
	if len(records) == 0 {
		return optionchain.ErrEmptyParse
	}

	var spotPtr *float64
	if spot > 0 {
		spotPtr = &spot
	} else if v, ok := doc.Spot(spotID); ok {
		spotPtr = &v
	}

	var win optionchain.DisplayWindow
	if pad {
		win = optionchain.SelectPaddedWindow(records, spotPtr, radius, centering)
	} else {
		win = optionchain.SelectWindow(records, spotPtr, radius, centering)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report{
		Schema:    schema.Name,
		TableID:   table.ID,
		Tables:    len(tables),
		Mapping:   mapping,
		Parsed:    len(records),
		Spot:      spotPtr,
		Radius:    radius,
		Centering: centering,
		Window:    win,
	}); err != nil {
		return err
	}

	if out == "" {
		return nil
	}
	body, err := render.Panel(render.BuildView(win, radius, centering, nil))
	if err != nil {
		return err
	}
	return os.WriteFile(out, []byte(body), 0o644)
}
