// Package output renders CLI command results as tables, JSON or YAML.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format selects how command results are rendered.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat maps a --output flag value to a Format. The empty string
// means table.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "table":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("invalid output format: %q (valid: table, json, yaml)", s)
}

func (f Format) String() string {
	return string(f)
}

// Printer renders values in a fixed format.
type Printer struct {
	out    io.Writer
	format Format
}

func NewPrinter(out io.Writer, format Format) *Printer {
	return &Printer{out: out, format: format}
}

// Print renders v in the printer's format. Table output requires v to
// implement TableRenderer; values that do not are rendered as JSON.
func (p *Printer) Print(v any) error {
	switch p.format {
	case FormatTable:
		if r, ok := v.(TableRenderer); ok {
			return PrintTable(p.out, r)
		}
		return encodeJSON(p.out, v)
	case FormatJSON:
		return encodeJSON(p.out, v)
	case FormatYAML:
		return encodeYAML(p.out, v)
	}
	return fmt.Errorf("unknown format: %s", p.format)
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func encodeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer func() { _ = enc.Close() }()
	return enc.Encode(v)
}
