package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/QCAY1145/Mashiro-Modmanager/internal/domain"
)

// printer renders command results as a table or, with --json, as the raw value
type printer struct {
	out     io.Writer
	jsonOut bool
}

func (c *cli) printer(out io.Writer) printer {
	return printer{out: out, jsonOut: c.jsonOut}
}

// table prints rows under header, or value as JSON
func (p printer) table(value any, header table.Row, rows []table.Row) error {
	if p.jsonOut {
		return p.json(value)
	}
	t := table.NewWriter()
	t.SetOutputMirror(p.out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(header)
	t.AppendRows(rows)
	t.Render()
	return nil
}

func (p printer) json(value any) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

// line prints a human message, or value as JSON
func (p printer) line(value any, format string, args ...any) error {
	if p.jsonOut {
		return p.json(value)
	}
	_, err := fmt.Fprintf(p.out, format+"\n", args...)
	return err
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return ""
}

func resultRow(r domain.ApplyResult) table.Row {
	return table.Row{r.Package, r.Outcome, r.Written, r.Deleted, r.Repointed, r.Skipped, r.Failed, r.Fallback}
}

var resultHeader = table.Row{"Package", "Outcome", "Written", "Deleted", "Repointed", "Skipped", "Failed", "Fallback"}

func (p printer) results(results []domain.ApplyResult) error {
	rows := make([]table.Row, 0, len(results))
	for _, r := range results {
		rows = append(rows, resultRow(r))
	}
	return p.table(results, resultHeader, rows)
}

func (p printer) outcomes(outcomes []domain.EnableOutcome) error {
	rows := make([]table.Row, 0, len(outcomes))
	for _, o := range outcomes {
		row := table.Row{o.Package, o.State}
		if o.Result != nil {
			row = append(row, o.Result.Outcome, o.Result.Written, o.Result.Failed)
		} else {
			row = append(row, "", "", "")
		}
		rows = append(rows, row)
	}
	return p.table(outcomes, table.Row{"Package", "State", "Outcome", "Written", "Failed"}, rows)
}
