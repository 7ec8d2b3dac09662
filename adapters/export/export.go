// Package export renders call ledgers and comparison summaries to CSV and
// XLSX for offline analysis.
package export

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"callsplit/domain/metrics"
)

// WriteCSV streams the exported rows as CSV.
func WriteCSV(w io.Writer, rows [][]string) error {
	cw := csv.NewWriter(w)
	for _, row := range rows {
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

const (
	callsSheet   = "Calls"
	summarySheet = "Summary"
)

// WriteXLSX renders the call ledger plus a comparison summary sheet.
func WriteXLSX(w io.Writer, rows [][]string, cmp metrics.Comparison) error {
	f := excelize.NewFile()
	defer f.Close()

	f.SetSheetName("Sheet1", callsSheet)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(callsSheet, cell, &row); err != nil {
			return fmt.Errorf("write calls row %d: %w", i+1, err)
		}
	}

	if _, err := f.NewSheet(summarySheet); err != nil {
		return err
	}
	for i, row := range summaryRows(cmp) {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return fmt.Errorf("write summary row %d: %w", i+1, err)
		}
	}

	return f.Write(w)
}

func summaryRows(cmp metrics.Comparison) [][]interface{} {
	return [][]interface{}{
		{"metric", "group A", "group B"},
		{"calls", cmp.GroupA.Total, cmp.GroupB.Total},
		{"answer rate", cmp.GroupA.AnswerRate, cmp.GroupB.AnswerRate},
		{"hangup rate", cmp.GroupA.HangupRate, cmp.GroupB.HangupRate},
		{"avg duration (s)", cmp.GroupA.AvgDuration.Seconds(), cmp.GroupB.AvgDuration.Seconds()},
		{},
		{"answer rate delta", cmp.AnswerRateDelta},
		{"significant", cmp.StatisticalSignificance},
		{"confidence (%)", cmp.ConfidenceLevel},
		{"p-value", cmp.PValue},
		{"winner", string(cmp.Winner)},
		{"recommendation", cmp.Recommendation},
	}
}
