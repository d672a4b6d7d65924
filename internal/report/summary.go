package report

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/agent462/netmaint/internal/logging"
)

// Row is one host's line in the summary.
type Row struct {
	Host          string `json:"host"`
	AllCommandsOK bool   `json:"all_commands_ok"`
	Commands      int    `json:"commands"`
	Driver        string `json:"driver"`
	LogCritical   int    `json:"log_critical"`
	LogDebug      int    `json:"log_debug"`
	LogError      int    `json:"log_error"`
	LogInfo       int    `json:"log_info"`
	LogWarning    int    `json:"log_warning"`
	StatusOK      bool   `json:"status_ok"`

	// Reason is the last critical or error message, if any.
	Reason string `json:"reason,omitempty"`
}

// Columns are the spreadsheet headers after the host column, in
// alphabetical order.
var Columns = []string{
	"all_commands_ok",
	"commands",
	"driver",
	"log_critical",
	"log_debug",
	"log_error",
	"log_info",
	"log_warning",
	"status_ok",
}

func (r Row) values() []any {
	return []any{
		r.Host,
		r.AllCommandsOK,
		r.Commands,
		r.Driver,
		r.LogCritical,
		r.LogDebug,
		r.LogError,
		r.LogInfo,
		r.LogWarning,
		r.StatusOK,
	}
}

// Summarize builds one Row per host, sorted by hostname.
func Summarize(results Results) []Row {
	rows := make([]Row, 0, len(results))
	for _, host := range sortedHosts(results) {
		res := results[host]
		counts := logging.Count(res.Logs)
		row := Row{
			Host:          host,
			AllCommandsOK: res.AllCommandsOK,
			Commands:      len(res.Commands),
			Driver:        res.Driver,
			LogCritical:   counts[logging.Critical],
			LogDebug:      counts[logging.Debug],
			LogError:      counts[logging.Error],
			LogInfo:       counts[logging.Info],
			LogWarning:    counts[logging.Warning],
			StatusOK:      res.StatusOK,
		}
		for _, e := range res.Logs {
			if e.Severity >= logging.Error {
				row.Reason = e.Message
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// SheetName is the worksheet holding the summary.
const SheetName = "Sheet1"

// WriteXLSX saves rows as a spreadsheet at path. runID is stored in the
// document properties.
func WriteXLSX(path, runID string, rows []Row) (err error) {
	f := excelize.NewFile()
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	header := append([]any{""}, toAny(Columns)...)
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("creating style: %w", err)
	}
	last, _ := excelize.CoordinatesToCellName(len(header), 1)
	if err := f.SetCellStyle(SheetName, "A1", last, bold); err != nil {
		return fmt.Errorf("styling header: %w", err)
	}

	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		vals := r.values()
		if err := f.SetSheetRow(SheetName, cell, &vals); err != nil {
			return fmt.Errorf("writing row for %s: %w", r.Host, err)
		}
	}

	if err := f.SetDocProps(&excelize.DocProperties{
		Title:      "maintenance summary",
		Identifier: runID,
	}); err != nil {
		return fmt.Errorf("setting properties: %w", err)
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving %s: %w", path, err)
	}
	return nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
