// report.go - Ausgabe von Ergebnissen und Laufhistorie
// Enthaelt: PrintMetrics, PrintRuns (Tabellen), WriteJSON, WriteCSV
package results

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
)

// newTable erstellt eine randlose, linksbuendige Tabelle.
func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	if len(header) > 0 {
		table.SetHeader(header)
	}
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	return table
}

// PrintMetrics schreibt die Metriken eines Laufs als Tabelle.
func PrintMetrics(w io.Writer, metrics map[string]float64) {
	run := Run{Metrics: metrics}

	var data [][]string
	for _, k := range run.MetricKeys() {
		data = append(data, []string{k, fmt.Sprintf("%.2f", metrics[k])})
	}

	table := newTable(w, []string{"METRIC", "ACCURACY"})
	table.AppendBulk(data)
	table.Render()
}

// PrintRuns schreibt eine Uebersicht der Laeufe, neueste zuerst.
func PrintRuns(w io.Writer, runs []Run) {
	var data [][]string
	for _, r := range runs {
		data = append(data, []string{
			shortID(r.ID),
			r.Method,
			r.PEFT,
			r.Setting,
			r.Dataset,
			metricSummary(r),
			r.CreatedAt.Local().Format(time.DateTime),
		})
	}

	table := newTable(w, []string{"ID", "METHOD", "PEFT", "SETTING", "DATASET", "ACCURACY", "CREATED"})
	table.AppendBulk(data)
	table.Render()
}

// PrintRun schreibt die Details eines Laufs.
func PrintRun(w io.Writer, r Run) {
	table := newTable(w, nil)
	table.AppendBulk([][]string{
		{"id", r.ID},
		{"method", r.Method},
		{"peft", r.PEFT},
		{"modality", r.Modality},
		{"setting", r.Setting},
		{"dataset", r.Dataset},
		{"arch", r.Arch},
		{"duration", r.Duration.Round(time.Millisecond).String()},
		{"created", r.CreatedAt.Local().Format(time.DateTime)},
	})
	table.Render()
	fmt.Fprintln(w)

	PrintMetrics(w, r.Metrics)
	if r.Config != "" {
		fmt.Fprintln(w)
		fmt.Fprint(w, r.Config)
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[len(id)-12:]
	}
	return id
}

func metricSummary(r Run) string {
	var s string
	for i, k := range r.MetricKeys() {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("%s=%.2f", k, r.Metrics[k])
	}
	return s
}

// jsonRun ist die JSON-Darstellung eines Laufs.
type jsonRun struct {
	ID         string             `json:"id"`
	CreatedAt  time.Time          `json:"created_at"`
	Method     string             `json:"method"`
	PEFT       string             `json:"peft,omitempty"`
	Modality   string             `json:"modality,omitempty"`
	Setting    string             `json:"setting"`
	Dataset    string             `json:"dataset,omitempty"`
	Arch       string             `json:"arch,omitempty"`
	DurationMS int64              `json:"duration_ms"`
	Metrics    map[string]float64 `json:"metrics"`
}

// WriteJSON schreibt die Laeufe als JSON-Array.
func WriteJSON(w io.Writer, runs []Run) error {
	out := make([]jsonRun, 0, len(runs))
	for _, r := range runs {
		out = append(out, jsonRun{
			ID:         r.ID,
			CreatedAt:  r.CreatedAt,
			Method:     r.Method,
			PEFT:       r.PEFT,
			Modality:   r.Modality,
			Setting:    r.Setting,
			Dataset:    r.Dataset,
			Arch:       r.Arch,
			DurationMS: r.Duration.Milliseconds(),
			Metrics:    r.Metrics,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// WriteCSV schreibt eine Zeile pro Lauf und Metrik.
func WriteCSV(w io.Writer, runs []Run) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "method", "peft", "modality", "setting", "dataset", "metric", "value"}); err != nil {
		return err
	}
	for _, r := range runs {
		for _, k := range r.MetricKeys() {
			record := []string{r.ID, r.Method, r.PEFT, r.Modality, r.Setting, r.Dataset, k, strconv.FormatFloat(r.Metrics[k], 'f', 4, 64)}
			if err := cw.Write(record); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}
