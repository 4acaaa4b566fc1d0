package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/naka-gawa/year-review/internal/domain"
)

var (
	availableColor   = color.New(color.FgGreen)
	unavailableColor = color.New(color.FgRed, color.Bold)
	noteColor        = color.New(color.FgHiBlack)
)

var monthNames = []string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}

// renderJSON prints the report as pretty-printed JSON.
func renderJSON(w io.Writer, report *domain.Report) error {
	jsonData, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results to JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(jsonData))
	return err
}

// renderTable prints a summary table followed by the monthly breakdown of
// every available provider.
func renderTable(w io.Writer, report *domain.Report) {
	fmt.Fprintf(w, "Year in review %d\n\n", report.Year)

	summary := tablewriter.NewWriter(w)
	summary.SetHeader([]string{"Provider", "Status", "Total", "Top", "Note"})
	summary.SetAutoWrapText(false)
	for _, pr := range report.Providers {
		if pr.Status != domain.StatusAvailable || pr.Stats == nil {
			summary.Append([]string{
				string(pr.Provider),
				unavailableColor.Sprint(pr.Status),
				"-",
				"-",
				unavailableNote(pr),
			})
			continue
		}
		summary.Append([]string{
			string(pr.Provider),
			availableColor.Sprint(pr.Status),
			strconv.Itoa(pr.Stats.TotalCount),
			topLabels(pr.Stats.TopEntities),
			noteColor.Sprint(coverageNote(pr.Stats)),
		})
	}
	summary.Render()

	monthly := tablewriter.NewWriter(w)
	monthly.SetHeader(append([]string{"Provider"}, monthNames...))
	rows := 0
	for _, pr := range report.Providers {
		if pr.Stats == nil {
			continue
		}
		row := []string{string(pr.Provider)}
		for _, v := range pr.Stats.Monthly {
			row = append(row, strconv.Itoa(v))
		}
		monthly.Append(row)
		rows++
	}
	if rows > 0 {
		fmt.Fprintln(w)
		monthly.Render()
	}
}

func unavailableNote(pr domain.ProviderReport) string {
	note := pr.Reason
	if pr.Disconnected {
		note += " (disconnected, reconnect to include)"
	}
	return note
}

func topLabels(entries []domain.TopEntry) string {
	labels := make([]string, 0, len(entries))
	for _, e := range entries {
		labels = append(labels, fmt.Sprintf("%s (%d)", e.Label, e.Count))
	}
	return strings.Join(labels, ", ")
}

func coverageNote(stats *domain.YearStats) string {
	var notes []string
	switch {
	case stats.Coverage != nil && stats.Coverage.Probed < stats.Coverage.Available:
		notes = append(notes, fmt.Sprintf("at least; %d of %d probed", stats.Coverage.Probed, stats.Coverage.Available))
	case stats.Coverage != nil && stats.Coverage.PageCap > 0:
		notes = append(notes, fmt.Sprintf("at least; stopped at %d pages", stats.Coverage.PageCap))
	case stats.Mail != nil:
		notes = append(notes, fmt.Sprintf("mail sent %d, received %d", stats.Mail.Sent.Total, stats.Mail.Received.Total))
	}
	if len(stats.Unavailable) > 0 {
		notes = append(notes, "missing: "+strings.Join(stats.Unavailable, ", "))
	}
	return strings.Join(notes, "; ")
}
