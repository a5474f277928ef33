package ui

import (
	"fmt"
	"os"
	"time"

	"github.com/iamgatling/mxxc/internal/utils"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// TransferSummary is shown once a transfer finishes.
type TransferSummary struct {
	Status   string
	File     string
	Size     int64
	Duration time.Duration

	// SavedTo is set on the receiving side.
	SavedTo string
}

// AverageSpeed is the whole-transfer throughput in bytes/second.
func (s TransferSummary) AverageSpeed() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return float64(s.Size) / s.Duration.Seconds()
}

// SummaryView renders the summary with go-pretty.
func SummaryView(title string, s TransferSummary) string {
	t := table.NewWriter()
	t.SetTitle(title)
	t.SetStyle(table.StyleRounded)
	t.Style().Title.Colors = text.Colors{text.Bold, text.FgHiGreen}
	t.Style().Color.Header = text.Colors{text.Bold, text.FgHiCyan}

	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Status", s.Status},
		{"File", s.File},
		{"Size", utils.FormatSize(s.Size)},
		{"Duration", utils.FormatTimeDuration(s.Duration)},
		{"Avg Speed", utils.FormatSpeed(s.AverageSpeed())},
	})
	if s.SavedTo != "" {
		t.AppendRow(table.Row{"Saved To", s.SavedTo})
	}
	return t.Render()
}

func RenderSummary(title string, s TransferSummary) {
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, SummaryView(title, s))
}
