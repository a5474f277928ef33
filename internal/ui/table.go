package ui

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/iamgatling/mxxc/internal/utils"
)

// FileTableItem is one row of the file table.
type FileTableItem struct {
	Name string
	Size int64
	Type string
}

// FileTableView renders the files using lipgloss/table.
func FileTableView(items ...FileTableItem) string {
	if len(items) == 0 {
		return MutedStyle.Render("No files")
	}

	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			truncate(item.Name, 50),
			utils.FormatSize(item.Size),
			truncate(item.Type, 24),
		})
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("Name", "Size", "Type").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return TableHeaderStyle
			}
			return TableRowStyle
		}).
		Render()
}

func RenderFileTable(items ...FileTableItem) {
	fmt.Fprintln(os.Stderr, FileTableView(items...))
}

// RoomInfoView is the box telling the user which code to share.
func RoomInfoView(code string) string {
	content := fmt.Sprintf("%s Room ready\n\n%s Code:     %s\n%s Receive:  %s",
		IconRoom,
		IconCopy, CodeStyle.Render(code),
		IconReceive, MutedStyle.Render("mxxc receive "+code),
	)
	return RoomBoxStyle.Render(content)
}

func RenderRoomInfo(code string) {
	fmt.Fprintln(os.Stderr, RoomInfoView(code))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
