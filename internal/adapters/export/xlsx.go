// Package export writes leaderboards as spreadsheets for the results desk.
package export

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/okian/wodboard/internal/domain/types"
	"github.com/okian/wodboard/internal/leaderboard"
)

const (
	defaultSheet  = "Sheet1"
	maxSheetName  = 31
	minColWidth   = 8.0
	maxColWidth   = 48.0
	widthPerChar  = 1.1
	widthSampling = 50
)

// Header is the first row of every sheet.
var Header = []string{"Rank", "Team", "Category", "Points", "Status", "Score", "Reps", "No-reps", "Max kg", "Time"} //nolint:gochecknoglobals

// Sheet is one titled leaderboard.
type Sheet struct {
	Title string
	Board types.Board
}

// WriteLeaderboards writes one sheet per board to w as an xlsx workbook.
func WriteLeaderboards(w io.Writer, sheets []Sheet) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}

	used := make(map[string]bool, len(sheets))
	for i, s := range sheets {
		name := sheetName(s.Title, used)
		if i == 0 {
			if err := f.SetSheetName(defaultSheet, name); err != nil {
				return fmt.Errorf("rename sheet: %w", err)
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("new sheet %s: %w", name, err)
		}
		if err := writeSheet(f, name, s.Board, bold); err != nil {
			return err
		}
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, b types.Board, headerStyle int) error { //nolint:gocritic // hugeParam
	if err := f.SetSheetRow(sheet, "A1", &Header); err != nil {
		return fmt.Errorf("header %s: %w", sheet, err)
	}
	last, _ := excelize.CoordinatesToCellName(len(Header), 1)
	_ = f.SetCellStyle(sheet, "A1", last, headerStyle)
	_ = f.AutoFilter(sheet, "A1:"+last, nil)

	widths := make([]int, len(Header))
	for i, h := range Header {
		widths[i] = len(h)
	}
	for i, r := range b.Rows {
		row := rowValues(r)
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("row %d of %s: %w", i+1, sheet, err)
		}
		if i < widthSampling {
			for c, v := range row {
				if l := len(fmt.Sprint(v)); l > widths[c] {
					widths[c] = l
				}
			}
		}
	}
	for c, chars := range widths {
		col, _ := excelize.ColumnNumberToName(c + 1)
		width := min(max(float64(chars)*widthPerChar, minColWidth), maxColWidth)
		_ = f.SetColWidth(sheet, col, col, width)
	}
	return nil
}

func rowValues(r types.Row) []any { //nolint:gocritic // hugeParam
	name := r.TeamName
	if name == "" {
		name = r.TeamID
	}
	var maxKg any = ""
	if r.MaxLoadKg != nil {
		maxKg = *r.MaxLoadKg
	}
	clock := ""
	if r.FinalTimeMs != nil {
		clock = leaderboard.Clock(*r.FinalTimeMs)
	}
	return []any{r.Rank, name, string(r.Category), r.Points, string(r.Status), r.Detail, r.Reps, r.NoReps, maxKg, clock}
}

// sheetName strips characters Excel rejects, truncates to the sheet name
// limit and makes the name unique within the workbook.
func sheetName(title string, used map[string]bool) string {
	name := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`[]:*?/\`, r) {
			return '-'
		}
		return r
	}, strings.TrimSpace(title))
	if name == "" {
		name = "Leaderboard"
	}
	name = truncate(name, maxSheetName)
	base := name
	for n := 2; used[name]; n++ {
		suffix := " (" + strconv.Itoa(n) + ")"
		name = truncate(base, maxSheetName-len(suffix)) + suffix
	}
	used[name] = true
	return name
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
