// Package report renders blame results as spreadsheets.
package report

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/rpattn/asset360/internal/blame"
	"github.com/rpattn/asset360/internal/delta"
	"github.com/rpattn/asset360/internal/instance"
)

const (
	blameSheet    = "Blame"
	rejectedSheet = "Rejected"
)

var blameHeaders = []string{"Path", "Kind", "Value", "Change ID", "Author", "Timestamp", "Source", "ICS ID"}

var rejectedHeaders = []string{"Stage", "Change ID", "Path"}

// Row is one node of a blamed tree as it appears on the Blame sheet.
// Meta is nil for nodes nobody changed after the base.
type Row struct {
	Path  string
	Kind  string
	Value string
	Meta  *blame.ChangeMeta
}

// Rejection is one conflicting delta path of a stage.
type Rejection struct {
	Stage    int
	ChangeID uint64
	Path     string
}

// Rows flattens value into sheet rows in depth-first slot order.
func Rows(value *instance.Instance, blameMap blame.BlameMap) []Row {
	rows := []Row{}
	if value == nil {
		return rows
	}
	value.Walk(func(path delta.Path, node *instance.Instance) bool {
		row := Row{Path: path.String(), Kind: node.Kind().String()}
		if node.Kind() == instance.KindScalar || node.Kind() == instance.KindEnum {
			row.Value = blame.LeafText(node)
		}
		if meta, ok := blame.GetBlameInfo(node, blameMap); ok {
			m := meta
			row.Meta = &m
		}
		rows = append(rows, row)
		return true
	})
	return rows
}

// Rejections pairs the rejected paths of an apply run with the stages that
// produced them. stages must be the slice the run was given.
func Rejections(stages []blame.ChangeStage, rejected [][]delta.Path) []Rejection {
	out := []Rejection{}
	for i, paths := range rejected {
		var changeID uint64
		if i < len(stages) {
			changeID = stages[i].Meta.ChangeID
		}
		for _, p := range paths {
			out = append(out, Rejection{Stage: i, ChangeID: changeID, Path: p.String()})
		}
	}
	return out
}

// WriteXLSX writes a workbook with a Blame sheet and a Rejected sheet.
func WriteXLSX(w io.Writer, rows []Row, rejections []Rejection) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", blameSheet); err != nil {
		return fmt.Errorf("failed to name blame sheet: %w", err)
	}
	if _, err := f.NewSheet(rejectedSheet); err != nil {
		return fmt.Errorf("failed to add rejected sheet: %w", err)
	}

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	if err := writeRow(f, blameSheet, 1, toCells(blameHeaders)); err != nil {
		return err
	}
	for i, row := range rows {
		cells := []any{row.Path, row.Kind, row.Value, "", "", "", "", ""}
		if row.Meta != nil {
			cells[3] = row.Meta.ChangeID
			cells[4] = row.Meta.Author
			cells[5] = row.Meta.Timestamp
			cells[6] = row.Meta.Source
			cells[7] = row.Meta.ICSID
		}
		if err := writeRow(f, blameSheet, i+2, cells); err != nil {
			return err
		}
	}

	if err := writeRow(f, rejectedSheet, 1, toCells(rejectedHeaders)); err != nil {
		return err
	}
	for i, r := range rejections {
		if err := writeRow(f, rejectedSheet, i+2, []any{r.Stage, r.ChangeID, r.Path}); err != nil {
			return err
		}
	}

	for _, sheet := range []string{blameSheet, rejectedSheet} {
		if err := f.SetRowStyle(sheet, 1, 1, header); err != nil {
			return fmt.Errorf("failed to style %s header: %w", sheet, err)
		}
		if err := f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
			return fmt.Errorf("failed to freeze %s header: %w", sheet, err)
		}
	}
	if err := f.SetColWidth(blameSheet, "A", "A", 40); err != nil {
		return fmt.Errorf("failed to size path column: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write xlsx: %w", err)
	}
	return nil
}

// ReadXLSX reads back the sheets written by WriteXLSX.
func ReadXLSX(r io.Reader) ([]Row, []Rejection, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	blameRows, err := f.GetRows(blameSheet)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read rows from %s: %w", blameSheet, err)
	}
	if len(blameRows) == 0 {
		return nil, nil, errors.New("blame sheet has no header row")
	}

	rows := make([]Row, 0, len(blameRows)-1)
	for i, record := range blameRows[1:] {
		record = padRow(record, len(blameHeaders))
		row := Row{Path: record[0], Kind: record[1], Value: record[2]}
		if strings.TrimSpace(record[3]) != "" {
			meta, err := metaFromCells(record[3:])
			if err != nil {
				return nil, nil, fmt.Errorf("row %d: %w", i+2, err)
			}
			row.Meta = &meta
		}
		rows = append(rows, row)
	}

	rejectedRows, err := f.GetRows(rejectedSheet)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read rows from %s: %w", rejectedSheet, err)
	}
	rejections := []Rejection{}
	for i, record := range rejectedRows {
		if i == 0 {
			continue
		}
		record = padRow(record, len(rejectedHeaders))
		stage, err := strconv.Atoi(record[0])
		if err != nil {
			return nil, nil, fmt.Errorf("rejected row %d: invalid stage %q", i+1, record[0])
		}
		changeID, err := strconv.ParseUint(record[1], 10, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("rejected row %d: invalid change id %q", i+1, record[1])
		}
		rejections = append(rejections, Rejection{Stage: stage, ChangeID: changeID, Path: record[2]})
	}
	return rows, rejections, nil
}

func metaFromCells(cells []string) (blame.ChangeMeta, error) {
	changeID, err := strconv.ParseUint(cells[0], 10, 64)
	if err != nil {
		return blame.ChangeMeta{}, fmt.Errorf("invalid change id %q", cells[0])
	}
	icsID, err := strconv.ParseUint(cells[4], 10, 64)
	if err != nil {
		return blame.ChangeMeta{}, fmt.Errorf("invalid ics id %q", cells[4])
	}
	return blame.ChangeMeta{
		ChangeID:  changeID,
		Author:    cells[1],
		Timestamp: cells[2],
		Source:    cells[3],
		ICSID:     icsID,
	}, nil
}

func writeRow(f *excelize.File, sheet string, row int, cells []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("failed to address row %d: %w", row, err)
	}
	if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
		return fmt.Errorf("failed to write %s row %d: %w", sheet, row, err)
	}
	return nil
}

func toCells(values []string) []any {
	cells := make([]any, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return cells
}

func padRow(row []string, width int) []string {
	for len(row) < width {
		row = append(row, "")
	}
	return row
}
