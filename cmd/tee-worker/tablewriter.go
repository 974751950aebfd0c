package main

import (
	"io"
	"os"

	"github.com/olekukonko/tablewriter"
)

type VisualTable struct {
	Header   []string
	Data     [][]string
	RowColor []RowColor
	out      io.Writer
}

// RowColor colors the given columns of one row; color[i] applies to column[i].
type RowColor struct {
	row    int
	column []int
	color  []tablewriter.Colors
}

func NewVisualTable(header []string, data [][]string, rowColor []RowColor) *VisualTable {
	return &VisualTable{
		Header:   header,
		Data:     data,
		RowColor: rowColor,
		out:      os.Stdout,
	}
}

func (v *VisualTable) rowColors(index int, width int) []tablewriter.Colors {
	var colors []tablewriter.Colors
	for _, rc := range v.RowColor {
		if rc.row != index {
			continue
		}
		if colors == nil {
			colors = make([]tablewriter.Colors, width)
		}
		for n, col := range rc.column {
			if col < width && n < len(rc.color) {
				colors[col] = rc.color[n]
			}
		}
	}
	return colors
}

func (v *VisualTable) Generate() {
	table := tablewriter.NewWriter(v.out)
	for index, datum := range v.Data {
		if colors := v.rowColors(index, len(datum)); colors != nil {
			table.Rich(datum, colors)
		} else {
			table.Append(datum)
		}
	}

	table.SetHeader(v.Header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetBorder(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)
	table.Render()
}
