package main

import (
	"path"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := range columns {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := range columns {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := range columns {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

// manifestTable lists converted files with their directory split out.
func manifestTable(files []string) string {
	if len(files) == 0 {
		return ""
	}
	rows := make([][]string, 0, len(files))
	for i, f := range files {
		dir := path.Dir(f)
		if dir == "." {
			dir = ""
		}
		rows = append(rows, []string{strconv.Itoa(i + 1), dir, path.Base(f)})
	}
	return renderTable(
		[]string{"#", "Directory", "File"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft},
	)
}
