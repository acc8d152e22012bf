package builder

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/ja7ad/nodeguard/pkg/fence"
	"github.com/ja7ad/nodeguard/pkg/ioformat"
)

// WriteThreshCSV writes the per-bin threshold model for every output,
// preceded by the standard header.
func WriteThreshCSV(w io.Writer, outputs []Output) error {
	if _, err := io.WriteString(w, ioformat.ThreshHeader); err != nil {
		return err
	}
	for _, o := range outputs {
		for _, b := range o.Bins {
			_, err := fmt.Fprintf(w, "%s,%s,%g,%g,%g,%g,%g\n",
				o.CID, o.CName, b.UtilStart, b.UtilEnd, b.CPIThresh, b.MPKIThresh, b.MBThresh)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteTDPThreshCSV writes the thermal threshold model for every output
// that has one, preceded by the standard header.
func WriteTDPThreshCSV(w io.Writer, outputs []Output) error {
	if _, err := io.WriteString(w, ioformat.TDPThreshHeader); err != nil {
		return err
	}
	for _, o := range outputs {
		if o.TDP == nil {
			continue
		}
		_, err := fmt.Fprintf(w, "%s,%s,%g,%g,%g,%g\n",
			o.CID, o.CName, o.TDP.Util, o.TDP.Mean, o.TDP.Std, o.TDP.Bar)
		if err != nil {
			return err
		}
	}
	return nil
}

// ReadThreshCSV reads a thresh.csv back into a map keyed by CID or CNAME
// (per keyByCID), with bins sorted by UTIL_START, the way the agent's
// init_threshmap loads the builder's output at startup.
func ReadThreshCSV(r io.Reader, keyByCID bool) (map[string][]fence.Bin, error) {
	records, col, err := readLabeledCSV(r)
	if err != nil {
		return nil, err
	}
	keyCol := col["CNAME"]
	if keyByCID {
		keyCol = col["CID"]
	}
	for _, want := range []string{"UTIL_START", "UTIL_END", "CPI_THRESH", "MPKI_THRESH", "MB_THRESH"} {
		if _, ok := col[want]; !ok {
			return nil, fmt.Errorf("builder: thresh csv missing column %s", want)
		}
	}

	out := make(map[string][]fence.Bin)
	for _, row := range records {
		key := row[keyCol]
		bin := fence.Bin{
			UtilStart:  mustFloat(row[col["UTIL_START"]]),
			UtilEnd:    mustFloat(row[col["UTIL_END"]]),
			CPIThresh:  mustFloat(row[col["CPI_THRESH"]]),
			MPKIThresh: mustFloat(row[col["MPKI_THRESH"]]),
			MBThresh:   mustFloat(row[col["MB_THRESH"]]),
		}
		out[key] = append(out[key], bin)
	}
	for key, bins := range out {
		sort.Slice(bins, func(i, j int) bool { return bins[i].UtilStart < bins[j].UtilStart })
		out[key] = bins
	}
	return out, nil
}

// ReadTDPThreshCSV reads a tdp_thresh.csv back into a map keyed by CID or
// CNAME, the way the agent's init_tdp_map loads the builder's output.
func ReadTDPThreshCSV(r io.Reader, keyByCID bool) (map[string]*fence.ThermalRow, error) {
	records, col, err := readLabeledCSV(r)
	if err != nil {
		return nil, err
	}
	keyCol := col["CNAME"]
	if keyByCID {
		keyCol = col["CID"]
	}
	for _, want := range []string{"UTIL", "MEAN", "STD", "BAR"} {
		if _, ok := col[want]; !ok {
			return nil, fmt.Errorf("builder: tdp thresh csv missing column %s", want)
		}
	}

	out := make(map[string]*fence.ThermalRow)
	for _, row := range records {
		key := row[keyCol]
		out[key] = &fence.ThermalRow{
			Util: mustFloat(row[col["UTIL"]]),
			Mean: mustFloat(row[col["MEAN"]]),
			Std:  mustFloat(row[col["STD"]]),
			Bar:  mustFloat(row[col["BAR"]]),
		}
	}
	return out, nil
}

func readLabeledCSV(r io.Reader) ([][]string, map[string]int, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.Comment = '#' // tolerate an optional "# run <id>" stamp atop the file
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("builder: parse csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("builder: empty csv")
	}
	col := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		col[strings.ToUpper(strings.TrimSpace(h))] = i
	}
	for _, want := range []string{"CID", "CNAME"} {
		if _, ok := col[want]; !ok {
			return nil, nil, fmt.Errorf("builder: csv missing column %s", want)
		}
	}
	return rows[1:], col, nil
}

func mustFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
