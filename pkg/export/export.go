// Package export writes frames as comma or tab separated text.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/roffe/canmon/pkg/frame"
)

const TimeFormat = "15:04:05.000"

var Header = []string{"Timestamp", "ID (Hex)", "DLC", "Data (Hex)", "Data (Dec)"}

// SeparatorFor returns ',' for .csv files and a tab for everything else
func SeparatorFor(path string) rune {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return ','
	}
	return '\t'
}

func Row(f *frame.CANFrame) []string {
	return []string{
		f.Timestamp.Format(TimeFormat),
		f.IDString(),
		strconv.Itoa(f.DLC()),
		f.HexString(),
		f.DecString(),
	}
}

type Writer struct {
	w    *csv.Writer
	rows int
}

func NewWriter(w io.Writer, sep rune) *Writer {
	cw := csv.NewWriter(w)
	cw.Comma = sep
	return &Writer{w: cw}
}

func (w *Writer) WriteHeader() error {
	return w.w.Write(Header)
}

func (w *Writer) Write(f *frame.CANFrame) error {
	if err := w.w.Write(Row(f)); err != nil {
		return err
	}
	w.rows++
	return nil
}

// Rows is the number of frames written, the header not included
func (w *Writer) Rows() int {
	return w.rows
}

func (w *Writer) Flush() error {
	w.w.Flush()
	return w.w.Error()
}

// File writes header and frames to path and returns the row count
func File(path string, frames []*frame.CANFrame) (int, error) {
	fh, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to export: %w", err)
	}
	w := NewWriter(fh, SeparatorFor(path))
	if err := w.WriteHeader(); err != nil {
		fh.Close()
		return 0, fmt.Errorf("failed to export: %w", err)
	}
	for _, f := range frames {
		if err := w.Write(f); err != nil {
			fh.Close()
			return w.Rows(), fmt.Errorf("failed to export: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		fh.Close()
		return w.Rows(), fmt.Errorf("failed to export: %w", err)
	}
	return w.Rows(), fh.Close()
}
