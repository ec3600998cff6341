// Package report writes the reconciled table as delimited text and,
// optionally, ships the file to S3.
package report

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zeebo/xxh3"

	"logsorting/internal/reconcile"
)

// DefaultDelimiter separates report fields.
const DefaultDelimiter = ';'

// FileExtension is appended to report names to form file paths.
const FileExtension = "csv"

// Summary describes a written report.
type Summary struct {
	Rows     int
	Bytes    int64
	Checksum uint64 // xxh3-64 of the written bytes
}

// ChecksumHex renders Checksum as 16 hex digits.
func (s Summary) ChecksumHex() string { return fmt.Sprintf("%016x", s.Checksum) }

// Path returns <dir>/<name>.csv.
func Path(dir, name string) string {
	return filepath.Join(dir, name+"."+FileExtension)
}

// Header returns the report header for rep.
func Header(rep *reconcile.Report) []string {
	h := make([]string, 0, len(reconcile.KeyColumns)+len(rep.Metrics)+1)
	h = append(h, reconcile.KeyColumns...)
	h = append(h, rep.Metrics...)
	return append(h, reconcile.ColDesired)
}

type countingWriter struct{ n int64 }

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}

// Write renders rep to w: header line, then one line per row, no index
// column. A zero delim means DefaultDelimiter.
func Write(w io.Writer, rep *reconcile.Report, delim rune) (Summary, error) {
	if delim == 0 {
		delim = DefaultDelimiter
	}
	h := xxh3.New()
	cnt := &countingWriter{}

	cw := csv.NewWriter(io.MultiWriter(w, h, cnt))
	cw.Comma = delim

	if err := cw.Write(Header(rep)); err != nil {
		return Summary{}, fmt.Errorf("report: write header: %w", err)
	}
	rec := make([]string, 0, len(reconcile.KeyColumns)+len(rep.Metrics)+1)
	for i, r := range rep.Rows {
		rec = rec[:0]
		rec = append(rec, r.Species, r.Date, r.LotID, r.DiameterGroup, formatFloat(r.Length))
		for _, m := range r.Metrics {
			rec = append(rec, formatFloat(m))
		}
		rec = append(rec, formatFloat(r.Desired))
		if err := cw.Write(rec); err != nil {
			return Summary{}, fmt.Errorf("report: write row %d: %w", i, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return Summary{}, fmt.Errorf("report: flush: %w", err)
	}
	return Summary{Rows: len(rep.Rows), Bytes: cnt.n, Checksum: h.Sum64()}, nil
}

// WriteFile writes the report to a temporary file next to path and renames
// it into place, so a failed run never leaves a partial report behind.
func WriteFile(path string, rep *reconcile.Report, delim rune) (Summary, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Summary{}, fmt.Errorf("report: create dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return Summary{}, fmt.Errorf("report: create temp: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	bw := bufio.NewWriter(tmp)
	sum, err := Write(bw, rep, delim)
	if err == nil {
		err = bw.Flush()
	}
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return Summary{}, fmt.Errorf("report: %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return Summary{}, fmt.Errorf("report: rename: %w", err)
	}
	return sum, nil
}

// formatFloat prints integral values with a trailing ".0" so numeric
// columns read back as floats.
func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if strings.ContainsAny(s, ".NI") {
		return s
	}
	return s + ".0"
}
