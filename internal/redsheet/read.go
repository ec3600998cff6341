package redsheet

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const utf8BOM = "\uFEFF"

// FileExtension is appended to red sheet names to form file paths.
const FileExtension = "csv"

// Supported encodings for ReadOptions.Encoding.
const (
	EncodingUTF8        = "utf-8"
	EncodingWindows1252 = "windows-1252"
	EncodingISO88591    = "iso-8859-1"
)

// ReadOptions controls how a red sheet file is decoded.
type ReadOptions struct {
	// Encoding is the file charset; empty means UTF-8.
	Encoding string
	// Delimiter is the field separator; zero means ','.
	Delimiter rune
}

// dashes folds the dash variants spreadsheets like to produce into the
// label separator.
var dashes = strings.NewReplacer("\u2013", "-", "\u2014", "-", "\u2212", "-")

// Path returns <dir>/<name>.csv.
func Path(dir, name string) string {
	return filepath.Join(dir, name+"."+FileExtension)
}

// ReadFile opens path and reads it with Read.
func ReadFile(path string, opts ReadOptions) (RawTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return RawTable{}, fmt.Errorf("redsheet: open: %w", err)
	}
	defer f.Close()
	t, err := Read(f, opts)
	if err != nil {
		return RawTable{}, fmt.Errorf("redsheet: %s: %w", path, err)
	}
	return t, nil
}

// Read parses a red sheet. Header labels are NFC-normalized, trimmed and
// have typographic dashes replaced by '-'. Data rows longer than the header
// are rejected.
func Read(r io.Reader, opts ReadOptions) (RawTable, error) {
	dec, err := decoder(opts.Encoding)
	if err != nil {
		return RawTable{}, err
	}
	if dec != nil {
		r = transform.NewReader(r, dec)
	}

	cr := csv.NewReader(r)
	if opts.Delimiter != 0 {
		cr.Comma = opts.Delimiter
	}
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return RawTable{}, fmt.Errorf("empty red sheet")
	}
	if err != nil {
		return RawTable{}, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], utf8BOM)
	}
	for i, h := range header {
		header[i] = normalizeLabel(h)
	}

	t := RawTable{Header: header}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return RawTable{}, fmt.Errorf("read row: %w", err)
		}
		if len(rec) > len(header) {
			line, _ := cr.FieldPos(0)
			return RawTable{}, fmt.Errorf("line %d: %d fields, header has %d", line, len(rec), len(header))
		}
		if blank(rec) {
			continue
		}
		t.Rows = append(t.Rows, rec)
	}
	return t, nil
}

// KnownEncoding reports whether Read accepts name.
func KnownEncoding(name string) bool {
	_, err := decoder(name)
	return err == nil
}

func decoder(name string) (transform.Transformer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", EncodingUTF8, "utf8":
		return nil, nil
	case EncodingWindows1252, "cp1252":
		return charmap.Windows1252.NewDecoder(), nil
	case EncodingISO88591, "latin1":
		return charmap.ISO8859_1.NewDecoder(), nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", name)
	}
}

func normalizeLabel(s string) string {
	return dashes.Replace(norm.NFC.String(strings.TrimSpace(s)))
}

func blank(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
