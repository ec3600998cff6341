// Package query renders the measurement SQL from a text/template file and
// the red sheet's query parameters.
//
// Templates see a Params value. A minimal template looks like:
//
//	SELECT species, date, lot_id, diameter_group, length, COUNT(*) AS log_count
//	FROM (
//	  SELECT s.species, s.date, s.lot_id, s.length_dm / 10.0 AS length,
//	    CASE
//	    {{- range .QueryConfig }}
//	      WHEN s.diameter_mm >= {{ .DiameterInterval.Value }}
//	        {{- if .DiameterInterval.Bounded }} AND s.diameter_mm < {{ .DiameterInterval.ValueTo }}{{ end }}
//	        THEN {{ quote .DiameterGroup }}
//	    {{- end }}
//	    END AS diameter_group
//	  FROM sorting s
//	  WHERE s.species = {{ .Species }} AND s.date BETWEEN {{ quote .DateFrom }} AND {{ quote .DateTo }}
//	) t
//	GROUP BY species, date, lot_id, diameter_group, length
//
// A file without template actions is passed through unchanged.
package query

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"logsorting/internal/redsheet"
)

// FileExtension is appended to query names to form file paths.
const FileExtension = "sql"

// Params is the template data.
type Params struct {
	Species     string
	DateFrom    string
	DateTo      string
	QueryConfig []redsheet.QueryParameter
}

// Path returns <dir>/<name>.sql.
func Path(dir, name string) string {
	return filepath.Join(dir, name+"."+FileExtension)
}

// Load reads the template <dir>/<name>.sql.
func Load(dir, name string) (string, error) {
	b, err := os.ReadFile(Path(dir, name))
	if err != nil {
		return "", fmt.Errorf("query: load %q: %w", name, err)
	}
	return string(b), nil
}

var funcs = template.FuncMap{
	"quote": Quote,
	"last": func(i int, n any) (bool, error) {
		switch s := n.(type) {
		case []redsheet.QueryParameter:
			return i == len(s)-1, nil
		case int:
			return i == s-1, nil
		}
		return false, fmt.Errorf("last: unsupported length argument %T", n)
	},
}

// Render executes tmpl with p. Unknown fields are errors.
func Render(tmpl string, p Params) (string, error) {
	t, err := template.New("query").Funcs(funcs).Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("query: parse: %w", err)
	}
	var sb strings.Builder
	if err := t.Execute(&sb, p); err != nil {
		return "", fmt.Errorf("query: render: %w", err)
	}
	return sb.String(), nil
}

// Quote renders s as a single-quoted SQL string literal.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
