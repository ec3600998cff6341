package reconcile

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Key column names expected in the measurement query result.
const (
	ColSpecies       = "species"
	ColDate          = "date"
	ColLotID         = "lot_id"
	ColDiameterGroup = "diameter_group"
	ColLength        = "length"
	ColDesired       = "desired"
)

// KeyColumns lists the report key columns in output order.
var KeyColumns = []string{ColSpecies, ColDate, ColLotID, ColDiameterGroup, ColLength}

const dateLayout = "2006-01-02"

// FromResult decodes a tabular query result. The five key columns are
// located by case-insensitive name; every other column is a metric, kept in
// source order. NULL metrics decode as zero, NULL keys are rejected.
func FromResult(columns []string, rows [][]any) (MeasurementSet, error) {
	pos := map[string]int{}
	for i, c := range columns {
		name := strings.ToLower(strings.TrimSpace(c))
		if _, dup := pos[name]; dup {
			return MeasurementSet{}, fmt.Errorf("%w: duplicate column %q", ErrInvalidMeasurement, c)
		}
		pos[name] = i
	}

	keyIdx := make([]int, len(KeyColumns))
	isKey := map[int]bool{}
	for i, k := range KeyColumns {
		p, ok := pos[k]
		if !ok {
			return MeasurementSet{}, fmt.Errorf("%w: missing column %q", ErrInvalidMeasurement, k)
		}
		keyIdx[i] = p
		isKey[p] = true
	}

	var ms MeasurementSet
	var metricIdx []int
	for i, c := range columns {
		if !isKey[i] {
			ms.Metrics = append(ms.Metrics, c)
			metricIdx = append(metricIdx, i)
		}
	}

	ms.Rows = make([]MeasurementRow, 0, len(rows))
	for n, row := range rows {
		if len(row) != len(columns) {
			return MeasurementSet{}, fmt.Errorf("%w: row %d has %d values, want %d", ErrInvalidMeasurement, n, len(row), len(columns))
		}
		var keys [4]string
		for i := range keys {
			s, err := keyString(row[keyIdx[i]])
			if err != nil {
				return MeasurementSet{}, fmt.Errorf("%w: row %d column %q: %v", ErrInvalidMeasurement, n, KeyColumns[i], err)
			}
			keys[i] = s
		}
		length, null, err := number(row[keyIdx[4]])
		if err != nil || null {
			if err == nil {
				err = fmt.Errorf("null value")
			}
			return MeasurementSet{}, fmt.Errorf("%w: row %d column %q: %v", ErrInvalidMeasurement, n, ColLength, err)
		}

		metrics := make([]float64, len(metricIdx))
		for j, p := range metricIdx {
			v, _, err := number(row[p])
			if err != nil {
				return MeasurementSet{}, fmt.Errorf("%w: row %d column %q: %v", ErrInvalidMeasurement, n, columns[p], err)
			}
			metrics[j] = v
		}

		ms.Rows = append(ms.Rows, MeasurementRow{
			Species:       keys[0],
			Date:          keys[1],
			LotID:         keys[2],
			DiameterGroup: keys[3],
			Length:        length,
			Metrics:       metrics,
		})
	}
	return ms, nil
}

func keyString(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", fmt.Errorf("null value")
	case time.Time:
		return x.Format(dateLayout), nil
	case []byte:
		return string(x), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), nil
	}
	return cast.ToStringE(v)
}

// number coerces a driver value to float64; null reports a SQL NULL.
func number(v any) (f float64, null bool, err error) {
	switch x := v.(type) {
	case nil:
		return 0, true, nil
	case []byte:
		return number(string(x))
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, true, nil
		}
		v = s
	case time.Time:
		return 0, false, fmt.Errorf("timestamp %s is not numeric", x.Format(time.RFC3339))
	}
	f, err = cast.ToFloat64E(v)
	return f, false, err
}
