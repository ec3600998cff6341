// Package reconcile merges actual log-sorting measurements with the red
// sheet into a dense, sorted report.
//
// Every (species, date, lot) seen in the measurements is crossed with every
// (diameter group, length) seen in the measurements. Measurements are
// left-joined onto that grid, red sheet rows are inner-joined, and metrics
// without a measurement are reported as zero. Only grid cells that the red
// sheet declares survive.
package reconcile

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"logsorting/internal/redsheet"
)

// Join cardinalities checked by Reconcile.
const (
	OneToOne  = "1:1"
	ManyToOne = "m:1"
)

var (
	// ErrCardinalityViolation matches every *CardinalityError.
	ErrCardinalityViolation = errors.New("reconcile: cardinality violation")

	// ErrInvalidMeasurement is returned by FromResult for rows that cannot be
	// decoded into a MeasurementRow.
	ErrInvalidMeasurement = errors.New("reconcile: invalid measurement")
)

// CardinalityError reports a join key that occurs more often than the join
// allows.
type CardinalityError struct {
	Kind string // OneToOne or ManyToOne
	Key  string
}

func (e *CardinalityError) Error() string {
	return fmt.Sprintf("reconcile: %s join violated by duplicate key %s", e.Kind, e.Key)
}

// Is makes errors.Is(err, ErrCardinalityViolation) true.
func (e *CardinalityError) Is(target error) bool { return target == ErrCardinalityViolation }

// MeasurementRow is one row of the measurement query result.
type MeasurementRow struct {
	Species       string
	Date          string
	LotID         string
	DiameterGroup string
	Length        float64
	Metrics       []float64 // aligned with MeasurementSet.Metrics
}

// MeasurementSet is the measurement fact table.
type MeasurementSet struct {
	Metrics []string
	Rows    []MeasurementRow
}

// ReportRow is one line of the final report.
type ReportRow struct {
	Species       string
	Date          string
	LotID         string
	DiameterGroup string
	Length        float64
	Metrics       []float64 // aligned with Report.Metrics
	Desired       float64
}

// Report is the reconciled table.
type Report struct {
	Metrics  []string
	Rows     []ReportRow
	GridSize int // grid cells before the red sheet join
}

// GridKey identifies one cell of the grid.
type GridKey struct {
	Species       string
	Date          string
	LotID         string
	DiameterGroup string
	Length        float64
}

func (k GridKey) String() string {
	return fmt.Sprintf("(%s, %s, %s, %s, %v)", k.Species, k.Date, k.LotID, k.DiameterGroup, k.Length)
}

type lotKey struct{ species, date, lotID string }

type bucketKey struct {
	diameterGroup string
	length        float64
}

// Grid returns the cross product of the distinct (species, date, lot) and
// distinct (diameter group, length) combinations in ms, lots outermost,
// each side in first-seen order.
func Grid(ms MeasurementSet) []GridKey {
	var lots []lotKey
	var buckets []bucketKey
	seenLot := map[lotKey]struct{}{}
	seenBucket := map[bucketKey]struct{}{}

	for _, r := range ms.Rows {
		lk := lotKey{r.Species, r.Date, r.LotID}
		if _, ok := seenLot[lk]; !ok {
			seenLot[lk] = struct{}{}
			lots = append(lots, lk)
		}
		bk := bucketKey{r.DiameterGroup, r.Length}
		if _, ok := seenBucket[bk]; !ok {
			seenBucket[bk] = struct{}{}
			buckets = append(buckets, bk)
		}
	}

	grid := make([]GridKey, 0, len(lots)*len(buckets))
	for _, l := range lots {
		for _, b := range buckets {
			grid = append(grid, GridKey{
				Species:       l.species,
				Date:          l.date,
				LotID:         l.lotID,
				DiameterGroup: b.diameterGroup,
				Length:        b.length,
			})
		}
	}
	return grid
}

// Reconcile builds the report. A duplicate measurement for one grid key or
// a duplicate red sheet entry for one (diameter group, length) aborts with a
// *CardinalityError; grid cells without a red sheet entry are dropped.
// Inputs are not modified.
func Reconcile(ms MeasurementSet, reference []redsheet.ReferenceRow) (*Report, error) {
	measured := make(map[GridKey]int, len(ms.Rows))
	for i, r := range ms.Rows {
		k := GridKey{r.Species, r.Date, r.LotID, r.DiameterGroup, r.Length}
		if _, dup := measured[k]; dup {
			return nil, &CardinalityError{Kind: OneToOne, Key: k.String()}
		}
		measured[k] = i
	}

	desired := make(map[bucketKey]float64, len(reference))
	for _, r := range reference {
		k := bucketKey{r.DiameterGroup, r.Length}
		if _, dup := desired[k]; dup {
			return nil, &CardinalityError{
				Kind: ManyToOne,
				Key:  fmt.Sprintf("(%s, %v)", r.DiameterGroup, r.Length),
			}
		}
		desired[k] = r.Desired
	}

	grid := Grid(ms)
	rep := &Report{Metrics: slices.Clone(ms.Metrics), GridSize: len(grid)}
	for _, k := range grid {
		want, ok := desired[bucketKey{k.DiameterGroup, k.Length}]
		if !ok {
			continue
		}
		metrics := make([]float64, len(ms.Metrics))
		if i, ok := measured[k]; ok {
			copy(metrics, ms.Rows[i].Metrics)
		}
		rep.Rows = append(rep.Rows, ReportRow{
			Species:       k.Species,
			Date:          k.Date,
			LotID:         k.LotID,
			DiameterGroup: k.DiameterGroup,
			Length:        k.Length,
			Metrics:       metrics,
			Desired:       want,
		})
	}

	slices.SortStableFunc(rep.Rows, compareRows)
	return rep, nil
}

func compareRows(a, b ReportRow) int {
	return cmp.Or(
		compareKey(a.Species, b.Species),
		compareKey(a.Date, b.Date),
		compareKey(a.LotID, b.LotID),
		compareKey(a.DiameterGroup, b.DiameterGroup),
		cmp.Compare(a.Length, b.Length),
	)
}

// compareKey puts numeric keys before non-numeric ones. Numeric keys compare
// by value, then lexically when the values are equal. Non-numeric keys
// compare lexically.
func compareKey(a, b string) int {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	numA, numB := errA == nil, errB == nil
	switch {
	case numA && !numB:
		return -1
	case !numA && numB:
		return 1
	case numA && numB:
		if c := cmp.Compare(fa, fb); c != 0 {
			return c
		}
	}
	return strings.Compare(a, b)
}
