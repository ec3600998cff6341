package redsheet

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"logsorting/internal/interval"
)

// Load reshapes raw into ReferenceRows and builds the QueryParameters.
//
// A synthetic zero-length row is prepended before unpivoting. Rows are
// emitted column by column: every length of the first diameter group, then
// every length of the second, and so on.
func Load(raw RawTable) ([]ReferenceRow, []QueryParameter, error) {
	if len(raw.Header) == 0 {
		return nil, nil, fmt.Errorf("redsheet: missing header")
	}
	groups := raw.Header[1:]
	seen := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		if _, dup := seen[g]; dup {
			return nil, nil, fmt.Errorf("%w: %q appears more than once", ErrMalformedLabel, g)
		}
		seen[g] = struct{}{}
	}

	lengths := make([]float64, 0, len(raw.Rows)+1)
	values := make([][]float64, 0, len(raw.Rows)+1)

	lengths = append(lengths, 0)
	values = append(values, make([]float64, len(groups)))

	for i, row := range raw.Rows {
		line := i + 2 // header is line 1
		l, err := parseCell(cell(row, 0))
		if err != nil {
			return nil, nil, fmt.Errorf("%w: line %d: length: %v", ErrInvalidBound, line, err)
		}
		vals := make([]float64, len(groups))
		for j, g := range groups {
			v, err := parseCell(cell(row, j+1))
			if err != nil {
				return nil, nil, fmt.Errorf("%w: line %d: column %q: %v", ErrInvalidBound, line, g, err)
			}
			vals[j] = v
		}
		lengths = append(lengths, l)
		values = append(values, vals)
	}

	refs := make([]ReferenceRow, 0, len(groups)*len(lengths))
	for j, g := range groups {
		for i, l := range lengths {
			refs = append(refs, ReferenceRow{DiameterGroup: g, Length: l, Desired: values[i][j]})
		}
	}

	params, err := buildQueryParameters(slices.Clone(refs))
	if err != nil {
		return nil, nil, err
	}
	return refs, params, nil
}

type diameterLabel struct {
	group string
	lower int
	upper *int
}

// parseLabel splits "<low>-<high>" and scales the lower bound. An empty
// high side yields a nil upper.
func parseLabel(label string) (diameterLabel, error) {
	lo, hi, ok := strings.Cut(label, labelSeparator)
	if !ok {
		return diameterLabel{}, fmt.Errorf("%w: %q has no %q", ErrMalformedLabel, label, labelSeparator)
	}
	lower, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return diameterLabel{}, fmt.Errorf("%w: lower bound of %q: %v", ErrInvalidBound, label, err)
	}
	d := diameterLabel{group: label, lower: lower * diameterScale}
	if hi = strings.TrimSpace(hi); hi != "" {
		upper, err := strconv.Atoi(hi)
		if err != nil {
			return diameterLabel{}, fmt.Errorf("%w: upper bound of %q: %v", ErrInvalidBound, label, err)
		}
		d.upper = &upper
	}
	return d, nil
}

func buildQueryParameters(refs []ReferenceRow) ([]QueryParameter, error) {
	// Labels in first-seen order.
	var labels []diameterLabel
	byGroup := map[string][]ReferenceRow{}
	for _, r := range refs {
		if _, seen := byGroup[r.DiameterGroup]; !seen {
			d, err := parseLabel(r.DiameterGroup)
			if err != nil {
				return nil, err
			}
			labels = append(labels, d)
		}
		byGroup[r.DiameterGroup] = append(byGroup[r.DiameterGroup], r)
	}

	diameters, err := diameterIntervals(labels)
	if err != nil {
		return nil, fmt.Errorf("redsheet: diameter intervals: %w", err)
	}

	params := make([]QueryParameter, 0, len(labels))
	for _, d := range labels {
		rows := byGroup[d.group]
		scaled := make([]int, len(rows))
		for i, r := range rows {
			scaled[i] = int(math.Round(r.Length * lengthScale))
		}
		specs, err := interval.Build(scaled, nil)
		if err != nil {
			return nil, fmt.Errorf("redsheet: length intervals for %q: %w", d.group, err)
		}
		idx := interval.Lookup(specs)

		lengthIntervals := make([]interval.Spec[int], len(scaled))
		for i, l := range scaled {
			lengthIntervals[i] = idx[l]
		}
		params = append(params, QueryParameter{
			DiameterGroup:    d.group,
			DiameterInterval: diameters[d.group],
			LengthInterval:   lengthIntervals,
		})
	}

	slices.SortStableFunc(params, func(a, b QueryParameter) int {
		return cmp.Or(
			strings.Compare(a.DiameterGroup, b.DiameterGroup),
			cmp.Compare(a.DiameterInterval.Value, b.DiameterInterval.Value),
			cmp.Compare(a.DiameterInterval.ValueTo, b.DiameterInterval.ValueTo),
		)
	})
	return params, nil
}

// diameterIntervals chains the scaled lower bounds of all groups. The group
// with the largest lower bound closes the last interval with its own upper
// label value, unscaled, or NoUpperBound when the label has none.
func diameterIntervals(labels []diameterLabel) (map[string]interval.Spec[int], error) {
	if len(labels) == 0 {
		return nil, interval.ErrEmptyIntervalInput
	}
	lowers := make([]int, len(labels))
	top := labels[0]
	for i, d := range labels {
		lowers[i] = d.lower
		if d.lower > top.lower {
			top = d
		}
	}

	specs, err := interval.Build(lowers, top.upper)
	if err != nil {
		return nil, err
	}
	idx := interval.Lookup(specs)

	out := make(map[string]interval.Spec[int], len(labels))
	for _, d := range labels {
		s := idx[d.lower]
		if d.lower == top.lower {
			s.ValueTo = interval.NoUpperBound
			if d.upper != nil {
				s.ValueTo = *d.upper
			}
		}
		out[d.group] = s
	}
	return out, nil
}

func cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

// parseCell parses a numeric cell; blanks and NaN count as zero.
func parseCell(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) {
		return 0, nil
	}
	return v, nil
}
