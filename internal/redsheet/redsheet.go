// Package redsheet loads the "red sheet": the reference table of desired
// log counts per length bucket and diameter group.
//
// The file is wide (one column per diameter-group label such as "20-25",
// one row per length bucket). Load reshapes it into long ReferenceRows and
// derives the QueryParameters the measurement query is rendered with.
package redsheet

import (
	"errors"

	"logsorting/internal/interval"
)

var (
	// ErrMalformedLabel is returned for a diameter-group label that is not of
	// the form "<low>-<high>", or that appears twice in the header.
	ErrMalformedLabel = errors.New("redsheet: malformed diameter group label")

	// ErrInvalidBound is returned when a label bound, a length or a desired
	// value cannot be parsed as a number.
	ErrInvalidBound = errors.New("redsheet: invalid bound")
)

// labelSeparator splits "<low>-<high>" diameter-group labels.
const labelSeparator = "-"

// diameterScale and lengthScale convert label and length units to the units
// stored in the measurement database.
const (
	diameterScale = 10
	lengthScale   = 10
)

// RawTable is the red sheet as read from disk. Header[0] is the length
// column (its name is ignored); every other header cell is a diameter-group
// label. Rows may be shorter than Header; missing cells count as zero.
type RawTable struct {
	Header []string
	Rows   [][]string
}

// ReferenceRow is one (diameter group, length) cell of the red sheet.
type ReferenceRow struct {
	DiameterGroup string  `json:"diameter_group"`
	Length        float64 `json:"length"`
	Desired       float64 `json:"desired"`
}

// QueryParameter is the per-diameter-group parameter block handed to the
// query template.
type QueryParameter struct {
	DiameterGroup    string               `json:"diameter_group"`
	DiameterInterval interval.Spec[int]   `json:"diameter_interval"`
	LengthInterval   []interval.Spec[int] `json:"length_interval"`
}
