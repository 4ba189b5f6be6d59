package series

import (
	"time"
)

// ValueKind the kind of values a series carries
type ValueKind int

const (
	// KindNumeric continuous numeric values
	KindNumeric ValueKind = iota
	// KindDiscrete discrete state values with display labels
	KindDiscrete
)

// BoundaryType controls how a raw query treats its range boundaries
type BoundaryType int

const (
	// BoundaryInside only samples within the requested range are returned
	BoundaryInside BoundaryType = iota
	// BoundaryOutside one bracketing sample just outside each boundary is
	// also returned when the boundary falls between samples
	BoundaryOutside
)

// Definition describes one named series
type Definition struct {
	// ID stable identifier of the series
	ID string
	// Name display name
	Name string
	// Description optional human readable description
	Description string
	// Unit optional engineering unit
	Unit string
	// Kind the kind of values the series carries
	Kind ValueKind
	// States discrete state value to display label mapping, discrete series only
	States map[int64]string
}

// Point one recorded sample of a series
type Point struct {
	// Timestamp sample time in UTC
	Timestamp time.Time
	// Value the numeric value, or the state code for discrete series
	Value float64
	// Label display label of the state, discrete series only
	Label string
}

// Sample a point tagged with the series it belongs to
type Sample struct {
	// SeriesID identifier of the owning series
	SeriesID string
	Point
}
