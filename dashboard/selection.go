package dashboard

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidRange = errors.New("start date is after end date")
	ErrBadDate      = func(field, value string) error {
		return fmt.Errorf("%s %q is not a date, expected YYYY-MM-DD", field, value)
	}
)

// Selection is the date range the dashboard currently shows.
type Selection struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ParseSelection reads a YYYY-MM-DD range. An empty side defaults to the
// matching bound and both sides are clamped into bounds.
func ParseSelection(start, end string, bounds Bounds) (Selection, error) {
	sel := Selection{Start: bounds.First, End: bounds.Last}
	if start != "" {
		t, err := time.Parse(dateLayout, start)
		if err != nil {
			return Selection{}, ErrBadDate("start", start)
		}
		sel.Start = t
	}
	if end != "" {
		t, err := time.Parse(dateLayout, end)
		if err != nil {
			return Selection{}, ErrBadDate("end", end)
		}
		sel.End = t
	}
	if sel.Start.After(sel.End) {
		return Selection{}, ErrInvalidRange
	}
	return sel.Clamp(bounds), nil
}

// Clamp moves both ends into bounds. An empty bounds leaves the selection unchanged.
func (s Selection) Clamp(bounds Bounds) Selection {
	if bounds.Empty() {
		return s
	}
	if s.Start.Before(bounds.First) {
		s.Start = bounds.First
	}
	if s.Start.After(bounds.Last) {
		s.Start = bounds.Last
	}
	if s.End.After(bounds.Last) {
		s.End = bounds.Last
	}
	if s.End.Before(bounds.First) {
		s.End = bounds.First
	}
	return s
}

func (s Selection) String() string {
	return s.Start.Format(dateLayout) + "_" + s.End.Format(dateLayout)
}
