package record

import "fmt"

// YearRange is an inclusive range of years.
type YearRange struct {
	Begin int
	End   int
}

// Validate reports an error when the range is empty.
func (r YearRange) Validate() error {
	if r.Begin > r.End {
		return fmt.Errorf("begin year %d is after end year %d", r.Begin, r.End)
	}
	return nil
}

// Years lists every year in the range in ascending order.
func (r YearRange) Years() []int {
	if r.Begin > r.End {
		return nil
	}
	years := make([]int, 0, r.End-r.Begin+1)
	for y := r.Begin; y <= r.End; y++ {
		years = append(years, y)
	}
	return years
}

// Contains reports whether year lies inside the range.
func (r YearRange) Contains(year int) bool {
	return year >= r.Begin && year <= r.End
}

func (r YearRange) String() string {
	return fmt.Sprintf("%d-%d", r.Begin, r.End)
}
