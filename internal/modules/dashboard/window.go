package dashboard

import (
	"time"

	"github.com/aristath/gridlens/internal/domain"
)

// NavigationStep is how far previous/next move a window
const NavigationStep = 7

// Window is the date range of an overview and its navigation
type Window struct {
	StartDate       string `json:"start_date"`
	EndDate         string `json:"end_date"`
	Days            int    `json:"days"`
	PreviousEndDate string `json:"previous_end_date"`
	NextEndDate     string `json:"next_end_date,omitempty"`
	CanGoNext       bool   `json:"can_go_next"`
	ReferenceDate   string `json:"reference_date"`
}

// NewWindow builds the window ending at endDate. Moving forward is allowed
// only while the next end date does not pass the reference date.
func NewWindow(endDate string, days int, referenceDate string) (Window, error) {
	if days <= 0 {
		return Window{}, domain.NewValidationError("days", "must be positive, got %d", days)
	}
	end, err := time.Parse(DateLayout, endDate)
	if err != nil {
		return Window{}, domain.NewValidationError("end_date", "%q is not a YYYY-MM-DD date", endDate)
	}
	ref, err := time.Parse(DateLayout, referenceDate)
	if err != nil {
		return Window{}, domain.NewValidationError("reference_date", "%q is not a YYYY-MM-DD date", referenceDate)
	}

	next := end.AddDate(0, 0, NavigationStep)
	w := Window{
		StartDate:       end.AddDate(0, 0, -days).Format(DateLayout),
		EndDate:         endDate,
		Days:            days,
		PreviousEndDate: end.AddDate(0, 0, -NavigationStep).Format(DateLayout),
		CanGoNext:       !next.After(ref),
		ReferenceDate:   referenceDate,
	}
	if w.CanGoNext {
		w.NextEndDate = next.Format(DateLayout)
	}
	return w, nil
}

// Previous returns the window one step earlier
func (w Window) Previous() (Window, error) {
	return NewWindow(w.PreviousEndDate, w.Days, w.ReferenceDate)
}

// Next returns the window one step later, or itself when at the reference date
func (w Window) Next() (Window, error) {
	if !w.CanGoNext {
		return w, nil
	}
	return NewWindow(w.NextEndDate, w.Days, w.ReferenceDate)
}

// Reset returns the window ending at the reference date
func (w Window) Reset() (Window, error) {
	return NewWindow(w.ReferenceDate, w.Days, w.ReferenceDate)
}
