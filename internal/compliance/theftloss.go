// Package compliance: theft and significant-loss reporting (DEA Form 106).
package compliance

import (
	"fmt"
	"time"
)

// LossItem is one drug line in a theft/loss event.
type LossItem struct {
	NDC          string   `json:"ndc"`
	DrugName     string   `json:"drug_name"`
	Schedule     Schedule `json:"schedule"`
	QuantityLost float64  `json:"quantity_lost"`
}

// RequiresDEAReport reports whether a theft/loss event involves any
// controlled substance and therefore must be reported to the DEA.
func RequiresDEAReport(items []LossItem) bool {
	for _, item := range items {
		switch item.Schedule {
		case ScheduleII, ScheduleIII, ScheduleIV, ScheduleV:
			return true
		}
	}
	return false
}

// DEA106Summary aggregates a theft/loss event for the Form 106 filing.
type DEA106Summary struct {
	DiscoveredAt       time.Time            `json:"discovered_at"`
	ReportDeadline     time.Time            `json:"report_deadline"`
	TotalItems         int                  `json:"total_items"`
	QuantityBySchedule map[Schedule]float64 `json:"quantity_by_schedule"`
	ReportRequired     bool                 `json:"report_required"`
	Instructions       string               `json:"instructions"`
}

// GenerateDEA106Summary aggregates quantity lost per schedule and computes
// the filing deadline: one business day after discovery.
func GenerateDEA106Summary(items []LossItem, discoveredAt time.Time) (DEA106Summary, error) {
	if discoveredAt.IsZero() {
		return DEA106Summary{}, fmt.Errorf("discovery time is required")
	}

	summary := DEA106Summary{
		DiscoveredAt:       discoveredAt,
		ReportDeadline:     nextBusinessDay(discoveredAt),
		TotalItems:         len(items),
		QuantityBySchedule: make(map[Schedule]float64),
		ReportRequired:     RequiresDEAReport(items),
	}

	for _, item := range items {
		if item.QuantityLost < 0 {
			return DEA106Summary{}, fmt.Errorf("quantity lost for NDC %s must be non-negative", item.NDC)
		}
		summary.QuantityBySchedule[item.Schedule] += item.QuantityLost
	}

	if summary.ReportRequired {
		summary.Instructions = "File DEA Form 106 electronically within one business day of discovery; notify local DEA diversion field office"
	} else {
		summary.Instructions = "No controlled substances involved; document internally, no DEA filing required"
	}

	return summary, nil
}

// nextBusinessDay returns the next weekday strictly after t.
func nextBusinessDay(t time.Time) time.Time {
	d := t.AddDate(0, 0, 1)
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, 1)
	}
	return d
}
