// Package compliance implements the controlled-substance rules engine:
// DEA schedule metadata, DEA-number validation, the perpetual-inventory
// ledger arithmetic, variance analysis, biennial-inventory timing, and
// theft/loss reporting. All functions are pure and safe for concurrent use.
package compliance

// Schedule is the DEA controlled-substance classification.
type Schedule string

const (
	ScheduleI   Schedule = "I"
	ScheduleII  Schedule = "II"
	ScheduleIII Schedule = "III"
	ScheduleIV  Schedule = "IV"
	ScheduleV   Schedule = "V"
	// ScheduleLegend covers prescription-only, non-controlled drugs.
	ScheduleLegend Schedule = "LEGEND"
	// ScheduleOTC covers over-the-counter products.
	ScheduleOTC Schedule = "OTC"
)

// Rules holds the dispensing rules for a DEA schedule.
type Rules struct {
	Schedule                   Schedule `json:"schedule"`
	RefillsAllowed             int      `json:"refills_allowed"`
	PrescriptionValidDays      int      `json:"prescription_valid_days"`
	PartialFillAllowed         bool     `json:"partial_fill_allowed"`
	DEAForm222Required         bool     `json:"dea_form_222_required"`
	ARCOSReportable            bool     `json:"arcos_reportable"`
	PerpetualInventoryRequired bool     `json:"perpetual_inventory_required"`
}

// scheduleRules is the fixed rule table keyed by schedule. Schedule I drugs
// have no accepted medical use and can never be dispensed; the zero validity
// window enforces that alongside the explicit check in ValidateDispensing.
var scheduleRules = map[Schedule]Rules{
	ScheduleI: {
		Schedule:                   ScheduleI,
		RefillsAllowed:             0,
		PrescriptionValidDays:      0,
		PartialFillAllowed:         false,
		DEAForm222Required:         true,
		ARCOSReportable:            true,
		PerpetualInventoryRequired: true,
	},
	ScheduleII: {
		Schedule:                   ScheduleII,
		RefillsAllowed:             0,
		PrescriptionValidDays:      90,
		PartialFillAllowed:         true,
		DEAForm222Required:         true,
		ARCOSReportable:            true,
		PerpetualInventoryRequired: true,
	},
	ScheduleIII: {
		Schedule:                   ScheduleIII,
		RefillsAllowed:             5,
		PrescriptionValidDays:      180,
		PartialFillAllowed:         true,
		DEAForm222Required:         false,
		ARCOSReportable:            true,
		PerpetualInventoryRequired: true,
	},
	ScheduleIV: {
		Schedule:                   ScheduleIV,
		RefillsAllowed:             5,
		PrescriptionValidDays:      180,
		PartialFillAllowed:         true,
		DEAForm222Required:         false,
		ARCOSReportable:            false,
		PerpetualInventoryRequired: true,
	},
	ScheduleV: {
		Schedule:                   ScheduleV,
		RefillsAllowed:             5,
		PrescriptionValidDays:      180,
		PartialFillAllowed:         true,
		DEAForm222Required:         false,
		ARCOSReportable:            false,
		PerpetualInventoryRequired: true,
	},
	ScheduleLegend: {
		Schedule:                   ScheduleLegend,
		RefillsAllowed:             11,
		PrescriptionValidDays:      365,
		PartialFillAllowed:         true,
		DEAForm222Required:         false,
		ARCOSReportable:            false,
		PerpetualInventoryRequired: false,
	},
	ScheduleOTC: {
		Schedule:                   ScheduleOTC,
		RefillsAllowed:             11,
		PrescriptionValidDays:      365,
		PartialFillAllowed:         true,
		DEAForm222Required:         false,
		ARCOSReportable:            false,
		PerpetualInventoryRequired: false,
	},
}

// RulesFor returns the rule set for a schedule.
func RulesFor(s Schedule) (Rules, bool) {
	r, ok := scheduleRules[s]
	return r, ok
}

// Schedules returns every schedule in the rule table in restrictiveness order.
func Schedules() []Schedule {
	return []Schedule{
		ScheduleI, ScheduleII, ScheduleIII, ScheduleIV, ScheduleV,
		ScheduleLegend, ScheduleOTC,
	}
}

// IsControlled reports whether the schedule is DEA-controlled (I through V).
func (s Schedule) IsControlled() bool {
	switch s {
	case ScheduleI, ScheduleII, ScheduleIII, ScheduleIV, ScheduleV:
		return true
	}
	return false
}

// Dispensable reports whether prescriptions for the schedule can be
// dispensed at all. Schedule I drugs have no accepted medical use, so
// their rule-table row exists only for inventory and reporting duties
// and its refill and validity figures are vacuously zero.
func (s Schedule) Dispensable() bool {
	return s != ScheduleI
}

// IsValid reports whether the schedule is a known tag.
func (s Schedule) IsValid() bool {
	_, ok := scheduleRules[s]
	return ok
}
