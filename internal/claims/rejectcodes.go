// Package claims implements the claims adjudication engine: the NCPDP
// reject-code knowledge base, refill-eligibility date math, cash pricing,
// and prior-authorization validity. Every function is pure and stateless;
// the package owns no persistent entity.
package claims

// RejectCodeResolution describes how staff resolve a payer reject code.
// Entries are read-only reference data, never mutated at runtime.
type RejectCodeResolution struct {
	Code                     string   `json:"code"`
	Description              string   `json:"description"`
	CommonCauses             []string `json:"common_causes"`
	ResolutionSteps          []string `json:"resolution_steps"`
	PharmacistReviewRequired bool     `json:"pharmacist_review_required"`
	OverrideAllowed          bool     `json:"override_allowed"`
	ValidOverrideCodes       []string `json:"valid_override_codes,omitempty"`
}

// rejectCodes is the closed knowledge base keyed by NCPDP reject code.
var rejectCodes = map[string]RejectCodeResolution{
	"25": {
		Code:        "25",
		Description: "Missing/invalid prescriber ID",
		CommonCauses: []string{
			"prescriber DEA or NPI missing from the claim",
			"prescriber identifier fails payer validation",
		},
		ResolutionSteps: []string{
			"verify prescriber NPI and DEA on the prescription",
			"correct the submitted identifier and resubmit",
		},
		PharmacistReviewRequired: false,
		OverrideAllowed:          false,
	},
	"65": {
		Code:        "65",
		Description: "Patient is not covered",
		CommonCauses: []string{
			"coverage terminated before date of service",
			"patient not found under submitted cardholder ID",
		},
		ResolutionSteps: []string{
			"re-verify eligibility with the current insurance card",
			"offer cash price if coverage cannot be confirmed",
		},
		PharmacistReviewRequired: false,
		OverrideAllowed:          false,
	},
	"66": {
		Code:        "66",
		Description: "Patient age exceeds maximum age",
		CommonCauses: []string{
			"plan age limit for the product",
			"incorrect date of birth on file",
		},
		ResolutionSteps: []string{
			"confirm patient date of birth",
			"contact plan for an age-limit exception",
		},
		PharmacistReviewRequired: true,
		OverrideAllowed:          false,
	},
	"70": {
		Code:        "70",
		Description: "Product/service not covered",
		CommonCauses: []string{
			"drug excluded from the plan formulary",
			"plan requires a therapeutic alternative",
		},
		ResolutionSteps: []string{
			"check the plan formulary for covered alternatives",
			"contact the prescriber for a formulary switch",
			"offer cash price or discount program",
		},
		PharmacistReviewRequired: true,
		OverrideAllowed:          false,
	},
	"75": {
		Code:        "75",
		Description: "Prior authorization required",
		CommonCauses: []string{
			"drug requires PA before the plan will pay",
			"existing PA expired or exhausted",
		},
		ResolutionSteps: []string{
			"submit prior authorization request to the PBM",
			"notify the prescriber's office to supply clinical documentation",
			"hold the fill in prior-auth pending until a determination",
		},
		PharmacistReviewRequired: false,
		OverrideAllowed:          true,
		ValidOverrideCodes:       []string{"PA_ON_FILE"},
	},
	"76": {
		Code:        "76",
		Description: "Plan limitations exceeded",
		CommonCauses: []string{
			"quantity exceeds plan limit per dispensing",
			"days supply exceeds plan maximum",
		},
		ResolutionSteps: []string{
			"reduce quantity or days supply to the plan limit",
			"request a quantity-limit exception",
		},
		PharmacistReviewRequired: false,
		OverrideAllowed:          true,
		ValidOverrideCodes:       []string{"QTY_LIMIT_EXCEPTION"},
	},
	"79": {
		Code:        "79",
		Description: "Refill too soon",
		CommonCauses: []string{
			"refill attempted before the plan's utilization percentage elapsed",
			"vacation or dose-change fill",
		},
		ResolutionSteps: []string{
			"recalculate the eligible refill date from the last fill",
			"apply an early-refill override when plan policy permits",
		},
		PharmacistReviewRequired: false,
		OverrideAllowed:          true,
		ValidOverrideCodes:       []string{"VACATION_SUPPLY", "LOST_MEDICATION", "DOSE_CHANGE"},
	},
	"88": {
		Code:        "88",
		Description: "DUR reject",
		CommonCauses: []string{
			"drug-drug interaction flagged by the payer",
			"therapeutic duplication",
			"high-dose alert",
		},
		ResolutionSteps: []string{
			"pharmacist reviews the DUR conflict against the patient profile",
			"consult the prescriber when clinically warranted",
			"submit DUR override codes (reason/professional service/result) if appropriate",
		},
		PharmacistReviewRequired: true,
		OverrideAllowed:          true,
		ValidOverrideCodes:       []string{"DUR_1A", "DUR_1B", "DUR_1C"},
	},
	"MR": {
		Code:        "MR",
		Description: "Product not on formulary",
		CommonCauses: []string{
			"non-formulary brand submitted where generic is preferred",
		},
		ResolutionSteps: []string{
			"substitute the formulary generic when substitution is permitted",
			"request a non-formulary exception otherwise",
		},
		PharmacistReviewRequired: false,
		OverrideAllowed:          true,
		ValidOverrideCodes:       []string{"DAW_1_PRESCRIBER"},
	},
}

// ResolveRejectCode looks up a payer reject code in the knowledge base.
// It returns nil for codes outside the table; callers must treat nil as
// "escalate to a human", never as "no issue".
func ResolveRejectCode(code string) *RejectCodeResolution {
	r, ok := rejectCodes[code]
	if !ok {
		return nil
	}
	return &r
}

// IsValidOverrideCode reports whether an override code is acceptable for
// the given reject code.
func IsValidOverrideCode(rejectCode, overrideCode string) bool {
	r, ok := rejectCodes[rejectCode]
	if !ok || !r.OverrideAllowed {
		return false
	}
	for _, c := range r.ValidOverrideCodes {
		if c == overrideCode {
			return true
		}
	}
	return false
}
