package claims

import "testing"

func TestResolveRejectCodeKnownCodes(t *testing.T) {
	tests := []struct {
		code              string
		wantPharmacist    bool
		wantOverride      bool
		wantOverrideCodes int
	}{
		{"70", true, false, 0},
		{"75", false, true, 1},
		{"79", false, true, 3},
		{"88", true, true, 3},
		{"25", false, false, 0},
		{"65", false, false, 0},
	}

	for _, tt := range tests {
		r := ResolveRejectCode(tt.code)
		if r == nil {
			t.Fatalf("code %s should be in the knowledge base", tt.code)
		}
		if r.PharmacistReviewRequired != tt.wantPharmacist {
			t.Errorf("code %s: pharmacist review = %v, want %v", tt.code, r.PharmacistReviewRequired, tt.wantPharmacist)
		}
		if r.OverrideAllowed != tt.wantOverride {
			t.Errorf("code %s: override allowed = %v, want %v", tt.code, r.OverrideAllowed, tt.wantOverride)
		}
		if len(r.ValidOverrideCodes) != tt.wantOverrideCodes {
			t.Errorf("code %s: %d override codes, want %d", tt.code, len(r.ValidOverrideCodes), tt.wantOverrideCodes)
		}
		if len(r.ResolutionSteps) == 0 {
			t.Errorf("code %s: resolution steps must not be empty", tt.code)
		}
	}
}

func TestResolveRejectCodeUnknownIsNil(t *testing.T) {
	for _, code := range []string{"", "00", "999", "ZZ"} {
		if r := ResolveRejectCode(code); r != nil {
			t.Errorf("unknown code %q must resolve to nil, got %+v", code, r)
		}
	}
}

func TestResolveRejectCodeReturnsCopy(t *testing.T) {
	r := ResolveRejectCode("79")
	r.OverrideAllowed = false
	r.ValidOverrideCodes = nil

	again := ResolveRejectCode("79")
	if !again.OverrideAllowed || len(again.ValidOverrideCodes) == 0 {
		t.Error("knowledge base entry was mutated through a resolved copy")
	}
}

func TestIsValidOverrideCode(t *testing.T) {
	if !IsValidOverrideCode("79", "VACATION_SUPPLY") {
		t.Error("VACATION_SUPPLY is a valid early-refill override")
	}
	if IsValidOverrideCode("79", "DUR_1A") {
		t.Error("DUR codes do not apply to refill-too-soon")
	}
	if IsValidOverrideCode("70", "ANY") {
		t.Error("code 70 permits no override")
	}
	if IsValidOverrideCode("999", "ANY") {
		t.Error("unknown reject code permits no override")
	}
}
