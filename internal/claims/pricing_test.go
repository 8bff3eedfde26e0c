package claims

import "testing"

func TestCalculateCashPrice(t *testing.T) {
	tests := []struct {
		name        string
		acquisition float64
		fee         float64
		markup      float64
		minimum     *float64
		wantFinal   float64
	}{
		{"default markup", 10.00, 2.00, 0, nil, 14.00},
		{"explicit markup", 10.00, 2.00, 50, nil, 17.00},
		{"rounding to cents", 3.333, 1.00, 20, nil, 5.00},
		{"minimum floor applies", 1.00, 0.50, 20, ptr(4.99), 4.99},
		{"minimum below calculated ignored", 10.00, 2.00, 20, ptr(5.00), 14.00},
		{"zero acquisition", 0, 1.50, 20, nil, 1.50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CalculateCashPrice(tt.acquisition, tt.fee, tt.markup, tt.minimum)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Final != tt.wantFinal {
				t.Errorf("final = %v, want %v", got.Final, tt.wantFinal)
			}
		})
	}

	if _, err := CalculateCashPrice(-1, 0, 20, nil); err == nil {
		t.Error("negative acquisition cost must error")
	}
	if _, err := CalculateCashPrice(1, -1, 20, nil); err == nil {
		t.Error("negative dispensing fee must error")
	}
	if _, err := CalculateCashPrice(1, 0, -5, nil); err == nil {
		t.Error("negative markup must error")
	}
}

func TestComparePricingOptions(t *testing.T) {
	t.Run("no insurance recommends cash", func(t *testing.T) {
		comp, err := ComparePricingOptions(nil, 12.50)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !comp.RecommendCash {
			t.Error("missing insurance option must recommend cash")
		}
	})

	t.Run("cash cheaper", func(t *testing.T) {
		comp, err := ComparePricingOptions(ptr(25.00), 12.50)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !comp.RecommendCash || comp.Savings != 12.50 {
			t.Errorf("got recommendCash=%v savings=%v, want cash with 12.50 savings", comp.RecommendCash, comp.Savings)
		}
	})

	t.Run("insurance cheaper", func(t *testing.T) {
		comp, err := ComparePricingOptions(ptr(5.00), 12.50)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if comp.RecommendCash || comp.Savings != 7.50 {
			t.Errorf("got recommendCash=%v savings=%v, want insurance with 7.50 savings", comp.RecommendCash, comp.Savings)
		}
	})

	t.Run("tie recommends neither", func(t *testing.T) {
		comp, err := ComparePricingOptions(ptr(20.00), 20.00)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if comp.RecommendCash {
			t.Error("a tie must not default to cash")
		}
		if comp.Savings != 0 {
			t.Errorf("tie savings = %v, want 0", comp.Savings)
		}
		if comp.Recommendation != "prices are equal; no savings either way" {
			t.Errorf("unexpected tie message %q", comp.Recommendation)
		}
	})

	if _, err := ComparePricingOptions(ptr(-1.0), 5); err == nil {
		t.Error("negative insurance pay must error")
	}
	if _, err := ComparePricingOptions(nil, -5); err == nil {
		t.Error("negative cash price must error")
	}
}

func ptr(v float64) *float64 { return &v }
