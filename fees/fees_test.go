package fees

import "testing"

func TestCalculate(t *testing.T) {
	cases := []struct {
		name       string
		gross      int64
		percent    float64
		commission int64
		net        int64
	}{
		{"budget 1000 at 10 percent", 100000, 10, 10000, 90000},
		{"rounds half up", 333, 10, 33, 300},
		{"zero percent", 5000, 0, 0, 5000},
		{"full percent", 5000, 100, 5000, 0},
		{"odd cents round", 999, 12.5, 125, 874},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := Calculate(tc.gross, tc.percent)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if b.GrossCents != tc.gross {
				t.Errorf("gross: got %d want %d", b.GrossCents, tc.gross)
			}
			if b.CommissionCents != tc.commission {
				t.Errorf("commission: got %d want %d", b.CommissionCents, tc.commission)
			}
			if b.WorkerNetCents != tc.net {
				t.Errorf("net: got %d want %d", b.WorkerNetCents, tc.net)
			}
			if b.CommissionCents+b.WorkerNetCents != b.GrossCents {
				t.Errorf("breakdown does not sum to gross: %+v", b)
			}
		})
	}
}

func TestCalculateRejectsBadInput(t *testing.T) {
	if _, err := Calculate(0, 10); err == nil {
		t.Error("expected error for zero gross")
	}
	if _, err := Calculate(-100, 10); err == nil {
		t.Error("expected error for negative gross")
	}
	if _, err := Calculate(1000, -1); err == nil {
		t.Error("expected error for negative percent")
	}
	if _, err := Calculate(1000, 101); err == nil {
		t.Error("expected error for percent above 100")
	}
}
