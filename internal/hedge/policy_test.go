package hedge

import (
	"math"
	"testing"
)

func TestTargetHedgeOffsetsDelta(t *testing.T) {
	cases := []struct {
		delta float64
		want  float64
	}{
		{delta: -0.8, want: 0.8},
		{delta: 1.4, want: -1.4},
		{delta: 0, want: 0},
	}
	for _, tc := range cases {
		if got := TargetHedge(tc.delta); got != tc.want {
			t.Errorf("TargetHedge(%v) = %v, want %v", tc.delta, got, tc.want)
		}
	}
}

func TestDirection(t *testing.T) {
	cases := []struct {
		name string
		gap  float64
		want Side
	}{
		{name: "under-hedged buys", gap: 0.8, want: SideBuy},
		{name: "over-hedged sells", gap: -0.3, want: SideSell},
		{name: "tiny positive gap buys", gap: 1e-12, want: SideBuy},
		{name: "tiny negative gap sells", gap: -1e-12, want: SideSell},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Direction(tc.gap); got != tc.want {
				t.Fatalf("Direction(%v) = %v, want %v", tc.gap, got, tc.want)
			}
		})
	}
}

func TestSizeOrder(t *testing.T) {
	cases := []struct {
		name      string
		gap       float64
		tolerance float64
		minSize   float64
		decimals  int
		wantSize  float64
		wantOK    bool
	}{
		{name: "gap above tolerance", gap: 0.8, tolerance: 0.05, minSize: 0.005, decimals: 4, wantSize: 0.8, wantOK: true},
		{name: "negative gap uses magnitude", gap: -0.8, tolerance: 0.05, minSize: 0.005, decimals: 4, wantSize: 0.8, wantOK: true},
		{name: "gap equal to tolerance stays put", gap: 0.05, tolerance: 0.05, minSize: 0.005, decimals: 4, wantOK: false},
		{name: "gap just above tolerance trades", gap: 0.0501, tolerance: 0.05, minSize: 0.005, decimals: 4, wantSize: 0.0501, wantOK: true},
		{name: "gap below tolerance stays put", gap: 0.01, tolerance: 0.05, minSize: 0.005, decimals: 4, wantOK: false},
		{name: "rounds down to increment", gap: 0.123456789, tolerance: 0.05, minSize: 0.005, decimals: 4, wantSize: 0.1234, wantOK: true},
		{name: "rounded size under venue minimum", gap: 0.06, tolerance: 0.05, minSize: 0.1, decimals: 4, wantOK: false},
		{name: "rounds to zero", gap: 0.0001, tolerance: 0, decimals: 2, wantOK: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			size, ok := SizeOrder(tc.gap, tc.tolerance, tc.minSize, tc.decimals)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if tc.wantOK && math.Abs(size-tc.wantSize) > 1e-12 {
				t.Fatalf("size = %v, want %v", size, tc.wantSize)
			}
		})
	}
}

func TestWorstPrice(t *testing.T) {
	if got := WorstPrice(SideBuy, 200, 0.01); math.Abs(got-202) > 1e-9 {
		t.Fatalf("buy worst price = %v, want 202", got)
	}
	if got := WorstPrice(SideSell, 200, 0.01); math.Abs(got-198) > 1e-9 {
		t.Fatalf("sell worst price = %v, want 198", got)
	}
}
