package offer

import "testing"

func TestResolveNextTierOnPurchase(t *testing.T) {
	tests := []struct {
		name  string
		tier  int
		isIAP bool
		want  int
	}{
		{name: "iap advances", tier: 0, isIAP: true, want: 1},
		{name: "iap from 3", tier: 3, isIAP: true, want: 4},
		{name: "iap wraps from top", tier: 4, isIAP: true, want: 3},
		{name: "soft currency keeps tier", tier: 2, isIAP: false, want: 2},
		{name: "out of range is clamped", tier: 9, isIAP: false, want: 4},
		{name: "negative is clamped", tier: -3, isIAP: true, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveNextTierOnPurchase(tt.tier, tt.isIAP); got != tt.want {
				t.Fatalf("ResolveNextTierOnPurchase(%d, %v) = %d, want %d", tt.tier, tt.isIAP, got, tt.want)
			}
		})
	}
}

func TestResolveNextTierOnExpiry(t *testing.T) {
	want := map[int]int{0: 0, 1: 0, 2: 0, 3: 1, 4: 2}
	for tier, w := range want {
		if got := ResolveNextTierOnExpiry(tier); got != w {
			t.Fatalf("ResolveNextTierOnExpiry(%d) = %d, want %d", tier, got, w)
		}
	}
}

func TestTierBounds(t *testing.T) {
	for tier := -10; tier <= 10; tier++ {
		for _, iap := range []bool{true, false} {
			got := ResolveNextTierOnPurchase(tier, iap)
			if got < MinTier || got > MaxTier {
				t.Fatalf("purchase tier %d -> %d out of bounds", tier, got)
			}
		}
		if got := ResolveNextTierOnExpiry(tier); got < MinTier {
			t.Fatalf("expiry tier %d -> %d below zero", tier, got)
		}
	}
}
