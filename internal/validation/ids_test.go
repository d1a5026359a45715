package validation

import (
	"strings"
	"testing"
)

func TestIsValidID(t *testing.T) {
	tests := []struct {
		name  string
		id    string
		valid bool
	}{
		{
			name:  "uuid",
			id:    "1b4e28ba-2fa1-11d2-883f-0016d3cca427",
			valid: true,
		},
		{
			name:  "sku id",
			id:    "sku_csm_1",
			valid: true,
		},
		{
			name:  "namespaced",
			id:    "race:42.retry",
			valid: true,
		},
		{
			name:  "empty string",
			id:    "",
			valid: false,
		},
		{
			name:  "contains space",
			id:    "op 1",
			valid: false,
		},
		{
			name:  "non ascii",
			id:    "опер",
			valid: false,
		},
		{
			name:  "too long",
			id:    strings.Repeat("a", MaxIDLength+1),
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidID(tt.id)
			if got != tt.valid {
				t.Fatalf("IsValidID(%q) = %v, want %v", tt.id, got, tt.valid)
			}
		})
	}
}

func TestIsValidQuantity(t *testing.T) {
	for _, q := range []int64{0, -1, MaxQuantity + 1} {
		if IsValidQuantity(q) {
			t.Fatalf("IsValidQuantity(%d) = true, want false", q)
		}
	}
	if !IsValidQuantity(1) || !IsValidQuantity(MaxQuantity) {
		t.Fatal("bounds must be valid")
	}
}
