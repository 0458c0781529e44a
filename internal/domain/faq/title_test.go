package faq

import "testing"

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"How do I reset my password?", 120, "How do I reset my password"},
		{"  Where   is my order ??  ", 120, "Where is my order"},
		{"Can I change the delivery address after checkout has started?", 30, "Can I change the delivery"},
		{"Supercalifragilisticexpialidocious?", 10, "Supercalif"},
	}
	for _, tc := range tests {
		if got := deriveTitle(tc.in, tc.max); got != tc.want {
			t.Fatalf("deriveTitle(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
	}
}
