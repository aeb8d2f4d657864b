package utils

import "testing"

func TestUpperFirst(t *testing.T) {
	cases := []struct {
		in, out string
	}{
		{"alice", "Alice"},
		{"Alice", "Alice"},
		{"élan", "Élan"},
		{"alice smith", "Alice smith"},
		{"1st", "1st"},
		{"", ""},
	}
	for _, c := range cases {
		if got := UpperFirst(c.in); got != c.out {
			t.Errorf("UpperFirst(%q) = %q, expected %q", c.in, got, c.out)
		}
	}
}

