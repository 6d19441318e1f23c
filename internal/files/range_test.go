package files

import "testing"

// TestParseRange covers the three accepted forms and clamping.
func TestParseRange(t *testing.T) {
	cases := []struct {
		spec       string
		size       int64
		start, end int64
		wantErr    bool
	}{
		{"bytes=2-5", 10, 2, 5, false},
		{"bytes=2-", 10, 2, 9, false},
		{"bytes=-3", 10, 7, 9, false},
		{"bytes=0-0", 10, 0, 0, false},
		{"bytes=2-999", 10, 2, 9, false}, // end clamps to size-1
		{"bytes=-999", 10, 0, 9, false},  // suffix clamps to size
		{"bytes=10-", 10, 0, 0, true},    // start past EOF
		{"bytes=5-2", 10, 0, 0, true},
		{"bytes=2-3,5-6", 10, 0, 0, true}, // multi-range rejected
		{"bytes=", 10, 0, 0, true},
		{"octets=1-2", 10, 0, 0, true},
		{"bytes=-0", 10, 0, 0, true},
	}
	for _, c := range cases {
		r, err := parseRange(c.spec, c.size)
		if c.wantErr {
			if err == nil {
				t.Errorf("parseRange(%q, %d): expected error", c.spec, c.size)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseRange(%q, %d): %v", c.spec, c.size, err)
			continue
		}
		if r.start != c.start || r.end != c.end {
			t.Errorf("parseRange(%q, %d) = %d-%d, want %d-%d", c.spec, c.size, r.start, r.end, c.start, c.end)
		}
	}
}
