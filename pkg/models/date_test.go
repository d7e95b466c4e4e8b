package models

import "testing"

func TestWindowCovers_EndExclusive(t *testing.T) {
	start := MustDate("2025-01-01")
	end := MustDate("2026-01-01")

	tests := []struct {
		name string
		d    string
		want bool
	}{
		{"Before Start", "2024-12-31", false},
		{"Exactly Start", "2025-01-01", true},
		{"Interior", "2025-06-15", true},
		{"Day Before End", "2025-12-31", true},
		{"Exactly End", "2026-01-01", false},
		{"After End", "2026-06-01", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WindowCovers(MustDate(tt.d), start, &end); got != tt.want {
				t.Errorf("WindowCovers(%s) = %v, want %v", tt.d, got, tt.want)
			}
		})
	}
}

func TestWindowCovers_OpenEnd(t *testing.T) {
	start := MustDate("2025-01-01")
	if !WindowCovers(MustDate("2099-12-31"), start, nil) {
		t.Error("open-ended window should cover any future date")
	}
	if WindowCovers(MustDate("2024-12-31"), start, nil) {
		t.Error("open-ended window should not cover dates before start")
	}
}

func TestWindowsOverlap(t *testing.T) {
	d := MustDate
	end := func(s string) *Date { e := d(s); return &e }

	tests := []struct {
		name   string
		aStart string
		aEnd   *Date
		bStart string
		bEnd   *Date
		want   bool
	}{
		{"Disjoint", "2025-01-01", end("2025-06-01"), "2025-07-01", end("2025-12-01"), false},
		{"Touching", "2025-01-01", end("2025-06-01"), "2025-06-01", nil, false},
		{"Nested", "2025-01-01", nil, "2025-03-01", end("2025-04-01"), true},
		{"Identical Open", "2025-01-01", nil, "2025-01-01", nil, true},
		{"Partial", "2025-01-01", end("2025-08-01"), "2025-06-01", end("2025-12-01"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WindowsOverlap(d(tt.aStart), tt.aEnd, d(tt.bStart), tt.bEnd)
			if got != tt.want {
				t.Errorf("WindowsOverlap = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalizeHTS(t *testing.T) {
	tests := []struct{ in, want string }{
		{"8544.42.9090", "8544429090"},
		{"8544429090", "8544429090"},
		{"9903.88.03", "99038803"},
		{" 8473.30.5100 ", "8473305100"},
	}
	for _, tt := range tests {
		if got := NormalizeHTS(tt.in); got != tt.want {
			t.Errorf("NormalizeHTS(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestScopeMatches(t *testing.T) {
	tests := []struct {
		scope, country, group string
		want                  bool
	}{
		{"*", "DE", "EU", true},
		{"CN", "CN", "", true},
		{"CN", "HK", "", false},
		{"CN,HK", "HK", "", true},
		{"group:EU", "DE", "EU", true},
		{"group:EU", "GB", "UK", false},
		{"group:EU", "DE", "", false},
	}
	for _, tt := range tests {
		p := TariffProgram{CountryScope: tt.scope}
		if got := p.ScopeMatches(tt.country, tt.group); got != tt.want {
			t.Errorf("ScopeMatches(%q, %q, %q) = %v, want %v", tt.scope, tt.country, tt.group, got, tt.want)
		}
	}
}
