package models

import (
	"testing"
	"time"
)

func TestIsReportableIsbn(t *testing.T) {
	cases := map[string]bool{
		"9780262551311": true,
		"9790262551318": false, // music prefix
		"0012345678905": false, // UPC
		"978026255131":  false, // too short
		"97802625513111": false,
		"978026255131a": false,
		"":              false,
	}
	for v, want := range cases {
		if got := IsReportableIsbn(v); got != want {
			t.Errorf("IsReportableIsbn(%q) = %v, want %v", v, got, want)
		}
	}
}

func TestParsePubDate_StrictLayout(t *testing.T) {
	if _, err := ParsePubDate("2025-03-01"); err != nil {
		t.Fatalf("valid date rejected: %v", err)
	}
	for _, bad := range []string{"Coming Soon", "03/01/2025", "2025-3-1", "2025-03-01T00:00:00Z", ""} {
		if _, err := ParsePubDate(bad); err == nil {
			t.Errorf("ParsePubDate(%q) accepted, want error", bad)
		}
	}
}

func TestReleaseValidate(t *testing.T) {
	good := Release{Isbn: "9780262551311", ReleasedOn: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), TotalPresales: 3}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid entry rejected: %v", err)
	}

	bad := []Release{
		{Isbn: "garbage", ReleasedOn: good.ReleasedOn},
		{Isbn: "9780262551311"},
		{Isbn: "9780262551311", ReleasedOn: good.ReleasedOn, TotalPresales: -1},
	}
	for i, entry := range bad {
		if err := entry.Validate(); err == nil {
			t.Errorf("case %d: malformed entry accepted", i)
		}
	}
}
