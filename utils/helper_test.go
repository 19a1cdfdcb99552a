package utils

import (
	"testing"
	"time"
)

func TestWeekWindow(t *testing.T) {
	end := time.Date(2025, 4, 10, 15, 30, 0, 0, time.UTC)
	start, got := WeekWindow(end)
	if got != time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC) {
		t.Fatalf("end not truncated to midnight: %v", got)
	}
	if start != time.Date(2025, 4, 3, 0, 0, 0, 0, time.UTC) {
		t.Fatalf("start %v, want seven days before end", start)
	}
}

func TestIsValidEmail(t *testing.T) {
	if !IsValidEmail("ops@kalbooks.example") {
		t.Fatal("valid address rejected")
	}
	if IsValidEmail("not-an-address") {
		t.Fatal("invalid address accepted")
	}
}
