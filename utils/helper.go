package utils

import (
	"regexp"
	"time"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func IsValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// WeekWindow returns the seven day reporting window [start, end) ending at
// midnight UTC of the given day.
func WeekWindow(end time.Time) (time.Time, time.Time) {
	end = time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	return end.AddDate(0, 0, -7), end
}
