// Package datetoken finds the YYYYMMDD date embedded in batch file and object names.
package datetoken

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Layout is the on-the-wire form of a date token.
const Layout = "20060102"

var (
	ErrNoToken     = errors.New("no 8-digit date token")
	ErrInvalidDate = errors.New("date token is not a calendar date")
)

var tokenPattern = regexp.MustCompile(`\d{8}`)

// Extract returns the date encoded by the first run of eight digits in the last
// path segment of name, at midnight in loc. A later token is never tried when
// the first one is not a valid date.
func Extract(name string, loc *time.Location) (time.Time, error) {
	token := tokenPattern.FindString(baseName(name))
	if token == "" {
		return time.Time{}, ErrNoToken
	}

	date, err := time.ParseInLocation(Layout, token, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s", ErrInvalidDate, token)
	}
	return date, nil
}

// Format renders the calendar date of t as a token.
func Format(t time.Time) string {
	return t.Format(Layout)
}

// Day truncates t to midnight of its calendar date in its own location.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func baseName(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '/' {
			return name[i+1:]
		}
	}
	return name
}
