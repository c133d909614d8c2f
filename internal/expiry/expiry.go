package expiry

import (
	"errors"
	"fmt"
	"time"
)

// MaxYearsAhead is how far in the future a card expiry may lie.
const MaxYearsAhead = 10

var (
	ErrFormat  = errors.New("expiry must be 4 digits")
	ErrMonth   = errors.New("expiry month must be 01..12")
	ErrExpired = errors.New("card expired")
	ErrTooFar  = errors.New("expiry too far in the future")
)

// Swap reverses the two digit pairs of a 4-digit expiry, turning the YYMM
// stored on the stripe into MMYY and back.
func Swap(s string) string {
	if len(s) != 4 {
		return s
	}
	return s[2:] + s[:2]
}

// CardFace formats MMYY as MM/YY.
func CardFace(mmyy string) string {
	if len(mmyy) != 4 {
		return mmyy
	}
	return mmyy[:2] + "/" + mmyy[2:]
}

// FromTime returns the MMYY expiry for the month containing t.
func FromTime(t time.Time) string {
	return fmt.Sprintf("%02d%02d", int(t.Month()), t.Year()%100)
}

// Validate checks an MMYY expiry against now. A card is good through the end
// of its expiry month and for at most MaxYearsAhead years.
func Validate(mmyy string, now time.Time) error {
	if len(mmyy) != 4 || !digits(mmyy) {
		return ErrFormat
	}
	mm := int(mmyy[0]-'0')*10 + int(mmyy[1]-'0')
	yy := int(mmyy[2]-'0')*10 + int(mmyy[3]-'0')
	if mm < 1 || mm > 12 {
		return ErrMonth
	}

	year := 2000 + yy
	curYear, curMonth := now.Year(), int(now.Month())
	switch {
	case year < curYear:
		return ErrExpired
	case year > curYear+MaxYearsAhead:
		return ErrTooFar
	case year == curYear && mm < curMonth:
		return ErrExpired
	}
	return nil
}

// ValidateYYMM checks stripe-order expiry digits without looking at the clock.
func ValidateYYMM(yymm string) error {
	if len(yymm) != 4 || !digits(yymm) {
		return ErrFormat
	}
	mm := int(yymm[2]-'0')*10 + int(yymm[3]-'0')
	if mm < 1 || mm > 12 {
		return ErrMonth
	}
	return nil
}

func digits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
