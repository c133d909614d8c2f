package expiry

import (
	"errors"
	"testing"
	"time"
)

func TestSwap(t *testing.T) {
	if got := Swap("2501"); got != "0125" {
		t.Fatalf("Swap got %s want 0125", got)
	}
	if got := Swap(Swap("3012")); got != "3012" {
		t.Fatalf("double Swap got %s want 3012", got)
	}
	if got := Swap("123"); got != "123" {
		t.Fatalf("Swap must leave short input alone, got %s", got)
	}
}

func TestCardFace(t *testing.T) {
	if got := CardFace("0125"); got != "01/25" {
		t.Fatalf("CardFace got %s want 01/25", got)
	}
}

func TestFromTime(t *testing.T) {
	now := time.Date(2029, time.December, 15, 0, 0, 0, 0, time.UTC)
	if got := FromTime(now); got != "1229" {
		t.Fatalf("FromTime got %s want 1229", got)
	}
}

func TestValidate(t *testing.T) {
	now := time.Date(2026, time.October, 16, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		in   string
		want error
	}{
		{"1026", nil},          // current month
		{"0926", ErrExpired},   // one month before, same year
		{"0127", nil},          // next year
		{"1225", ErrExpired},   // last year
		{"1336", ErrMonth},     // month 13
		{"1326", ErrMonth},     // month 13 current year
		{"0036", ErrMonth},     // month 0
		{"1236", nil},          // ten years ahead
		{"0137", ErrTooFar},    // eleven years ahead
		{"12a6", ErrFormat},    // non digit
		{"126", ErrFormat},     // short
	}
	for _, c := range cases {
		err := Validate(c.in, now)
		if !errors.Is(err, c.want) {
			t.Fatalf("Validate(%s) err=%v want %v", c.in, err, c.want)
		}
	}
}

func TestValidate_Month13AnyYear(t *testing.T) {
	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	for yy := 0; yy < 100; yy++ {
		mmyy := "13" + string('0'+byte(yy/10)) + string('0'+byte(yy%10))
		if err := Validate(mmyy, now); err == nil {
			t.Fatalf("Validate(%s) must fail", mmyy)
		}
	}
}

func TestValidateYYMM(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{"3002", true}, {"9912", true}, {"0001", true},
		{"123", false}, {"12a4", false}, {"3013", false}, {"0000", false},
	}
	for _, c := range cases {
		err := ValidateYYMM(c.in)
		if (err == nil) != c.ok {
			t.Fatalf("ValidateYYMM(%s) ok=%v got err=%v", c.in, c.ok, err)
		}
	}
}
