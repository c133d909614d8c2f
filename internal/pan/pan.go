package pan

import (
	"strconv"
	"strings"
)

// MaxLen is the longest account number a card may carry.
const MaxLen = 19

// luhnBound limits how many characters the checksum scan looks at.
const luhnBound = 20

// Valid reports whether number passes the Luhn checksum. The last scanned digit
// is the check digit; every second digit before it, starting with the one
// immediately preceding it, is doubled.
func Valid(number string) bool {
	s := number
	if len(s) > luhnBound {
		s = s[:luhnBound]
	}
	if len(s) < 2 || !IsDigits(s) {
		return false
	}

	check := int(s[len(s)-1] - '0')
	sum, dbl := 0, true
	for i := len(s) - 2; i >= 0; i-- {
		d := int(s[i] - '0')
		if dbl {
			d *= 2
			if d >= 10 {
				d = d/10 + d%10
			}
		}
		sum += d
		dbl = !dbl
	}
	return roundUp10(sum)-sum == check
}

func roundUp10(n int) int {
	return (n + 9) / 10 * 10
}

// CheckDigit returns the Luhn check digit that completes body.
func CheckDigit(body string) string {
	sum, dbl := 0, true
	for i := len(body) - 1; i >= 0; i-- {
		d := int(body[i] - '0')
		if dbl {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		dbl = !dbl
	}
	cd := (10 - (sum % 10)) % 10
	return string('0' + byte(cd))
}

func IsDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// LastN returns the trailing n characters of s.
func LastN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// Mask hides everything but the last four digits, the form printed on
// receipts and reports.
func Mask(number string) string {
	cleaned := Normalize(number)
	n := len(cleaned)
	if n == 0 {
		return ""
	}
	if n <= 4 {
		return strings.Repeat("*", n)
	}
	return strings.Repeat("*", n-4) + cleaned[n-4:]
}

// Normalize strips spaces, tabs and dashes from a keyed or swiped number.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '-':
			return -1
		default:
			return r
		}
	}, s)
}

// Brand identifies the card network.
type Brand int

const (
	BrandUnknown Brand = iota
	BrandVisa
	BrandMastercard
	BrandAmex
	BrandDiscover
	BrandDinersClub
	BrandJCB
	BrandDebit
)

// Brands lists every network a batch report carries a row for, in report order.
var Brands = []Brand{BrandVisa, BrandMastercard, BrandAmex, BrandDiscover, BrandDinersClub, BrandJCB, BrandDebit}

func (b Brand) String() string {
	switch b {
	case BrandVisa:
		return "Visa"
	case BrandMastercard:
		return "MasterCard"
	case BrandAmex:
		return "American Express"
	case BrandDiscover:
		return "Discover"
	case BrandDinersClub:
		return "Diners Club"
	case BrandJCB:
		return "JCB"
	case BrandDebit:
		return "Debit"
	default:
		return "Unknown"
	}
}

// Code is the three-letter tag the authorization host uses for a brand.
func (b Brand) Code() string {
	switch b {
	case BrandVisa:
		return "VIS"
	case BrandMastercard:
		return "MCD"
	case BrandAmex:
		return "AMX"
	case BrandDiscover:
		return "DSC"
	case BrandDinersClub:
		return "DIN"
	case BrandJCB:
		return "JCB"
	case BrandDebit:
		return "DBT"
	default:
		return "UNK"
	}
}

// BrandFromCode is the inverse of Brand.Code.
func BrandFromCode(code string) Brand {
	for _, b := range Brands {
		if b.Code() == code {
			return b
		}
	}
	return BrandUnknown
}

type iinWindow struct {
	lo, hi int
}

type brandRule struct {
	brand   Brand
	lengths []int
	windows []iinWindow
}

var brandRules = []brandRule{
	{BrandVisa, []int{13, 16}, []iinWindow{{4000, 4999}}},
	{BrandMastercard, []int{16}, []iinWindow{{5100, 5599}}},
	{BrandAmex, []int{15}, []iinWindow{{3400, 3499}, {3700, 3799}}},
	{BrandDiscover, []int{16}, []iinWindow{{6011, 6011}}},
	{BrandDinersClub, []int{14, 16}, []iinWindow{{3000, 3059}, {3600, 3699}, {3800, 3899}}},
	{BrandJCB, []int{16}, []iinWindow{{3528, 3589}}},
}

// DetectBrand classifies number by length and its four-digit IIN prefix.
func DetectBrand(number string) Brand {
	if len(number) < 4 || !IsDigits(number) {
		return BrandUnknown
	}
	iin, err := strconv.Atoi(number[:4])
	if err != nil {
		return BrandUnknown
	}
	for _, rule := range brandRules {
		if !containsInt(rule.lengths, len(number)) {
			continue
		}
		for _, w := range rule.windows {
			if iin >= w.lo && iin <= w.hi {
				return rule.brand
			}
		}
	}
	return BrandUnknown
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
