// Package testcard makes Luhn-valid test cards and the reader output a swipe
// of them produces. It is meant for simulators and demos, never for issuing.
package testcard

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/alovak/cardflow-pos/internal/expiry"
	"github.com/alovak/cardflow-pos/internal/pan"
	"github.com/alovak/cardflow-pos/internal/track"
)

// serviceCode is international, normal authorization, no restrictions.
const serviceCode = "101"

// maxNameLen is the longest cardholder name track 1 carries.
const maxNameLen = 26

type binRule struct {
	bin    string
	length int
}

// well-known test ranges, one per brand
var bins = map[pan.Brand]binRule{
	pan.BrandVisa:       {"476173", 16},
	pan.BrandMastercard: {"510510", 16},
	pan.BrandAmex:       {"371449", 15},
	pan.BrandDiscover:   {"601100", 16},
	pan.BrandDinersClub: {"305693", 14},
	pan.BrandJCB:        {"353011", 16},
}

// Card is a generated test card. Expiry is MMYY as printed on the card.
type Card struct {
	Number string
	Expiry string
	Name   string
}

// short names accepted besides the brand name and host code
var aliases = map[string]pan.Brand{
	"mc":     pan.BrandMastercard,
	"amex":   pan.BrandAmex,
	"diners": pan.BrandDinersClub,
}

// ParseBrand accepts a brand's name, a short alias or its host code, in any
// case.
func ParseBrand(s string) (pan.Brand, error) {
	if b, ok := aliases[strings.ToLower(s)]; ok {
		return b, nil
	}
	for _, b := range pan.Brands {
		if strings.EqualFold(s, b.String()) || strings.EqualFold(s, b.Code()) {
			if _, ok := bins[b]; ok {
				return b, nil
			}
		}
	}
	return pan.BrandUnknown, fmt.Errorf("no test range for brand %q", s)
}

// New makes a card of brand expiring years after now.
func New(brand pan.Brand, now time.Time, years int, name string) (Card, error) {
	rule, ok := bins[brand]
	if !ok {
		return Card{}, fmt.Errorf("no test range for %s", brand)
	}
	if years < 1 || years > expiry.MaxYearsAhead {
		return Card{}, fmt.Errorf("years must be 1..%d", expiry.MaxYearsAhead)
	}
	number, err := GenerateNumber(rule.bin, rule.length, "")
	if err != nil {
		return Card{}, err
	}
	return Card{
		Number: number,
		Expiry: expiry.FromTime(now.AddDate(years, 0, 0)),
		Name:   normalizeName(name),
	}, nil
}

// Swipe is the reader output for a swipe of c: track 1 followed by track 2.
func (c Card) Swipe() []byte {
	yymm := expiry.Swap(c.Expiry)
	name := c.Name
	if name == "" {
		name = "TEST/CARD"
	}
	return []byte(fmt.Sprintf("%%B%s^%s^%s%s00000?;%s=%s%s00000?",
		c.Number, name, yymm, serviceCode,
		c.Number, yymm, serviceCode))
}

// Keyed is the reader output for keyed entry of c.
func (c Card) Keyed() []byte {
	return track.Keyed(c.Number, c.Expiry)
}

// normalizeName puts a cardholder name in track 1 order, LAST/FIRST.
func normalizeName(name string) string {
	fields := strings.Fields(strings.ToUpper(name))
	if len(fields) == 0 {
		return ""
	}
	out := fields[len(fields)-1]
	if len(fields) > 1 {
		out += "/" + strings.Join(fields[:len(fields)-1], " ")
	}
	if len(out) > maxNameLen {
		out = out[:maxNameLen]
	}
	return out
}

// GenerateNumber makes a length-digit account number under bin whose last
// digit is the Luhn check digit. A non-empty serial sits right before the
// check digit; the digits between bin and serial are random.
func GenerateNumber(bin string, length int, serial string) (string, error) {
	switch {
	case len(bin) != 6 && len(bin) != 8:
		return "", fmt.Errorf("bin %q: want 6 or 8 digits", bin)
	case !pan.IsDigits(bin):
		return "", fmt.Errorf("bin %q: not numeric", bin)
	case length < 13 || length > pan.MaxLen:
		return "", fmt.Errorf("length %d outside 13..%d", length, pan.MaxLen)
	case serial != "" && !pan.IsDigits(serial):
		return "", fmt.Errorf("serial %q: not numeric", serial)
	case len(bin)+len(serial) >= length:
		return "", fmt.Errorf("bin and serial leave no room in %d digits", length)
	}

	body := make([]byte, length-1)
	copy(body, bin)
	copy(body[len(body)-len(serial):], serial)
	for i := len(bin); i < len(body)-len(serial); i++ {
		body[i] = '0' + byte(rand.IntN(10))
	}
	return string(body) + pan.CheckDigit(string(body)), nil
}
