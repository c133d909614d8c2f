package track

import "strings"

const (
	track1Separator = '^'
	countryLen      = 3
	expiryLen       = 4
	serviceCodeLen  = 3
	pvvLen          = 5

	// numberFieldMax allows for spaces embedded between digit groups.
	numberFieldMax = 25
)

// parseTrack1 reads an IATA track 1 body:
// format code, PAN ^ [country] name ^ YYMM service code PVV discretionary.
func parseTrack1(body string) (*Data, error) {
	c := &cursor{s: body}
	d := &Data{Source: SourceTrack1, Raw: body}

	fc, ok := c.take(1)
	if !ok || fc[0] < 'A' || fc[0] > 'Z' {
		return nil, ErrMalformed
	}
	d.FormatCode = fc

	rawNumber, ok := c.until(track1Separator, numberFieldMax)
	if !ok {
		return nil, ErrMalformed
	}
	if d.Number, ok = accountNumber(rawNumber); !ok {
		return nil, ErrMalformed
	}

	if hasCountryCode(d.Number) {
		if d.Country, ok = c.takeDigits(countryLen); !ok {
			return nil, ErrMalformed
		}
	}

	name, ok := c.until(track1Separator, NameMax)
	if !ok {
		return nil, ErrMalformed
	}
	d.Name = normalizeName(name)

	if d.Expiry, ok = c.takeDigits(expiryLen); !ok {
		return nil, ErrMalformed
	}
	d.ServiceCode = c.optional(serviceCodeLen)
	d.PVV = c.optional(pvvLen)
	d.Discretionary = c.rest()
	return d, nil
}

// normalizeName turns the stripe's "SURNAME/GIVEN" form into "GIVEN SURNAME".
func normalizeName(name string) string {
	name = strings.TrimSpace(name)
	surname, given, found := strings.Cut(name, "/")
	if !found {
		return name
	}
	given = strings.TrimSpace(given)
	surname = strings.TrimSpace(surname)
	if given == "" {
		return surname
	}
	return given + " " + surname
}
