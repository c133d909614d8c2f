package track

const track2Separator = '='

// parseTrack2 reads an ABA track 2 body:
// PAN = [country] YYMM service code PVV discretionary.
func parseTrack2(body string) (*Data, error) {
	c := &cursor{s: body}
	d := &Data{Source: SourceTrack2, Raw: body}

	rawNumber, ok := c.until(track2Separator, numberFieldMax)
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
	if d.Expiry, ok = c.takeDigits(expiryLen); !ok {
		return nil, ErrMalformed
	}
	d.ServiceCode = c.optional(serviceCodeLen)
	d.PVV = c.optional(pvvLen)
	d.Discretionary = c.rest()
	return d, nil
}
