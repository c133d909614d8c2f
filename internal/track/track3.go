package track

// formatExtended is the track 3 format code that adds the subsidiary account
// and cryptographic check sub-fields.
const formatExtended = "01"

// Track3Fields are the ISO 4909 financial sub-fields. Few are used after
// parsing, but every one is consumed so later offsets line up.
type Track3Fields struct {
	Currency           string
	CurrencyExponent   string
	AmountAuthorized   string
	AmountRemaining    string
	CycleBegin         string
	CycleLength        string
	RetryCount         string
	PINControl         string
	InterchangeControl string
	PANService         string
	SAN1Service        string
	SAN2Service        string
	CardSequence       string
	SecurityNumber     string
	SAN1               string
	SAN2               string
	RelayMarker        string
	CryptoCheck        string
}

type fixedField struct {
	width    int
	dst      *string
	extended bool
}

// parseTrack3 reads a track 3 body: format code, PAN = then the fixed-width
// financial layout.
func parseTrack3(body string) (*Data, error) {
	c := &cursor{s: body}
	d := &Data{Source: SourceTrack3, Raw: body, Track3: &Track3Fields{}}
	t := d.Track3

	var ok bool
	if d.FormatCode, ok = c.takeDigits(2); !ok {
		return nil, ErrMalformed
	}
	ext := d.FormatCode == formatExtended

	rawNumber, ok := c.until(track2Separator, numberFieldMax)
	if !ok {
		return nil, ErrMalformed
	}
	if d.Number, ok = accountNumber(rawNumber); !ok {
		return nil, ErrMalformed
	}

	head := []fixedField{
		{countryLen, &d.Country, false},
		{3, &t.Currency, false},
		{1, &t.CurrencyExponent, false},
		{4, &t.AmountAuthorized, false},
		{4, &t.AmountRemaining, false},
		{4, &t.CycleBegin, false},
		{2, &t.CycleLength, false},
		{1, &t.RetryCount, false},
		{6, &t.PINControl, false},
		{1, &t.InterchangeControl, false},
		{2, &t.PANService, false},
		{2, &t.SAN1Service, true},
		{2, &t.SAN2Service, true},
	}
	if err := takeFields(c, head, ext); err != nil {
		return nil, err
	}

	if d.Expiry, ok = c.takeDigits(expiryLen); !ok {
		return nil, ErrMalformed
	}

	tail := []fixedField{
		{1, &t.CardSequence, false},
		{9, &t.SecurityNumber, false},
	}
	if err := takeFields(c, tail, ext); err != nil {
		return nil, err
	}

	if ext {
		if t.SAN1, ok = c.until(track2Separator, numberFieldMax); !ok {
			return nil, ErrMalformed
		}
		if t.SAN2, ok = c.until(track2Separator, numberFieldMax); !ok {
			return nil, ErrMalformed
		}
		if t.RelayMarker, ok = c.take(1); !ok {
			return nil, ErrMalformed
		}
		if t.CryptoCheck, ok = c.take(6); !ok {
			return nil, ErrMalformed
		}
	}
	d.Discretionary = c.rest()
	return d, nil
}

func takeFields(c *cursor, fields []fixedField, ext bool) error {
	for _, f := range fields {
		if f.extended && !ext {
			continue
		}
		v, ok := c.take(f.width)
		if !ok {
			return ErrMalformed
		}
		*f.dst = v
	}
	return nil
}
