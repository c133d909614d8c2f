package card

import (
	"errors"
	"fmt"
	"time"

	"github.com/alovak/cardflow-pos/internal/expiry"
	"github.com/alovak/cardflow-pos/internal/pan"
	"github.com/alovak/cardflow-pos/internal/track"
)

var (
	ErrInvalidNumber = fmt.Errorf("invalid card number")
	ErrExpired       = fmt.Errorf("card expired")
	ErrNoCardData    = fmt.Errorf("no card data")
)

// Messages shown to the operator when card data is rejected.
const (
	VerbReadError     = "Card Read Error"
	VerbInvalidNumber = "Invalid Card Number"
	VerbExpired       = "Card Expired"
)

// ParseSwipe loads the record from raw reader output, which may also be a
// "manual ACCOUNT=MMYY" entry. The authoritative source supplies the account
// data; the name always comes from track 1. The card is validated before the
// record is accepted.
func (r *Record) ParseSwipe(raw []byte, now time.Time) error {
	s, err := track.ParseSwipe(raw)
	if s != nil {
		r.stage(s)
	}
	if err != nil {
		r.reject(VerbReadError)
		if errors.Is(err, track.ErrNoData) {
			return ErrNoCardData
		}
		return err
	}

	src := s.Authoritative()
	r.Number = src.Number
	r.Expiry = expiry.Swap(src.Expiry)
	r.Name = s.Name()
	r.Country = src.Country
	r.ServiceCode = src.ServiceCode
	r.Entry = src.Source

	return r.Validate(now)
}

// SetManual loads a keyed account number and MMYY expiry.
func (r *Record) SetManual(number, mmyy string, now time.Time) error {
	r.Manual = TrackBuffer{Raw: number + "=" + mmyy, Read: true}
	r.Number = pan.Normalize(number)
	r.Expiry = mmyy
	r.Entry = track.SourceManual
	return r.Validate(now)
}

// Validate checks the account number's check digit and the expiry date. On
// failure the card data is dropped and Verb carries the operator message.
func (r *Record) Validate(now time.Time) error {
	if !pan.Valid(r.Number) {
		r.reject(VerbInvalidNumber)
		return ErrInvalidNumber
	}
	if err := expiry.Validate(r.Expiry, now); err != nil {
		r.reject(VerbExpired)
		return fmt.Errorf("%w: %w", ErrExpired, err)
	}
	r.Brand = pan.DetectBrand(r.Number)
	if r.Category == CategoryUnknown {
		r.Category = CategoryCredit
	}
	return nil
}

// HasCard reports whether the record carries accepted card data.
func (r *Record) HasCard() bool {
	return r.Number != ""
}

func (r *Record) stage(s *track.Swipe) {
	r.Track1 = buffer(s.Track1)
	r.Track2 = buffer(s.Track2)
	r.Track3 = buffer(s.Track3)
	r.Manual = buffer(s.Manual)
}

func buffer(d *track.Data) TrackBuffer {
	if d == nil {
		return TrackBuffer{}
	}
	return TrackBuffer{Raw: d.Raw, Read: true}
}

func (r *Record) reject(verb string) {
	r.Number = ""
	r.Expiry = ""
	r.Name = ""
	r.Country = ""
	r.ServiceCode = ""
	r.Brand = pan.BrandUnknown
	r.Entry = track.SourceNone
	r.Verb = verb
	r.Track1.Read = false
	r.Track2.Read = false
	r.Track3.Read = false
	r.Manual.Read = false
}
