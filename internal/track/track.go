// Package track extracts cardholder data from magnetic-stripe reader output
// and from keyed manual entry.
package track

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/alovak/cardflow-pos/internal/pan"
)

const (
	Track1Max = 79
	Track2Max = 40
	Track3Max = 107
	NameMax   = 26

	startTrack1 = '%'
	startTrack2 = ';'
	endSentinel = '?'

	manualPrefix = "manual "
)

var (
	// ErrMalformed marks a track whose layout could not be read. Other tracks
	// of the same swipe are still parsed.
	ErrMalformed = errors.New("malformed track data")
	ErrNoData    = errors.New("no card data")
)

// Source identifies where a Data value came from.
type Source int

const (
	SourceNone Source = iota
	SourceTrack1
	SourceTrack2
	SourceTrack3
	SourceManual
)

func (s Source) String() string {
	switch s {
	case SourceTrack1:
		return "track1"
	case SourceTrack2:
		return "track2"
	case SourceTrack3:
		return "track3"
	case SourceManual:
		return "manual"
	default:
		return "none"
	}
}

// Data holds the fields read from one track or from manual entry. Expiry is
// kept in stripe order (YYMM).
type Data struct {
	Source        Source
	Raw           string
	FormatCode    string
	Number        string
	Country       string
	Name          string
	Expiry        string
	ServiceCode   string
	PVV           string
	Discretionary string

	// Track3 carries the financial sub-fields only present on track 3.
	Track3 *Track3Fields
}

// Swipe is the result of parsing one reader event. Each slot is nil when the
// track was absent or could not be read.
type Swipe struct {
	Track1 *Data
	Track2 *Data
	Track3 *Data
	Manual *Data

	// Errs records one entry per track that failed to parse.
	Errs []error
}

// Authoritative returns the highest priority source that produced data:
// track1, then track2, then track3, then manual entry.
func (s *Swipe) Authoritative() *Data {
	for _, d := range []*Data{s.Track1, s.Track2, s.Track3, s.Manual} {
		if d != nil && d.Number != "" {
			return d
		}
	}
	return nil
}

// Name returns the cardholder name; only track 1 carries one.
func (s *Swipe) Name() string {
	if s.Track1 != nil {
		return s.Track1.Name
	}
	return ""
}

// Empty reports whether no source produced an account number.
func (s *Swipe) Empty() bool {
	return s.Authoritative() == nil
}

// ParseSwipe reads raw reader output. Tracks are located in sequence using
// the offset each extractor consumed. A track that fails to parse is recorded
// in Swipe.Errs and skipped.
func ParseSwipe(raw []byte) (*Swipe, error) {
	s := &Swipe{}
	if bytes.HasPrefix(raw, []byte(manualPrefix)) {
		d, err := parseManual(string(raw[len(manualPrefix):]))
		if err != nil {
			s.Errs = append(s.Errs, err)
			return s, ErrNoData
		}
		s.Manual = d
		return s, nil
	}

	semis := 0
	for pos := 0; pos < len(raw); {
		switch raw[pos] {
		case startTrack1:
			body, next, err := extract(raw, pos, Track1Max)
			pos = next
			if err == nil {
				s.Track1, err = parseTrack1(body)
			}
			if err != nil {
				s.Errs = append(s.Errs, fmt.Errorf("track1: %w", err))
			}
		case startTrack2:
			// the first ';' block is track 2 unless it is too long to be one
			body, next, err := extract(raw, pos, Track3Max)
			pos = next
			third := semis > 0 || len(body) > Track2Max
			semis++
			if err == nil && third {
				s.Track3, err = parseTrack3(body)
			} else if err == nil {
				s.Track2, err = parseTrack2(body)
			}
			if err != nil {
				name := "track2"
				if third {
					name = "track3"
				}
				s.Errs = append(s.Errs, fmt.Errorf("%s: %w", name, err))
			}
		default:
			pos++
		}
	}

	if s.Empty() {
		return s, ErrNoData
	}
	return s, nil
}

// extract copies the track body that follows the start sentinel at raw[start]
// up to the end sentinel or the track bound. next is the offset just past the
// consumed bytes.
func extract(raw []byte, start, bound int) (body string, next int, err error) {
	i := start + 1
	var b strings.Builder
	for ; i < len(raw); i++ {
		c := raw[i]
		if c == endSentinel {
			return b.String(), i + 1, nil
		}
		if c == startTrack1 || c == startTrack2 {
			// next track began without an end sentinel
			break
		}
		if b.Len() >= bound {
			err = ErrMalformed
			continue
		}
		b.WriteByte(c)
	}
	if err != nil {
		return "", i, err
	}
	return strings.TrimRight(b.String(), "\r\n"), i, nil
}

// cursor walks a track body field by field.
type cursor struct {
	s   string
	pos int
}

func (c *cursor) remaining() int { return len(c.s) - c.pos }

func (c *cursor) take(n int) (string, bool) {
	if c.remaining() < n {
		return "", false
	}
	v := c.s[c.pos : c.pos+n]
	c.pos += n
	return v, true
}

// takeDigits is take for numeric sub-fields.
func (c *cursor) takeDigits(n int) (string, bool) {
	v, ok := c.take(n)
	if !ok || !pan.IsDigits(v) {
		return "", false
	}
	return v, true
}

// optional returns up to n bytes; a short tail yields what is left.
func (c *cursor) optional(n int) string {
	if c.remaining() < n {
		n = c.remaining()
	}
	v, _ := c.take(n)
	return v
}

// until consumes up to and including sep, returning the bytes before it.
func (c *cursor) until(sep byte, max int) (string, bool) {
	idx := strings.IndexByte(c.s[c.pos:], sep)
	if idx < 0 || idx > max {
		return "", false
	}
	v := c.s[c.pos : c.pos+idx]
	c.pos += idx + 1
	return v, true
}

func (c *cursor) rest() string {
	v := c.s[c.pos:]
	c.pos = len(c.s)
	return v
}

// accountNumber strips embedded spaces and checks the digit count.
func accountNumber(raw string) (string, bool) {
	n := strings.ReplaceAll(raw, " ", "")
	if n == "" || len(n) > pan.MaxLen || !pan.IsDigits(n) {
		return "", false
	}
	return n, true
}

// hasCountryCode reports whether the IIN calls for a country code field.
func hasCountryCode(number string) bool {
	return strings.HasPrefix(number, "59")
}
