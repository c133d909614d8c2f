package track

import (
	"strings"
	"testing"

	"github.com/alovak/cardflow-pos/internal/expiry"
	"github.com/stretchr/testify/require"
)

const (
	sampleTrack1 = "%B4111111111111111^DOE/JOHN^2512101123450000000?"
	sampleTrack2 = ";4111111111111111=25121011234500000?"
	// format 02: no extension fields
	sampleTrack3 = ";024111111111111111=840840210000500250130312345600027121123456789XYZ?"
	// format 01: SAN service restrictions, subsidiary accounts, relay and crypto check
	sampleTrack3Ext = ";014111111111111111=8408402100005002501303123456000112227121123456789" +
		"5555=6666=0ABCDEFZ?"
)

func TestParseSwipe_Track2Only(t *testing.T) {
	s, err := ParseSwipe([]byte(";1234567890123456=250112345678901?"))
	require.NoError(t, err)
	require.NotNil(t, s.Track2)
	require.Nil(t, s.Track1)

	require.Equal(t, "1234567890123456", s.Track2.Number)
	require.Equal(t, "2501", s.Track2.Expiry)
	require.Equal(t, "01/25", expiry.CardFace(expiry.Swap(s.Track2.Expiry)))
	require.Equal(t, "123", s.Track2.ServiceCode)
	require.Equal(t, "45678", s.Track2.PVV)
	require.Equal(t, "901", s.Track2.Discretionary)
}

func TestParseSwipe_AllTracks(t *testing.T) {
	s, err := ParseSwipe([]byte(sampleTrack1 + sampleTrack2 + sampleTrack3))
	require.NoError(t, err)
	require.Empty(t, s.Errs)

	require.NotNil(t, s.Track1)
	require.Equal(t, "B", s.Track1.FormatCode)
	require.Equal(t, "4111111111111111", s.Track1.Number)
	require.Equal(t, "JOHN DOE", s.Track1.Name)
	require.Equal(t, "2512", s.Track1.Expiry)
	require.Equal(t, "101", s.Track1.ServiceCode)
	require.Equal(t, "12345", s.Track1.PVV)

	require.NotNil(t, s.Track2)
	require.Equal(t, "2512", s.Track2.Expiry)

	require.NotNil(t, s.Track3)
	require.Equal(t, "02", s.Track3.FormatCode)
	require.Equal(t, "840", s.Track3.Country)
	require.Equal(t, "840", s.Track3.Track3.Currency)
	require.Equal(t, "1000", s.Track3.Track3.AmountAuthorized)
	require.Equal(t, "0500", s.Track3.Track3.AmountRemaining)
	require.Equal(t, "123456", s.Track3.Track3.PINControl)
	require.Equal(t, "2712", s.Track3.Expiry)
	require.Equal(t, "123456789", s.Track3.Track3.SecurityNumber)
	require.Equal(t, "XYZ", s.Track3.Discretionary)

	require.Equal(t, SourceTrack1, s.Authoritative().Source)
	require.Equal(t, "JOHN DOE", s.Name())
}

func TestParseSwipe_Track3Extended(t *testing.T) {
	s, err := ParseSwipe([]byte(sampleTrack2 + sampleTrack3Ext))
	require.NoError(t, err)
	require.NotNil(t, s.Track3)

	ext := s.Track3.Track3
	require.Equal(t, "11", ext.SAN1Service)
	require.Equal(t, "22", ext.SAN2Service)
	require.Equal(t, "2712", s.Track3.Expiry)
	require.Equal(t, "5555", ext.SAN1)
	require.Equal(t, "6666", ext.SAN2)
	require.Equal(t, "0", ext.RelayMarker)
	require.Equal(t, "ABCDEF", ext.CryptoCheck)
	require.Equal(t, "Z", s.Track3.Discretionary)
}

func TestParseSwipe_Priority(t *testing.T) {
	t1 := "%B4111111111111111^DOE/JOHN^2512101?"
	t2 := ";5500000000000004=2612101?"

	s, err := ParseSwipe([]byte(t1 + t2))
	require.NoError(t, err)
	require.Equal(t, "4111111111111111", s.Authoritative().Number)

	s, err = ParseSwipe([]byte(t2))
	require.NoError(t, err)
	require.Equal(t, "5500000000000004", s.Authoritative().Number)
	require.Equal(t, "", s.Name())
}

func TestParseSwipe_MalformedTrackIsIsolated(t *testing.T) {
	s, err := ParseSwipe([]byte("%E?" + sampleTrack2))
	require.NoError(t, err)
	require.Nil(t, s.Track1)
	require.Len(t, s.Errs, 1)
	require.ErrorIs(t, s.Errs[0], ErrMalformed)
	require.Equal(t, SourceTrack2, s.Authoritative().Source)
}

func TestParseSwipe_CountryCode(t *testing.T) {
	s, err := ParseSwipe([]byte(";5912345678901234=8402512101?"))
	require.NoError(t, err)
	require.Equal(t, "840", s.Track2.Country)
	require.Equal(t, "2512", s.Track2.Expiry)
}

func TestParseSwipe_EmbeddedSpaces(t *testing.T) {
	s, err := ParseSwipe([]byte("%B4111 1111 1111 1111^DOE/JANE^2512101?"))
	require.NoError(t, err)
	require.Equal(t, "4111111111111111", s.Track1.Number)
	require.Equal(t, "JANE DOE", s.Track1.Name)
}

func TestParseSwipe_Bounds(t *testing.T) {
	longName := strings.Repeat("X", NameMax+1)
	_, err := ParseSwipe([]byte("%B4111111111111111^" + longName + "^2512101?"))
	require.ErrorIs(t, err, ErrNoData)

	tooLong := "%B" + strings.Repeat("1", Track1Max+5) + "?"
	s, err := ParseSwipe([]byte(tooLong + sampleTrack2))
	require.NoError(t, err)
	require.Nil(t, s.Track1)
	require.NotNil(t, s.Track2)
}

func TestParseSwipe_Manual(t *testing.T) {
	s, err := ParseSwipe([]byte("manual 4111111111111111=1225"))
	require.NoError(t, err)
	require.NotNil(t, s.Manual)
	require.Equal(t, "4111111111111111", s.Manual.Number)
	require.Equal(t, "2512", s.Manual.Expiry)
	require.Equal(t, SourceManual, s.Authoritative().Source)

	_, err = ParseSwipe([]byte("manual 4111111111111111"))
	require.ErrorIs(t, err, ErrNoData)

	s, err = ParseSwipe(Keyed("4111 1111 1111 1111", "12/25"))
	require.NoError(t, err)
	require.Equal(t, "4111111111111111", s.Manual.Number)
	require.Equal(t, "2512", s.Manual.Expiry)
}

func TestParseSwipe_NoData(t *testing.T) {
	_, err := ParseSwipe([]byte("garbage"))
	require.ErrorIs(t, err, ErrNoData)

	_, err = ParseSwipe(nil)
	require.ErrorIs(t, err, ErrNoData)
}
