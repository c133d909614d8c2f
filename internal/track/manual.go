package track

import (
	"strings"

	"github.com/alovak/cardflow-pos/internal/expiry"
	"github.com/alovak/cardflow-pos/internal/pan"
)

// parseManual reads keyed entry of the form ACCOUNT=EXPIRY. The expiry is
// keyed as printed on the card (MMYY) and stored in stripe order.
func parseManual(body string) (*Data, error) {
	body = strings.TrimSpace(body)
	account, exp, found := strings.Cut(body, "=")
	if !found {
		return nil, ErrMalformed
	}
	number, ok := accountNumber(pan.Normalize(account))
	if !ok {
		return nil, ErrMalformed
	}
	exp = strings.ReplaceAll(strings.TrimSpace(exp), "/", "")
	if len(exp) != expiryLen || !pan.IsDigits(exp) {
		return nil, ErrMalformed
	}
	return &Data{
		Source: SourceManual,
		Raw:    body,
		Number: number,
		Expiry: expiry.Swap(exp),
	}, nil
}

// Keyed formats keyed entry the way ParseSwipe reads it back.
func Keyed(number, mmyy string) []byte {
	return []byte(manualPrefix + number + "=" + mmyy)
}
