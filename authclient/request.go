// Package authclient talks to the card authorization host over its fixed-width
// text protocol, one TCP connection per command.
package authclient

import (
	"bytes"
	"fmt"

	"github.com/alovak/cardflow-pos/card"
	"github.com/moov-io/iso8583/encoding"
	"github.com/moov-io/iso8583/field"
	"github.com/moov-io/iso8583/padding"
	"github.com/moov-io/iso8583/prefix"
	"github.com/shopspring/decimal"
)

// TxType is the two character transaction type that opens every request.
type TxType string

const (
	TxSale         TxType = "00"
	TxPreAuth      TxType = "01"
	TxFinishAuth   TxType = "02"
	TxRefund       TxType = "03"
	TxVoid         TxType = "04"
	TxRefundCancel TxType = "05"
	TxVoidCancel   TxType = "06"
	TxBatchSettle  TxType = "60"
	TxTotals       TxType = "61"
	TxDetails      TxType = "62"
	TxClearSAF     TxType = "70"
	TxSAFDetails   TxType = "71"
	TxInit         TxType = "90"
)

func (t TxType) String() string {
	switch t {
	case TxSale:
		return "sale"
	case TxPreAuth:
		return "preauth"
	case TxFinishAuth:
		return "finish-auth"
	case TxRefund:
		return "refund"
	case TxVoid:
		return "void"
	case TxRefundCancel:
		return "refund-cancel"
	case TxVoidCancel:
		return "void-cancel"
	case TxBatchSettle:
		return "batch-settle"
	case TxTotals:
		return "totals"
	case TxDetails:
		return "details"
	case TxClearSAF:
		return "clear-saf"
	case TxSAFDetails:
		return "saf-details"
	case TxInit:
		return "init"
	default:
		return string(t)
	}
}

// carriesAmount reports whether the type sends an amount.
func (t TxType) carriesAmount() bool {
	switch t {
	case TxBatchSettle, TxTotals, TxDetails, TxClearSAF, TxSAFDetails, TxInit:
		return false
	}
	return true
}

// carriesReference reports whether the type refers back to an earlier
// transaction. Initial requests and void cancels send a blank reference.
func (t TxType) carriesReference() bool {
	switch t {
	case TxSale, TxPreAuth, TxVoidCancel:
		return false
	}
	return true
}

// SubType is the card category sent after the type.
type SubType byte

const (
	SubCredit SubType = '0'
	SubDebit  SubType = '1'
	SubGift   SubType = '2'
)

func subTypeFor(c card.Category) SubType {
	switch c {
	case card.CategoryDebit:
		return SubDebit
	case card.CategoryGift:
		return SubGift
	default:
		return SubCredit
	}
}

// Request field widths are a compatibility contract with the host.
const (
	typeLen      = 2
	subTypeLen   = 1
	cardLen      = 40
	expiryLen    = 4
	amountLen    = 10
	referenceLen = 12
	terminalLen  = 12
	priorAuthLen = 10

	RequestLen = typeLen + subTypeLen + cardLen + expiryLen + amountLen + referenceLen + terminalLen + priorAuthLen
)

func fixedText(length int, desc string) *field.Spec {
	return &field.Spec{
		Length:      length,
		Description: desc,
		Enc:         encoding.ASCII,
		Pref:        prefix.ASCII.Fixed,
	}
}

var (
	typeSpec      = fixedText(typeLen, "Transaction Type")
	subTypeSpec   = fixedText(subTypeLen, "Sub Type")
	cardSpec      = fixedText(cardLen, "Card Number")
	expirySpec    = fixedText(expiryLen, "Expiry")
	referenceSpec = fixedText(referenceLen, "Reference")
	terminalSpec  = fixedText(terminalLen, "Terminal ID")
	priorAuthSpec = fixedText(priorAuthLen, "Prior Authorization")

	amountSpec = &field.Spec{
		Length:      amountLen,
		Description: "Amount",
		Enc:         encoding.ASCII,
		Pref:        prefix.ASCII.Fixed,
		Pad:         padding.Left(' '),
	}
)

// Request is one host request before encoding. Amount is in cents.
type Request struct {
	Type       TxType
	SubType    SubType
	Card       string
	Expiry     string
	Amount     int64
	Reference  string
	TerminalID string
	PriorAuth  string
}

// NewRequest builds the request for a card transaction, applying the
// blanking rules for debit cards, amount-less and reference-less types.
func NewRequest(t TxType, r *card.Record, terminalID string) *Request {
	req := &Request{
		Type:       t,
		SubType:    subTypeFor(r.Category),
		TerminalID: terminalID,
	}
	if r.Category != card.CategoryDebit {
		req.Card = r.Number
		req.Expiry = r.Expiry
	}
	switch t {
	case TxSale, TxFinishAuth, TxVoid, TxVoidCancel:
		req.Amount = r.FullAmount()
	default:
		req.Amount = r.Amount
	}
	if t.carriesReference() {
		req.Reference = r.Reference
	}
	switch t {
	case TxFinishAuth:
		req.PriorAuth = r.PreauthApproval
		if req.PriorAuth == "" {
			req.PriorAuth = r.Approval
		}
	case TxVoid, TxVoidCancel, TxRefundCancel:
		req.PriorAuth = r.Approval
	}
	return req
}

// Encode packs the request into its fixed-width form.
func (req *Request) Encode() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(RequestLen)

	fields := []func() ([]byte, error){
		func() ([]byte, error) { return packText(typeSpec, string(req.Type)) },
		func() ([]byte, error) { return packText(subTypeSpec, string(rune(req.SubType))) },
		func() ([]byte, error) { return packText(cardSpec, req.Card) },
		func() ([]byte, error) { return packText(expirySpec, req.Expiry) },
		func() ([]byte, error) { return packAmount(req.Type, req.Amount) },
		func() ([]byte, error) { return packText(referenceSpec, req.reference()) },
		func() ([]byte, error) { return packText(terminalSpec, req.TerminalID) },
		func() ([]byte, error) { return packText(priorAuthSpec, req.PriorAuth) },
	}
	for _, pack := range fields {
		packed, err := pack()
		if err != nil {
			return nil, err
		}
		buf.Write(packed)
	}
	return buf.Bytes(), nil
}

// DecodeRequest reads a request in its fixed-width form.
func DecodeRequest(data []byte) (*Request, error) {
	if len(data) < RequestLen {
		return nil, fmt.Errorf("request is %d bytes, want %d", len(data), RequestLen)
	}
	req := &Request{}
	var subType, amount string
	pos := 0
	for _, f := range []struct {
		spec *field.Spec
		dst  *string
	}{
		{typeSpec, (*string)(&req.Type)},
		{subTypeSpec, &subType},
		{cardSpec, &req.Card},
		{expirySpec, &req.Expiry},
		{amountSpec, &amount},
		{referenceSpec, &req.Reference},
		{terminalSpec, &req.TerminalID},
		{priorAuthSpec, &req.PriorAuth},
	} {
		value, n, err := unpackText(f.spec, data[pos:])
		if err != nil {
			return nil, err
		}
		*f.dst = value
		pos += n
	}
	if subType != "" {
		req.SubType = SubType(subType[0])
	}
	if amount != "" {
		cents, err := ParseAmount(amount)
		if err != nil {
			return nil, err
		}
		req.Amount = cents
	}
	return req, nil
}

func (req *Request) reference() string {
	if !req.Type.carriesReference() {
		return ""
	}
	return req.Reference
}

// packText left-justifies value in the field, cutting it to the field width.
func packText(spec *field.Spec, value string) ([]byte, error) {
	if len(value) > spec.Length {
		value = value[:spec.Length]
	}
	f := field.NewString(spec)
	if err := f.SetBytes([]byte(fmt.Sprintf("%-*s", spec.Length, value))); err != nil {
		return nil, fmt.Errorf("setting %s: %w", spec.Description, err)
	}
	packed, err := f.Pack()
	if err != nil {
		return nil, fmt.Errorf("packing %s: %w", spec.Description, err)
	}
	return packed, nil
}

// packAmount writes cents as a right-justified decimal, or blanks for types
// that carry no amount.
func packAmount(t TxType, cents int64) ([]byte, error) {
	if !t.carriesAmount() {
		return packText(amountSpec, "")
	}
	value := FormatAmount(cents)
	if len(value) > amountLen {
		return nil, fmt.Errorf("amount %s does not fit %d bytes", value, amountLen)
	}
	f := field.NewString(amountSpec)
	if err := f.SetBytes([]byte(value)); err != nil {
		return nil, fmt.Errorf("setting amount: %w", err)
	}
	packed, err := f.Pack()
	if err != nil {
		return nil, fmt.Errorf("packing amount: %w", err)
	}
	return packed, nil
}

// FormatAmount renders cents as a decimal with two places.
func FormatAmount(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// ParseAmount reads a decimal amount into cents.
func ParseAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parsing amount %q: %w", s, err)
	}
	return d.Shift(2).Round(0).IntPart(), nil
}
