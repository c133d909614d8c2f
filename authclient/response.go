package authclient

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/alovak/cardflow-pos/batch"
	"github.com/alovak/cardflow-pos/card"
	"github.com/alovak/cardflow-pos/internal/pan"
	"github.com/moov-io/iso8583/field"
)

const (
	controlByte    = 0x02
	fieldSeparator = 0x1c
	endOfText      = 0x03
	ack            = 0x06

	answerTag = "ANS"

	outcomeLen = 1
	codeLen    = 40
	isoLen     = 2
	unusedLen  = 40

	headerLen = 1 + len(answerTag) + outcomeLen + codeLen + isoLen + unusedLen
)

var (
	outcomeSpec = fixedText(outcomeLen, "Outcome")
	codeSpec    = fixedText(codeLen, "Response Code")
	isoSpec     = fixedText(isoLen, "ISO Response Code")
	unusedSpec  = fixedText(unusedLen, "Reserved")
)

// Outcome codes from the first byte after the answer tag.
var outcomes = map[byte]card.Code{
	'A': card.CodeAuthorized,
	'F': card.CodeAuthorized,
	'I': card.CodeAuthorized,
	'D': card.CodeDeclined,
	'E': card.CodeError,
	'Y': card.CodeRetry,
	'Z': card.CodeRetry,
	'V': card.CodeVoice,
}

// Response is a decoded host answer.
type Response struct {
	Outcome      byte
	Code         card.Code
	ResponseCode string
	ISOCode      string
	Receipt      Receipt
	Display      []string

	// Verbatim is set when the answer did not match the envelope; it holds
	// the host's text as received.
	Verbatim string
}

// Verb is the short operator message for the answer.
func (r *Response) Verb() string {
	if r.Verbatim != "" {
		return r.Verbatim
	}
	if r.ResponseCode != "" {
		return r.ResponseCode
	}
	switch r.Code {
	case card.CodeAuthorized:
		return "Approved"
	case card.CodeDeclined:
		return "Declined"
	case card.CodeRetry:
		return "Please Retry"
	case card.CodeVoice:
		return "Call For Authorization"
	default:
		return "Error"
	}
}

// Receipt holds the KEY: value pairs of the receipt block.
type Receipt struct {
	Account      string
	Expiry       string
	AuthCode     string
	Reference    string
	Sequence     string
	Date         string
	Time         string
	Language     string
	TerminalID   string
	Network      string
	BatchID      string
	DebitAccount card.DebitAccount
	Entry        string // S swiped, M manual
	Lines        []string
	Display      []string

	// Totals holds one row per brand reported by settlement and totals
	// answers, in the order received.
	Totals []batch.Aggregator

	// SAF counters reported by store-and-forward answers.
	SAFPending   int
	SAFForwarded int
	SAFAmount    int64
}

// ErrProtocol marks an answer that did not match the response envelope.
var ErrProtocol = fmt.Errorf("unexpected host response")

// Decode parses one host answer. An answer without the envelope is not an
// error to the caller: it becomes a verbatim message classified as an error,
// and ErrProtocol is returned alongside it.
func Decode(data []byte) (*Response, error) {
	data = bytes.TrimRight(data, "\r\n\x00")
	if len(data) < headerLen || data[0] != controlByte || string(data[1:1+len(answerTag)]) != answerTag {
		return verbatim(data), ErrProtocol
	}

	resp := &Response{}
	pos := 1 + len(answerTag)
	var outcome string
	for _, f := range []struct {
		spec *field.Spec
		dst  *string
	}{
		{outcomeSpec, &outcome},
		{codeSpec, &resp.ResponseCode},
		{isoSpec, &resp.ISOCode},
		{unusedSpec, nil},
	} {
		value, n, err := unpackText(f.spec, data[pos:])
		if err != nil {
			return verbatim(data), fmt.Errorf("%w: %w", ErrProtocol, err)
		}
		pos += n
		if f.dst != nil {
			*f.dst = value
		}
	}

	resp.Code = card.CodeError
	if outcome != "" {
		resp.Outcome = outcome[0]
		if code, ok := outcomes[resp.Outcome]; ok {
			resp.Code = code
		}
	}

	rest := bytes.TrimRight(data[pos:], string([]byte{endOfText}))
	rest = bytes.TrimPrefix(rest, []byte{fieldSeparator})
	blocks := bytes.SplitN(rest, []byte{fieldSeparator}, 2)
	resp.Receipt = ScanReceipt(string(blocks[0]))
	if len(blocks) > 1 {
		resp.Display = lines(string(blocks[1]))
	}
	return resp, nil
}

func verbatim(data []byte) *Response {
	msg := strings.TrimSpace(strings.Map(func(r rune) rune {
		if r < ' ' {
			return ' '
		}
		return r
	}, string(data)))
	if msg == "" {
		msg = "No Response"
	}
	return &Response{Code: card.CodeError, Verbatim: msg}
}

func unpackText(spec *field.Spec, data []byte) (string, int, error) {
	f := field.NewString(spec)
	n, err := f.Unpack(data)
	if err != nil {
		return "", 0, fmt.Errorf("unpacking %s: %w", spec.Description, err)
	}
	value, err := f.String()
	if err != nil {
		return "", 0, fmt.Errorf("reading %s: %w", spec.Description, err)
	}
	return strings.TrimSpace(value), n, nil
}

// ScanReceipt reads "KEY: value" lines with three letter keys. Lines that do
// not have that shape and keys it does not know are skipped.
func ScanReceipt(block string) Receipt {
	var rc Receipt
	sc := bufio.NewScanner(strings.NewReader(block))
	for sc.Scan() {
		key, value, ok := receiptLine(sc.Text())
		if !ok {
			continue
		}
		switch key {
		case "ACN":
			rc.Account = value
		case "EXP":
			rc.Expiry = value
		case "AUT":
			rc.AuthCode = value
		case "REF":
			rc.Reference = value
		case "SEQ":
			rc.Sequence = value
		case "DTE":
			rc.Date = value
		case "TME":
			rc.Time = value
		case "RCT":
			rc.Lines = append(rc.Lines, value)
		case "DSP":
			rc.Display = append(rc.Display, value)
		case "LNG":
			rc.Language = value
		case "TRM":
			rc.TerminalID = value
		case "NET":
			rc.Network = value
		case "BAT":
			rc.BatchID = value
		case "ACT":
			rc.DebitAccount = debitAccount(value)
		case "ENT":
			rc.Entry = value
		case "SFP":
			rc.SAFPending, _ = strconv.Atoi(value)
		case "SFF":
			rc.SAFForwarded, _ = strconv.Atoi(value)
		case "SFA":
			rc.SAFAmount, _ = ParseAmount(value)
		default:
			if b := pan.BrandFromCode(key); b != pan.BrandUnknown {
				if agg, ok := brandTotals(b, value); ok {
					rc.Totals = append(rc.Totals, agg)
				}
			}
		}
	}
	return rc
}

func receiptLine(line string) (key, value string, ok bool) {
	line = strings.TrimRight(line, "\r")
	if len(line) < 4 || line[3] != ':' {
		return "", "", false
	}
	key = line[:3]
	for i := 0; i < 3; i++ {
		if key[i] < 'A' || key[i] > 'Z' {
			return "", "", false
		}
	}
	return key, strings.TrimSpace(line[4:]), true
}

func debitAccount(v string) card.DebitAccount {
	switch strings.ToUpper(v) {
	case "CHQ", "CHK", "CHECKING":
		return card.DebitAccountChecking
	case "SAV", "SAVINGS":
		return card.DebitAccountSavings
	default:
		return card.DebitAccountNone
	}
}

// brandTotals reads "count,amount" as reported by the host, optionally
// followed by ",count,amount" for what the host believes the terminal holds.
func brandTotals(b pan.Brand, v string) (batch.Aggregator, bool) {
	parts := strings.Split(v, ",")
	if len(parts) != 2 && len(parts) != 4 {
		return batch.Aggregator{}, false
	}
	nums := make([]int64, len(parts))
	for i, p := range parts {
		p = strings.TrimSpace(p)
		var err error
		if i%2 == 0 {
			var n int
			n, err = strconv.Atoi(p)
			nums[i] = int64(n)
		} else {
			nums[i], err = ParseAmount(p)
		}
		if err != nil {
			return batch.Aggregator{}, false
		}
	}
	agg := batch.Aggregator{Brand: b, HostCount: int(nums[0]), HostAmount: nums[1]}
	if len(nums) == 4 {
		agg.LocalCount, agg.LocalAmount = int(nums[2]), nums[3]
	}
	return agg, true
}

// EncodeResponse renders a Response in the host's wire form.
func EncodeResponse(r *Response) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(controlByte)
	buf.WriteString(answerTag)
	for _, f := range []struct {
		spec  *field.Spec
		value string
	}{
		{outcomeSpec, string(rune(r.Outcome))},
		{codeSpec, r.ResponseCode},
		{isoSpec, r.ISOCode},
		{unusedSpec, ""},
	} {
		packed, err := packText(f.spec, f.value)
		if err != nil {
			return nil, err
		}
		buf.Write(packed)
	}

	buf.WriteByte(fieldSeparator)
	for _, l := range r.Receipt.Encode() {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
	buf.WriteByte(fieldSeparator)
	for _, l := range r.Display {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
	buf.WriteByte(endOfText)
	return buf.Bytes(), nil
}

// Encode renders the receipt as KEY: value lines.
func (rc Receipt) Encode() []string {
	var out []string
	add := func(key, value string) {
		if value != "" {
			out = append(out, key+": "+value)
		}
	}
	add("ACN", rc.Account)
	add("EXP", rc.Expiry)
	add("AUT", rc.AuthCode)
	add("REF", rc.Reference)
	add("SEQ", rc.Sequence)
	add("DTE", rc.Date)
	add("TME", rc.Time)
	add("LNG", rc.Language)
	add("TRM", rc.TerminalID)
	add("NET", rc.Network)
	add("BAT", rc.BatchID)
	add("ENT", rc.Entry)
	switch rc.DebitAccount {
	case card.DebitAccountChecking:
		add("ACT", "CHQ")
	case card.DebitAccountSavings:
		add("ACT", "SAV")
	}
	for _, a := range rc.Totals {
		add(a.Brand.Code(), fmt.Sprintf("%d,%s,%d,%s",
			a.HostCount, FormatAmount(a.HostAmount), a.LocalCount, FormatAmount(a.LocalAmount)))
	}
	if rc.SAFPending != 0 || rc.SAFForwarded != 0 || rc.SAFAmount != 0 {
		add("SFP", strconv.Itoa(rc.SAFPending))
		add("SFF", strconv.Itoa(rc.SAFForwarded))
		add("SFA", FormatAmount(rc.SAFAmount))
	}
	for _, l := range rc.Lines {
		add("RCT", l)
	}
	for _, l := range rc.Display {
		add("DSP", l)
	}
	return out
}

func lines(block string) []string {
	var out []string
	for _, l := range strings.Split(strings.ReplaceAll(block, "\r\n", "\n"), "\n") {
		if l = strings.TrimRight(l, " \r"); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// Apply copies the answer into the record.
func (r *Response) Apply(rec *card.Record) {
	rec.Code = r.Code
	rec.Verb = r.Verb()
	rec.ResponseCode = r.ResponseCode
	rec.ISOCode = r.ISOCode

	rc := r.Receipt
	if rc.AuthCode != "" {
		rec.Approval = rc.AuthCode
	}
	setIf(&rec.Reference, rc.Reference)
	setIf(&rec.Sequence, rc.Sequence)
	setIf(&rec.HostDate, rc.Date)
	setIf(&rec.HostTime, rc.Time)
	setIf(&rec.Language, rc.Language)
	setIf(&rec.TerminalID, rc.TerminalID)
	setIf(&rec.Network, rc.Network)
	if rc.DebitAccount != card.DebitAccountNone {
		rec.DebitAccount = rc.DebitAccount
	}
	if rec.Number == "" && rc.Account != "" {
		// debit requests go out blank; the host echoes the account
		rec.Number = rc.Account
		setIf(&rec.Expiry, rc.Expiry)
		rec.Brand = pan.DetectBrand(rec.Number)
	}
	rec.ReceiptLines = rc.Lines
	rec.DisplayLines = append(append([]string(nil), rc.Display...), r.Display...)
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
