// Package card holds the per-transaction card record: the data read from the
// card, the processor's answers, and the transaction state machine.
package card

import (
	"fmt"
	"time"

	"github.com/alovak/cardflow-pos/internal/expiry"
	"github.com/alovak/cardflow-pos/internal/pan"
	"github.com/alovak/cardflow-pos/internal/track"
	"golang.org/x/exp/slog"
)

// Category is the kind of card account.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryCredit
	CategoryDebit
	CategoryGift
)

func (c Category) String() string {
	switch c {
	case CategoryCredit:
		return "credit"
	case CategoryDebit:
		return "debit"
	case CategoryGift:
		return "gift"
	default:
		return "unknown"
	}
}

// ParseCategory reads a category name as printed by String. An empty name
// is credit.
func ParseCategory(name string) (Category, error) {
	switch name {
	case "", "credit":
		return CategoryCredit, nil
	case "debit":
		return CategoryDebit, nil
	case "gift":
		return CategoryGift, nil
	}
	return CategoryUnknown, fmt.Errorf("unknown card category %q", name)
}

// DebitAccount is the account a debit card draws on.
type DebitAccount int

const (
	DebitAccountNone DebitAccount = iota
	DebitAccountChecking
	DebitAccountSavings
)

// Bucket tags which transaction store owns a record.
type Bucket int

const (
	BucketNone Bucket = iota
	BucketException
	BucketRefund
	BucketVoid
)

func (b Bucket) String() string {
	switch b {
	case BucketException:
		return "exception"
	case BucketRefund:
		return "refund"
	case BucketVoid:
		return "void"
	default:
		return "none"
	}
}

// Code classifies the authorization host's outcome for the last request.
type Code string

const (
	CodeNone         Code = ""
	CodeAuthorized   Code = "A"
	CodeDeclined     Code = "D"
	CodeError        Code = "E"
	CodeRetry        Code = "R"
	CodeVoice        Code = "V"
	CodeNoConnection Code = "N"
)

// TrackBuffer stages the raw text of one stripe track.
type TrackBuffer struct {
	Raw  string
	Read bool
}

// Record is one card transaction. Money is in integer cents.
type Record struct {
	ID     int
	Bucket Bucket

	Number       string
	Expiry       string // MMYY
	Name         string
	Country      string
	ServiceCode  string
	Brand        pan.Brand
	Category     Category
	DebitAccount DebitAccount
	Entry        track.Source

	Code            Code
	Verb            string
	ResponseCode    string
	ISOCode         string
	Approval        string
	PreauthApproval string

	LastAction State
	State      State
	AuthState  State

	Amount        int64
	Tip           int64
	PreauthAmount int64
	AuthAmount    int64
	RefundAmount  int64
	VoidAmount    int64

	PreauthTime      time.Time
	AuthTime         time.Time
	VoidTime         time.Time
	VoidCancelTime   time.Time
	RefundTime       time.Time
	RefundCancelTime time.Time

	Reference    string
	Sequence     string
	HostDate     string
	HostTime     string
	TerminalID   string
	BatchID      string
	Language     string
	Network      string
	ReceiptLines []string
	DisplayLines []string

	// Errors keeps a snapshot of the record each time the host reported a
	// failure, for audit.
	Errors []*Record

	Track1 TrackBuffer
	Track2 TrackBuffer
	Track3 TrackBuffer
	Manual TrackBuffer

	session *Session
}

// New returns an empty credit record.
func New() *Record {
	return &Record{Category: CategoryCredit}
}

// Masked is the account number as printed on reports.
func (r *Record) Masked() string {
	return pan.Mask(r.Number)
}

// ExpiryFace is the expiry as printed on the card (MM/YY).
func (r *Record) ExpiryFace() string {
	return expiry.CardFace(r.Expiry)
}

// FullAmount is the amount plus tip.
func (r *Record) FullAmount() int64 {
	return r.Amount + r.Tip
}

// LastActivity is the newest of the record's transaction times.
func (r *Record) LastActivity() time.Time {
	var last time.Time
	for _, t := range []time.Time{r.PreauthTime, r.AuthTime, r.VoidTime, r.VoidCancelTime, r.RefundTime, r.RefundCancelTime} {
		if t.After(last) {
			last = t
		}
	}
	return last
}

// Snapshot returns a detached copy with no id, bucket or session. Archived
// error snapshots are not carried over.
func (r *Record) Snapshot() *Record {
	c := *r
	c.ID = 0
	c.Bucket = BucketNone
	c.session = nil
	c.Errors = nil
	c.ReceiptLines = append([]string(nil), r.ReceiptLines...)
	c.DisplayLines = append([]string(nil), r.DisplayLines...)
	return &c
}

// ArchiveError appends a snapshot of the current state to Errors.
func (r *Record) ArchiveError() {
	r.Errors = append(r.Errors, r.Snapshot())
}

// ClearResponse forgets the host's answer to the previous request.
func (r *Record) ClearResponse() {
	r.Code = CodeNone
	r.Verb = ""
	r.ResponseCode = ""
	r.ISOCode = ""
	r.ReceiptLines = nil
	r.DisplayLines = nil
}

// LogValue keeps the full account number out of logs.
func (r *Record) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("id", r.ID),
		slog.String("card", r.Masked()),
		slog.String("brand", r.Brand.String()),
		slog.String("state", r.State.String()),
		slog.String("code", string(r.Code)),
		slog.Int64("amount", r.Amount),
	)
}
