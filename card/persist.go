package card

import (
	"fmt"

	"github.com/alovak/cardflow-pos/internal/pan"
	"github.com/alovak/cardflow-pos/internal/recordfile"
	"github.com/alovak/cardflow-pos/internal/track"
)

// Record file versions. Version 2 added display lines, language, network and
// the error history.
const (
	RecordVersionMin = 1
	RecordVersion    = 2
)

// Save writes the record to path at the current version.
func (r *Record) Save(path string) error {
	return recordfile.Save(path, RecordVersion, func(w *recordfile.Writer) {
		r.WriteTo(w, RecordVersion)
	})
}

// Load reads a record file of any supported version.
func Load(path string) (*Record, error) {
	r := &Record{}
	err := recordfile.Load(path, RecordVersionMin, RecordVersion, func(rd *recordfile.Reader, version int) {
		r.ReadFrom(rd, version)
	})
	if err != nil {
		return nil, fmt.Errorf("loading card record: %w", err)
	}
	return r, nil
}

// WriteTo encodes the record in the field order of the given version. Track
// buffers are transient and never written.
func (r *Record) WriteTo(w *recordfile.Writer, version int) {
	w.Int(int64(r.ID))
	w.Int(int64(r.Bucket))

	w.Text(r.Number)
	w.Text(r.Expiry)
	w.Text(r.Name)
	w.Text(r.Country)
	w.Text(r.ServiceCode)
	w.Text(r.Brand.Code())
	w.Int(int64(r.Category))
	w.Int(int64(r.DebitAccount))
	w.Int(int64(r.Entry))

	w.Text(string(r.Code))
	w.Text(r.Verb)
	w.Text(r.ResponseCode)
	w.Text(r.ISOCode)
	w.Text(r.Approval)
	w.Text(r.PreauthApproval)

	w.Int(int64(r.LastAction))
	w.Int(int64(r.State))
	w.Int(int64(r.AuthState))

	for _, v := range []int64{r.Amount, r.Tip, r.PreauthAmount, r.AuthAmount, r.RefundAmount, r.VoidAmount} {
		w.Int(v)
	}
	w.Time(r.PreauthTime)
	w.Time(r.AuthTime)
	w.Time(r.VoidTime)
	w.Time(r.VoidCancelTime)
	w.Time(r.RefundTime)
	w.Time(r.RefundCancelTime)

	w.Text(r.Reference)
	w.Text(r.Sequence)
	w.Text(r.HostDate)
	w.Text(r.HostTime)
	w.Text(r.TerminalID)
	w.Text(r.BatchID)
	w.Lines(r.ReceiptLines)

	if version < 2 {
		return
	}
	w.Lines(r.DisplayLines)
	w.Text(r.Language)
	w.Text(r.Network)
	w.Int(int64(len(r.Errors)))
	for _, e := range r.Errors {
		e.WriteTo(w, version)
	}
}

// ReadFrom decodes a record written by WriteTo at version.
func (r *Record) ReadFrom(rd *recordfile.Reader, version int) {
	r.ID = int(rd.Int())
	r.Bucket = Bucket(rd.Int())

	r.Number = rd.Text()
	r.Expiry = rd.Text()
	r.Name = rd.Text()
	r.Country = rd.Text()
	r.ServiceCode = rd.Text()
	r.Brand = pan.BrandFromCode(rd.Text())
	r.Category = Category(rd.Int())
	r.DebitAccount = DebitAccount(rd.Int())
	r.Entry = track.Source(rd.Int())

	r.Code = Code(rd.Text())
	r.Verb = rd.Text()
	r.ResponseCode = rd.Text()
	r.ISOCode = rd.Text()
	r.Approval = rd.Text()
	r.PreauthApproval = rd.Text()

	r.LastAction = State(rd.Int())
	r.State = State(rd.Int())
	r.AuthState = State(rd.Int())

	for _, v := range []*int64{&r.Amount, &r.Tip, &r.PreauthAmount, &r.AuthAmount, &r.RefundAmount, &r.VoidAmount} {
		*v = rd.Int()
	}
	r.PreauthTime = rd.Time()
	r.AuthTime = rd.Time()
	r.VoidTime = rd.Time()
	r.VoidCancelTime = rd.Time()
	r.RefundTime = rd.Time()
	r.RefundCancelTime = rd.Time()

	r.Reference = rd.Text()
	r.Sequence = rd.Text()
	r.HostDate = rd.Text()
	r.HostTime = rd.Text()
	r.TerminalID = rd.Text()
	r.BatchID = rd.Text()
	r.ReceiptLines = rd.Lines()

	if version < 2 {
		return
	}
	r.DisplayLines = rd.Lines()
	r.Language = rd.Text()
	r.Network = rd.Text()
	n := int(rd.Int())
	if rd.Err() != nil || n < 0 {
		return
	}
	r.Errors = nil
	for i := 0; i < n && rd.Err() == nil; i++ {
		e := &Record{}
		e.ReadFrom(rd, version)
		r.Errors = append(r.Errors, e)
	}
}
