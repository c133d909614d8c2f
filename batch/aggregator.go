// Package batch keeps the end-of-day books of a terminal: per-brand totals,
// the settlement history, store-and-forward activity and the init log.
package batch

import (
	"github.com/alovak/cardflow-pos/internal/pan"
	"github.com/alovak/cardflow-pos/internal/recordfile"
)

// Aggregator counts one brand's transactions as reported by the host and as
// tracked locally. Amounts are in cents.
type Aggregator struct {
	Brand       pan.Brand
	HostCount   int
	HostAmount  int64
	LocalCount  int
	LocalAmount int64
}

// Add merges o into a. Only Clear resets the counters.
func (a *Aggregator) Add(o Aggregator) {
	a.HostCount += o.HostCount
	a.HostAmount += o.HostAmount
	a.LocalCount += o.LocalCount
	a.LocalAmount += o.LocalAmount
}

// AddLocal counts one locally booked transaction.
func (a *Aggregator) AddLocal(amount int64) {
	a.LocalCount++
	a.LocalAmount += amount
}

func (a *Aggregator) Clear() {
	a.HostCount, a.HostAmount = 0, 0
	a.LocalCount, a.LocalAmount = 0, 0
}

// IsZero reports whether neither side counted anything. Amounts are not
// looked at.
func (a Aggregator) IsZero() bool {
	return a.HostCount == 0 && a.LocalCount == 0
}

// Balanced reports whether host and local books agree.
func (a Aggregator) Balanced() bool {
	return a.HostCount == a.LocalCount && a.HostAmount == a.LocalAmount
}

// Totals is one Aggregator per brand.
type Totals []Aggregator

// NewTotals returns a zero row for every reportable brand.
func NewTotals() Totals {
	t := make(Totals, 0, len(pan.Brands))
	for _, b := range pan.Brands {
		t = append(t, Aggregator{Brand: b})
	}
	return t
}

// For returns the row for b, adding one when missing.
func (t *Totals) For(b pan.Brand) *Aggregator {
	for i := range *t {
		if (*t)[i].Brand == b {
			return &(*t)[i]
		}
	}
	*t = append(*t, Aggregator{Brand: b})
	return &(*t)[len(*t)-1]
}

// Merge adds every row of o into t.
func (t *Totals) Merge(o Totals) {
	for _, a := range o {
		t.For(a.Brand).Add(a)
	}
}

// NonZero drops the rows a report would leave empty.
func (t Totals) NonZero() Totals {
	var out Totals
	for _, a := range t {
		if !a.IsZero() {
			out = append(out, a)
		}
	}
	return out
}

// Sum totals every row into one with an unknown brand.
func (t Totals) Sum() Aggregator {
	var sum Aggregator
	for _, a := range t {
		sum.Add(a)
	}
	return sum
}

func writeTotals(w *recordfile.Writer, t Totals) {
	w.Int(int64(len(t)))
	for _, a := range t {
		w.Text(a.Brand.Code())
		w.Int(int64(a.HostCount))
		w.Int(a.HostAmount)
		w.Int(int64(a.LocalCount))
		w.Int(a.LocalAmount)
	}
}

func readTotals(r *recordfile.Reader) Totals {
	n := int(r.Int())
	var t Totals
	for i := 0; i < n && r.Err() == nil; i++ {
		t = append(t, Aggregator{
			Brand:       pan.BrandFromCode(r.Text()),
			HostCount:   int(r.Int()),
			HostAmount:  r.Int(),
			LocalCount:  int(r.Int()),
			LocalAmount: r.Int(),
		})
	}
	return t
}
