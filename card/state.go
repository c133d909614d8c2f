package card

import (
	"fmt"
	"time"
)

// State is both the transaction state of a record and the kind of the last
// request made for it.
type State int

const (
	StateNoAction State = iota
	StatePreAuth
	StateAuthorize
	StateComplete
	StateVoid
	StateVoidCancel
	StateRefund
	StateRefundCancel
	StateAdvice

	// StateFind is not stored. Setting it resolves the state from the last
	// request once the host approved it.
	StateFind
)

func (s State) String() string {
	switch s {
	case StateNoAction:
		return "none"
	case StatePreAuth:
		return "preauth"
	case StateAuthorize:
		return "authorize"
	case StateComplete:
		return "complete"
	case StateVoid:
		return "void"
	case StateVoidCancel:
		return "void-cancel"
	case StateRefund:
		return "refund"
	case StateRefundCancel:
		return "refund-cancel"
	case StateAdvice:
		return "advice"
	case StateFind:
		return "find"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// isAuthChain reports whether s is one of the states auth_state may hold.
func isAuthChain(s State) bool {
	return s == StatePreAuth || s == StateAuthorize || s == StateComplete
}

// SetState assigns the transaction state. Entering PreAuth, Authorize or
// Complete also advances AuthState along that chain; no other state moves it
// back, so a void or refund leaves the fact of authorization intact.
func (r *Record) SetState(s State) {
	if s == StateFind {
		if r.LastAction == StateNoAction {
			return
		}
		s = r.LastAction
	}
	r.State = s
	if isAuthChain(s) && s > r.AuthState {
		r.AuthState = s
	}
}

// VoidHistory receives an immutable copy of every record the first time its
// void is finalized.
type VoidHistory interface {
	Add(r *Record) (int, error)
}

// Finalize books the amounts for the current state. Each sub-transition is
// booked once; its timestamp marks it done and later calls leave it alone.
func (r *Record) Finalize(now time.Time, voids VoidHistory) error {
	var err error
	switch r.State {
	case StatePreAuth:
		if r.PreauthTime.IsZero() {
			r.PreauthAmount = r.FullAmount()
			r.PreauthTime = now
			r.PreauthApproval = r.Approval
		}
	case StateAuthorize, StateComplete:
		if r.AuthTime.IsZero() {
			r.AuthAmount = r.FullAmount()
			r.PreauthAmount = 0
			r.VoidAmount = 0
			r.RefundAmount = 0
			r.AuthTime = now
		}
	case StateVoid:
		if r.VoidTime.IsZero() {
			r.VoidAmount = r.Amount
			r.VoidTime = now
			if voids != nil {
				if _, addErr := voids.Add(r.Snapshot()); addErr != nil {
					err = fmt.Errorf("recording void history: %w", addErr)
				}
			}
		}
	case StateVoidCancel:
		if r.VoidCancelTime.IsZero() {
			r.VoidAmount -= r.Amount
			r.VoidCancelTime = now
		}
	case StateRefund:
		if r.RefundTime.IsZero() {
			r.RefundAmount = r.Amount
			r.RefundTime = now
		}
	case StateRefundCancel:
		if r.RefundCancelTime.IsZero() {
			r.RefundAmount -= r.Amount
			r.RefundCancelTime = now
		}
	}
	r.clampAmounts()
	return err
}

func (r *Record) clampAmounts() {
	for _, v := range []*int64{&r.PreauthAmount, &r.AuthAmount, &r.RefundAmount, &r.VoidAmount} {
		if *v < 0 {
			*v = 0
		}
	}
}

// IsPreauthed reports a hold that has not gone on to authorization.
func (r *Record) IsPreauthed() bool {
	return r.AuthState == StatePreAuth
}

func (r *Record) IsAuthed() bool {
	return r.AuthState == StateAuthorize || r.AuthState == StateComplete
}

func (r *Record) IsVoided() bool {
	return r.State == StateVoid
}

func (r *Record) IsRefunded() bool {
	return r.State == StateRefund
}

// IsSettled reports whether a batch settlement has claimed the record.
func (r *Record) IsSettled() bool {
	return r.BatchID != ""
}

func (r *Record) IsDeclined() bool {
	return r.Code == CodeDeclined
}

// IsErrored covers system errors, retry requests and lost connections.
func (r *Record) IsErrored() bool {
	switch r.Code {
	case CodeError, CodeRetry, CodeNoConnection:
		return true
	}
	return false
}

// IsVoiced reports a voice-referral answer.
func (r *Record) IsVoiced() bool {
	return r.Code == CodeVoice
}

// IsOpen reports a record that is neither voided nor refunded.
func (r *Record) IsOpen() bool {
	return !r.IsVoided() && !r.IsRefunded()
}

// Total is the net payable on the authorized amount. A voided record owes
// nothing, tip included.
func (r *Record) Total() int64 {
	if r.IsVoided() {
		return 0
	}
	return r.AuthAmount - (r.RefundAmount + r.VoidAmount)
}

// TotalPreauth is Total, falling back to the held amount when the record
// has not been authorized.
func (r *Record) TotalPreauth() int64 {
	if r.IsVoided() {
		return 0
	}
	base := r.AuthAmount
	if base == 0 {
		base = r.PreauthAmount
	}
	return base - (r.RefundAmount + r.VoidAmount)
}
