package card

import (
	"context"
	"io"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"
)

// Processor sends one request for a record to the authorization host and
// writes the host's answer back into the record.
type Processor interface {
	Process(ctx context.Context, action State, r *Record) error
}

// Session is one operator interaction with the authorization host. A record
// is bound to at most one session while a request is in flight, and a session
// serves one record at a time.
type Session struct {
	ID        uuid.UUID
	processor Processor
	logger    *slog.Logger
	current   *Record
}

func NewSession(p Processor, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	id := uuid.New()
	return &Session{
		ID:        id,
		processor: p,
		logger:    logger.With(slog.String("session", id.String())),
	}
}

// Current returns the record last bound to the session, if any.
func (s *Session) Current() *Record {
	return s.current
}

// Release unbinds r if it is the session's current record.
func (s *Session) Release(r *Record) {
	if s.current == r {
		s.current = nil
	}
	if r.session == s {
		r.session = nil
	}
}

func (s *Session) bind(r *Record) {
	if s.current != nil && s.current != r {
		s.logger.Warn("session rebound to another record", "previous", s.current, "record", r)
	}
	if r.session != nil && r.session != s {
		r.session.logger.Warn("record taken over by another session", "record", r)
		r.session.current = nil
	}
	s.current = r
	r.session = s
}

// PreApproval places a hold for the record's amount.
func (r *Record) PreApproval(ctx context.Context, s *Session) error {
	return r.request(ctx, s, StatePreAuth)
}

// Authorize authorizes a sale.
func (r *Record) Authorize(ctx context.Context, s *Session) error {
	return r.request(ctx, s, StateAuthorize)
}

// FinalApproval completes a pre-authorization for the final amount.
func (r *Record) FinalApproval(ctx context.Context, s *Session) error {
	return r.request(ctx, s, StateComplete)
}

func (r *Record) Void(ctx context.Context, s *Session) error {
	return r.request(ctx, s, StateVoid)
}

func (r *Record) VoidCancel(ctx context.Context, s *Session) error {
	return r.request(ctx, s, StateVoidCancel)
}

func (r *Record) Refund(ctx context.Context, s *Session) error {
	return r.request(ctx, s, StateRefund)
}

func (r *Record) RefundCancel(ctx context.Context, s *Session) error {
	return r.request(ctx, s, StateRefundCancel)
}

// request runs one host round trip. The state only moves when the host
// approved; any other answer leaves the previous state in place.
func (r *Record) request(ctx context.Context, s *Session, action State) error {
	s.bind(r)
	r.ClearResponse()

	err := s.processor.Process(ctx, action, r)
	r.LastAction = action

	switch {
	case r.Code == CodeAuthorized:
		r.SetState(StateFind)
	case r.IsErrored():
		r.ArchiveError()
	}

	s.logger.Info("host request done", "action", action.String(), "record", r)
	return err
}
