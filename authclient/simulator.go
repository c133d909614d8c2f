package authclient

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/alovak/cardflow-pos/batch"
	"github.com/alovak/cardflow-pos/card"
	"github.com/alovak/cardflow-pos/internal/pan"
	"golang.org/x/exp/slog"
)

// Simulator is an in-process authorization host. It approves valid cards
// and keeps per-brand batch totals the way a real host would. Amounts
// ending in .51 are declined, .52 get a voice referral, .53 a system error
// and .54 a retry.
type Simulator struct {
	logger     *slog.Logger
	listenAddr string
	Addr       string
	listener   net.Listener
	wg         sync.WaitGroup

	// SendAck makes the simulator acknowledge each request before answering.
	SendAck bool
	// ChunkDelay splits every answer into two writes this far apart.
	ChunkDelay time.Duration
	// Handler replaces the built-in host behavior when set.
	Handler func(req *Request) *Response

	mu           sync.Mutex
	now          func() time.Time
	seq          int
	batchNo      int
	ledger       batch.Totals
	details      []string
	safPending   int
	safForwarded int
	safAmount    int64
	requests     []*Request
}

func NewSimulator(logger *slog.Logger, listenAddr string) *Simulator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Simulator{
		logger:     logger.With(slog.String("component", "host-simulator")),
		listenAddr: listenAddr,
		now:        time.Now,
		ledger:     batch.NewTotals(),
	}
}

func (s *Simulator) Start() error {
	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.listenAddr, err)
	}
	s.listener = ln
	s.Addr = ln.Addr().String()
	s.logger.Info("host simulator started", "addr", s.Addr)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				if !errors.Is(err, net.ErrClosed) {
					s.logger.Error("accepting connection", "err", err)
				}
				return
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.handle(conn)
			}()
		}
	}()
	return nil
}

func (s *Simulator) Close() error {
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	s.wg.Wait()
	return err
}

// Requests returns every request received so far.
func (s *Simulator) Requests() []*Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Request(nil), s.requests...)
}

// QueueSAF records transactions the host holds for forwarding.
func (s *Simulator) QueueSAF(count int, amount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.safPending += count
	s.safAmount += amount
}

func (s *Simulator) handle(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	buf := make([]byte, RequestLen)
	if _, err := io.ReadFull(conn, buf); err != nil {
		s.logger.Error("reading request", "err", err)
		return
	}
	req, err := DecodeRequest(buf)
	if err != nil {
		s.logger.Error("decoding request", "err", err)
		_, _ = conn.Write([]byte("BAD REQUEST"))
		return
	}

	var resp *Response
	if s.Handler != nil {
		resp = s.Handler(req)
	} else {
		resp = s.answer(req)
	}
	answer, err := EncodeResponse(resp)
	if err != nil {
		s.logger.Error("encoding answer", "err", err)
		return
	}

	if s.SendAck {
		if _, err := conn.Write([]byte(ackFrame + "\r\n")); err != nil {
			return
		}
	}
	if s.ChunkDelay > 0 {
		half := len(answer) / 2
		if _, err := conn.Write(answer[:half]); err != nil {
			return
		}
		time.Sleep(s.ChunkDelay)
		answer = answer[half:]
	}
	if _, err := conn.Write(answer); err != nil {
		s.logger.Error("writing answer", "err", err)
		return
	}

	// the client decides when the answer is complete; wait for it to hang up
	_, _ = io.Copy(io.Discard, conn)
}

func (s *Simulator) answer(req *Request) *Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)

	switch req.Type {
	case TxSale, TxPreAuth, TxFinishAuth, TxVoid, TxVoidCancel, TxRefund, TxRefundCancel:
		return s.cardAnswer(req)
	case TxBatchSettle:
		s.batchNo++
		resp := approved("BATCH CLOSED")
		resp.Receipt.BatchID = fmt.Sprintf("%06d", s.batchNo)
		resp.Receipt.TerminalID = req.TerminalID
		resp.Receipt.Totals = s.ledger.NonZero()
		resp.Receipt.Lines = []string{"BATCH " + resp.Receipt.BatchID + " CLOSED"}
		s.ledger = batch.NewTotals()
		s.details = nil
		return resp
	case TxTotals:
		resp := approved("BATCH TOTALS")
		resp.Receipt.BatchID = fmt.Sprintf("%06d", s.batchNo+1)
		resp.Receipt.Totals = s.ledger.NonZero()
		return resp
	case TxDetails:
		resp := approved("BATCH DETAILS")
		resp.Receipt.Lines = append([]string(nil), s.details...)
		return resp
	case TxSAFDetails:
		resp := approved("SAF DETAILS")
		resp.Receipt.SAFPending = s.safPending
		resp.Receipt.SAFForwarded = s.safForwarded
		resp.Receipt.SAFAmount = s.safAmount
		return resp
	case TxClearSAF:
		s.safForwarded += s.safPending
		s.safPending = 0
		s.safAmount = 0
		resp := approved("SAF CLEARED")
		resp.Receipt.SAFForwarded = s.safForwarded
		return resp
	case TxInit:
		resp := approved("INITIALIZED")
		resp.Receipt.TerminalID = req.TerminalID
		resp.Receipt.Lines = []string{"TERMINAL " + req.TerminalID + " INITIALIZED"}
		resp.Display = []string{"READY"}
		return resp
	default:
		return &Response{Outcome: 'E', ResponseCode: "UNSUPPORTED " + string(req.Type), ISOCode: "12"}
	}
}

func (s *Simulator) cardAnswer(req *Request) *Response {
	debit := req.SubType == SubDebit
	if !debit && !pan.Valid(req.Card) {
		return &Response{Outcome: 'D', ResponseCode: "INVALID CARD", ISOCode: "14"}
	}
	switch req.Amount % 100 {
	case 51:
		return &Response{Outcome: 'D', ResponseCode: "DECLINED", ISOCode: "51"}
	case 52:
		return &Response{Outcome: 'V', ResponseCode: "CALL CENTER", ISOCode: "01"}
	case 53:
		return &Response{Outcome: 'E', ResponseCode: "SYSTEM ERROR", ISOCode: "96"}
	case 54:
		return &Response{Outcome: 'Y', ResponseCode: "RETRY", ISOCode: "19"}
	}

	s.seq++
	now := s.now()
	auth := fmt.Sprintf("%06d", 100000+s.seq)
	resp := approved("APPROVED " + auth)
	resp.Receipt = Receipt{
		Account:    pan.Mask(req.Card),
		Expiry:     req.Expiry,
		AuthCode:   auth,
		Reference:  fmt.Sprintf("%012d", s.seq),
		Sequence:   fmt.Sprintf("%04d", s.seq),
		Date:       now.Format("060102"),
		Time:       now.Format("150405"),
		Language:   "EN",
		TerminalID: req.TerminalID,
		Network:    "SIM",
		Entry:      "S",
		Lines:      []string{req.Type.String() + " " + FormatAmount(req.Amount), "AUTH " + auth},
		Display:    []string{"APPROVED"},
	}

	brand := pan.DetectBrand(req.Card)
	if debit {
		brand = pan.BrandDebit
		resp.Receipt.DebitAccount = card.DebitAccountChecking
	}
	row := s.ledger.For(brand)
	switch req.Type {
	case TxSale, TxFinishAuth, TxVoidCancel:
		row.HostCount++
		row.HostAmount += req.Amount
	case TxVoid:
		row.HostCount--
		row.HostAmount -= req.Amount
	case TxRefund:
		row.HostCount++
		row.HostAmount -= req.Amount
	case TxRefundCancel:
		row.HostCount--
		row.HostAmount += req.Amount
	}
	s.details = append(s.details, fmt.Sprintf("%s %s %s %s", resp.Receipt.Sequence, req.Type, resp.Receipt.Account, FormatAmount(req.Amount)))
	return resp
}

func approved(code string) *Response {
	return &Response{Outcome: 'A', ResponseCode: code, ISOCode: "00"}
}
