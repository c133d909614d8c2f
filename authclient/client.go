package authclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/alovak/cardflow-pos/card"
	"golang.org/x/exp/slog"
)

// ErrNoConnection is returned when the host could not be reached or the
// connection failed before the request went out.
var ErrNoConnection = fmt.Errorf("no connection to authorization host")

// VerbNoConnection is what the operator sees when the host is unreachable.
const VerbNoConnection = "No Connection"

// ackFrame is sent by some hosts right after accepting a request.
const ackFrame = "\x06Wait, request sent"

type Config struct {
	Addr       string
	TerminalID string

	// ConnectTimeout bounds the dial and the request write.
	ConnectTimeout time.Duration
	// PollInterval is how long one read waits for more bytes.
	PollInterval time.Duration
	// IdlePolls is how many empty polls in a row end the answer once some
	// of it has arrived.
	IdlePolls int
	// MaxWait bounds the whole read.
	MaxWait time.Duration
}

func DefaultConfig() Config {
	return Config{
		Addr:           "127.0.0.1:8583",
		TerminalID:     "TERM01",
		ConnectTimeout: 10 * time.Second,
		PollInterval:   250 * time.Millisecond,
		IdlePolls:      3,
		MaxWait:        60 * time.Second,
	}
}

// Client sends requests to the authorization host. Every call opens its own
// connection; nothing is retried.
type Client struct {
	config Config
	logger *slog.Logger
}

func New(config Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		config: config,
		logger: logger.With(slog.String("component", "authclient")),
	}
}

var txTypes = map[card.State]TxType{
	card.StatePreAuth:      TxPreAuth,
	card.StateAuthorize:    TxSale,
	card.StateComplete:     TxFinishAuth,
	card.StateVoid:         TxVoid,
	card.StateVoidCancel:   TxVoidCancel,
	card.StateRefund:       TxRefund,
	card.StateRefundCancel: TxRefundCancel,
}

// Process sends the request for action and writes the answer into r. Host
// declines are not errors; they show in r.Code. A connection failure sets
// CodeNoConnection and returns ErrNoConnection.
func (c *Client) Process(ctx context.Context, action card.State, r *card.Record) error {
	t, ok := txTypes[action]
	if !ok {
		return fmt.Errorf("no host request for %s", action)
	}
	resp, err := c.Send(ctx, NewRequest(t, r, c.config.TerminalID))
	if resp != nil {
		resp.Apply(r)
	}
	return err
}

// Settle closes the host batch.
func (c *Client) Settle(ctx context.Context) (*Response, error) {
	return c.Command(ctx, TxBatchSettle)
}

// Totals asks for the open batch totals without closing it.
func (c *Client) Totals(ctx context.Context) (*Response, error) {
	return c.Command(ctx, TxTotals)
}

// Details asks for the open batch transaction list.
func (c *Client) Details(ctx context.Context) (*Response, error) {
	return c.Command(ctx, TxDetails)
}

func (c *Client) ClearSAF(ctx context.Context) (*Response, error) {
	return c.Command(ctx, TxClearSAF)
}

func (c *Client) SAFDetails(ctx context.Context) (*Response, error) {
	return c.Command(ctx, TxSAFDetails)
}

// Init initializes the terminal with the host.
func (c *Client) Init(ctx context.Context) (*Response, error) {
	return c.Command(ctx, TxInit)
}

// Command sends a terminal-level request that carries no card.
func (c *Client) Command(ctx context.Context, t TxType) (*Response, error) {
	return c.Send(ctx, &Request{Type: t, SubType: SubCredit, TerminalID: c.config.TerminalID})
}

// Send runs one exchange. The returned Response is non-nil whenever the
// request was encodable, including on connection and protocol failures.
func (c *Client) Send(ctx context.Context, req *Request) (*Response, error) {
	payload, err := req.Encode()
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", req.Type, err)
	}

	started := time.Now()
	raw, err := c.exchange(ctx, payload)
	if errors.Is(err, ErrNoConnection) {
		c.logger.Warn("host unreachable", "type", req.Type.String(), "addr", c.config.Addr, "err", err)
		return &Response{Code: card.CodeNoConnection, Verbatim: VerbNoConnection}, err
	}
	if err != nil {
		c.logger.Error("reading host answer", "type", req.Type.String(), "err", err)
		return verbatim(raw), err
	}

	resp, err := Decode(raw)
	c.logger.Info("host answered",
		"type", req.Type.String(),
		"code", string(resp.Code),
		"verb", resp.Verb(),
		"took", time.Since(started).String(),
	)
	return resp, err
}

func (c *Client) exchange(ctx context.Context, payload []byte) ([]byte, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", c.config.Addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoConnection, err)
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(c.config.ConnectTimeout)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoConnection, err)
	}
	if _, err := conn.Write(payload); err != nil {
		return nil, fmt.Errorf("%w: writing request: %w", ErrNoConnection, err)
	}
	return c.readAnswer(ctx, conn)
}

// readAnswer polls the connection until the answer has gone quiet for
// IdlePolls polls, the peer closes, or MaxWait passes.
func (c *Client) readAnswer(ctx context.Context, conn net.Conn) ([]byte, error) {
	var data []byte
	buf := make([]byte, 1024)
	idle := 0
	deadline := time.Now().Add(c.config.MaxWait)

	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return stripAck(data), err
		}
		if err := conn.SetReadDeadline(time.Now().Add(c.config.PollInterval)); err != nil {
			return stripAck(data), err
		}

		n, err := conn.Read(buf)
		if n > 0 {
			data = append(data, buf[:n]...)
			idle = 0
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return stripAck(data), nil
		case isTimeout(err):
			if n == 0 && len(stripAck(data)) > 0 {
				idle++
				if idle >= c.config.IdlePolls {
					return stripAck(data), nil
				}
			}
		default:
			return stripAck(data), fmt.Errorf("reading answer: %w", err)
		}
	}
	return stripAck(data), nil
}

// stripAck drops a leading acknowledgement frame. While only the
// acknowledgement has arrived nothing of the answer is there yet.
func stripAck(data []byte) []byte {
	if len(data) == 0 || data[0] != ack {
		return data
	}
	if i := bytes.IndexByte(data, controlByte); i >= 0 {
		return data[i:]
	}
	if len(data) <= len(ackFrame) && bytes.HasPrefix([]byte(ackFrame), data) {
		return nil
	}
	if bytes.HasPrefix(data, []byte(ackFrame)) {
		return bytes.TrimLeft(data[len(ackFrame):], "\r\n\x00")
	}
	return data
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
