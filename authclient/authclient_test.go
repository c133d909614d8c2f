package authclient

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/alovak/cardflow-pos/card"
	"github.com/alovak/cardflow-pos/internal/pan"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func creditRecord(amount int64) *card.Record {
	r := card.New()
	r.Number = "4111111111111111"
	r.Expiry = "1228"
	r.Amount = amount
	r.Brand = pan.BrandVisa
	return r
}

func TestRequestEncode(t *testing.T) {
	r := creditRecord(1234)
	r.Reference = "REF000000001"
	r.Approval = "654321"

	data, err := NewRequest(TxSale, r, "TERM01").Encode()
	require.NoError(t, err)
	require.Len(t, data, RequestLen)

	got := string(data)
	require.Equal(t, "00", got[0:2])
	require.Equal(t, "0", got[2:3])
	require.Equal(t, fmt.Sprintf("%-40s", "4111111111111111"), got[3:43])
	require.Equal(t, "1228", got[43:47])
	require.Equal(t, "     12.34", got[47:57])
	require.Equal(t, strings.Repeat(" ", 12), got[57:69], "initial requests carry no reference")
	require.Equal(t, fmt.Sprintf("%-12s", "TERM01"), got[69:81])
	require.Equal(t, strings.Repeat(" ", 10), got[81:91])
}

func TestRequestBlanking(t *testing.T) {
	tests := []struct {
		name      string
		typ       TxType
		category  card.Category
		card      string
		amount    int64
		reference string
		priorAuth string
	}{
		{"credit void", TxVoid, card.CategoryCredit, "4111111111111111", 2800, "REF000000001", "654321"},
		{"debit sale", TxSale, card.CategoryDebit, "", 2800, "", ""},
		{"void cancel", TxVoidCancel, card.CategoryCredit, "4111111111111111", 2800, "", "654321"},
		{"refund", TxRefund, card.CategoryCredit, "4111111111111111", 2500, "REF000000001", ""},
		{"finish auth", TxFinishAuth, card.CategoryCredit, "4111111111111111", 2800, "REF000000001", "111111"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := creditRecord(2500)
			r.Tip = 300
			r.Category = tt.category
			r.Reference = "REF000000001"
			r.Approval = "654321"
			r.PreauthApproval = "111111"

			data, err := NewRequest(tt.typ, r, "TERM01").Encode()
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			req, err := DecodeRequest(data)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if req.Card != tt.card || req.Amount != tt.amount || req.Reference != tt.reference || req.PriorAuth != tt.priorAuth {
				t.Fatalf("unexpected request %+v", req)
			}
		})
	}
}

func TestCommandRequestHasNoAmount(t *testing.T) {
	req := &Request{Type: TxTotals, SubType: SubCredit, TerminalID: "TERM01", Amount: 999}
	data, err := req.Encode()
	require.NoError(t, err)
	require.Equal(t, strings.Repeat(" ", 10), string(data[47:57]))
}

func TestFormatParseAmount(t *testing.T) {
	require.Equal(t, "0.05", FormatAmount(5))
	require.Equal(t, "1234.50", FormatAmount(123450))

	cents, err := ParseAmount("19.99")
	require.NoError(t, err)
	require.Equal(t, int64(1999), cents)

	_, err = ParseAmount("abc")
	require.Error(t, err)
}

func answer(outcome byte, code, iso, receipt, display string) []byte {
	var b strings.Builder
	b.WriteByte(controlByte)
	b.WriteString(answerTag)
	b.WriteByte(outcome)
	b.WriteString(fmt.Sprintf("%-40s%-2s%40s", code, iso, ""))
	b.WriteByte(fieldSeparator)
	b.WriteString(receipt)
	b.WriteByte(fieldSeparator)
	b.WriteString(display)
	b.WriteByte(endOfText)
	return []byte(b.String())
}

func TestDecode(t *testing.T) {
	receipt := "AUT: 123456\nREF: 000000000001\nXYZ: ignored\nnot a key line\n" +
		"RCT: SALE 10.00\nRCT: THANK YOU\nACT: SAV\nLNG: FR\nVIS: 2,30.00\nAMX: 1,5.00,1,5.00\n"
	resp, err := Decode(answer('A', "APPROVED 123456", "00", receipt, "PLEASE SIGN\n"))
	require.NoError(t, err)

	require.Equal(t, card.CodeAuthorized, resp.Code)
	require.Equal(t, "APPROVED 123456", resp.ResponseCode)
	require.Equal(t, "00", resp.ISOCode)
	require.Equal(t, "123456", resp.Receipt.AuthCode)
	require.Equal(t, "000000000001", resp.Receipt.Reference)
	require.Equal(t, []string{"SALE 10.00", "THANK YOU"}, resp.Receipt.Lines)
	require.Equal(t, card.DebitAccountSavings, resp.Receipt.DebitAccount)
	require.Equal(t, []string{"PLEASE SIGN"}, resp.Display)

	require.Len(t, resp.Receipt.Totals, 2)
	require.Equal(t, pan.BrandVisa, resp.Receipt.Totals[0].Brand)
	require.Equal(t, 2, resp.Receipt.Totals[0].HostCount)
	require.Equal(t, int64(3000), resp.Receipt.Totals[0].HostAmount)
	require.Equal(t, 1, resp.Receipt.Totals[1].LocalCount)

	r := creditRecord(1000)
	resp.Apply(r)
	require.Equal(t, card.CodeAuthorized, r.Code)
	require.Equal(t, "123456", r.Approval)
	require.Equal(t, "FR", r.Language)
	require.Equal(t, "APPROVED 123456", r.Verb)
}

func TestDecodeOutcomes(t *testing.T) {
	tests := []struct {
		outcome byte
		want    card.Code
	}{
		{'A', card.CodeAuthorized},
		{'F', card.CodeAuthorized},
		{'I', card.CodeAuthorized},
		{'D', card.CodeDeclined},
		{'E', card.CodeError},
		{'Y', card.CodeRetry},
		{'Z', card.CodeRetry},
		{'V', card.CodeVoice},
		{'Q', card.CodeError},
	}

	for _, tt := range tests {
		resp, err := Decode(answer(tt.outcome, "", "", "", ""))
		if err != nil {
			t.Fatalf("outcome %c: %v", tt.outcome, err)
		}
		if resp.Code != tt.want {
			t.Fatalf("outcome %c: want %q, got %q", tt.outcome, tt.want, resp.Code)
		}
	}
}

func TestDecodeVerbatim(t *testing.T) {
	resp, err := Decode([]byte("HOST DOWN FOR MAINTENANCE\r\n"))
	require.ErrorIs(t, err, ErrProtocol)
	require.Equal(t, card.CodeError, resp.Code)
	require.Equal(t, "HOST DOWN FOR MAINTENANCE", resp.Verb())

	resp, err = Decode(nil)
	require.ErrorIs(t, err, ErrProtocol)
	require.Equal(t, "No Response", resp.Verb())
}

func TestEncodeResponseRoundTrip(t *testing.T) {
	in := approved("APPROVED 100001")
	in.Receipt = Receipt{AuthCode: "100001", BatchID: "000003", Lines: []string{"OK"}}
	in.Display = []string{"READY"}

	data, err := EncodeResponse(in)
	require.NoError(t, err)
	out, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, card.CodeAuthorized, out.Code)
	require.Equal(t, "000003", out.Receipt.BatchID)
	require.Equal(t, []string{"OK"}, out.Receipt.Lines)
	require.Equal(t, []string{"READY"}, out.Display)
}

func TestStripAck(t *testing.T) {
	require.Nil(t, stripAck([]byte("\x06Wait")))
	require.Nil(t, stripAck([]byte(ackFrame)))
	require.Equal(t, []byte("\x02ANS"), stripAck([]byte(ackFrame+"\r\n\x02ANS")))
	require.Equal(t, []byte("HELLO"), stripAck([]byte("HELLO")))
}

func startSimulator(t *testing.T) (*Simulator, *Client) {
	t.Helper()
	sim := NewSimulator(testLogger(), "127.0.0.1:0")
	require.NoError(t, sim.Start())
	t.Cleanup(func() { sim.Close() })

	client := New(Config{
		Addr:           sim.Addr,
		TerminalID:     "TERM01",
		ConnectTimeout: time.Second,
		PollInterval:   20 * time.Millisecond,
		IdlePolls:      3,
		MaxWait:        5 * time.Second,
	}, testLogger())
	return sim, client
}

func TestClientSale(t *testing.T) {
	sim, client := startSimulator(t)
	sim.SendAck = true
	sim.ChunkDelay = 10 * time.Millisecond

	r := creditRecord(1000)
	require.NoError(t, client.Process(context.Background(), card.StateAuthorize, r))
	require.Equal(t, card.CodeAuthorized, r.Code)
	require.Equal(t, "100001", r.Approval)
	require.Equal(t, "000000000001", r.Reference)
	require.Equal(t, "SIM", r.Network)
	require.NotEmpty(t, r.ReceiptLines)

	reqs := sim.Requests()
	require.Len(t, reqs, 1)
	require.Equal(t, TxSale, reqs[0].Type)
	require.Equal(t, int64(1000), reqs[0].Amount)
}

func TestClientHostAnswers(t *testing.T) {
	_, client := startSimulator(t)

	tests := []struct {
		amount int64
		want   card.Code
	}{
		{1051, card.CodeDeclined},
		{1052, card.CodeVoice},
		{1053, card.CodeError},
		{1054, card.CodeRetry},
	}
	for _, tt := range tests {
		r := creditRecord(tt.amount)
		if err := client.Process(context.Background(), card.StateAuthorize, r); err != nil {
			t.Fatalf("amount %d: %v", tt.amount, err)
		}
		if r.Code != tt.want {
			t.Fatalf("amount %d: want %q, got %q", tt.amount, tt.want, r.Code)
		}
	}
}

func TestClientSettle(t *testing.T) {
	_, client := startSimulator(t)
	ctx := context.Background()

	require.NoError(t, client.Process(ctx, card.StateAuthorize, creditRecord(1000)))
	require.NoError(t, client.Process(ctx, card.StateAuthorize, creditRecord(2000)))

	debit := creditRecord(500)
	debit.Category = card.CategoryDebit
	require.NoError(t, client.Process(ctx, card.StateAuthorize, debit))
	require.Equal(t, card.DebitAccountChecking, debit.DebitAccount)

	resp, err := client.Totals(ctx)
	require.NoError(t, err)
	require.Len(t, resp.Receipt.Totals, 2)

	resp, err = client.Settle(ctx)
	require.NoError(t, err)
	require.Equal(t, card.CodeAuthorized, resp.Code)
	require.Equal(t, "000001", resp.Receipt.BatchID)
	require.Equal(t, pan.BrandVisa, resp.Receipt.Totals[0].Brand)
	require.Equal(t, 2, resp.Receipt.Totals[0].HostCount)
	require.Equal(t, int64(3000), resp.Receipt.Totals[0].HostAmount)

	resp, err = client.Totals(ctx)
	require.NoError(t, err)
	require.Empty(t, resp.Receipt.Totals)
}

func TestClientSAFAndInit(t *testing.T) {
	sim, client := startSimulator(t)
	ctx := context.Background()
	sim.QueueSAF(2, 4200)

	resp, err := client.SAFDetails(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, resp.Receipt.SAFPending)
	require.Equal(t, int64(4200), resp.Receipt.SAFAmount)

	resp, err = client.ClearSAF(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, resp.Receipt.SAFForwarded)
	require.Equal(t, 0, resp.Receipt.SAFPending)

	resp, err = client.Init(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"TERMINAL TERM01 INITIALIZED"}, resp.Receipt.Lines)
	require.Equal(t, []string{"READY"}, resp.Display)

	resp, err = client.Details(ctx)
	require.NoError(t, err)
	require.Equal(t, card.CodeAuthorized, resp.Code)
}

func TestClientNoConnection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	cfg := DefaultConfig()
	cfg.Addr = addr
	cfg.ConnectTimeout = 500 * time.Millisecond
	client := New(cfg, testLogger())

	r := creditRecord(1000)
	err = client.Process(context.Background(), card.StateAuthorize, r)
	require.ErrorIs(t, err, ErrNoConnection)
	require.Equal(t, card.CodeNoConnection, r.Code)
	require.Equal(t, VerbNoConnection, r.Verb)
	require.True(t, r.IsErrored())

	resp, err := client.Settle(context.Background())
	require.ErrorIs(t, err, ErrNoConnection)
	require.Equal(t, card.CodeNoConnection, resp.Code)
}

func TestClientVerbatimAnswer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, RequestLen)
		_, _ = io.ReadFull(conn, buf)
		_, _ = conn.Write([]byte("TERMINAL NOT REGISTERED"))
	}()

	client := New(Config{
		Addr:           ln.Addr().String(),
		TerminalID:     "TERM01",
		ConnectTimeout: time.Second,
		PollInterval:   20 * time.Millisecond,
		IdlePolls:      3,
		MaxWait:        5 * time.Second,
	}, testLogger())

	r := creditRecord(1000)
	err = client.Process(context.Background(), card.StateAuthorize, r)
	require.ErrorIs(t, err, ErrProtocol)
	require.Equal(t, card.CodeError, r.Code)
	require.Equal(t, "TERMINAL NOT REGISTERED", r.Verb)
}

func TestSimulatorHandler(t *testing.T) {
	sim, client := startSimulator(t)
	sim.Handler = func(req *Request) *Response {
		return &Response{Outcome: 'D', ResponseCode: "NOT TODAY " + string(req.Type)}
	}

	r := creditRecord(1000)
	require.NoError(t, client.Process(context.Background(), card.StatePreAuth, r))
	require.True(t, r.IsDeclined())
	require.Equal(t, "NOT TODAY 01", r.Verb)
}
