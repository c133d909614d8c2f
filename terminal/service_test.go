package terminal

import (
	"context"
	"errors"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/alovak/cardflow-pos/authclient"
	"github.com/alovak/cardflow-pos/card"
	"github.com/alovak/cardflow-pos/internal/pan"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

const (
	visaSwipe    = "%B4111111111111111^DOE/JOHN^2812101123450000000?;4111111111111111=28121011234500000?"
	mcSwipe      = ";5555555555554444=28121011234500000?"
	badLuhnSwipe = ";4111111111111112=28121011234500000?"
)

var testNow = time.Date(2026, time.October, 16, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(dir, addr string) *Config {
	config := DefaultConfig()
	config.DataDir = dir
	config.HostAddr = addr
	config.ConnectTimeout = time.Second
	config.PollInterval = 20 * time.Millisecond
	config.MaxWait = 5 * time.Second
	return config
}

func newService(t *testing.T, dir string) (*Service, *authclient.Simulator) {
	t.Helper()
	sim := authclient.NewSimulator(testLogger(), "127.0.0.1:0")
	require.NoError(t, sim.Start())
	t.Cleanup(func() { sim.Close() })

	svc := serviceFor(testConfig(dir, sim.Addr))
	require.NoError(t, svc.Load())
	return svc, sim
}

func serviceFor(config *Config) *Service {
	svc := NewService(authclient.New(config.ClientConfig(), testLogger()), config, nil, testLogger())
	svc.now = func() time.Time { return testNow }
	return svc
}

func TestSale(t *testing.T) {
	svc, _ := newService(t, t.TempDir())
	ctx := context.Background()

	r, err := svc.Sale(ctx, []byte(visaSwipe), 1000, 150, card.CategoryCredit)
	require.NoError(t, err)
	require.Equal(t, card.CodeAuthorized, r.Code)
	require.Equal(t, card.StateAuthorize, r.State)
	require.Equal(t, int64(1150), r.AuthAmount)
	require.Equal(t, pan.BrandVisa, r.Brand)
	require.Equal(t, 1, r.ID)
	require.Equal(t, card.BucketException, r.Bucket)
	require.NotEmpty(t, r.Approval)

	entries, err := svc.Journal().Entries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "************1111", entries[0].Card)
}

func TestSaleNotApproved(t *testing.T) {
	svc, _ := newService(t, t.TempDir())
	ctx := context.Background()

	tests := []struct {
		name   string
		amount int64
		code   card.Code
		failed bool
	}{
		{"declined", 1051, card.CodeDeclined, false},
		{"voice referral", 1052, card.CodeVoice, false},
		{"host error", 1053, card.CodeError, false},
		{"retry", 1054, card.CodeRetry, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := svc.Sale(ctx, []byte(visaSwipe), tt.amount, 0, card.CategoryCredit)
			if (err != nil) != tt.failed {
				t.Fatalf("Sale() error = %v", err)
			}
			if r.Code != tt.code {
				t.Fatalf("Code = %q, want %q", r.Code, tt.code)
			}
		})
	}
	require.Equal(t, 0, svc.Stores().Exceptions.Len())
}

func TestSaleRejectsCard(t *testing.T) {
	svc, sim := newService(t, t.TempDir())

	r, err := svc.Sale(context.Background(), []byte(badLuhnSwipe), 1000, 0, card.CategoryCredit)
	require.ErrorIs(t, err, card.ErrInvalidNumber)
	require.Equal(t, card.VerbInvalidNumber, r.Verb)
	require.Empty(t, sim.Requests())

	_, err = svc.Sale(context.Background(), []byte(visaSwipe), 0, 0, card.CategoryCredit)
	require.ErrorIs(t, err, ErrAmount)
}

func TestSaleNoConnection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	svc := serviceFor(testConfig("", addr))
	r, err := svc.Sale(context.Background(), []byte(visaSwipe), 1000, 0, card.CategoryCredit)
	require.ErrorIs(t, err, authclient.ErrNoConnection)
	require.Equal(t, card.CodeNoConnection, r.Code)
	require.Len(t, r.Errors, 1)
	require.Equal(t, 0, svc.Stores().Exceptions.Len())
}

func TestPreAuthComplete(t *testing.T) {
	svc, sim := newService(t, t.TempDir())
	ctx := context.Background()

	r, err := svc.PreAuth(ctx, []byte(visaSwipe), 5000, card.CategoryCredit)
	require.NoError(t, err)
	require.True(t, r.IsPreauthed())
	require.Equal(t, int64(5000), r.PreauthAmount)
	require.Empty(t, svc.LocalTotals().NonZero(), "holds are not batch totals")

	_, err = svc.Complete(ctx, 99, 0, 0)
	require.ErrorIs(t, err, ErrNotFound)

	r, err = svc.Complete(ctx, r.ID, 4500, 500)
	require.NoError(t, err)
	require.Equal(t, card.StateComplete, r.State)
	require.Equal(t, int64(5000), r.AuthAmount)
	require.Equal(t, int64(0), r.PreauthAmount)

	reqs := sim.Requests()
	require.Len(t, reqs, 2)
	require.Equal(t, authclient.TxFinishAuth, reqs[1].Type)
	require.Equal(t, int64(5000), reqs[1].Amount)

	_, err = svc.Complete(ctx, r.ID, 0, 0)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestVoidAndCancel(t *testing.T) {
	svc, _ := newService(t, t.TempDir())
	ctx := context.Background()

	r, err := svc.Sale(ctx, []byte(visaSwipe), 2000, 0, card.CategoryCredit)
	require.NoError(t, err)

	_, err = svc.VoidCancel(ctx, r.ID)
	require.ErrorIs(t, err, ErrInvalidState)

	r, err = svc.Void(ctx, r.ID)
	require.NoError(t, err)
	require.True(t, r.IsVoided())
	require.Equal(t, int64(0), r.Total())
	require.Equal(t, 1, svc.Stores().Voids.Len())

	_, err = svc.Void(ctx, r.ID)
	require.ErrorIs(t, err, ErrInvalidState)

	r, err = svc.VoidCancel(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, card.StateVoidCancel, r.State)
	require.Equal(t, int64(2000), r.Total())
}

func TestVoidWithTipBalances(t *testing.T) {
	svc, _ := newService(t, t.TempDir())
	ctx := context.Background()

	r, err := svc.Sale(ctx, []byte(visaSwipe), 2000, 500, card.CategoryCredit)
	require.NoError(t, err)
	require.Equal(t, int64(2500), r.Total())

	r, err = svc.Void(ctx, r.ID)
	require.NoError(t, err)
	require.True(t, r.IsVoided())
	require.Equal(t, int64(0), r.Total())
	local := svc.LocalTotals()
	require.True(t, local.For(pan.BrandVisa).IsZero())

	totals, _, err := svc.Totals(ctx)
	require.NoError(t, err)
	visa := totals.For(pan.BrandVisa)
	require.Equal(t, 0, visa.HostCount)
	require.Equal(t, int64(0), visa.HostAmount)
	require.True(t, visa.Balanced())

	st, err := svc.Settle(ctx)
	require.NoError(t, err)
	require.True(t, st.Balanced())

	_, err = svc.VoidCancel(ctx, r.ID)
	require.ErrorIs(t, err, ErrInvalidState, "settled voids stay voided")
}

func TestAmountsValidated(t *testing.T) {
	svc, sim := newService(t, t.TempDir())
	ctx := context.Background()

	tests := []struct {
		name   string
		amount int64
		tip    int64
	}{
		{"zero amount", 0, 0},
		{"negative amount", -100, 0},
		{"negative tip", 1000, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Sale(ctx, []byte(visaSwipe), tt.amount, tt.tip, card.CategoryCredit); !errors.Is(err, ErrAmount) {
				t.Fatalf("Sale(%d, %d) = %v, want ErrAmount", tt.amount, tt.tip, err)
			}
		})
	}
	require.Empty(t, sim.Requests(), "nothing reaches the host")

	r, err := svc.PreAuth(ctx, []byte(visaSwipe), 3000, card.CategoryCredit)
	require.NoError(t, err)
	_, err = svc.Complete(ctx, r.ID, 3000, -50)
	require.ErrorIs(t, err, ErrAmount)
	require.Equal(t, int64(0), r.Tip)
}

func TestNilLogger(t *testing.T) {
	sim := authclient.NewSimulator(nil, "127.0.0.1:0")
	require.NoError(t, sim.Start())
	t.Cleanup(func() { sim.Close() })

	config := testConfig(t.TempDir(), sim.Addr)
	svc := NewService(authclient.New(config.ClientConfig(), nil), config, nil, nil)
	require.NotPanics(t, func() {
		_, err := svc.Sale(context.Background(), []byte(visaSwipe), 1000, 0, card.CategoryCredit)
		require.NoError(t, err)
		_, err = svc.Settle(context.Background())
		require.NoError(t, err)
	})
}

func TestRefundAndCancel(t *testing.T) {
	svc, _ := newService(t, t.TempDir())
	ctx := context.Background()

	r, err := svc.Refund(ctx, []byte(mcSwipe), 700, card.CategoryCredit)
	require.NoError(t, err)
	require.Equal(t, card.BucketRefund, r.Bucket)
	require.Equal(t, int64(-700), r.Total())

	r, err = svc.RefundCancel(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, int64(0), r.Total())

	_, err = svc.RefundCancel(ctx, r.ID)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestSettle(t *testing.T) {
	dir := t.TempDir()
	svc, _ := newService(t, dir)
	ctx := context.Background()

	_, err := svc.Sale(ctx, []byte(visaSwipe), 1000, 0, card.CategoryCredit)
	require.NoError(t, err)
	_, err = svc.Sale(ctx, []byte(mcSwipe), 2000, 0, card.CategoryCredit)
	require.NoError(t, err)
	_, err = svc.Sale(ctx, []byte(mcSwipe), 300, 0, card.CategoryDebit)
	require.NoError(t, err)
	_, err = svc.Refund(ctx, []byte(visaSwipe), 400, card.CategoryCredit)
	require.NoError(t, err)

	totals, _, err := svc.Totals(ctx)
	require.NoError(t, err)
	visa := totals.For(pan.BrandVisa)
	require.Equal(t, 2, visa.LocalCount)
	require.Equal(t, int64(600), visa.LocalAmount)
	require.True(t, visa.Balanced())
	require.Equal(t, int64(300), totals.For(pan.BrandDebit).HostAmount)

	st, err := svc.Settle(ctx)
	require.NoError(t, err)
	require.True(t, st.Approved)
	require.True(t, st.Balanced())
	require.Equal(t, "000001", st.BatchID)
	require.Len(t, st.Totals, 3)

	for _, r := range svc.Stores().Exceptions.Records() {
		require.Equal(t, "000001", r.BatchID)
	}
	require.Empty(t, svc.LocalTotals().NonZero())
	require.FileExists(t, filepath.Join(dir, settlementsFile))

	_, err = svc.Void(ctx, 1)
	require.ErrorIs(t, err, ErrInvalidState, "settled records cannot be voided")
}

func TestInitAndSAF(t *testing.T) {
	dir := t.TempDir()
	svc, sim := newService(t, dir)
	ctx := context.Background()

	lines, err := svc.Init(ctx)
	require.NoError(t, err)
	require.Equal(t, "init: INITIALIZED", lines[0].Text)
	require.Equal(t, len(lines), svc.History().Init.Len())

	sim.QueueSAF(3, 4500)
	e, err := svc.SAFDetails(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, e.Pending)
	require.Equal(t, int64(4500), e.Amount)
	require.False(t, e.Cleared)

	e, err = svc.ClearSAF(ctx)
	require.NoError(t, err)
	require.True(t, e.Cleared)
	require.Equal(t, 3, e.Forwarded)
	require.Equal(t, 2, svc.History().SAF.Len())
	require.FileExists(t, filepath.Join(dir, safFile))
	require.FileExists(t, filepath.Join(dir, initLogFile))
}

func TestReloadAndArchive(t *testing.T) {
	dir := t.TempDir()
	svc, sim := newService(t, dir)
	ctx := context.Background()

	_, err := svc.Sale(ctx, []byte(visaSwipe), 1000, 0, card.CategoryCredit)
	require.NoError(t, err)
	_, err = svc.Settle(ctx)
	require.NoError(t, err)

	archived, err := svc.ArchiveHistory()
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(archived, settlementsFile))
	require.Equal(t, 0, svc.History().Settlements.Len())

	_, err = svc.Sale(ctx, []byte(mcSwipe), 2000, 0, card.CategoryCredit)
	require.NoError(t, err)
	_, err = svc.Settle(ctx)
	require.NoError(t, err)

	reloaded := serviceFor(testConfig(dir, sim.Addr))
	require.NoError(t, reloaded.Load())
	require.Equal(t, 2, reloaded.Stores().Exceptions.Len())

	settlements := reloaded.History().Settlements
	require.Equal(t, 1, settlements.Len())
	cur, ok := settlements.Current()
	require.True(t, ok)
	require.Equal(t, "000002", cur.BatchID)
	older, ok := settlements.Fore()
	require.True(t, ok)
	require.Equal(t, "000001", older.BatchID)
	_, ok = settlements.Fore()
	require.False(t, ok)
	require.NoError(t, settlements.Err())
}

func TestArchiveWithoutDataDir(t *testing.T) {
	svc := serviceFor(testConfig("", "127.0.0.1:1"))
	_, err := svc.ArchiveHistory()
	require.Error(t, err)
	require.NoError(t, svc.Load())
}
