// Package terminal wires the card core into a running POS terminal: the
// transaction flows, the end-of-day books and an ops API over them.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/alovak/cardflow-pos/authclient"
	"github.com/alovak/cardflow-pos/batch"
	"github.com/alovak/cardflow-pos/card"
	"github.com/alovak/cardflow-pos/internal/pan"
	"github.com/alovak/cardflow-pos/store"
	"github.com/google/uuid"
	"golang.org/x/exp/slog"
)

var (
	ErrNotFound     = store.ErrNotFound
	ErrInvalidState = fmt.Errorf("invalid state for operation")
	ErrAmount       = fmt.Errorf("amount must be positive and tip not negative")
)

// History file names under the data directory.
const (
	settlementsFile = "settlements"
	safFile         = "saf"
	initLogFile     = "init-log"
	archiveDir      = "archive"
)

// Host is what the terminal needs from the authorization host.
type Host interface {
	card.Processor
	Settle(ctx context.Context) (*authclient.Response, error)
	Totals(ctx context.Context) (*authclient.Response, error)
	Details(ctx context.Context) (*authclient.Response, error)
	Init(ctx context.Context) (*authclient.Response, error)
	ClearSAF(ctx context.Context) (*authclient.Response, error)
	SAFDetails(ctx context.Context) (*authclient.Response, error)
}

// Service runs card transactions for one terminal and keeps its books. It
// expects one operation at a time, as a POS terminal issues them.
type Service struct {
	host       Host
	stores     *store.Registry
	history    *batch.History
	journal    *Journal
	logger     *slog.Logger
	dataDir    string
	terminalID string
	now        func() time.Time
}

func NewService(host Host, config *Config, journal *Journal, logger *slog.Logger) *Service {
	if journal == nil {
		journal = NewJournal()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		host:       host,
		stores:     store.NewRegistry(config.DataDir, logger),
		history:    batch.NewHistory(),
		journal:    journal,
		logger:     logger,
		dataDir:    config.DataDir,
		terminalID: config.TerminalID,
		now:        time.Now,
	}
}

func (s *Service) Stores() *store.Registry {
	return s.stores
}

func (s *Service) History() *batch.History {
	return s.history
}

func (s *Service) Journal() *Journal {
	return s.journal
}

// Load reads the stores and histories from the data directory, with every
// archived period behind the live histories.
func (s *Service) Load() error {
	if s.dataDir == "" {
		return nil
	}
	if err := s.stores.Scan(); err != nil {
		return err
	}
	if err := s.history.Settlements.Load(s.path(settlementsFile)); err != nil {
		return err
	}
	if err := s.history.SAF.Load(s.path(safFile)); err != nil {
		return err
	}
	if err := s.history.Init.Load(s.path(initLogFile)); err != nil {
		return err
	}

	periods, err := s.archivedPeriods()
	if err != nil {
		return err
	}
	var settlements []batch.Archive[batch.Settlement]
	var saf []batch.Archive[batch.SAFEntry]
	var inits []batch.Archive[batch.InitEntry]
	for _, dir := range periods {
		settlements = append(settlements, batch.FileArchive[batch.Settlement]{Path: filepath.Join(dir, settlementsFile), Codec: batch.SettlementCodec})
		saf = append(saf, batch.FileArchive[batch.SAFEntry]{Path: filepath.Join(dir, safFile), Codec: batch.SAFCodec})
		inits = append(inits, batch.FileArchive[batch.InitEntry]{Path: filepath.Join(dir, initLogFile), Codec: batch.InitCodec})
	}
	s.history.Settlements.SetArchives(settlements...)
	s.history.SAF.SetArchives(saf...)
	s.history.Init.SetArchives(inits...)
	return nil
}

func (s *Service) path(name string) string {
	return filepath.Join(s.dataDir, name)
}

// archivedPeriods lists archive directories, newest first.
func (s *Service) archivedPeriods() ([]string, error) {
	entries, err := os.ReadDir(s.path(archiveDir))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing archives: %w", err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))
	for i, d := range dirs {
		dirs[i] = filepath.Join(s.path(archiveDir), d)
	}
	return dirs, nil
}

// ArchiveHistory closes the current period: the live history files move into
// a new archive directory and the live histories start empty.
func (s *Service) ArchiveHistory() (string, error) {
	if s.dataDir == "" {
		return "", fmt.Errorf("archiving needs a data directory")
	}
	dir := filepath.Join(s.path(archiveDir), s.now().UTC().Format("20060102T150405.000"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating archive: %w", err)
	}
	for _, name := range []string{settlementsFile, safFile, initLogFile} {
		err := os.Rename(s.path(name), filepath.Join(dir, name))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("archiving %s: %w", name, err)
		}
	}
	s.history = batch.NewHistory()
	if err := s.Load(); err != nil {
		return "", err
	}
	s.logger.Info("history archived", "dir", dir)
	return dir, nil
}

// CheckCard parses and validates card input without contacting the host.
func (s *Service) CheckCard(raw []byte) (*card.Record, error) {
	r := card.New()
	err := r.ParseSwipe(raw, s.now())
	return r, err
}

// Sale authorizes amount plus tip on the card in raw.
func (s *Service) Sale(ctx context.Context, raw []byte, amount, tip int64, category card.Category) (*card.Record, error) {
	return s.open(ctx, raw, amount, tip, category, (*card.Record).Authorize)
}

// PreAuth places a hold for amount.
func (s *Service) PreAuth(ctx context.Context, raw []byte, amount int64, category card.Category) (*card.Record, error) {
	return s.open(ctx, raw, amount, 0, category, (*card.Record).PreApproval)
}

type transition func(r *card.Record, ctx context.Context, sess *card.Session) error

func (s *Service) open(ctx context.Context, raw []byte, amount, tip int64, category card.Category, run transition) (*card.Record, error) {
	if amount <= 0 || tip < 0 {
		return nil, ErrAmount
	}
	r := card.New()
	r.Category = category
	if err := r.ParseSwipe(raw, s.now()); err != nil {
		return r, err
	}
	r.Amount = amount
	r.Tip = tip
	r.TerminalID = s.terminalID

	if err := s.run(ctx, r, run); err != nil {
		return r, err
	}
	if r.Code != card.CodeAuthorized {
		return r, nil
	}
	return r, s.book(ctx, s.stores.Exceptions, r)
}

// Complete finishes a pre-authorization for its final amount and tip.
func (s *Service) Complete(ctx context.Context, id int, amount, tip int64) (*card.Record, error) {
	if amount < 0 || tip < 0 {
		return nil, ErrAmount
	}
	r, err := s.stores.Exceptions.Find(id)
	if err != nil {
		return nil, err
	}
	if !r.IsPreauthed() || r.State != card.StatePreAuth {
		return r, fmt.Errorf("completing record %d in state %s: %w", id, r.State, ErrInvalidState)
	}
	if amount > 0 {
		r.Amount = amount
	}
	r.Tip = tip
	return s.follow(ctx, s.stores.Exceptions, r, (*card.Record).FinalApproval)
}

// Void reverses an authorized or pre-authorized record.
func (s *Service) Void(ctx context.Context, id int) (*card.Record, error) {
	r, err := s.stores.Exceptions.Find(id)
	if err != nil {
		return nil, err
	}
	if r.IsVoided() || r.AuthState == card.StateNoAction || r.IsSettled() {
		return r, fmt.Errorf("voiding record %d in state %s: %w", id, r.State, ErrInvalidState)
	}
	return s.follow(ctx, s.stores.Exceptions, r, (*card.Record).Void)
}

// VoidCancel takes back a void.
func (s *Service) VoidCancel(ctx context.Context, id int) (*card.Record, error) {
	r, err := s.stores.Exceptions.Find(id)
	if err != nil {
		return nil, err
	}
	if !r.IsVoided() || r.IsSettled() {
		return r, fmt.Errorf("cancelling void of record %d in state %s: %w", id, r.State, ErrInvalidState)
	}
	return s.follow(ctx, s.stores.Exceptions, r, (*card.Record).VoidCancel)
}

// Refund returns amount to the card in raw.
func (s *Service) Refund(ctx context.Context, raw []byte, amount int64, category card.Category) (*card.Record, error) {
	if amount <= 0 {
		return nil, ErrAmount
	}
	r := card.New()
	r.Category = category
	if err := r.ParseSwipe(raw, s.now()); err != nil {
		return r, err
	}
	r.Amount = amount
	r.TerminalID = s.terminalID

	if err := s.run(ctx, r, (*card.Record).Refund); err != nil {
		return r, err
	}
	if r.Code != card.CodeAuthorized {
		return r, nil
	}
	return r, s.book(ctx, s.stores.Refunds, r)
}

// RefundCancel takes back a refund.
func (s *Service) RefundCancel(ctx context.Context, id int) (*card.Record, error) {
	r, err := s.stores.Refunds.Find(id)
	if err != nil {
		return nil, err
	}
	if !r.IsRefunded() {
		return r, fmt.Errorf("cancelling refund %d in state %s: %w", id, r.State, ErrInvalidState)
	}
	return s.follow(ctx, s.stores.Refunds, r, (*card.Record).RefundCancel)
}

// follow runs a transition on a stored record and books it when approved.
func (s *Service) follow(ctx context.Context, st *store.Store, r *card.Record, run transition) (*card.Record, error) {
	if err := s.run(ctx, r, run); err != nil {
		// failures are kept in the record's error history
		if saveErr := st.Save(r); saveErr != nil {
			s.logger.Error("saving record", "record", r, "err", saveErr)
		}
		return r, err
	}
	if r.Code != card.CodeAuthorized {
		return r, st.Save(r)
	}
	return r, s.book(ctx, st, r)
}

func (s *Service) run(ctx context.Context, r *card.Record, run transition) error {
	sess := card.NewSession(s.host, s.logger)
	defer sess.Release(r)
	return run(r, ctx, sess)
}

// book finalizes an approved record, files it and journals the event.
func (s *Service) book(ctx context.Context, st *store.Store, r *card.Record) error {
	if err := r.Finalize(s.now(), s.stores.Voids); err != nil {
		s.logger.Error("finalizing record", "record", r, "err", err)
	}
	if _, err := st.Add(r); err != nil {
		return err
	}
	err := s.journal.Record(ctx, newEntry(s.now(), r.State.String(), r))
	if err != nil && !errors.Is(err, ErrDuplicate) {
		s.logger.Error("journaling record", "record", r, "err", err)
	}
	return nil
}

// LocalTotals adds up, per brand, the records no settlement has claimed yet.
func (s *Service) LocalTotals() batch.Totals {
	totals := batch.NewTotals()
	for _, st := range []*store.Store{s.stores.Exceptions, s.stores.Refunds} {
		for _, r := range st.Records() {
			if r.IsSettled() || r.IsPreauthed() {
				continue
			}
			total := r.Total()
			if total == 0 {
				continue
			}
			totals.For(brandOf(r)).AddLocal(total)
		}
	}
	return totals
}

func brandOf(r *card.Record) pan.Brand {
	if r.Category == card.CategoryDebit {
		return pan.BrandDebit
	}
	return r.Brand
}

// Totals compares the host's open batch with the local books.
func (s *Service) Totals(ctx context.Context) (batch.Totals, *authclient.Response, error) {
	resp, err := s.host.Totals(ctx)
	totals := s.LocalTotals()
	if resp != nil {
		totals.Merge(resp.Receipt.Totals)
	}
	return totals, resp, err
}

// Details returns the host's list of transactions in the open batch.
func (s *Service) Details(ctx context.Context) ([]string, error) {
	resp, err := s.host.Details(ctx)
	if resp == nil {
		return nil, err
	}
	return resp.Receipt.Lines, err
}

// Settle closes the batch with the host. The attempt is kept in the
// settlement history either way; on approval every unsettled record is
// stamped with the batch id.
func (s *Service) Settle(ctx context.Context) (batch.Settlement, error) {
	local := s.LocalTotals()
	resp, err := s.host.Settle(ctx)

	st := batch.Settlement{
		ID:         uuid.New(),
		Time:       s.now(),
		TerminalID: s.terminalID,
		Totals:     local,
	}
	if resp != nil {
		st.Approved = resp.Code == card.CodeAuthorized
		st.Result = resp.Verb()
		st.BatchID = resp.Receipt.BatchID
		st.Receipt = resp.Receipt.Lines
		st.Totals.Merge(resp.Receipt.Totals)
	}
	st.Totals = st.Totals.NonZero()

	if st.Approved {
		for _, bucket := range []*store.Store{s.stores.Exceptions, s.stores.Refunds} {
			for _, r := range bucket.Records() {
				if r.IsSettled() || r.IsPreauthed() {
					continue
				}
				r.BatchID = st.BatchID
				if saveErr := bucket.Save(r); saveErr != nil {
					s.logger.Error("saving settled record", "record", r, "err", saveErr)
				}
			}
		}
	}

	s.history.Settlements.Append(st)
	if saveErr := s.saveHistory(settlementsFile, s.history.Settlements.Save); saveErr != nil {
		return st, saveErr
	}
	s.logger.Info("batch settle", "approved", st.Approved, "batch", st.BatchID, "balanced", st.Balanced())
	return st, err
}

// Init initializes the terminal with the host and logs the answer.
func (s *Service) Init(ctx context.Context) ([]batch.InitEntry, error) {
	resp, err := s.host.Init(ctx)
	if resp == nil {
		return nil, err
	}
	now := s.now()
	lines := []string{"init: " + resp.Verb()}
	lines = append(lines, resp.Receipt.Lines...)
	lines = append(lines, resp.Display...)

	var added []batch.InitEntry
	for _, l := range lines {
		e := batch.InitEntry{Time: now, Text: l}
		s.history.Init.Append(e)
		added = append(added, e)
	}
	if saveErr := s.saveHistory(initLogFile, s.history.Init.Save); saveErr != nil {
		return added, saveErr
	}
	return added, err
}

// SAFDetails records the host's store-and-forward counters.
func (s *Service) SAFDetails(ctx context.Context) (batch.SAFEntry, error) {
	resp, err := s.host.SAFDetails(ctx)
	return s.recordSAF(resp, false, err)
}

// ClearSAF asks the host to forward what it holds and records the result.
func (s *Service) ClearSAF(ctx context.Context) (batch.SAFEntry, error) {
	resp, err := s.host.ClearSAF(ctx)
	return s.recordSAF(resp, true, err)
}

func (s *Service) recordSAF(resp *authclient.Response, clear bool, err error) (batch.SAFEntry, error) {
	e := batch.SAFEntry{
		ID:         uuid.New(),
		Time:       s.now(),
		TerminalID: s.terminalID,
		Cleared:    clear && resp != nil && resp.Code == card.CodeAuthorized,
	}
	if resp != nil {
		e.Pending = resp.Receipt.SAFPending
		e.Forwarded = resp.Receipt.SAFForwarded
		e.Amount = resp.Receipt.SAFAmount
		e.Result = resp.Verb()
	}
	s.history.SAF.Append(e)
	if saveErr := s.saveHistory(safFile, s.history.SAF.Save); saveErr != nil {
		return e, saveErr
	}
	return e, err
}

func (s *Service) saveHistory(name string, save func(path string) error) error {
	if s.dataDir == "" {
		return nil
	}
	if err := save(s.path(name)); err != nil {
		return fmt.Errorf("saving %s: %w", name, err)
	}
	return nil
}
