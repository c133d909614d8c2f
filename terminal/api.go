package terminal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/alovak/cardflow-pos/authclient"
	"github.com/alovak/cardflow-pos/batch"
	"github.com/alovak/cardflow-pos/card"
	"github.com/go-chi/chi/v5"
)

// API is the terminal's HTTP API. Card numbers only leave it masked.
type API struct {
	svc *Service
	// mu serializes the operations that talk to the host. Readers of records
	// and histories hold it shared.
	mu sync.RWMutex
}

func NewAPI(svc *Service) *API {
	return &API{
		svc: svc,
	}
}

func (a *API) AppendRoutes(r chi.Router) {
	r.Route("/stores/{bucket}", func(r chi.Router) {
		r.Get("/", a.listRecords)
		r.Get("/{id}", a.getRecord)
	})
	r.Post("/cards/check", a.checkCard)

	r.Post("/sales", a.sale)
	r.Post("/preauths", a.preAuth)
	r.Post("/refunds", a.refund)
	r.Route("/records/{id}", func(r chi.Router) {
		r.Post("/complete", a.complete)
		r.Post("/void", a.void)
		r.Post("/void-cancel", a.voidCancel)
	})
	r.Post("/refunds/{id}/cancel", a.refundCancel)

	r.Get("/totals", a.getTotals)
	r.Post("/batch/settle", a.settle)
	r.Get("/settlements", a.getSettlements)
	r.Post("/host/init", a.initTerminal)
	r.Get("/init-log", a.getInitLog)
	r.Post("/saf/details", a.safDetails)
	r.Post("/saf/clear", a.clearSAF)
	r.Get("/saf", a.getSAF)
	r.Get("/journal", a.getJournal)
}

// RecordView is the API form of a card record.
type RecordView struct {
	ID           int       `json:"id"`
	Bucket       string    `json:"bucket"`
	Card         string    `json:"card"`
	Expiry       string    `json:"expiry,omitempty"`
	Name         string    `json:"name,omitempty"`
	Brand        string    `json:"brand"`
	Entry        string    `json:"entry"`
	State        string    `json:"state"`
	AuthState    string    `json:"auth_state"`
	Code         string    `json:"code,omitempty"`
	Verb         string    `json:"verb,omitempty"`
	Approval     string    `json:"approval,omitempty"`
	Reference    string    `json:"reference,omitempty"`
	Amount       int64     `json:"amount"`
	Tip          int64     `json:"tip"`
	Total        int64     `json:"total"`
	BatchID      string    `json:"batch_id,omitempty"`
	Errors       int       `json:"errors"`
	ReceiptLines []string  `json:"receipt,omitempty"`
	LastActivity time.Time `json:"last_activity"`
}

func newRecordView(r *card.Record) RecordView {
	return RecordView{
		ID:           r.ID,
		Bucket:       r.Bucket.String(),
		Card:         r.Masked(),
		Expiry:       r.ExpiryFace(),
		Name:         r.Name,
		Brand:        r.Brand.String(),
		Entry:        r.Entry.String(),
		State:        r.State.String(),
		AuthState:    r.AuthState.String(),
		Code:         string(r.Code),
		Verb:         r.Verb,
		Approval:     r.Approval,
		Reference:    r.Reference,
		Amount:       r.Amount,
		Tip:          r.Tip,
		Total:        r.TotalPreauth(),
		BatchID:      r.BatchID,
		Errors:       len(r.Errors),
		ReceiptLines: r.ReceiptLines,
		LastActivity: r.LastActivity(),
	}
}

type cardRequest struct {
	Swipe    string `json:"swipe"`
	Amount   int64  `json:"amount"`
	Tip      int64  `json:"tip"`
	Category string `json:"category"`
}

type completeRequest struct {
	Amount int64 `json:"amount"`
	Tip    int64 `json:"tip"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrAmount),
		errors.Is(err, card.ErrInvalidNumber), errors.Is(err, card.ErrExpired), errors.Is(err, card.ErrNoCardData):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, authclient.ErrNoConnection), errors.Is(err, authclient.ErrProtocol):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (a *API) bucket(w http.ResponseWriter, r *http.Request) (bucketStore, bool) {
	name := chi.URLParam(r, "bucket")
	for _, s := range a.svc.Stores().All() {
		if s.Bucket().String() == name {
			return s, true
		}
	}
	http.Error(w, "unknown bucket "+name, http.StatusNotFound)
	return nil, false
}

type bucketStore interface {
	Records() []*card.Record
	Find(id int) (*card.Record, error)
}

func urlID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (a *API) listRecords(w http.ResponseWriter, r *http.Request) {
	s, ok := a.bucket(w, r)
	if !ok {
		return
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	views := []RecordView{}
	for _, rec := range s.Records() {
		views = append(views, newRecordView(rec))
	}
	writeJSON(w, http.StatusOK, views)
}

func (a *API) getRecord(w http.ResponseWriter, r *http.Request) {
	s, ok := a.bucket(w, r)
	if !ok {
		return
	}
	id, ok := urlID(w, r)
	if !ok {
		return
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	rec, err := s.Find(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newRecordView(rec))
}

func (a *API) checkCard(w http.ResponseWriter, r *http.Request) {
	var req cardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rec, err := a.svc.CheckCard([]byte(req.Swipe))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newRecordView(rec))
}

func decodeCard(w http.ResponseWriter, r *http.Request) (cardRequest, card.Category, bool) {
	var req cardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return req, card.CategoryUnknown, false
	}
	category, err := card.ParseCategory(req.Category)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return req, card.CategoryUnknown, false
	}
	return req, category, true
}

// respond writes the record after a host round trip. A host that answered,
// even with a decline, is a successful call.
func respond(w http.ResponseWriter, rec *card.Record, err error, status int) {
	switch {
	case err == nil:
		if rec.Code != card.CodeAuthorized {
			status = http.StatusOK
		}
		writeJSON(w, status, newRecordView(rec))
	case rec != nil && rec.Code == card.CodeNoConnection:
		writeJSON(w, http.StatusBadGateway, newRecordView(rec))
	default:
		writeError(w, err)
	}
}

func (a *API) sale(w http.ResponseWriter, r *http.Request) {
	req, category, ok := decodeCard(w, r)
	if !ok {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, err := a.svc.Sale(r.Context(), []byte(req.Swipe), req.Amount, req.Tip, category)
	respond(w, rec, err, http.StatusCreated)
}

func (a *API) preAuth(w http.ResponseWriter, r *http.Request) {
	req, category, ok := decodeCard(w, r)
	if !ok {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, err := a.svc.PreAuth(r.Context(), []byte(req.Swipe), req.Amount, category)
	respond(w, rec, err, http.StatusCreated)
}

func (a *API) refund(w http.ResponseWriter, r *http.Request) {
	req, category, ok := decodeCard(w, r)
	if !ok {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, err := a.svc.Refund(r.Context(), []byte(req.Swipe), req.Amount, category)
	respond(w, rec, err, http.StatusCreated)
}

func (a *API) complete(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r)
	if !ok {
		return
	}
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, err := a.svc.Complete(r.Context(), id, req.Amount, req.Tip)
	respond(w, rec, err, http.StatusOK)
}

func (a *API) void(w http.ResponseWriter, r *http.Request) {
	a.follow(w, r, a.svc.Void)
}

func (a *API) voidCancel(w http.ResponseWriter, r *http.Request) {
	a.follow(w, r, a.svc.VoidCancel)
}

func (a *API) refundCancel(w http.ResponseWriter, r *http.Request) {
	a.follow(w, r, a.svc.RefundCancel)
}

func (a *API) follow(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id int) (*card.Record, error)) {
	id, ok := urlID(w, r)
	if !ok {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, err := op(r.Context(), id)
	respond(w, rec, err, http.StatusOK)
}

// TotalsView is one brand row of a totals report.
type TotalsView struct {
	Brand       string `json:"brand"`
	HostCount   int    `json:"host_count"`
	HostAmount  int64  `json:"host_amount"`
	LocalCount  int    `json:"local_count"`
	LocalAmount int64  `json:"local_amount"`
	Balanced    bool   `json:"balanced"`
}

func totalsView(t batch.Totals) []TotalsView {
	out := []TotalsView{}
	for _, a := range t.NonZero() {
		out = append(out, TotalsView{
			Brand:       a.Brand.String(),
			HostCount:   a.HostCount,
			HostAmount:  a.HostAmount,
			LocalCount:  a.LocalCount,
			LocalAmount: a.LocalAmount,
			Balanced:    a.Balanced(),
		})
	}
	return out
}

// getTotals reports local totals; with ?host=true the host's open batch is
// merged in.
func (a *API) getTotals(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("host") != "true" {
		a.mu.RLock()
		defer a.mu.RUnlock()
		writeJSON(w, http.StatusOK, totalsView(a.svc.LocalTotals()))
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	totals, _, err := a.svc.Totals(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, totalsView(totals))
}

// SettlementView is the API form of a settlement attempt.
type SettlementView struct {
	ID         string       `json:"id"`
	Time       time.Time    `json:"time"`
	TerminalID string       `json:"terminal_id"`
	BatchID    string       `json:"batch_id"`
	Approved   bool         `json:"approved"`
	Balanced   bool         `json:"balanced"`
	Result     string       `json:"result"`
	Totals     []TotalsView `json:"totals"`
	Receipt    []string     `json:"receipt,omitempty"`
}

func newSettlementView(s batch.Settlement) SettlementView {
	return SettlementView{
		ID:         s.ID.String(),
		Time:       s.Time,
		TerminalID: s.TerminalID,
		BatchID:    s.BatchID,
		Approved:   s.Approved,
		Balanced:   s.Balanced(),
		Result:     s.Result,
		Totals:     totalsView(s.Totals),
		Receipt:    s.Receipt,
	}
}

func (a *API) settle(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, err := a.svc.Settle(r.Context())
	if err != nil && st.Result == "" {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSettlementView(st))
}

func (a *API) getSettlements(w http.ResponseWriter, r *http.Request) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	views := []SettlementView{}
	for _, s := range a.svc.History().Settlements.Entries() {
		views = append(views, newSettlementView(s))
	}
	writeJSON(w, http.StatusOK, views)
}

func (a *API) initTerminal(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	lines, err := a.svc.Init(r.Context())
	if err != nil && len(lines) == 0 {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lines)
}

func (a *API) getInitLog(w http.ResponseWriter, r *http.Request) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	entries := a.svc.History().Init.Entries()
	if entries == nil {
		entries = []batch.InitEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *API) safDetails(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, err := a.svc.SAFDetails(r.Context())
	if err != nil && e.Result == "" {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (a *API) clearSAF(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, err := a.svc.ClearSAF(r.Context())
	if err != nil && e.Result == "" {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (a *API) getSAF(w http.ResponseWriter, r *http.Request) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	entries := a.svc.History().SAF.Entries()
	if entries == nil {
		entries = []batch.SAFEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *API) getJournal(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	entries, err := a.svc.Journal().Entries(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []JournalEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
