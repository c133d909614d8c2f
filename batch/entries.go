package batch

import (
	"time"

	"github.com/alovak/cardflow-pos/internal/recordfile"
	"github.com/google/uuid"
)

// Settlement is one batch-settle attempt. Version 2 of the history file
// added the host's receipt lines.
type Settlement struct {
	ID         uuid.UUID
	Time       time.Time
	TerminalID string
	BatchID    string
	Approved   bool
	Result     string
	Totals     Totals
	Receipt    []string
}

// Balanced reports whether every brand row agrees between host and terminal.
func (s Settlement) Balanced() bool {
	for _, a := range s.Totals {
		if !a.Balanced() {
			return false
		}
	}
	return true
}

var SettlementCodec = Codec[Settlement]{
	MinVersion: 1,
	Version:    2,
	Write: func(w *recordfile.Writer, s Settlement) {
		w.Text(s.ID.String())
		w.Time(s.Time)
		w.Text(s.TerminalID)
		w.Text(s.BatchID)
		w.Bool(s.Approved)
		w.Text(s.Result)
		writeTotals(w, s.Totals)
		w.Lines(s.Receipt)
	},
	Read: func(r *recordfile.Reader, version int) Settlement {
		s := Settlement{
			ID:         parseID(r.Text()),
			Time:       r.Time(),
			TerminalID: r.Text(),
			BatchID:    r.Text(),
			Approved:   r.Bool(),
			Result:     r.Text(),
			Totals:     readTotals(r),
		}
		if version >= 2 {
			s.Receipt = r.Lines()
		}
		return s
	},
}

// SAFEntry is one store-and-forward report or clear from the host.
type SAFEntry struct {
	ID         uuid.UUID `json:"id"`
	Time       time.Time `json:"time"`
	TerminalID string    `json:"terminal_id"`
	Cleared    bool      `json:"cleared"`
	Pending    int       `json:"pending"`
	Forwarded  int       `json:"forwarded"`
	Amount     int64     `json:"amount"`
	Result     string    `json:"result"`
}

var SAFCodec = Codec[SAFEntry]{
	MinVersion: 1,
	Version:    1,
	Write: func(w *recordfile.Writer, e SAFEntry) {
		w.Text(e.ID.String())
		w.Time(e.Time)
		w.Text(e.TerminalID)
		w.Bool(e.Cleared)
		w.Int(int64(e.Pending))
		w.Int(int64(e.Forwarded))
		w.Int(e.Amount)
		w.Text(e.Result)
	},
	Read: func(r *recordfile.Reader, _ int) SAFEntry {
		return SAFEntry{
			ID:         parseID(r.Text()),
			Time:       r.Time(),
			TerminalID: r.Text(),
			Cleared:    r.Bool(),
			Pending:    int(r.Int()),
			Forwarded:  int(r.Int()),
			Amount:     r.Int(),
			Result:     r.Text(),
		}
	},
}

// InitEntry is one timestamped line of the terminal initialization log.
type InitEntry struct {
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}

var InitCodec = Codec[InitEntry]{
	MinVersion: 1,
	Version:    1,
	Write: func(w *recordfile.Writer, e InitEntry) {
		w.Time(e.Time)
		w.Text(e.Text)
	},
	Read: func(r *recordfile.Reader, _ int) InitEntry {
		return InitEntry{Time: r.Time(), Text: r.Text()}
	},
}

func parseID(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil
	}
	return id
}

// History groups the three chronicles a terminal keeps.
type History struct {
	Settlements *Chronicle[Settlement]
	SAF         *Chronicle[SAFEntry]
	Init        *Chronicle[InitEntry]
}

func NewHistory() *History {
	return &History{
		Settlements: NewChronicle(SettlementCodec),
		SAF:         NewChronicle(SAFCodec),
		Init:        NewChronicle(InitCodec),
	}
}
