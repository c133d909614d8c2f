package main

import (
	"fmt"
	"strconv"

	"github.com/alovak/cardflow-pos/authclient"
	"github.com/alovak/cardflow-pos/batch"
	"github.com/alovak/cardflow-pos/card"
	"github.com/alovak/cardflow-pos/store"
	"github.com/pterm/pterm"
)

func renderRecord(r *card.Record) {
	data := pterm.TableData{
		{"Card", r.Masked()},
		{"Expiry", r.ExpiryFace()},
		{"Brand", r.Brand.String()},
		{"Category", r.Category.String()},
		{"Entry", r.Entry.String()},
	}
	if r.Name != "" {
		data = append(data, []string{"Name", r.Name})
	}
	if r.ID != 0 {
		data = append(data, []string{"Record", fmt.Sprintf("%s %d", r.Bucket, r.ID)})
	}
	if r.State != card.StateNoAction {
		data = append(data,
			[]string{"State", r.State.String()},
			[]string{"Total", authclient.FormatAmount(r.TotalPreauth())},
		)
	}
	if r.Reference != "" {
		data = append(data, []string{"Reference", r.Reference})
	}
	if len(r.Errors) > 0 {
		data = append(data, []string{"Failed attempts", strconv.Itoa(len(r.Errors))})
	}
	pterm.DefaultTable.WithData(data).Render()
}

func renderRecords(name string, s *store.Store) error {
	records := s.Records()
	if len(records) == 0 {
		pterm.Warning.Printf("No %s records\n", name)
		return nil
	}

	pterm.DefaultSection.Printf("%s records", name)
	data := pterm.TableData{{"ID", "Card", "Brand", "State", "Code", "Approval", "Total", "Batch"}}
	for _, r := range records {
		total := authclient.FormatAmount(r.TotalPreauth())
		switch {
		case r.IsVoided():
			total = pterm.Gray(total)
		case r.Total() < 0:
			total = pterm.Red(total)
		}
		data = append(data, []string{
			strconv.Itoa(r.ID),
			r.Masked(),
			r.Brand.String(),
			r.State.String(),
			string(r.Code),
			r.Approval,
			total,
			r.BatchID,
		})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		return err
	}
	pterm.Info.Printf("Total: %d records\n", len(records))
	return nil
}

func renderTotals(title string, totals batch.Totals) error {
	rows := totals.NonZero()
	if len(rows) == 0 {
		pterm.Warning.Println("No transactions in the batch")
		return nil
	}

	pterm.DefaultSection.Println(title)
	data := pterm.TableData{{"Brand", "Host #", "Host amount", "Local #", "Local amount", ""}}
	for _, a := range rows {
		mark := pterm.Green("ok")
		if !a.Balanced() {
			mark = pterm.Red("out of balance")
		}
		data = append(data, []string{
			a.Brand.String(),
			strconv.Itoa(a.HostCount),
			authclient.FormatAmount(a.HostAmount),
			strconv.Itoa(a.LocalCount),
			authclient.FormatAmount(a.LocalAmount),
			mark,
		})
	}
	sum := rows.Sum()
	data = append(data, []string{
		"total",
		strconv.Itoa(sum.HostCount),
		authclient.FormatAmount(sum.HostAmount),
		strconv.Itoa(sum.LocalCount),
		authclient.FormatAmount(sum.LocalAmount),
		"",
	})
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func renderSettlement(st batch.Settlement) {
	when := st.Time.Format("2006-01-02 15:04:05")
	if st.Approved {
		pterm.Success.Printf("%s batch %s closed: %s\n", when, st.BatchID, st.Result)
	} else {
		pterm.Warning.Printf("%s settle failed: %s\n", when, st.Result)
	}
	if len(st.Totals) > 0 {
		renderTotals("Settled totals", st.Totals)
	}
}

func renderSAF(e batch.SAFEntry) {
	pterm.DefaultTable.WithData(pterm.TableData{
		{"Time", e.Time.Format("2006-01-02 15:04:05")},
		{"Result", e.Result},
		{"Pending", strconv.Itoa(e.Pending)},
		{"Forwarded", strconv.Itoa(e.Forwarded)},
		{"Amount", authclient.FormatAmount(e.Amount)},
		{"Cleared", strconv.FormatBool(e.Cleared)},
	}).Render()
}
