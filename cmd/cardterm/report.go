package main

import (
	"fmt"
	"strconv"

	"github.com/alovak/cardflow-pos/batch"
	"github.com/alovak/cardflow-pos/store"
	"github.com/alovak/cardflow-pos/terminal"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func bucketStore(svc *terminal.Service, name string) (*store.Store, error) {
	for _, s := range svc.Stores().All() {
		if s.Bucket().String() == name {
			return s, nil
		}
	}
	return nil, fmt.Errorf("unknown bucket %q: use exception, refund or void", name)
}

func newRecordsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "records [BUCKET]",
		Aliases: []string{"ls"},
		Short:   "List the records in a bucket (default exception)",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := "exception"
			if len(args) == 1 {
				name = args[0]
			}
			svc, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()

			s, err := bucketStore(svc, name)
			if err != nil {
				return err
			}
			return renderRecords(name, s)
		},
	}
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show BUCKET ID",
		Short: "Show one record with its receipt",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid record id %q", args[1])
			}
			svc, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()

			s, err := bucketStore(svc, args[0])
			if err != nil {
				return err
			}
			r, err := s.Find(id)
			if err != nil {
				return fmt.Errorf("%s record %d: %w", args[0], id, err)
			}
			renderRecord(r)
			for _, l := range r.ReceiptLines {
				pterm.Println(l)
			}
			return nil
		},
	}
}

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:       "history settlements|saf|init",
		Short:     "Walk a history from the newest entry back into archived periods",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"settlements", "saf", "init"},
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()

			h := svc.History()
			switch args[0] {
			case "settlements":
				for _, st := range walk(h.Settlements, limit) {
					renderSettlement(st)
				}
				return h.Settlements.Err()
			case "saf":
				for _, e := range walk(h.SAF, limit) {
					renderSAF(e)
				}
				return h.SAF.Err()
			default:
				for _, e := range walk(h.Init, limit) {
					pterm.Printf("%s  %s\n", e.Time.Format("2006-01-02 15:04:05"), e.Text)
				}
				return h.Init.Err()
			}
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "maximum number of entries")
	return cmd
}

// walk collects up to limit entries from the cursor's newest position back.
func walk[T any](c *batch.Chronicle[T], limit int) []T {
	c.Reset()
	var out []T
	v, ok := c.Current()
	for ok && len(out) < limit {
		out = append(out, v)
		v, ok = c.Fore()
	}
	return out
}
