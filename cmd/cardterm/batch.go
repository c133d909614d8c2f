package main

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func newTotalsCmd() *cobra.Command {
	var host bool
	cmd := &cobra.Command{
		Use:   "totals",
		Short: "Show per-brand batch totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()

			if !host {
				return renderTotals("Local totals", svc.LocalTotals())
			}
			totals, resp, err := svc.Totals(cmd.Context())
			if err != nil {
				return err
			}
			return renderTotals("Batch "+resp.Receipt.BatchID+" totals", totals)
		},
	}
	cmd.Flags().BoolVar(&host, "host", false, "compare with the host's open batch")
	return cmd
}

func newSettleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "settle",
		Short: "Close the batch with the host",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()

			st, err := svc.Settle(cmd.Context())
			if st.Result != "" {
				renderSettlement(st)
			}
			return err
		},
	}
}

func newDetailsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "details",
		Short: "List the host's transactions in the open batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()

			lines, err := svc.Details(cmd.Context())
			if err != nil {
				return err
			}
			if len(lines) == 0 {
				pterm.Warning.Println("No transactions in the open batch")
				return nil
			}
			for _, l := range lines {
				pterm.Println(l)
			}
			return nil
		},
	}
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the terminal with the host",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()

			lines, err := svc.Init(cmd.Context())
			for _, l := range lines {
				pterm.Println(l.Text)
			}
			return err
		},
	}
}

func newSAFCmd() *cobra.Command {
	var clearQueue bool
	cmd := &cobra.Command{
		Use:   "saf",
		Short: "Report or clear the host's store-and-forward queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()

			if clearQueue {
				e, err := svc.ClearSAF(cmd.Context())
				renderSAF(e)
				return err
			}
			e, err := svc.SAFDetails(cmd.Context())
			renderSAF(e)
			return err
		},
	}
	cmd.Flags().BoolVar(&clearQueue, "clear", false, "forward what the host holds")
	return cmd
}

func newArchiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive",
		Short: "Close the current period and start empty histories",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()

			dir, err := svc.ArchiveHistory()
			if err != nil {
				return err
			}
			pterm.Success.Printf("History archived to %s\n", dir)
			return nil
		},
	}
}
