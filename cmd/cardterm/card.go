package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/alovak/cardflow-pos/authclient"
	"github.com/alovak/cardflow-pos/card"
	"github.com/alovak/cardflow-pos/internal/track"
	"github.com/alovak/cardflow-pos/terminal"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

type cardFlags struct {
	Swipe    string
	Number   string
	Expiry   string
	Amount   string
	Tip      string
	Category string
}

func (f *cardFlags) register(cmd *cobra.Command, withAmount, withTip bool) {
	cmd.Flags().StringVarP(&f.Swipe, "swipe", "s", "", "raw card reader output")
	cmd.Flags().StringVarP(&f.Number, "number", "n", "", "keyed card number")
	cmd.Flags().StringVarP(&f.Expiry, "expiry", "e", "", "keyed expiry as printed (MM/YY)")
	cmd.Flags().StringVar(&f.Category, "category", "credit", "card category: credit, debit or gift")
	if withAmount {
		cmd.Flags().StringVarP(&f.Amount, "amount", "a", "", "amount, e.g. 12.50")
		cmd.MarkFlagRequired("amount")
	}
	if withTip {
		cmd.Flags().StringVarP(&f.Tip, "tip", "t", "0", "tip amount")
	}
}

// raw returns the card input as the reader would deliver it.
func (f *cardFlags) raw() ([]byte, error) {
	switch {
	case f.Swipe != "":
		return []byte(f.Swipe), nil
	case f.Number != "":
		if f.Expiry == "" {
			return nil, fmt.Errorf("--expiry is required with --number")
		}
		return track.Keyed(f.Number, f.Expiry), nil
	}
	return nil, fmt.Errorf("either --swipe or --number is required")
}

func (f *cardFlags) amounts() (amount, tip int64, err error) {
	if f.Amount != "" {
		if amount, err = authclient.ParseAmount(f.Amount); err != nil {
			return 0, 0, err
		}
	}
	if f.Tip != "" {
		if tip, err = authclient.ParseAmount(f.Tip); err != nil {
			return 0, 0, err
		}
	}
	return amount, tip, nil
}

func newCheckCmd() *cobra.Command {
	flags := &cardFlags{}
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Read and validate a card without contacting the host",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := flags.raw()
			if err != nil {
				return err
			}
			svc, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()

			r, err := svc.CheckCard(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", r.Verb, err)
			}
			renderRecord(r)
			return nil
		},
	}
	flags.register(cmd, false, false)
	return cmd
}

type openFunc func(svc *terminal.Service, ctx context.Context, raw []byte, amount, tip int64, category card.Category) (*card.Record, error)

func newOpenCmd(use, short string, withTip bool, open openFunc) *cobra.Command {
	flags := &cardFlags{}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := flags.raw()
			if err != nil {
				return err
			}
			amount, tip, err := flags.amounts()
			if err != nil {
				return err
			}
			category, err := card.ParseCategory(flags.Category)
			if err != nil {
				return err
			}
			svc, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()

			r, err := open(svc, cmd.Context(), raw, amount, tip, category)
			return outcome(r, err)
		},
	}
	flags.register(cmd, true, withTip)
	return cmd
}

func newSaleCmd() *cobra.Command {
	return newOpenCmd("sale", "Authorize a sale", true, (*terminal.Service).Sale)
}

func newPreAuthCmd() *cobra.Command {
	return newOpenCmd("preauth", "Place a pre-authorization hold", false,
		func(svc *terminal.Service, ctx context.Context, raw []byte, amount, _ int64, category card.Category) (*card.Record, error) {
			return svc.PreAuth(ctx, raw, amount, category)
		})
}

func newRefundCmd() *cobra.Command {
	return newOpenCmd("refund", "Refund an amount to a card", false,
		func(svc *terminal.Service, ctx context.Context, raw []byte, amount, _ int64, category card.Category) (*card.Record, error) {
			return svc.Refund(ctx, raw, amount, category)
		})
}

func newCompleteCmd() *cobra.Command {
	flags := &cardFlags{}
	cmd := &cobra.Command{
		Use:   "complete ID",
		Short: "Complete a pre-authorization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid record id %q", args[0])
			}
			amount, tip, err := flags.amounts()
			if err != nil {
				return err
			}
			svc, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()

			r, err := svc.Complete(cmd.Context(), id, amount, tip)
			return outcome(r, err)
		},
	}
	cmd.Flags().StringVarP(&flags.Amount, "amount", "a", "", "final amount (default: the held amount)")
	cmd.Flags().StringVarP(&flags.Tip, "tip", "t", "0", "tip amount")
	return cmd
}

func newFollowCmd(use, short string, op func(*terminal.Service, context.Context, int) (*card.Record, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid record id %q", args[0])
			}
			svc, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()

			r, err := op(svc, cmd.Context(), id)
			return outcome(r, err)
		},
	}
}

// outcome prints the record after a host request. Host declines are shown,
// not returned as errors.
func outcome(r *card.Record, err error) error {
	if r == nil {
		return err
	}
	switch {
	case r.Code == card.CodeAuthorized:
		pterm.Success.Printf("%s %s\n", r.Verb, r.Approval)
	case r.Code != card.CodeNone:
		pterm.Warning.Printf("%s (%s)\n", r.Verb, r.Code)
	}
	renderRecord(r)
	return err
}
