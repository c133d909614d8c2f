package main

import (
	"time"

	"github.com/alovak/cardflow-pos/internal/expiry"
	"github.com/alovak/cardflow-pos/internal/pan"
	"github.com/alovak/cardflow-pos/internal/testcard"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func newTestCardCmd() *cobra.Command {
	var (
		brand string
		name  string
		years int
		full  bool
	)
	cmd := &cobra.Command{
		Use:   "testcard",
		Short: "Make a test card and the swipe to feed to sale --swipe",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := testcard.ParseBrand(brand)
			if err != nil {
				return err
			}
			c, err := testcard.New(b, time.Now(), years, name)
			if err != nil {
				return err
			}

			number := pan.Mask(c.Number)
			if full {
				number = c.Number
			}
			data := pterm.TableData{
				{"Card", number},
				{"Brand", b.String()},
				{"Expiry", expiry.CardFace(c.Expiry)},
				{"Name", c.Name},
			}
			if err := pterm.DefaultTable.WithData(data).Render(); err != nil {
				return err
			}
			pterm.Println(string(c.Swipe()))
			return nil
		},
	}
	cmd.Flags().StringVarP(&brand, "brand", "b", "visa", "card brand")
	cmd.Flags().StringVar(&name, "name", "", "cardholder name")
	cmd.Flags().IntVar(&years, "years", 3, "years until expiry")
	cmd.Flags().BoolVar(&full, "full", false, "print the full card number in the table")
	return cmd
}
