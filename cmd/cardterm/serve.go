package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/alovak/cardflow-pos/terminal"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the terminal with its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			config := *cfg
			app := terminal.NewApp(newLogger(true), &config)
			if err := app.Start(); err != nil {
				return err
			}
			pterm.Info.Printf("Listening on %s, host %s\n", app.Addr, app.HostAddr)

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			app.Shutdown()
			return nil
		},
	}
	cmd.Flags().String("http", "", "address for the HTTP API")
	viper.BindPFlag("http_addr", cmd.Flags().Lookup("http"))
	return cmd
}
