package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/manydesigns/portofino/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve dispatch results and metrics over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer closeApp(a)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := a.Start(ctx); err != nil {
			return err
		}
		addr := a.Config.Server.Addr
		if serveAddr != "" {
			addr = serveAddr
		}
		return server.New(a.Dispatcher, a.Metrics, a.Metrics, a.Log).ListenAndServe(ctx, addr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address, overrides server.addr")
	rootCmd.AddCommand(serveCmd)
}
