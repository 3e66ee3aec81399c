package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	cfgPath    string
	serverAddr string
)

func main() {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:          "tradegate",
		Short:        "Admission control and approval gateway for trade signals",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "path to the config file")
	root.PersistentFlags().StringVar(&serverAddr, "server", "http://localhost:8090", "base URL of a running instance (client commands)")

	root.AddCommand(
		serveCmd(),
		pauseCmd(),
		resumeCmd(),
		statusCmd(),
		pendingCmd(),
		killCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
