// Command proxy is the HTTP/1.0 forward proxy's entrypoint: proxy <port>.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/systemslab/segproxy/internal/xlog"
	"github.com/systemslab/segproxy/proxy"
)

var rootCmd = &cobra.Command{
	Use:   "proxy <port>",
	Short: "A caching HTTP/1.0 forward proxy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		maskSIGPIPE()
		if err := changeRLimits(); err != nil {
			// not fatal: a lowered fd ceiling just means a lower
			// practical connection limit, not a correctness problem.
			fmt.Fprintf(os.Stderr, "warning: could not raise file descriptor limit: %v\n", err)
		}

		logger := xlog.NewStderr()
		srv := proxy.New(logger)
		return srv.ListenAndServe(args[0])
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
