// Command charactl inspects a running charasync daemon and moves character
// archives in and out of its content store.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type options struct {
	apiURL   string
	token    string
	cacheDir string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "charactl",
		Short:         "Control a charasync daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.apiURL, "api", envOr("CHARASYNC_API_URL", "http://127.0.0.1:8090"), "daemon HTTP address")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("CHARASYNC_API_TOKEN"), "daemon API token")
	root.PersistentFlags().StringVar(&opts.cacheDir, "cache-dir", envOr("CHARASYNC_CACHE_DIR", "data"), "content store root")

	root.AddCommand(
		newExportCmd(opts),
		newImportCmd(opts),
		newInspectCmd(),
		newSessionsCmd(opts),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "charactl:", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
