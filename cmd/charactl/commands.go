package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"charasync/internal/domain"
	"charasync/internal/services/archive"
	"charasync/internal/storage/content"
)

func newExportCmd(opts *options) *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "export <file>",
		Short: "Write the last distributed snapshot and its files to an archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var snap domain.Snapshot
			if err := newDaemonClient(opts).do(cmd.Context(), "GET", "/snapshot", nil, &snap); err != nil {
				return err
			}
			store, err := content.Open(opts.cacheDir, slog.New(slog.NewTextHandler(io.Discard, nil)))
			if err != nil {
				return err
			}

			out, err := os.Create(args[0])
			if err != nil {
				return err
			}
			header, err := archive.Export(out, description, snap, store)
			if cerr := out.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				os.Remove(args[0])
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %s: %d files, snapshot %s\n", args[0], len(header.Files), header.Snapshot.Hash)
			return nil
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "free-form archive description")
	return cmd
}

func newImportCmd(opts *options) *cobra.Command {
	var peer string
	var forceScalars bool
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Load an archive's files into the content store",
		Long: `Load an archive's files into the content store. With --peer the
snapshot is then applied to that pair on the running daemon.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := content.Open(opts.cacheDir, slog.New(slog.NewTextHandler(io.Discard, nil)))
			if err != nil {
				return err
			}
			in, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer in.Close()

			header, err := archive.Extract(in, store)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d files, snapshot %s\n", len(header.Files), header.Snapshot.Hash)
			if peer == "" {
				return nil
			}

			client := newDaemonClient(opts)
			path := "/peers/" + url.PathEscape(peer)
			if err := client.do(cmd.Context(), "POST", path, nil, nil); err != nil {
				return err
			}
			body := map[string]interface{}{"snapshot": header.Snapshot, "forceScalars": forceScalars}
			if err := client.do(cmd.Context(), "POST", path+"/data", body, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied to %s\n", peer)
			return nil
		},
	}
	cmd.Flags().StringVar(&peer, "peer", "", "apply the snapshot to this pair")
	cmd.Flags().BoolVar(&forceScalars, "force-scalars", false, "re-push every scalar even if unchanged")
	return cmd
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file>",
		Short: "Print an archive header",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer in.Close()
			header, err := archive.ReadHeader(in)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(header)
		},
	}
}

func newSessionsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List swarm sessions on the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Items []domain.SwarmSession `json:"items"`
			}
			if err := newDaemonClient(opts).do(cmd.Context(), "GET", "/sessions", nil, &resp); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSTATE\tPEERS\tSEEDS\tPROGRESS")
			for _, s := range resp.Items {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%.1f%%\n", s.Name, s.State, s.Peers, s.Seeds, s.Progress*100)
			}
			return tw.Flush()
		},
	}
}
