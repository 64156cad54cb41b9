package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"gshare/internal/content"
	"gshare/internal/importer"
	"gshare/internal/perm"
	"gshare/internal/syncer"
)

var cliAdmin = perm.Viewer{Name: "sharectl", Roles: []string{perm.RoleAdmin}}

func newImportCmd(env *cliEnv) *cobra.Command {
	var noWriteBack bool
	cmd := &cobra.Command{
		Use:   "import [dir]",
		Short: "Import a content directory into the store",
		Long: `Import reads <dir>/<category>/*.md. A .access.txt file in a category
directory sets the default access for files without an access block.
Without an argument SHARE_CONTENT_PATH is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := env.cfg.ContentPath
			if len(args) == 1 {
				root = args[0]
			}
			if strings.TrimSpace(root) == "" {
				return errors.New("content directory required")
			}
			a, err := env.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			im := importer.New(a.Library, importer.Options{
				Root:      root,
				Owner:     a.Config.AuthUser,
				WriteBack: !noWriteBack,
			})
			report, err := im.Import(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "created %d, updated %d, unchanged %d, failed %d\n",
				report.Created, report.Updated, report.Unchanged, report.Failed)
			for _, msg := range report.Errors {
				fmt.Fprintln(cmd.ErrOrStderr(), "  "+msg)
			}
			if report.Failed > 0 {
				return fmt.Errorf("%d files failed to import", report.Failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&noWriteBack, "no-write-back", false, "do not write assigned ids back into the files")
	return cmd
}

func newExportCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "export <dir>",
		Short: "Write every item as <dir>/<category>/<id>.md",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := env.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			n, err := importer.Export(cmd.Context(), a.Library, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d files\n", n)
			return nil
		},
	}
}

func newSyncCmd(env *cliEnv) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Pull from and push to the remote mirror once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := env.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			report, err := a.Sync.Sync(cmd.Context())
			if report != nil {
				if asJSON {
					if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
						return err
					}
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: pulled %d, pushed %d, deleted %d, conflicts %d\n",
						report.Mirror, report.Pulled, report.Pushed, report.Deleted, report.Conflicts)
				}
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full report as JSON")
	return cmd
}

func newDeleteCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an item locally and remotely and verify it is gone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := env.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			it, err := a.Library.Delete(cmd.Context(), cliAdmin, args[0])
			if err != nil {
				return err
			}
			report, err := a.Sync.DeleteAndVerify(cmd.Context(), it.Key())
			if report != nil {
				printDeleteReport(cmd.OutOrStdout(), report)
			}
			if err != nil {
				return err
			}
			if !report.Verified {
				return fmt.Errorf("delete of %s not verified", it.ID)
			}
			return nil
		},
	}
}

func printDeleteReport(w io.Writer, report *syncer.DeleteReport) {
	fmt.Fprintf(w, "%s: local=%t remote=%t purged=%t verified=%t\n",
		report.Key, report.LocalDeleted, report.RemoteDeleted, report.Purged, report.Verified)
	for _, msg := range report.Errors {
		fmt.Fprintln(w, "  "+msg)
	}
}

func newStatusCmd(env *cliEnv) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show store, mirror and last sync state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := env.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			st := a.Store.Status(cmd.Context())
			state, err := a.Sync.State(cmd.Context())
			if err != nil {
				return err
			}
			counts := map[content.Category]int{}
			list, err := a.Library.List(cmd.Context(), cliAdmin, "")
			if err != nil {
				return err
			}
			for _, row := range list {
				counts[row.Category]++
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, map[string]any{"store": st, "sync": state, "items": counts})
			}
			fmt.Fprintf(out, "store    %s, %s keys, %d pending", st.Backend, humanize.Comma(int64(st.Keys)), st.Pending)
			if st.Degraded {
				fmt.Fprintf(out, " (degraded: %s)", st.LastError)
			}
			fmt.Fprintln(out)
			fmt.Fprintf(out, "mirror   %s\n", state.Mirror)
			last := "never"
			if !state.LastRun.IsZero() {
				last = humanize.Time(state.LastRun)
			}
			fmt.Fprintf(out, "sync     %s, last run %s\n", state.Status, last)
			if state.Error != "" {
				fmt.Fprintf(out, "         %s\n", state.Error)
			}
			for _, cat := range content.Categories {
				fmt.Fprintf(out, "%-8s %d items\n", cat, counts[cat])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
