/*-------------------------------------------------------------------------
 *
 * QPG - Source Commands
 *
 * Portions copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	qerrors "qpg/internal/errors"
	"qpg/internal/guard"
	"qpg/internal/privilege"
	"qpg/internal/redact"
)

var (
	sourceAddSchemas      []string
	sourceAddSkipPatterns []string
	sourceAddAllowExtra   bool
	sourceAddAllowExec    bool
	sourceAddSkipCheck    bool
	sourceJSON            bool
)

var sourceCmd = &cobra.Command{
	Use:   "source",
	Short: "Manage registered database sources",
}

var sourceAddCmd = &cobra.Command{
	Use:   "add <name> <dsn>",
	Short: "Register a PostgreSQL database",
	Long: `Registers a database under a short name. The connection is verified
with an enforced read-only session and the connecting role is checked
for write privileges before the source is accepted. If the DSN has no
password and stdin is a terminal, the password is prompted for and
never echoed.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, dsn := args[0], args[1]

		if !guard.DSNHasPassword(dsn) && term.IsTerminal(int(os.Stdin.Fd())) {
			fmt.Fprint(os.Stderr, "Password: ")
			password, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return qerrors.Wrap(qerrors.KindConfigError, "failed to read password", err)
			}
			if len(password) > 0 {
				dsn = guard.DSNWithPassword(dsn, string(password))
			}
		}

		if !sourceAddSkipCheck {
			conn, err := guard.Connect(cmd.Context(), dsn)
			if err != nil {
				return err
			}
			report, err := privilege.Check(cmd.Context(), conn, privilege.Options{
				AllowExecute:         sourceAddAllowExec,
				AllowExtraPrivileges: sourceAddAllowExtra,
			})
			_ = conn.Close(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stderr, privilege.FormatReport(report))
			if report.Outcome == privilege.Fail {
				return qerrors.Newf(qerrors.KindPrivilegeFailure,
					"role %s holds prohibited privileges; rerun with --allow-extra-privileges to override",
					report.CurrentUser)
			}
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		src, err := store.AddSource(name, dsn, sourceAddSchemas, sourceAddSkipPatterns)
		if err != nil {
			return err
		}

		if sourceJSON {
			return printJSON(src)
		}
		fmt.Printf("Source %q registered. Run `qpg update --source %s` to index it.\n", src.Name, src.Name)
		return nil
	},
}

var sourceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		sources, err := store.ListSources()
		if err != nil {
			return err
		}

		if sourceJSON {
			type listed struct {
				Name          string `json:"name"`
				DSN           string `json:"dsn"`
				LastIndexedAt string `json:"last_indexed_at,omitempty"`
				LastError     string `json:"last_error,omitempty"`
			}
			out := make([]listed, 0, len(sources))
			for _, src := range sources {
				out = append(out, listed{src.Name, redact.DSN(src.DSN), src.LastIndexedAt, src.LastError})
			}
			return printJSON(out)
		}

		if len(sources) == 0 {
			fmt.Println("No sources registered. Use `qpg source add <name> <dsn>`.")
			return nil
		}
		for _, src := range sources {
			indexed := src.LastIndexedAt
			if indexed == "" {
				indexed = "never"
			}
			fmt.Printf("%-20s %-50s indexed: %s\n", src.Name, redact.DSN(src.DSN), indexed)
			if src.LastError != "" {
				fmt.Printf("%-20s last error: %s\n", "", src.LastError)
			}
		}
		return nil
	},
}

var sourceRmCmd = &cobra.Command{
	Use:   "rm <name>",
	Short: "Remove a source and everything indexed from it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.DeleteSource(args[0]); err != nil {
			return err
		}
		fmt.Printf("Source %q removed.\n", args[0])
		return nil
	},
}

var sourceRenameCmd = &cobra.Command{
	Use:   "rename <old> <new>",
	Short: "Rename a source",
	Long: `Renames a source and rewrites its context targets. Object ids derive
from the source name, so the index is cleared; run update afterwards.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.RenameSource(args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("Source renamed to %q. Run `qpg update --source %s` to reindex.\n", args[1], args[1])
		return nil
	},
}

func init() {
	sourceAddCmd.Flags().StringArrayVar(&sourceAddSchemas, "schema", nil,
		"Only index these schemas (repeatable)")
	sourceAddCmd.Flags().StringArrayVar(&sourceAddSkipPatterns, "skip-pattern", nil,
		"Skip objects matching this glob (repeatable)")
	sourceAddCmd.Flags().BoolVar(&sourceAddAllowExtra, "allow-extra-privileges", false,
		"Register even if the role holds write privileges")
	sourceAddCmd.Flags().BoolVar(&sourceAddAllowExec, "allow-execute", false,
		"Do not count EXECUTE on non-system functions as a violation")
	sourceAddCmd.Flags().BoolVar(&sourceAddSkipCheck, "skip-check", false,
		"Register without connecting (connection checked on first update)")
	sourceCmd.PersistentFlags().BoolVar(&sourceJSON, "json", false, "JSON output")

	sourceCmd.AddCommand(sourceAddCmd)
	sourceCmd.AddCommand(sourceListCmd)
	sourceCmd.AddCommand(sourceRmCmd)
	sourceCmd.AddCommand(sourceRenameCmd)
	rootCmd.AddCommand(sourceCmd)
}
