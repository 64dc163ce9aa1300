/*-------------------------------------------------------------------------
 *
 * QPG - Privilege Check Command
 *
 * Portions copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	qerrors "qpg/internal/errors"
	"qpg/internal/guard"
	"qpg/internal/privilege"
)

var (
	authCheckSource     string
	authCheckAllowExtra bool
	authCheckAllowExec  bool
	authCheckJSON       bool
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Verify connection privileges",
}

var authCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Re-run the least-privilege check for a registered source",
	RunE: func(cmd *cobra.Command, args []string) error {
		if authCheckSource == "" {
			return qerrors.New(qerrors.KindConfigError, "--source is required")
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		src, err := store.GetSource(authCheckSource)
		if err != nil {
			return err
		}

		conn, err := guard.Connect(cmd.Context(), src.DSN)
		if err != nil {
			return err
		}
		defer conn.Close(cmd.Context())

		report, err := privilege.Check(cmd.Context(), conn, privilege.Options{
			AllowExecute:         authCheckAllowExec,
			AllowExtraPrivileges: authCheckAllowExtra,
		})
		if err != nil {
			return err
		}

		if authCheckJSON {
			if err := printJSON(report); err != nil {
				return err
			}
		} else {
			fmt.Println(privilege.FormatReport(report))
		}

		// An Override outcome exits 0; the printed report carries the
		// acknowledged violations.
		if report.Outcome == privilege.Fail {
			return qerrors.Newf(qerrors.KindPrivilegeFailure,
				"role %s holds prohibited privileges", report.CurrentUser)
		}
		return nil
	},
}

func init() {
	authCheckCmd.Flags().StringVar(&authCheckSource, "source", "", "Source name")
	authCheckCmd.Flags().BoolVar(&authCheckAllowExtra, "allow-extra-privileges", false,
		"Treat violations as an acknowledged override")
	authCheckCmd.Flags().BoolVar(&authCheckAllowExec, "allow-execute", false,
		"Do not count EXECUTE on non-system functions as a violation")
	authCheckCmd.Flags().BoolVar(&authCheckJSON, "json", false, "JSON output")

	authCmd.AddCommand(authCheckCmd)
	rootCmd.AddCommand(authCmd)
}
