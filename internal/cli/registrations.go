package cli

import (
	"os"

	"github.com/spf13/cobra"
)

func newRegistrationsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registrations",
		Short: "Attendee registrations",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List registrations (oldest first)",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd, app)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer st.Close()

			regs, err := st.ListRegistrations(cmd.Context())
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": regs})
		},
	}

	var file string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export registrations as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd, app)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer st.Close()

			if file == "" || file == "-" {
				if err := st.ExportRegistrationsCSV(cmd.Context(), cmd.OutOrStdout()); err != nil {
					return writeErr(cmd, err)
				}
				return nil
			}
			f, err := os.Create(file)
			if err != nil {
				return writeErr(cmd, err)
			}
			if err := st.ExportRegistrationsCSV(cmd.Context(), f); err != nil {
				_ = f.Close()
				return writeErr(cmd, err)
			}
			if err := f.Close(); err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": map[string]any{"file": file}})
		},
	}
	exportCmd.Flags().StringVarP(&file, "file", "f", "-", "Output file ('-' for stdout)")

	cmd.AddCommand(listCmd)
	cmd.AddCommand(exportCmd)
	return cmd
}
