package cli

import (
	"github.com/spf13/cobra"
)

func newAdminsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admins",
		Short: "Organizers allowed to sign in to the dashboard",
	}

	var name string
	addCmd := &cobra.Command{
		Use:   "add <email>",
		Short: "Add or rename an admin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd, app)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer st.Close()

			a, err := st.AddAdmin(cmd.Context(), app.actor(), args[0], name)
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": a})
		},
	}
	addCmd.Flags().StringVar(&name, "name", "", "Display name")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List admins",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd, app)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer st.Close()

			admins, err := st.ListAdmins(cmd.Context())
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": admins})
		},
	}

	cmd.AddCommand(addCmd)
	cmd.AddCommand(listCmd)
	return cmd
}
