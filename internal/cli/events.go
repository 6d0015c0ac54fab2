package cli

import (
	"confsite/internal/model"

	"github.com/spf13/cobra"
)

func newEventsCmd(app *App) *cobra.Command {
	var limit int
	var entity string

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect the audit log",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List events (newest first; oldest first with --entity)",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd, app)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer st.Close()

			var evs []model.Event
			if entity != "" {
				evs, err = st.ReadEventsForEntity(cmd.Context(), entity)
			} else {
				evs, err = st.ReadEvents(cmd.Context(), limit)
			}
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": evs})
		},
	}
	listCmd.Flags().IntVar(&limit, "limit", 200, "Max events to return (0 = all)")
	listCmd.Flags().StringVar(&entity, "entity", "", "Only events for this item, collection or registration id")

	cmd.AddCommand(listCmd)
	return cmd
}
