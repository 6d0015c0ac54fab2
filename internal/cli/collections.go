package cli

import (
	"github.com/spf13/cobra"
)

func newCollectionsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collections",
		Short: "Ordered collections (gallery, schedule, news, committees, sponsors)",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List collections with item counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd, app)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer st.Close()

			cs, err := st.ListCollections(cmd.Context())
			if err != nil {
				return writeErr(cmd, err)
			}
			out := make([]map[string]any, 0, len(cs))
			for _, c := range cs {
				items, err := st.ReadAll(cmd.Context(), c.ID)
				if err != nil {
					return writeErr(cmd, err)
				}
				out = append(out, map[string]any{
					"id":    c.ID,
					"kind":  c.Kind,
					"title": c.Title,
					"items": len(items),
				})
			}
			return writeOut(cmd, app, map[string]any{"data": out})
		},
	}

	cmd.AddCommand(listCmd)
	return cmd
}
