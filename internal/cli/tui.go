package cli

import (
	"confsite/internal/tui"

	"github.com/spf13/cobra"
)

func newTUICmd(app *App) *cobra.Command {
	var collection string
	var logFile string

	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Reorder a collection interactively",
		Long: `Reorder a collection in the terminal. Moves show at once and are saved in the
background; if a save fails the list returns to the last saved order.

Keys: J/K move the selected item down/up, T/B move it to the top/bottom, p toggles
the preview, r reloads, ? shows all keys, q quits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := requireCollection(collection)
			if err != nil {
				return writeErr(cmd, err)
			}
			st, err := openStore(cmd, app)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer st.Close()

			log, closeLog, err := newFileLogger(logFile, app.Verbose)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer closeLog()

			return tui.Run(cmd.Context(), tui.Options{
				Store:        st,
				CollectionID: id,
				ActorID:      app.actor(),
				Logger:       log,
			})
		},
	}
	cmd.Flags().StringVarP(&collection, "collection", "c", "", "Collection id")
	cmd.Flags().StringVar(&logFile, "log-file", "", "Write logs to this file (the terminal is taken by the UI)")
	return cmd
}
