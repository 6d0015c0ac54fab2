package cli

import (
	"fmt"
	"strings"

	"confsite/internal/model"
	"confsite/internal/store"
	"confsite/internal/tui"

	"github.com/spf13/cobra"
)

func newNewsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "news",
		Short: "News posts",
	}

	var width int
	renderCmd := &cobra.Command{
		Use:   "render <item-id>",
		Short: "Render a news post as terminal markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd, app)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer st.Close()

			it, err := st.GetItem(cmd.Context(), args[0])
			if err != nil {
				return writeErr(cmd, err)
			}
			if it.CollectionID != string(model.KindNews) {
				return writeErr(cmd, store.NotFoundError{Kind: "news post", ID: it.ID})
			}

			var b strings.Builder
			b.WriteString("# " + it.Title + "\n\n")
			if it.Subtitle != "" {
				b.WriteString("_" + it.Subtitle + "_\n\n")
			}
			b.WriteString(it.Body)
			fmt.Fprintln(cmd.OutOrStdout(), tui.RenderMarkdown(b.String(), width))
			return nil
		},
	}
	renderCmd.Flags().IntVar(&width, "width", 80, "Wrap width")

	cmd.AddCommand(renderCmd)
	return cmd
}
