package cli

import (
	"strings"

	"confsite/internal/format"
	"confsite/internal/publish"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newPublishCmd(app *App) *cobra.Command {
	var toDir string
	var overwrite bool
	var collections []string

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Write a markdown snapshot of the site content",
		Long: strings.TrimSpace(`
Write index.md, one markdown file per collection (items in display order) and one page
per news post under news/. Existing files are kept unless --overwrite is set.
`),
		Example: strings.TrimSpace(`
confsite publish --to ./archive/2026
confsite publish --to ./archive/2026 --collection schedule --overwrite
`),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd, app)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer st.Close()

			res, err := publish.WriteSite(cmd.Context(), st, app.cfg.Site.Title, toDir, publish.WriteOptions{
				Overwrite:   overwrite,
				Collections: collections,
			})
			if err != nil {
				return writeErr(cmd, err)
			}
			app.log.Info("published", zap.String("to", toDir), zap.Int("files", len(res.Written)))
			return writeOut(cmd, app, format.Envelope(res))
		},
	}
	cmd.Flags().StringVar(&toDir, "to", "", "Output directory")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace existing files")
	cmd.Flags().StringSliceVarP(&collections, "collection", "c", nil, "Only these collection ids (repeatable)")
	return cmd
}
