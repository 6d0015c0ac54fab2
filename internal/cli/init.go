package cli

import (
	"os"
	"strings"

	"confsite/internal/config"
	"confsite/internal/model"

	"github.com/spf13/cobra"
)

func newInitCmd(app *App) *cobra.Command {
	var adminEmail string
	var adminName string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the data dir, site config and default collections",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(app.Dir, 0o755); err != nil {
				return writeErr(cmd, err)
			}
			st, err := openStore(cmd, app)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer st.Close()

			wroteConfig := false
			if _, err := os.Stat(app.ConfigPath); os.IsNotExist(err) {
				if err := app.cfg.Save(app.ConfigPath); err != nil {
					return writeErr(cmd, err)
				}
				wroteConfig = true
			}

			ms, err := openMedia(app)
			if err != nil {
				return writeErr(cmd, err)
			}

			var admin *model.Admin
			if strings.TrimSpace(adminEmail) != "" {
				a, err := st.AddAdmin(cmd.Context(), app.actor(), adminEmail, adminName)
				if err != nil {
					return writeErr(cmd, err)
				}
				admin = &a
			}

			cs, err := st.ListCollections(cmd.Context())
			if err != nil {
				return writeErr(cmd, err)
			}

			hints := []string{"confsite serve"}
			if admin == nil && app.cfg.Auth.Mode != config.AuthNone {
				hints = append([]string{"confsite admins add <email>"}, hints...)
			}
			return writeOut(cmd, app, map[string]any{
				"data": map[string]any{
					"dir":         app.Dir,
					"config":      app.ConfigPath,
					"wroteConfig": wroteConfig,
					"mediaDir":    ms.Dir(),
					"collections": cs,
					"admin":       admin,
				},
				"_hints": hints,
			})
		},
	}
	cmd.Flags().StringVar(&adminEmail, "admin", "", "Email of the first admin")
	cmd.Flags().StringVar(&adminName, "name", "", "Display name of the first admin")
	return cmd
}
