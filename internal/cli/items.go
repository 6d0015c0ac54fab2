package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"confsite/internal/model"
	"confsite/internal/store"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func newItemsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "items",
		Short: "Items of a collection, in display order",
	}
	cmd.AddCommand(newItemsListCmd(app))
	cmd.AddCommand(newItemsShowCmd(app))
	cmd.AddCommand(newItemsAddCmd(app))
	cmd.AddCommand(newItemsEditCmd(app))
	cmd.AddCommand(newItemsDeleteCmd(app))
	cmd.AddCommand(newItemsMoveCmd(app))
	cmd.AddCommand(newItemsExportCmd(app))
	cmd.AddCommand(newItemsImportCmd(app))
	return cmd
}

// itemFlags are the editable item attributes shared by add and edit.
type itemFlags struct {
	title     string
	subtitle  string
	body      string
	bodyFile  string
	mediaFile string
	media     string
	link      string
	span      int
	featured  bool
	starts    string
	ends      string
	location  string
	speaker   string
	group     string
}

func (f *itemFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.title, "title", "", "Title")
	fs.StringVar(&f.subtitle, "subtitle", "", "Subtitle")
	fs.StringVar(&f.body, "body", "", "Body (markdown)")
	fs.StringVar(&f.bodyFile, "body-file", "", "Read the body from a markdown file ('-' for stdin)")
	fs.StringVar(&f.mediaFile, "media-file", "", "Upload a file to the media store and attach it")
	fs.StringVar(&f.media, "media", "", "Attach an existing media ref")
	fs.StringVar(&f.link, "link", "", "External http(s) link")
	fs.IntVar(&f.span, "span", 0, "Grid columns on the public site (1-3, 0 for auto)")
	fs.BoolVar(&f.featured, "featured", false, "Feature on the home page")
	fs.StringVar(&f.starts, "starts", "", "Start time (RFC3339 or 2006-01-02T15:04, UTC)")
	fs.StringVar(&f.ends, "ends", "", "End time (RFC3339 or 2006-01-02T15:04, UTC)")
	fs.StringVar(&f.location, "location", "", "Room or venue (schedule)")
	fs.StringVar(&f.speaker, "speaker", "", "Speaker (schedule)")
	fs.StringVar(&f.group, "group", "", "Committee name (committees)")
}

// apply copies the flags the user set onto it.
func (f *itemFlags) apply(cmd *cobra.Command, app *App, it *model.Item) error {
	fs := cmd.Flags()
	set := func(name string, dst *string, v string) {
		if fs.Changed(name) {
			*dst = v
		}
	}
	set("title", &it.Title, f.title)
	set("subtitle", &it.Subtitle, f.subtitle)
	set("body", &it.Body, f.body)
	set("media", &it.MediaRef, f.media)
	set("link", &it.Link, f.link)
	set("location", &it.Location, f.location)
	set("speaker", &it.Speaker, f.speaker)
	set("group", &it.Group, f.group)
	if fs.Changed("span") {
		it.Layout.Span = f.span
	}
	if fs.Changed("featured") {
		it.Layout.Featured = f.featured
	}
	for _, tf := range []struct {
		name string
		raw  string
		dst  **time.Time
	}{{"starts", f.starts, &it.Starts}, {"ends", f.ends, &it.Ends}} {
		if !fs.Changed(tf.name) {
			continue
		}
		t, err := parseTimeFlag(tf.name, tf.raw)
		if err != nil {
			return err
		}
		*tf.dst = t
	}

	if fs.Changed("body-file") {
		b, err := readInput(cmd, f.bodyFile)
		if err != nil {
			return err
		}
		it.Body = string(b)
	}
	if fs.Changed("media-file") {
		ref, err := uploadMedia(cmd, app, f.mediaFile)
		if err != nil {
			return err
		}
		it.MediaRef = ref
	}
	return nil
}

// parseTimeFlag returns nil for an empty value, which clears the time.
func parseTimeFlag(name, raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02 15:04"} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, store.ValidationError{Field: name, Msg: "want RFC3339 or 2006-01-02T15:04"}
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if strings.TrimSpace(path) == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

func uploadMedia(cmd *cobra.Command, app *App, path string) (string, error) {
	ms, err := openMedia(app)
	if err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	obj, err := ms.Put(cmd.Context(), filepath.Base(path), f)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", path, err)
	}
	app.log.Info("media stored", zap.String("ref", obj.Ref), zap.Int64("size", obj.Size))
	return obj.Ref, nil
}

func requireCollection(collection string) (string, error) {
	collection = strings.TrimSpace(collection)
	if collection == "" {
		return "", errors.New("missing --collection")
	}
	return collection, nil
}

func newItemsListCmd(app *App) *cobra.Command {
	var collection string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List items in display order",
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

			items, err := st.ReadAll(cmd.Context(), id)
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": items})
		},
	}
	cmd.Flags().StringVarP(&collection, "collection", "c", "", "Collection id")
	return cmd
}

func newItemsShowCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <item-id>",
		Short: "Show an item and its history",
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
			evs, err := st.ReadEventsForEntity(cmd.Context(), it.ID)
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{
				"data": map[string]any{
					"item":    it,
					"history": evs,
				},
			})
		},
	}
	return cmd
}

func newItemsAddCmd(app *App) *cobra.Command {
	var collection string
	var f itemFlags
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Append an item to a collection",
		Example: strings.TrimSpace(`
confsite items add -c schedule --title "Opening keynote" --starts 2026-09-14T09:00 --speaker "Ada Lovelace"
confsite items add -c gallery --title "Poster session" --media-file ./poster.jpg --featured
`),
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

			it := model.Item{CollectionID: id}
			if err := f.apply(cmd, app, &it); err != nil {
				return writeErr(cmd, err)
			}
			it, err = st.CreateItem(cmd.Context(), app.actor(), it)
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": it})
		},
	}
	cmd.Flags().StringVarP(&collection, "collection", "c", "", "Collection id")
	f.register(cmd.Flags())
	return cmd
}

func newItemsEditCmd(app *App) *cobra.Command {
	var f itemFlags
	cmd := &cobra.Command{
		Use:   "edit <item-id>",
		Short: "Change item attributes (position is kept)",
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
			if err := f.apply(cmd, app, &it); err != nil {
				return writeErr(cmd, err)
			}
			it, err = st.UpdateItem(cmd.Context(), app.actor(), it)
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": it})
		},
	}
	f.register(cmd.Flags())
	return cmd
}

func newItemsDeleteCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <item-id>",
		Short: "Delete an item (other positions are unchanged)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd, app)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer st.Close()

			if err := st.DeleteItem(cmd.Context(), app.actor(), args[0]); err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": map[string]any{"id": args[0], "deleted": true}})
		},
	}
	return cmd
}

func newItemsMoveCmd(app *App) *cobra.Command {
	var to int
	cmd := &cobra.Command{
		Use:   "move <item-id>",
		Short: "Move an item to a 0-based index within its collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("to") {
				return writeErr(cmd, errors.New("missing --to"))
			}
			st, err := openStore(cmd, app)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer st.Close()

			plan, err := st.MoveItem(cmd.Context(), app.actor(), args[0], to)
			if err != nil {
				return writeErr(cmd, err)
			}
			collectionID := plan.Items[plan.To].CollectionID
			app.log.Debug("move planned",
				zap.String("item", plan.Items[plan.To].ID),
				zap.Int("from", plan.From),
				zap.Int("to", plan.To),
				zap.Int("changed", len(plan.Changed)),
				zap.Bool("rebalanced", plan.UsedFallback))

			items, err := st.ReadAll(cmd.Context(), collectionID)
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{
				"data": items,
				"meta": map[string]any{
					"from":       plan.From,
					"to":         plan.To,
					"changed":    plan.Changed,
					"rebalanced": plan.UsedFallback,
				},
			})
		},
	}
	cmd.Flags().IntVar(&to, "to", 0, "Target index (0 = top)")
	return cmd
}

func newItemsExportCmd(app *App) *cobra.Command {
	var collection string
	var file string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a collection as CSV",
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

			if file == "" || file == "-" {
				if err := st.ExportItemsCSV(cmd.Context(), id, cmd.OutOrStdout()); err != nil {
					return writeErr(cmd, err)
				}
				return nil
			}
			f, err := os.Create(file)
			if err != nil {
				return writeErr(cmd, err)
			}
			if err := st.ExportItemsCSV(cmd.Context(), id, f); err != nil {
				_ = f.Close()
				return writeErr(cmd, err)
			}
			if err := f.Close(); err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": map[string]any{"collection": id, "file": file}})
		},
	}
	cmd.Flags().StringVarP(&collection, "collection", "c", "", "Collection id")
	cmd.Flags().StringVarP(&file, "file", "f", "-", "Output file ('-' for stdout)")
	return cmd
}

func newItemsImportCmd(app *App) *cobra.Command {
	var collection string
	var file string
	var keepPositions bool
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import items from CSV (known ids are updated, others appended)",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := requireCollection(collection)
			if err != nil {
				return writeErr(cmd, err)
			}
			if strings.TrimSpace(file) == "" {
				return writeErr(cmd, errors.New("missing --file"))
			}
			st, err := openStore(cmd, app)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer st.Close()

			var r io.Reader = cmd.InOrStdin()
			if file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return writeErr(cmd, err)
				}
				defer f.Close()
				r = f
			}
			res, err := st.ImportItemsCSV(cmd.Context(), app.actor(), id, r, store.ImportOptions{KeepPositions: keepPositions})
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": res})
		},
	}
	cmd.Flags().StringVarP(&collection, "collection", "c", "", "Collection id")
	cmd.Flags().StringVarP(&file, "file", "f", "", "CSV file ('-' for stdin)")
	cmd.Flags().BoolVar(&keepPositions, "keep-positions", false, "Use the position column instead of appending")
	return cmd
}
