package web

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"confsite/internal/model"
	"confsite/internal/store"

	"go.uber.org/zap"
)

type collectionSummary struct {
	Collection model.Collection
	Count      int
}

type adminVM struct {
	baseVM
	Collections   []collectionSummary
	Registrations int
	Events        []model.Event
}

func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	ctx := r.Context()
	cs, err := s.cfg.Store.ListCollections(ctx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	vm := adminVM{baseVM: s.baseVMForRequest(r, "Dashboard")}
	for _, c := range cs {
		items, err := s.cfg.Store.ReadAll(ctx, c.ID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		vm.Collections = append(vm.Collections, collectionSummary{Collection: c, Count: len(items)})
	}
	regs, err := s.cfg.Store.ListRegistrations(ctx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	vm.Registrations = len(regs)
	if vm.Events, err = s.cfg.Store.ReadEvents(ctx, 10); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeHTMLTemplate(w, http.StatusOK, "admin.html", vm)
}

type collectionVM struct {
	baseVM
	Collection model.Collection
	Items      []model.Item
	Form       model.Item
	Errors     map[string]string
	Last       int
}

func (s *Server) collectionVM(r *http.Request, id string) (collectionVM, error) {
	c, err := s.cfg.Store.GetCollection(r.Context(), id)
	if err != nil {
		return collectionVM{}, err
	}
	items, err := s.cfg.Store.ReadAll(r.Context(), id)
	if err != nil {
		return collectionVM{}, err
	}
	vm := collectionVM{
		baseVM:     s.baseVMForRequest(r, c.Title),
		Collection: c,
		Items:      items,
		Errors:     map[string]string{},
		Last:       len(items) - 1,
	}
	vm.StreamURL = "/admin/collections/" + c.ID + "/events"
	return vm, nil
}

func (s *Server) handleAdminCollection(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	vm, err := s.collectionVM(r, r.PathValue("collectionId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeHTMLTemplate(w, http.StatusOK, "collection.html", vm)
}

// itemFromForm reads the item editor form. An uploaded media_file replaces the media
// ref and is stored only once the rest of the form validates. The parsed item is
// returned even on error so the form can be re-rendered.
func (s *Server) itemFromForm(r *http.Request) (model.Item, error) {
	if err := r.ParseMultipartForm(s.cfg.Site.MaxUploadBytes()); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return model.Item{}, store.ValidationError{Field: "form", Msg: err.Error()}
	}
	it := model.Item{
		Title:    r.FormValue("title"),
		Subtitle: r.FormValue("subtitle"),
		Body:     r.FormValue("body"),
		MediaRef: r.FormValue("media"),
		Link:     r.FormValue("link"),
		Location: r.FormValue("location"),
		Speaker:  r.FormValue("speaker"),
		Group:    r.FormValue("group"),
	}
	it.Layout.Featured = r.FormValue("featured") != ""
	if v := strings.TrimSpace(r.FormValue("span")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return it, store.ValidationError{Field: "span", Msg: "must be a number"}
		}
		it.Layout.Span = n
	}
	for _, f := range []struct {
		name string
		dst  **time.Time
	}{{"starts", &it.Starts}, {"ends", &it.Ends}} {
		v := strings.TrimSpace(r.FormValue(f.name))
		if v == "" {
			continue
		}
		t, err := time.Parse(formInputTime, v)
		if err != nil {
			return it, store.ValidationError{Field: f.name, Msg: "must look like 2026-09-14T09:30"}
		}
		*f.dst = &t
	}
	if err := store.ValidateItem(it); err != nil {
		return it, err
	}

	file, hdr, err := r.FormFile("media_file")
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return it, nil
	}
	if err != nil {
		return it, store.ValidationError{Field: "media_file", Msg: err.Error()}
	}
	defer file.Close()
	obj, err := s.cfg.Media.Put(r.Context(), hdr.Filename, file)
	if err != nil {
		return it, err
	}
	it.MediaRef = obj.Ref
	return it, nil
}

// dropUpload removes a blob stored by itemFromForm when the item write that
// would have referenced it failed.
func (s *Server) dropUpload(r *http.Request, form model.Item) {
	if form.MediaRef == "" || form.MediaRef == r.FormValue("media") {
		return
	}
	if err := s.cfg.Media.Delete(r.Context(), form.MediaRef); err != nil {
		s.log.Warn("drop orphaned upload", zap.String("ref", form.MediaRef), zap.Error(err))
	}
}

func (s *Server) handleItemCreate(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireAdmin(w, r)
	if !ok {
		return
	}
	id := r.PathValue("collectionId")
	form, err := s.itemFromForm(r)
	form.CollectionID = id
	var it model.Item
	if err == nil {
		it, err = s.cfg.Store.CreateItem(r.Context(), actor, form)
		if err != nil {
			s.dropUpload(r, form)
		}
	}
	var ve store.ValidationError
	if errors.As(err, &ve) {
		vm, verr := s.collectionVM(r, id)
		if verr != nil {
			s.writeError(w, r, verr)
			return
		}
		vm.Form = form
		vm.Errors[ve.Field] = ve.Msg
		s.writeHTMLTemplate(w, http.StatusBadRequest, "collection.html", vm)
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.changed(it.CollectionID, "create", actor)
	http.Redirect(w, r, "/admin/collections/"+id, http.StatusSeeOther)
}

type itemVM struct {
	baseVM
	Item   model.Item
	Errors map[string]string
}

func (s *Server) handleItemEditGet(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	it, err := s.cfg.Store.GetItem(r.Context(), r.PathValue("itemId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeHTMLTemplate(w, http.StatusOK, "item.html", itemVM{
		baseVM: s.baseVMForRequest(r, "Edit "+it.Title),
		Item:   it,
		Errors: map[string]string{},
	})
}

func (s *Server) handleItemEditPost(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireAdmin(w, r)
	if !ok {
		return
	}
	prev, err := s.cfg.Store.GetItem(r.Context(), r.PathValue("itemId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	form, err := s.itemFromForm(r)
	form.ID, form.CollectionID = prev.ID, prev.CollectionID
	if err == nil {
		if _, err = s.cfg.Store.UpdateItem(r.Context(), actor, form); err != nil {
			s.dropUpload(r, form)
		}
	}
	var ve store.ValidationError
	if errors.As(err, &ve) {
		s.writeHTMLTemplate(w, http.StatusBadRequest, "item.html", itemVM{
			baseVM: s.baseVMForRequest(r, "Edit "+prev.Title),
			Item:   form,
			Errors: map[string]string{ve.Field: ve.Msg},
		})
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.changed(prev.CollectionID, "update", actor)
	http.Redirect(w, r, "/admin/collections/"+prev.CollectionID, http.StatusSeeOther)
}

func (s *Server) handleItemDelete(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireAdmin(w, r)
	if !ok {
		return
	}
	it, err := s.cfg.Store.GetItem(r.Context(), r.PathValue("itemId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.cfg.Store.DeleteItem(r.Context(), actor, it.ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.changed(it.CollectionID, "delete", actor)
	http.Redirect(w, r, "/admin/collections/"+it.CollectionID, http.StatusSeeOther)
}

// handleItemMove moves an item to the index in form field "to". The item's current
// index is resolved by the store in the same transaction as the write.
func (s *Server) handleItemMove(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireAdmin(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := strconv.Atoi(strings.TrimSpace(r.Form.Get("to")))
	if err != nil {
		http.Error(w, "invalid target index", http.StatusBadRequest)
		return
	}
	plan, err := s.cfg.Store.MoveItem(r.Context(), actor, r.PathValue("itemId"), to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	moved := plan.Items[plan.To]
	s.log.Debug("move planned",
		zap.String("item", moved.ID),
		zap.Int("from", plan.From),
		zap.Int("to", plan.To),
		zap.Int("changed", len(plan.Changed)),
		zap.Bool("rebalanced", plan.UsedFallback))
	s.changed(moved.CollectionID, "reorder", actor)
	redirectBack(w, r, "/admin/collections/"+moved.CollectionID)
}

type registrationsVM struct {
	baseVM
	Registrations []model.Registration
}

func (s *Server) handleRegistrations(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	regs, err := s.cfg.Store.ListRegistrations(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeHTMLTemplate(w, http.StatusOK, "registrations.html", registrationsVM{
		baseVM:        s.baseVMForRequest(r, "Registrations"),
		Registrations: regs,
	})
}

func (s *Server) handleRegistrationsCSV(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="registrations.csv"`)
	if err := s.cfg.Store.ExportRegistrationsCSV(r.Context(), w); err != nil {
		s.log.Error("export registrations", zap.Error(err))
	}
}

type auditVM struct {
	baseVM
	Events []model.Event
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	evs, err := s.cfg.Store.ReadEvents(r.Context(), 200)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeHTMLTemplate(w, http.StatusOK, "audit.html", auditVM{
		baseVM: s.baseVMForRequest(r, "Audit log"),
		Events: evs,
	})
}
