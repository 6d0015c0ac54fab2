package web

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"confsite/internal/model"
	"confsite/internal/store"
)

const formInputTime = "2006-01-02T15:04"

func formatDay(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("Mon 2 Jan")
}

func formatClock(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("15:04")
}

type itemGroup struct {
	Label string
	Items []model.Item
}

// groupItems buckets items by label, keeping both the collection order within a group
// and the order in which groups first appear.
func groupItems(items []model.Item, label func(model.Item) string) []itemGroup {
	idx := map[string]int{}
	var out []itemGroup
	for _, it := range items {
		l := label(it)
		i, ok := idx[l]
		if !ok {
			i = len(out)
			idx[l] = i
			out = append(out, itemGroup{Label: l})
		}
		out[i].Items = append(out[i].Items, it)
	}
	return out
}

func scheduleDays(items []model.Item) []itemGroup {
	return groupItems(items, func(it model.Item) string {
		if it.Starts == nil {
			return "To be announced"
		}
		return it.Starts.UTC().Format("Monday 2 January")
	})
}

func committeeGroups(items []model.Item) []itemGroup {
	return groupItems(items, func(it model.Item) string {
		if g := strings.TrimSpace(it.Group); g != "" {
			return g
		}
		return "Organizing committee"
	})
}

type newsEntry struct {
	Item    model.Item
	Excerpt string
}

func newsEntries(items []model.Item, limit int) []newsEntry {
	out := []newsEntry{}
	for _, it := range items {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, newsEntry{Item: it, Excerpt: markdownExcerpt(it.Body, 180)})
	}
	return out
}

type homeVM struct {
	baseVM
	Dates    string
	Featured []model.Item
	News     []newsEntry
	Sponsors []model.Item
}

func (s *Server) conferenceDates() string {
	start, end := s.cfg.Site.Dates()
	switch {
	case start.IsZero():
		return ""
	case end.IsZero() || end.Equal(start):
		return start.Format("2 January 2006")
	case start.Month() == end.Month() && start.Year() == end.Year():
		return start.Format("2") + "–" + end.Format("2 January 2006")
	default:
		return start.Format("2 January") + " – " + end.Format("2 January 2006")
	}
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	gallery, err := s.cfg.Store.ReadAll(ctx, string(model.KindGallery))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	news, err := s.cfg.Store.ReadAll(ctx, string(model.KindNews))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sponsors, err := s.cfg.Store.ReadAll(ctx, string(model.KindSponsors))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	featured := []model.Item{}
	for _, it := range gallery {
		if it.Layout.Featured && len(featured) < 6 {
			featured = append(featured, it)
		}
	}
	s.writeHTMLTemplate(w, http.StatusOK, "home.html", homeVM{
		baseVM:   s.baseVMForRequest(r, ""),
		Dates:    s.conferenceDates(),
		Featured: featured,
		News:     newsEntries(news, 3),
		Sponsors: sponsors,
	})
}

type groupsVM struct {
	baseVM
	Groups []itemGroup
}

func (s *Server) handleCommittees(w http.ResponseWriter, r *http.Request) {
	items, err := s.cfg.Store.ReadAll(r.Context(), string(model.KindCommittees))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeHTMLTemplate(w, http.StatusOK, "committees.html", groupsVM{
		baseVM: s.baseVMForRequest(r, "Committees"),
		Groups: committeeGroups(items),
	})
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	items, err := s.cfg.Store.ReadAll(r.Context(), string(model.KindSchedule))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeHTMLTemplate(w, http.StatusOK, "schedule.html", groupsVM{
		baseVM: s.baseVMForRequest(r, "Schedule"),
		Groups: scheduleDays(items),
	})
}

type galleryVM struct {
	baseVM
	Items []model.Item
}

func (s *Server) handleGallery(w http.ResponseWriter, r *http.Request) {
	items, err := s.cfg.Store.ReadAll(r.Context(), string(model.KindGallery))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeHTMLTemplate(w, http.StatusOK, "gallery.html", galleryVM{
		baseVM: s.baseVMForRequest(r, "Gallery"),
		Items:  items,
	})
}

type newsVM struct {
	baseVM
	Entries []newsEntry
	Post    *model.Item
}

func (s *Server) handleNews(w http.ResponseWriter, r *http.Request) {
	items, err := s.cfg.Store.ReadAll(r.Context(), string(model.KindNews))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeHTMLTemplate(w, http.StatusOK, "news.html", newsVM{
		baseVM:  s.baseVMForRequest(r, "News"),
		Entries: newsEntries(items, 0),
	})
}

func (s *Server) handleNewsPost(w http.ResponseWriter, r *http.Request) {
	it, err := s.cfg.Store.GetItem(r.Context(), r.PathValue("itemId"))
	if err == nil && it.CollectionID != string(model.KindNews) {
		err = store.NotFoundError{Kind: "news post", ID: it.ID}
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeHTMLTemplate(w, http.StatusOK, "news.html", newsVM{
		baseVM: s.baseVMForRequest(r, it.Title),
		Post:   &it,
	})
}

type registerVM struct {
	baseVM
	Tickets []string
	Form    model.Registration
	Errors  map[string]string
	Done    bool
}

func (s *Server) registerVM(r *http.Request) registerVM {
	return registerVM{
		baseVM:  s.baseVMForRequest(r, "Registration"),
		Tickets: s.cfg.Site.Registration.Tickets,
		Errors:  map[string]string{},
	}
}

func (s *Server) handleRegisterGet(w http.ResponseWriter, r *http.Request) {
	s.writeHTMLTemplate(w, http.StatusOK, "register.html", s.registerVM(r))
}

func (s *Server) handleRegisterPost(w http.ResponseWriter, r *http.Request) {
	vm := s.registerVM(r)
	if !s.cfg.Site.Registration.Open {
		s.writeHTMLTemplate(w, http.StatusForbidden, "register.html", vm)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	vm.Form = model.Registration{
		Name:        r.Form.Get("name"),
		Email:       r.Form.Get("email"),
		Affiliation: r.Form.Get("affiliation"),
		Ticket:      model.TicketType(r.Form.Get("ticket")),
		Notes:       r.Form.Get("notes"),
	}
	reg, err := s.cfg.Store.CreateRegistration(r.Context(), vm.Form)
	var ve store.ValidationError
	if errors.As(err, &ve) {
		vm.Errors[ve.Field] = ve.Msg
		s.writeHTMLTemplate(w, http.StatusBadRequest, "register.html", vm)
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	vm.Form = reg
	vm.Done = true
	s.writeHTMLTemplate(w, http.StatusOK, "register.html", vm)
}
