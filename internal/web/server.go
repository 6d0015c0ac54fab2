package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"confsite/internal/config"
	"confsite/internal/media"
	"confsite/internal/site"
	"confsite/internal/store"

	"github.com/starfederation/datastar-go/datastar"
	"go.uber.org/zap"
)

//go:embed templates/*.html static/*.css
var assetsFS embed.FS

type ServerConfig struct {
	Addr string
	// Dir is the data dir; web/secret.key and web/outbox live under it.
	Dir string
	// ActorID, when set, is used for every request and skips login.
	ActorID  string
	AuthMode string // none|dev|magic

	Site   *config.Config
	Store  *store.Store
	Media  *media.Store
	Logger *zap.Logger
}

type Server struct {
	cfg    ServerConfig
	tmpl   *template.Template
	log    *zap.Logger
	secret []byte
	bc     *resourceBroadcaster

	// lastChange is the UnixNano time of the latest changed() call.
	lastChange atomic.Int64
}

func NewServer(ctx context.Context, cfg ServerConfig) (*Server, error) {
	cfg.Addr = strings.TrimSpace(cfg.Addr)
	cfg.Dir = strings.TrimSpace(cfg.Dir)
	cfg.ActorID = strings.TrimSpace(cfg.ActorID)
	cfg.AuthMode = strings.ToLower(strings.TrimSpace(cfg.AuthMode))
	if cfg.Addr == "" {
		return nil, errors.New("web: addr is empty")
	}
	if cfg.Dir == "" {
		return nil, errors.New("web: dir is empty")
	}
	if cfg.Store == nil || cfg.Media == nil {
		return nil, errors.New("web: store and media are required")
	}
	if cfg.Site == nil {
		cfg.Site = config.Default()
	}
	if cfg.AuthMode == "" {
		cfg.AuthMode = cfg.Site.Auth.Mode
	}
	if cfg.AuthMode != config.AuthNone && cfg.AuthMode != config.AuthDev && cfg.AuthMode != config.AuthMagic {
		return nil, errors.New("web: invalid auth mode (expected none|dev|magic)")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	tmpl, err := template.New("base").Funcs(template.FuncMap{
		"trim":     strings.TrimSpace,
		"markdown": renderMarkdownHTML,
		"day":      formatDay,
		"clock":    formatClock,
		"inputTime": func(t *time.Time) string {
			if t == nil {
				return ""
			}
			return t.UTC().Format(formInputTime)
		},
		"add": func(a, b int) int { return a + b },
		"dict": dict,
	}).ParseFS(assetsFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	secret, err := loadOrInitSecretKey(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("web: secret key: %w", err)
	}

	srv := &Server{
		cfg:    cfg,
		tmpl:   tmpl,
		log:    cfg.Logger.Named("web"),
		secret: secret,
		bc:     newResourceBroadcaster(),
	}
	if err := srv.syncConfigAdmins(ctx); err != nil {
		return nil, err
	}
	for _, name := range site.UnknownIcons(cfg.Site.Nav) {
		srv.log.Warn("unknown nav icon, using default", zap.String("icon", name))
	}
	return srv, nil
}

// dict builds a map from alternating keys and values, for passing several values to a
// nested template.
func dict(kv ...any) (map[string]any, error) {
	if len(kv)%2 != 0 {
		return nil, errors.New("dict: odd number of arguments")
	}
	m := make(map[string]any, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			return nil, fmt.Errorf("dict: key %v is not a string", kv[i])
		}
		m[k] = kv[i+1]
	}
	return m, nil
}

func (s *Server) Addr() string { return s.cfg.Addr }

func (s *Server) AuthMode() string { return s.cfg.AuthMode }

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /static/app.css", s.handleAppCSS)
	mux.HandleFunc("GET /media/{ref}", s.handleMedia)

	mux.HandleFunc("GET /{$}", s.handleHome)
	mux.HandleFunc("GET /committees", s.handleCommittees)
	mux.HandleFunc("GET /schedule", s.handleSchedule)
	mux.HandleFunc("GET /gallery", s.handleGallery)
	mux.HandleFunc("GET /news", s.handleNews)
	mux.HandleFunc("GET /news/{itemId}", s.handleNewsPost)
	mux.HandleFunc("GET /register", s.handleRegisterGet)
	mux.HandleFunc("POST /register", s.handleRegisterPost)

	mux.HandleFunc("GET /login", s.handleLoginGet)
	mux.HandleFunc("POST /login", s.handleLoginPost)
	mux.HandleFunc("GET /verify", s.handleVerifyGet)
	mux.HandleFunc("POST /logout", s.handleLogoutPost)

	mux.HandleFunc("GET /admin", s.handleAdmin)
	mux.HandleFunc("GET /admin/collections/{collectionId}", s.handleAdminCollection)
	mux.HandleFunc("GET /admin/collections/{collectionId}/events", s.handleCollectionEvents)
	mux.HandleFunc("POST /admin/collections/{collectionId}/items", s.handleItemCreate)
	mux.HandleFunc("GET /admin/items/{itemId}", s.handleItemEditGet)
	mux.HandleFunc("POST /admin/items/{itemId}", s.handleItemEditPost)
	mux.HandleFunc("POST /admin/items/{itemId}/delete", s.handleItemDelete)
	mux.HandleFunc("POST /admin/items/{itemId}/move", s.handleItemMove)
	mux.HandleFunc("GET /admin/registrations", s.handleRegistrations)
	mux.HandleFunc("GET /admin/registrations.csv", s.handleRegistrationsCSV)
	mux.HandleFunc("GET /admin/audit", s.handleAudit)

	mux.HandleFunc("GET /api/collections/{collectionId}/items", s.handleAPIItems)
	mux.HandleFunc("GET /api/collections/{collectionId}/live", s.handleAPILive)
	mux.HandleFunc("POST /api/collections/{collectionId}/order", s.handleAPIOrder)
	return s.logRequests(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleAppCSS(w http.ResponseWriter, r *http.Request) {
	b, err := assetsFS.ReadFile("static/app.css")
	if err != nil || len(b) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	f, obj, err := s.cfg.Media.Open(r.PathValue("ref"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeContent(w, r, obj.Ref, obj.ModTime, f)
}

type baseVM struct {
	Site      config.SiteConfig
	Nav       []site.NavLink
	Title     string
	Actor     string
	AuthMode  string
	RegOpen   bool
	StreamURL string
	Year      int
}

func (s *Server) baseVMForRequest(r *http.Request, title string) baseVM {
	return baseVM{
		Site:     s.cfg.Site.Site,
		Nav:      site.Nav(s.cfg.Site.Nav, r.URL.Path),
		Title:    title,
		Actor:    s.actorForRequest(r),
		AuthMode: s.cfg.AuthMode,
		RegOpen:  s.cfg.Site.Registration.Open,
		Year:     time.Now().Year(),
	}
}

func (s *Server) renderTemplate(name string, data any) (string, error) {
	var b strings.Builder
	if err := s.tmpl.ExecuteTemplate(&b, name, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (s *Server) writeHTMLTemplate(w http.ResponseWriter, status int, name string, data any) {
	html, err := s.renderTemplate(name, data)
	if err != nil {
		s.log.Error("render template", zap.String("template", name), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, html)
}

// statusForError maps store errors onto HTTP statuses.
func statusForError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case store.IsNotFound(err), errors.Is(err, media.ErrNotFound):
		return http.StatusNotFound
	case store.IsValidation(err), errors.Is(err, media.ErrUnsupportedType):
		return http.StatusBadRequest
	case errors.Is(err, media.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, store.ErrIncompleteBatch), errors.Is(err, store.ErrNotIncreasing):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusForError(err)
	if code >= 500 {
		s.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	http.Error(w, err.Error(), code)
}

func redirectBack(w http.ResponseWriter, r *http.Request, fallback string) {
	ref := strings.TrimSpace(r.Header.Get("Referer"))
	if ref != "" {
		http.Redirect(w, r, ref, http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, fallback, http.StatusSeeOther)
}

type resourceKey struct {
	kind string
	id   string
}

func (k resourceKey) String() string {
	kind := strings.TrimSpace(k.kind)
	id := strings.TrimSpace(k.id)
	if id == "" {
		return kind
	}
	return kind + ":" + id
}

func collectionKey(id string) resourceKey { return resourceKey{kind: "collection", id: id} }

type resourceHub struct {
	mu   sync.Mutex
	subs map[chan struct{}]struct{}
}

func newResourceHub() *resourceHub {
	return &resourceHub{subs: map[chan struct{}]struct{}{}}
}

func (h *resourceHub) subscribe() (ch chan struct{}, cancel func()) {
	ch = make(chan struct{}, 8)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
		close(ch)
	}
}

func (h *resourceHub) broadcast() {
	h.mu.Lock()
	for ch := range h.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	h.mu.Unlock()
}

// resourceBroadcaster fans out change notifications to SSE and websocket subscribers,
// keyed by resource.
type resourceBroadcaster struct {
	mu   sync.Mutex
	hubs map[string]*resourceHub
}

func newResourceBroadcaster() *resourceBroadcaster {
	return &resourceBroadcaster{hubs: map[string]*resourceHub{}}
}

func (b *resourceBroadcaster) hubFor(key resourceKey) *resourceHub {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.hubs[key.String()]
	if !ok {
		h = newResourceHub()
		b.hubs[key.String()] = h
	}
	return h
}

func (b *resourceBroadcaster) publish(key resourceKey) {
	b.hubFor(key).broadcast()
}

func (b *resourceBroadcaster) publishAll() {
	b.mu.Lock()
	hubs := make([]*resourceHub, 0, len(b.hubs))
	for _, h := range b.hubs {
		hubs = append(hubs, h)
	}
	b.mu.Unlock()
	for _, h := range hubs {
		h.broadcast()
	}
}

func (s *Server) serveDatastarElementsStream(w http.ResponseWriter, r *http.Request, key resourceKey, selector string, mode datastar.ElementPatchMode, render func() (string, error)) {
	sse := datastar.NewSSE(w, r)

	h := s.bc.hubFor(key)
	ch, cancel := h.subscribe()
	defer cancel()

	keepAlive := time.NewTicker(25 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case <-sse.Context().Done():
			return
		case <-keepAlive.C:
			_ = sse.PatchSignals([]byte(`{}`))
		case <-ch:
			html, err := render()
			if err != nil {
				_ = sse.ExecuteScript(fmt.Sprintf(`console.error(%q)`, err.Error()))
				continue
			}
			if strings.TrimSpace(html) == "" {
				continue
			}
			_ = sse.PatchElements(html, datastar.WithSelector(selector), datastar.WithMode(mode))
		}
	}
}

func (s *Server) handleCollectionEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	id := strings.TrimSpace(r.PathValue("collectionId"))
	if _, err := s.cfg.Store.GetCollection(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.serveDatastarElementsStream(w, r, collectionKey(id), "#item-list", datastar.ElementPatchModeOuter, func() (string, error) {
		vm, err := s.collectionVM(r, id)
		if err != nil {
			return "", err
		}
		return s.renderTemplate("item_list", vm)
	})
}

// changed notifies live views of a collection and logs the mutation.
func (s *Server) changed(collectionID, what, actor string) {
	s.log.Info("collection changed",
		zap.String("collection", collectionID),
		zap.String("change", what),
		zap.String("actor", actor))
	s.lastChange.Store(time.Now().UnixNano())
	s.bc.publish(collectionKey(collectionID))
}
