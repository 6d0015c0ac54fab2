package web

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"confsite/internal/config"
	"confsite/internal/media"
	"confsite/internal/model"
	"confsite/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	srv     *Server
	h       http.Handler
	st      *store.Store
	cfg     *config.Config
	media   *media.Store
	dataDir string
}

func newTestEnv(t *testing.T, authMode string) *testEnv {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	st, err := store.Open(ctx, dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	ms, err := media.Open(t.TempDir(), 1<<20)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Site.Title = "TestConf"
	cfg.Auth.Mode = authMode
	cfg.Admins = map[string]string{"chair@example.org": "Chair"}

	srv, err := NewServer(ctx, ServerConfig{
		Addr:  "127.0.0.1:0",
		Dir:   dir,
		Site:  cfg,
		Store: st,
		Media: ms,
	})
	require.NoError(t, err)
	return &testEnv{srv: srv, h: srv.Handler(), st: st, cfg: cfg, media: ms, dataDir: dir}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) seed(t *testing.T, collectionID string, titles ...string) []model.Item {
	t.Helper()
	out := []model.Item{}
	for _, title := range titles {
		it, err := e.st.CreateItem(context.Background(), "seed", model.Item{CollectionID: collectionID, Title: title, Body: "About **" + title + "**."})
		require.NoError(t, err)
		out = append(out, it)
	}
	return out
}

func titlesOf(items []model.Item) []string {
	out := []string{}
	for _, it := range items {
		out = append(out, it.Title)
	}
	return out
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t, config.AuthNone)
	rec := e.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())
}

func TestPublicPages(t *testing.T) {
	e := newTestEnv(t, config.AuthNone)
	e.seed(t, "gallery", "Opening night")
	news := e.seed(t, "news", "Keynote announced")
	e.seed(t, "committees", "Ada")
	e.seed(t, "sponsors", "Acme")
	start := time.Date(2026, 9, 14, 9, 0, 0, 0, time.UTC)
	_, err := e.st.CreateItem(context.Background(), "seed", model.Item{CollectionID: "schedule", Title: "Welcome", Starts: &start})
	require.NoError(t, err)

	cases := map[string]string{
		"/":                   "TestConf",
		"/committees":         "Ada",
		"/schedule":           "Welcome",
		"/gallery":            "Opening night",
		"/news":               "Keynote announced",
		"/news/" + news[0].ID: "<strong>Keynote announced</strong>",
		"/register":           `name="email"`,
		"/static/app.css":     ".grid",
	}
	for path, want := range cases {
		t.Run(path, func(t *testing.T) {
			rec := e.do(t, httptest.NewRequest(http.MethodGet, path, nil))
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), want)
		})
	}

	rec := e.do(t, httptest.NewRequest(http.MethodGet, "/news/itm-missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	// A gallery item is not a news post.
	gallery, _ := e.st.ReadAll(context.Background(), "gallery")
	rec = e.do(t, httptest.NewRequest(http.MethodGet, "/news/"+gallery[0].ID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIItems_ReadAllInOrder(t *testing.T) {
	e := newTestEnv(t, config.AuthNone)
	e.seed(t, "gallery", "A", "B", "C")

	rec := e.do(t, httptest.NewRequest(http.MethodGet, "/api/collections/gallery/items", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got itemsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, []string{"A", "B", "C"}, titlesOf(got.Items))

	rec = e.do(t, httptest.NewRequest(http.MethodGet, "/api/collections/nope/items", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func postJSON(path string, v any) *http.Request {
	b, _ := json.Marshal(v)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestAPIOrder(t *testing.T) {
	e := newTestEnv(t, config.AuthNone)
	items := e.seed(t, "gallery", "A", "B", "C", "D")
	ids := func(idx ...int) []string {
		out := []string{}
		for _, i := range idx {
			out = append(out, items[i].ID)
		}
		return out
	}

	t.Run("ids", func(t *testing.T) {
		rec := e.do(t, postJSON("/api/collections/gallery/order", map[string]any{"ids": ids(1, 2, 0, 3)}))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var got itemsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, []string{"B", "C", "A", "D"}, titlesOf(got.Items))

		after, err := e.st.ReadAll(context.Background(), "gallery")
		require.NoError(t, err)
		assert.Equal(t, []string{"B", "C", "A", "D"}, titlesOf(after))
	})

	t.Run("full batch", func(t *testing.T) {
		batch := []model.Placement{
			{ID: items[3].ID, Position: 1}, {ID: items[0].ID, Position: 2},
			{ID: items[1].ID, Position: 3}, {ID: items[2].ID, Position: 4},
		}
		rec := e.do(t, postJSON("/api/collections/gallery/order", map[string]any{"items": batch}))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		after, err := e.st.ReadAll(context.Background(), "gallery")
		require.NoError(t, err)
		assert.Equal(t, []string{"D", "A", "B", "C"}, titlesOf(after))
	})

	before, err := e.st.ReadAll(context.Background(), "gallery")
	require.NoError(t, err)
	rejected := []struct {
		name string
		body any
		code int
	}{
		{"unknown id", map[string]any{"ids": []string{"itm-nope"}}, http.StatusNotFound},
		{"incomplete", map[string]any{"items": []model.Placement{{ID: items[0].ID, Position: 1}}}, http.StatusConflict},
		{"not increasing", map[string]any{"items": []model.Placement{
			{ID: items[0].ID, Position: 4}, {ID: items[1].ID, Position: 3},
			{ID: items[2].ID, Position: 2}, {ID: items[3].ID, Position: 1},
		}}, http.StatusConflict},
		{"both forms", map[string]any{"ids": ids(0), "items": []model.Placement{}}, http.StatusBadRequest},
		{"neither", map[string]any{}, http.StatusBadRequest},
	}
	for _, tc := range rejected {
		t.Run(tc.name, func(t *testing.T) {
			rec := e.do(t, postJSON("/api/collections/gallery/order", tc.body))
			assert.Equal(t, tc.code, rec.Code, rec.Body.String())
			after, err := e.st.ReadAll(context.Background(), "gallery")
			require.NoError(t, err)
			assert.Equal(t, model.Placements(before), model.Placements(after))
		})
	}
}

func TestAdminRequiresSession(t *testing.T) {
	e := newTestEnv(t, config.AuthDev)
	e.seed(t, "gallery", "A")

	rec := e.do(t, postJSON("/api/collections/gallery/order", map[string]any{"ids": []string{}}))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, httptest.NewRequest(http.MethodGet, "/admin", nil))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
}

func TestDevLogin(t *testing.T) {
	e := newTestEnv(t, config.AuthDev)
	admin, err := e.st.AdminByEmail(context.Background(), "chair@example.org")
	require.NoError(t, err, "config admins are synced on start")

	rec := e.do(t, httptest.NewRequest(http.MethodGet, "/login", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chair@example.org")

	form := url.Values{"admin": {admin.ID}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = e.do(t, req)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.AddCookie(cookies[0])
	rec = e.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Dashboard")

	bad := url.Values{"admin": {"adm-unknown"}}
	req = httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(bad.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	assert.Equal(t, http.StatusForbidden, e.do(t, req).Code)
}

func TestMagicLogin(t *testing.T) {
	e := newTestEnv(t, config.AuthMagic)

	form := url.Values{"email": {"Chair@example.org"}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := e.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "outbox")

	tok, err := newToken(e.srv.secret, "magic", "chair@example.org", time.Minute)
	require.NoError(t, err)
	rec = e.do(t, httptest.NewRequest(http.MethodGet, "/verify?token="+url.QueryEscape(tok), nil))
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.NotEmpty(t, rec.Result().Cookies())

	session, err := newToken(e.srv.secret, "session", "adm-x", time.Minute)
	require.NoError(t, err)
	rec = e.do(t, httptest.NewRequest(http.MethodGet, "/verify?token="+url.QueryEscape(session), nil))
	assert.Equal(t, http.StatusForbidden, rec.Code, "session tokens are not sign-in links")

	stranger := url.Values{"email": {"who@example.org"}}
	req = httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(stranger.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	assert.Equal(t, http.StatusForbidden, e.do(t, req).Code)
}

func TestTokens(t *testing.T) {
	secret := []byte("k")
	tok, err := newToken(secret, "session", "adm-1", time.Hour)
	require.NoError(t, err)
	sp, err := verifyToken(secret, tok)
	require.NoError(t, err)
	assert.Equal(t, "adm-1", sp.Sub)

	_, err = verifyToken([]byte("other"), tok)
	assert.Error(t, err)
	_, err = verifyToken(secret, tok+"x")
	assert.Error(t, err)
	_, err = verifyToken(secret, "garbage")
	assert.Error(t, err)

	expired, err := signToken(secret, signedPayload{Typ: "session", Sub: "adm-1", Exp: time.Now().Add(-time.Minute).Unix()})
	require.NoError(t, err)
	_, err = verifyToken(secret, expired)
	assert.Error(t, err)
}

func TestRegister(t *testing.T) {
	e := newTestEnv(t, config.AuthNone)
	post := func(v url.Values) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(v.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return e.do(t, req)
	}

	rec := post(url.Values{"name": {"Grace"}, "email": {"grace@example.org"}, "ticket": {"speaker"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Thanks, Grace")

	rec = post(url.Values{"name": {"Grace"}, "email": {"grace@example.org"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "already registered")

	rec = post(url.Values{"name": {""}, "email": {"x@example.org"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	e.cfg.Registration.Open = false
	rec = post(url.Values{"name": {"Late"}, "email": {"late@example.org"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	regs, err := e.st.ListRegistrations(context.Background())
	require.NoError(t, err)
	assert.Len(t, regs, 1)

	rec = e.do(t, httptest.NewRequest(http.MethodGet, "/admin/registrations.csv", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "grace@example.org")
}

func TestAdminItemLifecycle(t *testing.T) {
	e := newTestEnv(t, config.AuthNone)
	items := e.seed(t, "schedule", "A", "B", "C")

	// Move C to the top.
	form := url.Values{"to": {"0"}}
	req := httptest.NewRequest(http.MethodPost, "/admin/items/"+items[2].ID+"/move", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := e.do(t, req)
	require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())
	after, err := e.st.ReadAll(context.Background(), "schedule")
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "A", "B"}, titlesOf(after))

	// Out of range target.
	form = url.Values{"to": {"7"}}
	req = httptest.NewRequest(http.MethodPost, "/admin/items/"+items[2].ID+"/move", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	assert.Equal(t, http.StatusBadRequest, e.do(t, req).Code)

	// Create with an uploaded image.
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("title", "Closing")
	_ = mw.WriteField("starts", "2026-09-16T17:00")
	_ = mw.WriteField("ends", "2026-09-16T18:00")
	fw, err := mw.CreateFormFile("media_file", "closing.png")
	require.NoError(t, err)
	_, _ = io.WriteString(fw, "png")
	require.NoError(t, mw.Close())
	req = httptest.NewRequest(http.MethodPost, "/admin/collections/schedule/items", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec = e.do(t, req)
	require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())

	after, err = e.st.ReadAll(context.Background(), "schedule")
	require.NoError(t, err)
	require.Len(t, after, 4)
	created := after[3]
	assert.Equal(t, "Closing", created.Title)
	require.NotEmpty(t, created.MediaRef)
	rec = e.do(t, httptest.NewRequest(http.MethodGet, "/media/"+created.MediaRef, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "png", rec.Body.String())

	// Validation error re-renders the form.
	form = url.Values{"title": {""}}
	req = httptest.NewRequest(http.MethodPost, "/admin/collections/schedule/items", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = e.do(t, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "required")

	// Edit keeps the position.
	form = url.Values{"title": {"Closing remarks"}}
	req = httptest.NewRequest(http.MethodPost, "/admin/items/"+created.ID, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	require.Equal(t, http.StatusSeeOther, e.do(t, req).Code)
	got, err := e.st.GetItem(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Closing remarks", got.Title)
	assert.Equal(t, created.Position, got.Position)

	// Delete.
	req = httptest.NewRequest(http.MethodPost, "/admin/items/"+created.ID+"/delete", nil)
	require.Equal(t, http.StatusSeeOther, e.do(t, req).Code)
	_, err = e.st.GetItem(context.Background(), created.ID)
	assert.True(t, store.IsNotFound(err))

	for _, path := range []string{"/admin", "/admin/collections/schedule", "/admin/items/" + items[0].ID, "/admin/registrations", "/admin/audit"} {
		rec := e.do(t, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestAdminItemCreate_InvalidFormKeepsInputAndStoresNoUpload(t *testing.T) {
	e := newTestEnv(t, config.AuthNone)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("title", "")
	_ = mw.WriteField("subtitle", "Hall B after lunch")
	fw, err := mw.CreateFormFile("media_file", "poster.png")
	require.NoError(t, err)
	_, _ = io.WriteString(fw, "png")
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/admin/collections/schedule/items", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := e.do(t, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "required")
	assert.Contains(t, rec.Body.String(), `value="Hall B after lunch"`)
	objs, err := e.media.List()
	require.NoError(t, err)
	assert.Empty(t, objs)

	// A failed edit keeps the typed values too.
	it := e.seed(t, "schedule", "Keynote")[0]
	form := url.Values{"title": {"Keynote"}, "subtitle": {"Main stage"}, "span": {"9"}}
	req = httptest.NewRequest(http.MethodPost, "/admin/items/"+it.ID, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = e.do(t, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `value="Main stage"`)
	got, err := e.st.GetItem(context.Background(), it.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Subtitle)
}

func TestCollectionEventsStream(t *testing.T) {
	e := newTestEnv(t, config.AuthNone)
	e.seed(t, "gallery", "A")
	ts := httptest.NewServer(e.h)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/admin/collections/gallery/events", nil)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				e.srv.changed("gallery", "test", "local")
			}
		}
	}()

	found := make(chan bool, 1)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if strings.Contains(sc.Text(), `id="item-list"`) {
				found <- true
				return
			}
		}
		found <- false
	}()
	select {
	case ok := <-found:
		assert.True(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("no element patch received")
	}
}

func TestMarkdown(t *testing.T) {
	html := string(renderMarkdownHTML("Hello <script>alert(1)</script> **world**"))
	assert.Contains(t, html, "<strong>world</strong>")
	assert.NotContains(t, html, "<script>")

	assert.Equal(t, "First paragraph with emphasis.", markdownExcerpt("# Title\n\nFirst paragraph\nwith *emphasis*.\n\nSecond.", 100))
	assert.Equal(t, "abc…", markdownExcerpt("abcdef", 3))
}

func TestGroupItems(t *testing.T) {
	d1 := time.Date(2026, 9, 14, 9, 0, 0, 0, time.UTC)
	d2 := d1.Add(24 * time.Hour)
	items := []model.Item{
		{ID: "1", Title: "a", Starts: &d1},
		{ID: "2", Title: "b", Starts: &d2},
		{ID: "3", Title: "c", Starts: &d1},
		{ID: "4", Title: "tba"},
	}
	groups := scheduleDays(items)
	require.Len(t, groups, 3)
	assert.Equal(t, []string{"a", "c"}, titlesOf(groups[0].Items))
	assert.Equal(t, "To be announced", groups[2].Label)
}
