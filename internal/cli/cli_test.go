package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func runCLI(t *testing.T, args []string) (stdout []byte, stderr []byte, err error) {
	t.Helper()

	cmd := NewRootCmd()

	var outBuf bytes.Buffer
	var errBuf bytes.Buffer
	cmd.SetOut(&outBuf)
	cmd.SetErr(&errBuf)
	cmd.SetArgs(args)

	e := cmd.Execute()
	return outBuf.Bytes(), errBuf.Bytes(), e
}

// mustRun runs the command in dir and decodes its JSON envelope.
func mustRun(t *testing.T, dir string, args ...string) map[string]any {
	t.Helper()
	out, errOut, err := runCLI(t, append([]string{"--dir", dir}, args...))
	if err != nil {
		t.Fatalf("%v: %v\nstderr: %s", args, err, string(errOut))
	}
	var env map[string]any
	if err := json.Unmarshal(out, &env); err != nil {
		t.Fatalf("%v: invalid json: %v\n%s", args, err, string(out))
	}
	return env
}

func dataList(t *testing.T, env map[string]any) []map[string]any {
	t.Helper()
	raw, ok := env["data"].([]any)
	if !ok {
		t.Fatalf("data is not a list: %#v", env["data"])
	}
	out := make([]map[string]any, 0, len(raw))
	for _, r := range raw {
		out = append(out, r.(map[string]any))
	}
	return out
}

func titlesOf(items []map[string]any) []string {
	out := []string{}
	for _, it := range items {
		out = append(out, it["title"].(string))
	}
	return out
}

func initDir(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), ".confsite")
	mustRun(t, dir, "init", "--admin", "chair@example.org", "--name", "Chair")
	return dir
}

func TestInit(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".confsite")
	env := mustRun(t, dir, "init", "--admin", "chair@example.org")
	data := env["data"].(map[string]any)

	assert.Equal(t, true, data["wroteConfig"])
	assert.Len(t, data["collections"], 5)
	assert.Equal(t, "chair@example.org", data["admin"].(map[string]any)["email"])
	_, err := os.Stat(filepath.Join(dir, "confsite.yaml"))
	require.NoError(t, err)

	// Running init again keeps the config file.
	env = mustRun(t, dir, "init")
	assert.Equal(t, false, env["data"].(map[string]any)["wroteConfig"])

	admins := dataList(t, mustRun(t, dir, "admins", "list"))
	require.Len(t, admins, 1)
}

func TestItemsLifecycle(t *testing.T) {
	dir := initDir(t)

	var ids []string
	for _, title := range []string{"A", "B", "C"} {
		env := mustRun(t, dir, "items", "add", "-c", "gallery", "--title", title)
		ids = append(ids, env["data"].(map[string]any)["id"].(string))
	}
	items := dataList(t, mustRun(t, dir, "items", "list", "-c", "gallery"))
	assert.Equal(t, []string{"A", "B", "C"}, titlesOf(items))

	env := mustRun(t, dir, "items", "move", ids[2], "--to", "0")
	assert.Equal(t, []string{"C", "A", "B"}, titlesOf(dataList(t, env)))
	assert.EqualValues(t, 2, env["meta"].(map[string]any)["from"])

	items = dataList(t, mustRun(t, dir, "items", "list", "-c", "gallery"))
	assert.Equal(t, []string{"C", "A", "B"}, titlesOf(items), "read-after-write returns the written order")
	posBefore := items[1]["position"]

	env = mustRun(t, dir, "items", "edit", ids[0], "--title", "A2", "--featured")
	edited := env["data"].(map[string]any)
	assert.Equal(t, "A2", edited["title"])
	assert.Equal(t, posBefore, edited["position"])

	env = mustRun(t, dir, "items", "show", ids[0])
	history := env["data"].(map[string]any)["history"].([]any)
	require.Len(t, history, 2)
	assert.Equal(t, "item.create", history[0].(map[string]any)["type"])
	assert.Equal(t, "item.update", history[1].(map[string]any)["type"])

	mustRun(t, dir, "items", "delete", ids[1])
	items = dataList(t, mustRun(t, dir, "items", "list", "-c", "gallery"))
	assert.Equal(t, []string{"C", "A2"}, titlesOf(items))

	evs := dataList(t, mustRun(t, dir, "events", "list", "--limit", "1"))
	require.Len(t, evs, 1)
	assert.Equal(t, "item.delete", evs[0]["type"])
}

func TestItemsErrors(t *testing.T) {
	dir := initDir(t)

	_, errOut, err := runCLI(t, []string{"--dir", dir, "items", "add", "-c", "gallery"})
	require.Error(t, err)
	assert.Contains(t, string(errOut), "title")

	_, _, err = runCLI(t, []string{"--dir", dir, "items", "list", "-c", "nope"})
	assert.Error(t, err)

	_, _, err = runCLI(t, []string{"--dir", dir, "items", "list"})
	assert.Error(t, err)

	env := mustRun(t, dir, "items", "add", "-c", "schedule", "--title", "Only")
	id := env["data"].(map[string]any)["id"].(string)
	_, errOut, err = runCLI(t, []string{"--dir", dir, "items", "move", id, "--to", "3"})
	require.Error(t, err)
	assert.Contains(t, string(errOut), "index")

	_, _, err = runCLI(t, []string{"--dir", dir, "items", "add", "-c", "schedule", "--title", "x", "--starts", "tomorrow"})
	assert.Error(t, err)
}

func TestItemsScheduleFields(t *testing.T) {
	dir := initDir(t)
	env := mustRun(t, dir, "items", "add", "-c", "schedule",
		"--title", "Keynote",
		"--starts", "2026-09-14T09:00",
		"--ends", "2026-09-14T10:00",
		"--speaker", "Ada",
		"--location", "Main hall")
	it := env["data"].(map[string]any)
	assert.Equal(t, "2026-09-14T09:00:00Z", it["starts"])
	assert.Equal(t, "Ada", it["speaker"])

	_, _, err := runCLI(t, []string{"--dir", dir, "items", "add", "-c", "schedule", "--title", "Backwards",
		"--starts", "2026-09-14T10:00", "--ends", "2026-09-14T09:00"})
	assert.Error(t, err)
}

func TestItemsExportImport(t *testing.T) {
	dir := initDir(t)
	for _, title := range []string{"Ada", "Grace"} {
		mustRun(t, dir, "items", "add", "-c", "committees", "--title", title, "--group", "Program committee")
	}

	csvPath := filepath.Join(t.TempDir(), "committees.csv")
	mustRun(t, dir, "items", "export", "-c", "committees", "--file", csvPath)
	raw, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "id,title,"))

	// Importing into another collection creates copies.
	env := mustRun(t, dir, "items", "import", "-c", "sponsors", "--file", csvPath)
	assert.EqualValues(t, 2, env["data"].(map[string]any)["created"])

	// Re-importing into the source updates in place.
	env = mustRun(t, dir, "items", "import", "-c", "committees", "--file", csvPath)
	assert.EqualValues(t, 2, env["data"].(map[string]any)["updated"])

	items := dataList(t, mustRun(t, dir, "items", "list", "-c", "sponsors"))
	assert.Equal(t, []string{"Ada", "Grace"}, titlesOf(items))
}

func TestRegistrationsAndNews(t *testing.T) {
	dir := initDir(t)

	assert.Empty(t, dataList(t, mustRun(t, dir, "registrations", "list")))
	out, _, err := runCLI(t, []string{"--dir", dir, "registrations", "export"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(out), "id,"))

	env := mustRun(t, dir, "items", "add", "-c", "news", "--title", "Call for papers", "--body", "Submit by **June**.")
	id := env["data"].(map[string]any)["id"].(string)
	out, _, err = runCLI(t, []string{"--dir", dir, "news", "render", id, "--width", "60"})
	require.NoError(t, err)
	assert.Contains(t, string(out), "Call for papers")
	assert.Contains(t, string(out), "June")

	env = mustRun(t, dir, "items", "add", "-c", "gallery", "--title", "Photo")
	_, _, err = runCLI(t, []string{"--dir", dir, "news", "render", env["data"].(map[string]any)["id"].(string)})
	assert.Error(t, err)
}

func TestCollectionsList(t *testing.T) {
	dir := initDir(t)
	mustRun(t, dir, "items", "add", "-c", "news", "--title", "Hello")
	cs := dataList(t, mustRun(t, dir, "collections", "list"))
	counts := map[string]float64{}
	for _, c := range cs {
		counts[c["id"].(string)] = c["items"].(float64)
	}
	assert.Equal(t, map[string]float64{"gallery": 0, "schedule": 0, "news": 1, "committees": 0, "sponsors": 0}, counts)
}

func TestVerboseLogsToStderr(t *testing.T) {
	dir := initDir(t)
	out, errOut, err := runCLI(t, []string{"--dir", dir, "--verbose", "collections", "list"})
	require.NoError(t, err)
	assert.True(t, json.Valid(out), "stdout stays strict JSON")
	assert.Contains(t, string(errOut), "store opened")
}

func TestPublish(t *testing.T) {
	dir := initDir(t)
	mustRun(t, dir, "items", "add", "-c", "news", "--title", "Hello", "--body", "First post.")
	out := filepath.Join(t.TempDir(), "archive")

	env := mustRun(t, dir, "publish", "--to", out)
	written := env["data"].(map[string]any)["written"].([]any)
	assert.Len(t, written, 7, "index, five collections and one news page")

	raw, err := os.ReadFile(filepath.Join(out, "news.md"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "## 1. Hello")

	_, _, err = runCLI(t, []string{"--dir", dir, "publish", "--to", out})
	assert.Error(t, err)
	mustRun(t, dir, "publish", "--to", out, "--overwrite", "-c", "news")
}

func TestDocs(t *testing.T) {
	dir := initDir(t)
	env := mustRun(t, dir, "docs")
	topics := env["data"].(map[string]any)["topics"].([]any)
	assert.NotEmpty(t, topics)

	out, _, err := runCLI(t, []string{"--dir", dir, "docs", "ordering", "--raw"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(out), "# Ordering items"))

	_, _, err = runCLI(t, []string{"--dir", dir, "docs", "nope"})
	assert.Error(t, err)
}

func TestServeUntilDone(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	})
	bgStopped := make(chan struct{})
	bg := func(ctx context.Context) error {
		<-ctx.Done()
		close(bgStopped)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serveUntilDone(ctx, ln, h, zap.NewNop(), bg) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	cancel()
	require.NoError(t, <-done)
	<-bgStopped
}
