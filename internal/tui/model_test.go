package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"confsite/internal/model"
	"confsite/internal/optimistic"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu      sync.Mutex
	items   []model.Item
	fail    error
	batches [][]model.Placement
}

func (f *fakeStore) WriteBatch(_ context.Context, _, _ string, placements []model.Placement) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, placements)
	return f.fail
}

func (f *fakeStore) ReadAll(context.Context, string) ([]model.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Item{}, f.items...), nil
}

func seedItems(titles ...string) []model.Item {
	out := []model.Item{}
	for i, t := range titles {
		out = append(out, model.Item{ID: "itm-" + t, CollectionID: "gallery", Title: t, Position: float64(i+1) * 1024})
	}
	return out
}

func titles(items []model.Item) string {
	out := []string{}
	for _, it := range items {
		out = append(out, it.Title)
	}
	return strings.Join(out, ",")
}

func runeKey(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func newTestModel(t *testing.T, st *fakeStore) reorderModel {
	t.Helper()
	m := newReorderModel(context.Background(), st, "Gallery", "gallery", "tester", st.items, nil)
	mm, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 20})
	return mm.(reorderModel)
}

func press(t *testing.T, m reorderModel, msg tea.Msg) (reorderModel, tea.Cmd) {
	t.Helper()
	mm, cmd := m.Update(msg)
	return mm.(reorderModel), cmd
}

func TestMoveDownAppliesLocallyThenConfirms(t *testing.T) {
	st := &fakeStore{items: seedItems("A", "B", "C")}
	m := newTestModel(t, st)

	m, cmd := press(t, m, runeKey("J"))
	require.NotNil(t, cmd)
	assert.Equal(t, "B,A,C", titles(m.sync.Items()))
	assert.Equal(t, 1, m.list.Index(), "cursor follows the moved item")
	assert.Equal(t, optimistic.Pending, m.sync.State())
	assert.Contains(t, m.View(), "saving…")

	done := cmd()
	require.IsType(t, commitDoneMsg{}, done)
	require.NoError(t, done.(commitDoneMsg).err)
	m, _ = press(t, m, done)

	assert.Equal(t, optimistic.Idle, m.sync.State())
	assert.Equal(t, "B,A,C", titles(m.sync.Confirmed()))
	require.Len(t, st.batches, 1)
	assert.Equal(t, []string{"itm-B", "itm-A", "itm-C"}, []string{st.batches[0][0].ID, st.batches[0][1].ID, st.batches[0][2].ID})
	for _, li := range m.list.Items() {
		assert.False(t, li.(itemRow).moved)
	}
}

func TestFailedWriteRevertsAndShowsNotice(t *testing.T) {
	st := &fakeStore{items: seedItems("A", "B", "C"), fail: errors.New("disk full")}
	m := newTestModel(t, st)

	m, cmd := press(t, m, runeKey("B")) // move to bottom
	require.NotNil(t, cmd)
	assert.Equal(t, "B,C,A", titles(m.sync.Items()))

	done := cmd()
	require.Error(t, done.(commitDoneMsg).err)
	m, _ = press(t, m, done)
	assert.Equal(t, "A,B,C", titles(m.sync.Items()), "reverted to the pre-drag order")

	notice := waitForNotice(m.notices)()
	m, next := press(t, m, notice)
	require.NotNil(t, next)
	assert.Contains(t, m.notice, "reverted")
	assert.Contains(t, m.View(), "reverted")

	m, _ = press(t, m, noticeClearMsg{seq: m.noticeSeq})
	assert.Empty(t, m.notice)
}

func TestMovePastEndsIsIgnored(t *testing.T) {
	st := &fakeStore{items: seedItems("A", "B")}
	m := newTestModel(t, st)

	m, cmd := press(t, m, runeKey("K"))
	assert.Nil(t, cmd)
	assert.Equal(t, "A,B", titles(m.sync.Items()))

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyDown})
	require.Equal(t, 1, m.list.Index())
	_, cmd = press(t, m, runeKey("J"))
	assert.Nil(t, cmd)
	assert.Empty(t, st.batches)
}

func TestReloadResetsFromStore(t *testing.T) {
	st := &fakeStore{items: seedItems("A", "B", "C")}
	m := newTestModel(t, st)

	st.items = seedItems("C", "A")
	m, cmd := press(t, m, runeKey("r"))
	require.NotNil(t, cmd)
	m, _ = press(t, m, cmd())
	assert.Equal(t, "C,A", titles(m.sync.Items()))
	assert.Equal(t, "C,A", titles(m.sync.Confirmed()))
	assert.Len(t, m.list.Items(), 2)
}

func TestPreviewToggle(t *testing.T) {
	st := &fakeStore{items: []model.Item{{ID: "itm-1", Title: "Keynote", Subtitle: "Day one", Body: "Hello **world**"}}}
	m := newTestModel(t, st)
	assert.Contains(t, m.View(), "Day one")

	m, _ = press(t, m, runeKey("p"))
	assert.False(t, m.showPreview)
	assert.NotContains(t, m.View(), "Day one")
}

func TestNormalizePane(t *testing.T) {
	got := normalizePane("abcdef\nxy", 4, 3)
	assert.Equal(t, "abc…\nxy  \n    ", got)
}

func TestWriteAfterReloadTriggersAnotherReload(t *testing.T) {
	st := &fakeStore{items: seedItems("A", "B", "C")}
	m := newTestModel(t, st)

	m, commit := press(t, m, runeKey("J"))
	require.NotNil(t, commit)

	// Reload lands before the write runs.
	m, reload := press(t, m, runeKey("r"))
	require.NotNil(t, reload)
	m, _ = press(t, m, reload())
	assert.Equal(t, "A,B,C", titles(m.sync.Items()))

	done := commit()
	require.ErrorIs(t, done.(commitDoneMsg).err, optimistic.ErrStale)
	st.mu.Lock()
	require.Len(t, st.batches, 1)
	st.items = seedItems("B", "A", "C")
	st.mu.Unlock()

	m, again := press(t, m, done)
	require.NotNil(t, again, "a stale write reloads from the store")
	m, _ = press(t, m, again())
	assert.Equal(t, "B,A,C", titles(m.sync.Items()))
	assert.Equal(t, "B,A,C", titles(m.sync.Confirmed()))
}
