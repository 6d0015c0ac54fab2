package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"confsite/internal/model"
	"confsite/internal/optimistic"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"
)

// collectionStore is the slice of *store.Store the reorder view needs.
type collectionStore interface {
	optimistic.BatchWriter
	ReadAll(ctx context.Context, collectionID string) ([]model.Item, error)
}

type commitDoneMsg struct {
	token uint64
	err   error
}

type noticeMsg optimistic.Notice

type noticeClearMsg struct{ seq int }

type reloadedMsg struct {
	items []model.Item
	err   error
}

const noticeTTL = 5 * time.Second

type reorderModel struct {
	ctx          context.Context
	store        collectionStore
	log          *zap.Logger
	title        string
	collectionID string

	sync    *optimistic.Synchronizer
	notices chan optimistic.Notice

	list list.Model
	keys keyMap
	help help.Model

	width       int
	height      int
	showPreview bool

	notice    string
	noticeSeq int
}

func newReorderModel(ctx context.Context, st collectionStore, title, collectionID, actorID string, items []model.Item, log *zap.Logger) reorderModel {
	if log == nil {
		log = zap.NewNop()
	}
	notices := make(chan optimistic.Notice, 16)
	s := optimistic.New(items, optimistic.Options{
		CollectionID: collectionID,
		ActorID:      actorID,
		Writer:       st,
		Notify: func(n optimistic.Notice) {
			select {
			case notices <- n:
			default:
			}
		},
	})

	l := list.New(rowsFor(items, items), newRowDelegate(), 0, 0)
	l.SetShowTitle(false)
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.DisableQuitKeybindings()

	return reorderModel{
		ctx:          ctx,
		store:        st,
		log:          log,
		title:        title,
		collectionID: collectionID,
		sync:         s,
		notices:      notices,
		list:         l,
		keys:         defaultKeyMap(),
		help:         help.New(),
		showPreview:  true,
	}
}

func waitForNotice(ch <-chan optimistic.Notice) tea.Cmd {
	return func() tea.Msg {
		return noticeMsg(<-ch)
	}
}

func commitCmd(ctx context.Context, g *optimistic.Gesture) tea.Cmd {
	return func() tea.Msg {
		return commitDoneMsg{token: g.Token, err: g.Commit(ctx)}
	}
}

func (m reorderModel) reloadCmd() tea.Cmd {
	return func() tea.Msg {
		items, err := m.store.ReadAll(m.ctx, m.collectionID)
		return reloadedMsg{items: items, err: err}
	}
}

func (m reorderModel) Init() tea.Cmd {
	return waitForNotice(m.notices)
}

func (m reorderModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		return m, nil

	case tea.KeyMsg:
		i := m.list.Index()
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
			m.resize()
			return m, nil
		case key.Matches(msg, m.keys.Preview):
			m.showPreview = !m.showPreview
			m.resize()
			return m, nil
		case key.Matches(msg, m.keys.Reload):
			return m, m.reloadCmd()
		case key.Matches(msg, m.keys.MoveUp):
			return m, m.move(i, i-1)
		case key.Matches(msg, m.keys.MoveDown):
			return m, m.move(i, i+1)
		case key.Matches(msg, m.keys.ToTop):
			return m, m.move(i, 0)
		case key.Matches(msg, m.keys.ToBottom):
			return m, m.move(i, len(m.list.Items())-1)
		}

	case commitDoneMsg:
		if errors.Is(msg.err, optimistic.ErrStale) {
			m.log.Debug("write landed after reload, reloading again",
				zap.String("collection", m.collectionID),
				zap.Uint64("token", msg.token))
			return m, m.reloadCmd()
		}
		if msg.err != nil && !errors.Is(msg.err, optimistic.ErrSuperseded) {
			m.log.Warn("write-batch failed",
				zap.String("collection", m.collectionID),
				zap.Uint64("token", msg.token),
				zap.Error(msg.err))
		}
		m.refresh()
		return m, nil

	case noticeMsg:
		m.notice = msg.Message
		m.noticeSeq++
		seq := m.noticeSeq
		m.refresh()
		return m, tea.Batch(
			waitForNotice(m.notices),
			tea.Tick(noticeTTL, func(time.Time) tea.Msg { return noticeClearMsg{seq: seq} }),
		)

	case noticeClearMsg:
		if msg.seq == m.noticeSeq {
			m.notice = ""
		}
		return m, nil

	case reloadedMsg:
		if msg.err != nil {
			m.notice = "Reload failed: " + msg.err.Error()
			return m, nil
		}
		m.sync.Reset(msg.items)
		m.refresh()
		return m, nil
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// move applies a gesture locally and returns the command that writes it. Moves past
// either end are ignored.
func (m *reorderModel) move(from, to int) tea.Cmd {
	n := len(m.list.Items())
	if from == to || to < 0 || to >= n || from < 0 || from >= n {
		return nil
	}
	g, err := m.sync.Move(from, to)
	if err != nil {
		m.notice = err.Error()
		return nil
	}
	m.refresh()
	m.list.Select(to)
	return commitCmd(m.ctx, g)
}

// refresh redraws rows from the synchronizer, keeping the cursor on the same item.
func (m *reorderModel) refresh() {
	var selectedID string
	if row, ok := m.list.SelectedItem().(itemRow); ok {
		selectedID = row.item.ID
	}
	items := m.sync.Items()
	_ = m.list.SetItems(rowsFor(items, m.sync.Confirmed()))
	for i, it := range items {
		if it.ID == selectedID {
			m.list.Select(i)
			break
		}
	}
}

func (m *reorderModel) footerHeight() int {
	if m.help.ShowAll {
		return 4
	}
	return 1
}

func (m *reorderModel) resize() {
	left, _ := splitWidths(m.width, m.showPreview)
	m.list.SetSize(left, max(m.height-1-m.footerHeight(), 1))
	m.help.Width = m.width
}

func (m reorderModel) View() string {
	if m.width == 0 {
		return "loading…"
	}
	bodyH := max(m.height-1-m.footerHeight(), 1)
	left, right := splitWidths(m.width, m.showPreview)

	body := normalizePane(m.list.View(), left, bodyH)
	if right > 0 {
		divider := styleMuted().Render(strings.TrimSuffix(strings.Repeat("│\n", bodyH), "\n"))
		body = lipgloss.JoinHorizontal(lipgloss.Top, body, divider, m.previewView(right, bodyH))
	}

	var footer string
	if m.notice != "" {
		footer = normalizePane(styleNotice().Render(m.notice), m.width, 1)
	} else {
		footer = m.help.View(m.keys)
	}
	return lipgloss.JoinVertical(lipgloss.Left, m.headerView(), body, footer)
}

func (m reorderModel) headerView() string {
	state := styleMuted().Render("saved")
	if m.sync.State() == optimistic.Pending {
		state = lipgloss.NewStyle().Foreground(colorPendingFg).Render("saving…")
	}
	count := styleMuted().Render(fmt.Sprintf("%d items", len(m.list.Items())))
	return normalizePane(styleHeader().Render(m.title)+"  "+count+"  "+state, m.width, 1)
}

func (m reorderModel) previewView(width, height int) string {
	row, ok := m.list.SelectedItem().(itemRow)
	if !ok {
		return normalizePane(styleMuted().Render(" (empty collection)"), width, height)
	}
	it := row.item
	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Bold(true).Render(it.Title))
	if it.Subtitle != "" {
		b.WriteString("\n" + styleMuted().Render(it.Subtitle))
	}
	if meta := rowMeta(it); meta != "" {
		b.WriteString("\n" + styleMuted().Render(meta))
	}
	if it.Location != "" {
		b.WriteString("\n" + styleMuted().Render("at "+it.Location))
	}
	if it.MediaRef != "" {
		b.WriteString("\n" + styleMuted().Render("media: "+it.MediaRef))
	}
	if it.Link != "" {
		b.WriteString("\n" + styleMuted().Render(it.Link))
	}
	if body := RenderMarkdown(it.Body, width-2); body != "" {
		b.WriteString("\n\n" + body)
	}
	return normalizePane(lipgloss.NewStyle().PaddingLeft(1).Render(b.String()), width, height)
}
