// Package ui contains the interactive catalog browser. It drills from an
// artist search down through albums to tracks, with every listing served by
// the federated query engine so remote results appear alongside local ones.
package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"soundmesh/internal/catalog"
	"soundmesh/internal/formatter"
	"soundmesh/internal/models"
)

const pageSize = 20

// ViewState represents the current view in the TUI.
type ViewState int

const (
	SearchView ViewState = iota
	ArtistListView
	AlbumListView
	TrackListView
)

// Model represents the browser state.
type Model struct {
	ctx    context.Context
	store  catalog.Store
	userID string

	view   ViewState
	width  int
	height int

	searchInput textinput.Model
	artistList  list.Model
	albumList   list.Model
	trackList   list.Model

	selectedArtist *models.MediaItem
	selectedAlbum  *models.MediaItem

	err  error
	help help.Model
	keys keyMap
}

// keyMap defines the key bindings for the browser.
type keyMap struct {
	enter  key.Binding
	back   key.Binding
	search key.Binding
	quit   key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		enter: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "open"),
		),
		back: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "back"),
		),
		search: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "new search"),
		),
		quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// mediaListItem wraps [models.MediaItem] to implement [list.Item].
type mediaListItem struct {
	item *models.MediaItem
}

var _ list.Item = mediaListItem{}

func (i mediaListItem) FilterValue() string { return i.item.Name }
func (i mediaListItem) Title() string {
	title := i.item.Name
	if i.item.Favorite {
		title += " ♥"
	}
	return title
}

func (i mediaListItem) Description() string {
	switch i.item.Kind {
	case models.KindAlbum:
		desc := strings.Join(i.item.ArtistNames, ", ")
		if i.item.Year > 0 {
			desc = fmt.Sprintf("%s • %d", desc, i.item.Year)
		}
		return desc
	case models.KindTrack:
		desc := strings.Join(i.item.ArtistNames, ", ")
		if runtime := formatter.FormatRuntime(i.item); runtime != "" {
			desc = fmt.Sprintf("%s • %s", desc, runtime)
		}
		return desc
	default:
		if len(i.item.Genres) > 0 {
			return strings.Join(i.item.Genres, ", ")
		}
		return string(i.item.Kind)
	}
}

type artistsFetchedMsg struct {
	result *models.QueryResult
	err    error
}

type albumsFetchedMsg struct {
	result *models.QueryResult
	err    error
}

type tracksFetchedMsg struct {
	result *models.QueryResult
	err    error
}

// NewModel creates a browser over the given store (normally the federated
// engine) acting as the given user.
func NewModel(ctx context.Context, store catalog.Store, userID string) *Model {
	input := textinput.New()
	input.Placeholder = "artist name"
	input.Focus()

	return &Model{
		ctx:         ctx,
		store:       store,
		userID:      userID,
		view:        SearchView,
		searchInput: input,
		help:        help.New(),
		keys:        newKeyMap(),
	}
}

// Init implements [tea.Model].
func (m *Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		for _, l := range []*list.Model{&m.artistList, &m.albumList, &m.trackList} {
			if l.Width() != 0 {
				l.SetSize(msg.Width-4, msg.Height-8)
			}
		}
		return m, nil

	case tea.KeyMsg:
		switch m.view {
		case SearchView:
			return m.handleSearchKeys(msg)
		case ArtistListView:
			return m.handleArtistListKeys(msg)
		case AlbumListView:
			return m.handleAlbumListKeys(msg)
		case TrackListView:
			return m.handleTrackListKeys(msg)
		}

	case artistsFetchedMsg:
		if msg.err != nil {
			m.err = msg.err
			m.view = SearchView
			return m, nil
		}
		m.artistList = m.newList("Artists", msg.result)
		m.view = ArtistListView
		return m, nil

	case albumsFetchedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.albumList = m.newList(fmt.Sprintf("Albums by %s", m.selectedArtist.Name), msg.result)
		m.view = AlbumListView
		return m, nil

	case tracksFetchedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.trackList = m.newList(fmt.Sprintf("Tracks on '%s'", m.selectedAlbum.Name), msg.result)
		m.view = TrackListView
		return m, nil
	}

	return m.updateActive(msg)
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	switch m.view {
	case SearchView:
		return m.renderSearch()
	case ArtistListView:
		return m.renderList(m.artistList, []key.Binding{m.keys.enter, m.keys.search, m.keys.quit})
	case AlbumListView:
		return m.renderList(m.albumList, []key.Binding{m.keys.enter, m.keys.back, m.keys.quit})
	case TrackListView:
		return m.renderList(m.trackList, []key.Binding{m.keys.back, m.keys.quit})
	default:
		return ""
	}
}

func (m *Model) handleSearchKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "enter":
		term := strings.TrimSpace(m.searchInput.Value())
		if term == "" {
			return m, nil
		}
		m.err = nil
		return m, m.fetchArtists(term)
	}

	var cmd tea.Cmd
	m.searchInput, cmd = m.searchInput.Update(msg)
	return m, cmd
}

func (m *Model) handleArtistListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "s", "esc":
		m.view = SearchView
		m.searchInput.Focus()
		return m, textinput.Blink
	case "enter":
		if selected, ok := m.artistList.SelectedItem().(mediaListItem); ok {
			m.selectedArtist = selected.item
			return m, m.fetchAlbums(selected.item)
		}
	}

	var cmd tea.Cmd
	m.artistList, cmd = m.artistList.Update(msg)
	return m, cmd
}

func (m *Model) handleAlbumListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "esc":
		m.view = ArtistListView
		return m, nil
	case "enter":
		if selected, ok := m.albumList.SelectedItem().(mediaListItem); ok {
			m.selectedAlbum = selected.item
			return m, m.fetchTracks(selected.item)
		}
	}

	var cmd tea.Cmd
	m.albumList, cmd = m.albumList.Update(msg)
	return m, cmd
}

func (m *Model) handleTrackListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "esc":
		m.view = AlbumListView
		return m, nil
	}

	var cmd tea.Cmd
	m.trackList, cmd = m.trackList.Update(msg)
	return m, cmd
}

func (m *Model) updateActive(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.view {
	case SearchView:
		m.searchInput, cmd = m.searchInput.Update(msg)
	case ArtistListView:
		m.artistList, cmd = m.artistList.Update(msg)
	case AlbumListView:
		m.albumList, cmd = m.albumList.Update(msg)
	case TrackListView:
		m.trackList, cmd = m.trackList.Update(msg)
	}
	return m, cmd
}

func (m *Model) fetchArtists(term string) tea.Cmd {
	return func() tea.Msg {
		result, err := m.store.Query(m.ctx, models.Query{
			Kinds:  []models.ItemKind{models.KindArtist},
			Search: term,
			UserID: m.userID,
			Limit:  pageSize,
		})
		return artistsFetchedMsg{result: result, err: err}
	}
}

func (m *Model) fetchAlbums(artist *models.MediaItem) tea.Cmd {
	return func() tea.Msg {
		result, err := m.store.Query(m.ctx, models.Query{
			Kinds:         []models.ItemKind{models.KindAlbum},
			AlbumArtistID: artist.ID,
			UserID:        m.userID,
		})
		return albumsFetchedMsg{result: result, err: err}
	}
}

func (m *Model) fetchTracks(album *models.MediaItem) tea.Cmd {
	return func() tea.Msg {
		result, err := m.store.Query(m.ctx, models.Query{
			ParentID: album.ID,
			UserID:   m.userID,
		})
		return tracksFetchedMsg{result: result, err: err}
	}
}

func (m *Model) newList(title string, result *models.QueryResult) list.Model {
	items := make([]list.Item, len(result.Items))
	for i, item := range result.Items {
		items[i] = mediaListItem{item: item}
	}

	l := list.New(items, list.NewDefaultDelegate(), 0, 0)
	l.Title = title
	l.SetSize(m.width-4, m.height-8)
	return l
}

func (m *Model) renderSearch() string {
	title := styles.title.Render("Search the catalog")
	body := m.searchInput.View()
	if m.err != nil {
		body += "\n\n" + styles.error.Render(fmt.Sprintf("Error: %v", m.err))
	}

	helpView := m.help.ShortHelpView([]key.Binding{m.keys.enter, m.keys.quit})
	return fmt.Sprintf("%s\n%s\n\n%s", title, body, helpView)
}

func (m *Model) renderList(l list.Model, keys []key.Binding) string {
	helpView := m.help.ShortHelpView(keys)
	return fmt.Sprintf("%s\n\n%s", l.View(), helpView)
}
