package main

import (
	"errors"
	"fmt"
	"strings"

	cl "nexus/internal/cli"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

var errPickCancelled = errors.New("raid cancelled")

type pickerKeys struct {
	Up      key.Binding
	Down    key.Binding
	Toggle  key.Binding
	Best    key.Binding
	Confirm key.Binding
	Quit    key.Binding
}

var defaultPickerKeys = pickerKeys{
	Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Toggle:  key.NewBinding(key.WithKeys(" ", "x"), key.WithHelp("space", "toggle")),
	Best:    key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "strongest party")),
	Confirm: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "launch")),
	Quit:    key.NewBinding(key.WithKeys("esc", "q", "ctrl+c"), key.WithHelp("q", "cancel")),
}

var (
	cursorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("220")).Bold(true)
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// pickerModel lets the player tick up to max knights from the roster. The
// roster arrives strongest first.
type pickerModel struct {
	knights   []cl.Knight
	max       int
	cursor    int
	selected  map[int]bool
	keys      pickerKeys
	done      bool
	cancelled bool
	notice    string
}

func newPickerModel(r cl.Roster) pickerModel {
	limit := r.MaxParty
	if limit <= 0 {
		limit = 15
	}
	return pickerModel{
		knights:  r.Knights,
		max:      limit,
		selected: make(map[int]bool),
		keys:     defaultPickerKeys,
	}
}

func (m pickerModel) Init() tea.Cmd {
	return nil
}

func (m pickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	km, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	m.notice = ""
	switch {
	case key.Matches(km, m.keys.Quit):
		m.cancelled = true
		return m, tea.Quit
	case key.Matches(km, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(km, m.keys.Down):
		if m.cursor < len(m.knights)-1 {
			m.cursor++
		}
	case key.Matches(km, m.keys.Toggle):
		m.toggle(m.cursor)
	case key.Matches(km, m.keys.Best):
		m.selected = make(map[int]bool)
		for i := 0; i < len(m.knights) && i < m.max; i++ {
			m.selected[i] = true
		}
	case key.Matches(km, m.keys.Confirm):
		if len(m.selected) == 0 {
			m.notice = "Pick at least one knight."
			return m, nil
		}
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m *pickerModel) toggle(i int) {
	if m.selected[i] {
		delete(m.selected, i)
		return
	}
	if len(m.selected) >= m.max {
		m.notice = fmt.Sprintf("A raid party holds at most %d knights.", m.max)
		return
	}
	m.selected[i] = true
}

func (m pickerModel) power() int64 {
	var total int64
	for i := range m.selected {
		total += m.knights[i].Power
	}
	return total
}

func (m pickerModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Choose your raiding party"))
	b.WriteString("\n\n")
	for i, k := range m.knights {
		cursor := "  "
		if i == m.cursor {
			cursor = cursorStyle.Render("> ")
		}
		box := "[ ]"
		line := fmt.Sprintf("%-12s %-18s tier %d  power %s", truncate(k.ID, 12), truncate(k.Name, 18), k.Tier, humanize.Comma(k.Power))
		if m.selected[i] {
			box = "[x]"
			line = selectedStyle.Render(line)
		}
		b.WriteString(cursor + box + " " + line + "\n")
	}
	b.WriteString(fmt.Sprintf("\n%d/%d selected, party power %s\n", len(m.selected), m.max, humanize.Comma(m.power())))
	if m.notice != "" {
		b.WriteString(warn.Sprint(m.notice) + "\n")
	}
	help := []string{}
	for _, kb := range []key.Binding{m.keys.Up, m.keys.Down, m.keys.Toggle, m.keys.Best, m.keys.Confirm, m.keys.Quit} {
		h := kb.Help()
		help = append(help, h.Key+" "+h.Desc)
	}
	b.WriteString(helpStyle.Render(strings.Join(help, " • ")) + "\n")
	return b.String()
}

func (m pickerModel) chosenIDs() []string {
	out := make([]string, 0, len(m.selected))
	for i, k := range m.knights {
		if m.selected[i] {
			out = append(out, k.ID)
		}
	}
	return out
}

func pickKnights(r cl.Roster) ([]string, error) {
	if len(r.Knights) == 0 {
		return nil, fmt.Errorf("you have no knights to send")
	}
	final, err := tea.NewProgram(newPickerModel(r)).Run()
	if err != nil {
		return nil, err
	}
	m := final.(pickerModel)
	if m.cancelled || !m.done {
		return nil, errPickCancelled
	}
	return m.chosenIDs(), nil
}
