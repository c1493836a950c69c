package ui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/calebmh/termdock/internal/model"
)

// formMode distinguishes between the mode-select, quick-connect, and full-config screens.
type formMode int

const (
	formModeSelect formMode = iota
	formModeQuick
	formModeFull
)

// Field indices for the full configurator form.
const (
	fieldName = iota
	fieldHost
	fieldUser
	fieldPort
	fieldKeyPath
	fieldPassword
	fieldJump
	fieldCount
)

// formResult is returned when the user completes the form.
type formResult struct {
	conn    model.Connection
	connect bool // true = open a tab immediately after adding
}

// connForm holds all state for the "new connection" configurator.
type connForm struct {
	mode    formMode
	modeSel int // 0 = quick, 1 = full

	quickInput textinput.Model

	fields   []textinput.Model
	focusIdx int

	errMsg string
}

func newConnectionForm() *connForm {
	f := &connForm{mode: formModeSelect}

	qi := textinput.New()
	qi.Placeholder = "user@hostname:port or just hostname"
	qi.CharLimit = 256
	qi.Width = 50
	f.quickInput = qi

	placeholders := []string{
		"my-server (optional, defaults to host)",
		"192.168.1.1 or example.com (required)",
		"deploy (optional)",
		"22 (default)",
		"~/.ssh/id_rsa (optional, enables key auth)",
		"(optional, stored in plain text)",
		"jump connection id (optional)",
	}
	limits := []int{64, 256, 64, 6, 256, 256, 64}

	f.fields = make([]textinput.Model, fieldCount)
	for i := range f.fields {
		ti := textinput.New()
		ti.Placeholder = placeholders[i]
		ti.CharLimit = limits[i]
		ti.Width = 40
		if i == fieldPassword {
			ti.EchoMode = textinput.EchoPassword
		}
		f.fields[i] = ti
	}
	return f
}

// update processes a key message and returns a formResult if the form is complete.
func (f *connForm) update(msg tea.KeyMsg) (*formResult, tea.Cmd) {
	switch f.mode {
	case formModeSelect:
		return f.updateModeSelect(msg)
	case formModeQuick:
		return f.updateQuick(msg)
	case formModeFull:
		return f.updateFull(msg)
	}
	return nil, nil
}

func (f *connForm) updateModeSelect(msg tea.KeyMsg) (*formResult, tea.Cmd) {
	switch msg.String() {
	case "j", "down":
		if f.modeSel < 1 {
			f.modeSel++
		}
	case "k", "up":
		if f.modeSel > 0 {
			f.modeSel--
		}
	case "enter":
		if f.modeSel == 0 {
			f.mode = formModeQuick
			f.quickInput.Focus()
			return nil, f.quickInput.Cursor.BlinkCmd()
		}
		f.mode = formModeFull
		f.focusIdx = 0
		f.fields[0].Focus()
		return nil, f.fields[0].Cursor.BlinkCmd()
	}
	return nil, nil
}

func (f *connForm) updateQuick(msg tea.KeyMsg) (*formResult, tea.Cmd) {
	switch msg.String() {
	case "enter":
		conn, err := parseQuickConnect(f.quickInput.Value())
		if err != nil {
			f.errMsg = err.Error()
			return nil, nil
		}
		return &formResult{conn: conn, connect: true}, nil
	default:
		var cmd tea.Cmd
		f.quickInput, cmd = f.quickInput.Update(msg)
		f.errMsg = ""
		return nil, cmd
	}
}

func (f *connForm) updateFull(msg tea.KeyMsg) (*formResult, tea.Cmd) {
	switch msg.String() {
	case "tab", "shift+tab":
		f.fields[f.focusIdx].Blur()
		if msg.String() == "tab" {
			f.focusIdx = (f.focusIdx + 1) % fieldCount
		} else {
			f.focusIdx = (f.focusIdx - 1 + fieldCount) % fieldCount
		}
		f.fields[f.focusIdx].Focus()
		return nil, f.fields[f.focusIdx].Cursor.BlinkCmd()
	case "enter":
		conn, err := f.buildConnection()
		if err != nil {
			f.errMsg = err.Error()
			return nil, nil
		}
		return &formResult{conn: conn, connect: true}, nil
	default:
		var cmd tea.Cmd
		f.fields[f.focusIdx], cmd = f.fields[f.focusIdx].Update(msg)
		f.errMsg = ""
		return nil, cmd
	}
}

func (f *connForm) buildConnection() (model.Connection, error) {
	host := strings.TrimSpace(f.fields[fieldHost].Value())
	if host == "" {
		return model.Connection{}, fmt.Errorf("host is required")
	}

	port := 22
	if portStr := strings.TrimSpace(f.fields[fieldPort].Value()); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil || p < 1 || p > 65535 {
			return model.Connection{}, fmt.Errorf("port must be 1-65535")
		}
		port = p
	}

	c := model.Connection{
		Name:         strings.TrimSpace(f.fields[fieldName].Value()),
		Host:         host,
		Port:         port,
		Username:     strings.TrimSpace(f.fields[fieldUser].Value()),
		KeyPath:      strings.TrimSpace(f.fields[fieldKeyPath].Value()),
		Password:     f.fields[fieldPassword].Value(),
		JumpServerID: strings.TrimSpace(f.fields[fieldJump].Value()),
		AuthMethod:   model.AuthPassword,
	}
	if c.KeyPath != "" {
		c.AuthMethod = model.AuthKey
	}
	return c, nil
}

// view renders the form panel.
func (f *connForm) view(renderPanel func(string, string, int, lipgloss.Color) string, width int) string {
	accent := lipgloss.Color("214")
	switch f.mode {
	case formModeSelect:
		return renderPanel("New Connection", f.modeSelectView(), width, accent)
	case formModeQuick:
		return renderPanel("Quick Connect", f.quickView(), width, accent)
	case formModeFull:
		return renderPanel("New Connection - Full Config", f.fullView(), width, accent)
	}
	return ""
}

func (f *connForm) modeSelectView() string {
	var b strings.Builder
	b.WriteString("Choose connection type:\n\n")

	options := []struct {
		label string
		desc  string
	}{
		{"Quick Connect", "Enter user@host:port and open a tab immediately"},
		{"Full Config", "Configure auth, jump server, and forwards"},
	}

	for i, opt := range options {
		cursor := "  "
		if i == f.modeSel {
			cursor = "> "
		}
		b.WriteString(fmt.Sprintf("%s[%s]  %s\n", cursor, opt.label, opt.desc))
	}

	b.WriteString("\nj/k to select, Enter to confirm, Esc to cancel")
	return b.String()
}

func (f *connForm) quickView() string {
	var b strings.Builder
	b.WriteString("Destination:\n\n")
	b.WriteString("  " + f.quickInput.View() + "\n\n")
	b.WriteString("Formats: hostname | user@hostname | hostname:port | user@host:port\n")

	if f.errMsg != "" {
		errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
		b.WriteString("\n" + errStyle.Render("Error: "+f.errMsg) + "\n")
	}

	b.WriteString("\nEnter to connect, Esc to cancel")
	return b.String()
}

func (f *connForm) fullView() string {
	labels := []string{"Name:", "Host:", "User:", "Port:", "KeyPath:", "Password:", "Jump:"}

	var b strings.Builder
	for i, label := range labels {
		cursor := "  "
		if i == f.focusIdx {
			cursor = "> "
		}
		b.WriteString(fmt.Sprintf("%s%-12s %s\n", cursor, label, f.fields[i].View()))
	}

	if f.errMsg != "" {
		errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
		b.WriteString("\n" + errStyle.Render("Error: "+f.errMsg) + "\n")
	}

	b.WriteString("\nTab/Shift-Tab navigate | Enter submit | Esc cancel")
	return b.String()
}

// parseQuickConnect parses a quick-connect string into a Connection.
// Supported formats: hostname, user@hostname, hostname:port, user@hostname:port
func parseQuickConnect(input string) (model.Connection, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return model.Connection{}, fmt.Errorf("destination cannot be empty")
	}

	c := model.Connection{Port: 22, AuthMethod: model.AuthPassword}

	if atIdx := strings.Index(input, "@"); atIdx > 0 {
		c.Username = input[:atIdx]
		input = input[atIdx+1:]
	}

	if colonIdx := strings.LastIndex(input, ":"); colonIdx > 0 {
		portStr := input[colonIdx+1:]
		if port, err := strconv.Atoi(portStr); err == nil && port > 0 && port <= 65535 {
			c.Port = port
			input = input[:colonIdx]
		}
	}

	c.Host = input
	if c.Host == "" {
		return model.Connection{}, fmt.Errorf("hostname cannot be empty")
	}
	return c, nil
}
