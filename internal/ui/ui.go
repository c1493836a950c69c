package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/calebmh/termdock/internal/app"
	"github.com/calebmh/termdock/internal/appconfig"
	"github.com/calebmh/termdock/internal/model"
	"github.com/calebmh/termdock/internal/security"
	"github.com/calebmh/termdock/internal/util"
)

type tickMsg time.Time

type statusMsg string

type dashboard struct {
	app *app.App
	cfg appconfig.Config

	conns     []model.Connection
	transfers []model.Transfer
	tabs      []model.Tab

	sel        int
	filter     string
	filterMode bool
	showHelp   bool
	status     string
	width      int
	height     int

	form *connForm
}

func newDashboard(a *app.App, cfg appconfig.Config) dashboard {
	d := dashboard{app: a, cfg: cfg}
	d.refresh()
	d.status = "Ready. Select a connection, then Enter to open a tab."
	return d
}

func (d *dashboard) refresh() {
	d.conns = d.filtered(d.app.Registry.List())
	d.transfers = d.app.Transfers.List()
	d.tabs = d.app.Tabs.Tabs()
	if d.sel >= len(d.conns) {
		d.sel = len(d.conns) - 1
	}
	if d.sel < 0 {
		d.sel = 0
	}
}

func (d *dashboard) filtered(conns []model.Connection) []model.Connection {
	f := strings.ToLower(strings.TrimSpace(d.filter))
	if f == "" {
		return conns
	}
	var out []model.Connection
	for _, c := range conns {
		if strings.Contains(strings.ToLower(c.DisplayName()), f) || strings.Contains(strings.ToLower(c.Host), f) {
			out = append(out, c)
		}
	}
	return out
}

func tickCmd(seconds int) tea.Cmd {
	if seconds <= 0 {
		seconds = util.DefaultRefreshSeconds
	}
	return tea.Tick(time.Duration(seconds)*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (d dashboard) Init() tea.Cmd {
	return tickCmd(d.cfg.UI.RefreshSeconds)
}

func (d dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		d.refresh()
		return d, tickCmd(d.cfg.UI.RefreshSeconds)
	case tea.WindowSizeMsg:
		d.width = msg.Width
		d.height = msg.Height
		return d, nil
	case statusMsg:
		d.status = string(msg)
		return d, nil
	case tea.KeyMsg:
		return d.handleKey(msg)
	}
	return d, nil
}

func (d dashboard) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if d.form != nil {
		if msg.String() == "esc" {
			d.form = nil
			d.status = "Cancelled."
			return d, nil
		}
		res, cmd := d.form.update(msg)
		if res == nil {
			return d, cmd
		}
		d.form = nil
		return d.submitForm(*res)
	}

	if d.filterMode {
		switch msg.String() {
		case "enter", "esc":
			d.filterMode = false
			d.refresh()
		case "backspace":
			if len(d.filter) > 0 {
				d.filter = d.filter[:len(d.filter)-1]
			}
			d.refresh()
		default:
			if len(msg.String()) == 1 {
				d.filter += msg.String()
				d.refresh()
			}
		}
		return d, nil
	}

	ctx := context.Background()
	switch msg.String() {
	case "q", "ctrl+c":
		return d, tea.Quit
	case "j", "down":
		if d.sel < len(d.conns)-1 {
			d.sel++
		}
	case "k", "up":
		if d.sel > 0 {
			d.sel--
		}
	case "/":
		d.filterMode = true
		d.status = "Filter mode: type and press Enter"
	case "?":
		d.showHelp = !d.showHelp
	case "r":
		d.refresh()
		d.status = "Refreshed."
	case "n":
		d.form = newConnectionForm()
		d.status = "New connection."
	case "enter":
		if len(d.conns) == 0 {
			break
		}
		c := d.conns[d.sel]
		if _, err := d.app.Tabs.OpenTab(ctx, c.ID, model.ViewTerminal); err != nil {
			d.status = security.RedactMessage(err.Error())
			break
		}
		d.refresh()
		d.status = "Opened tab for " + c.DisplayName()
	case "d":
		if len(d.conns) == 0 {
			break
		}
		c := d.conns[d.sel]
		if c.IsLocal() {
			d.status = "Local cannot be disconnected."
			break
		}
		d.app.Registry.Disconnect(ctx, c.ID)
		d.refresh()
		d.status = "Disconnected " + c.DisplayName()
	case "x":
		if len(d.conns) == 0 {
			break
		}
		c := d.conns[d.sel]
		if err := d.app.DeleteConnection(ctx, c.ID); err != nil {
			d.status = security.RedactMessage(err.Error())
			break
		}
		if err := d.app.Registry.Save(ctx); err != nil {
			d.status = security.RedactMessage(err.Error())
			break
		}
		d.refresh()
		d.status = "Deleted " + c.DisplayName()
	case "f":
		d.app.Tabs.OpenPortForwardingTab()
		d.refresh()
	case "s":
		d.app.Tabs.OpenSnippetsTab()
		d.refresh()
	case "tab", "shift+tab":
		d.cycleTab(msg.String() == "tab")
	case "w":
		if t, ok := d.app.Tabs.ActiveTab(); ok {
			if err := d.app.CloseTab(ctx, t.ID); err != nil {
				d.status = security.RedactMessage(err.Error())
				break
			}
			d.refresh()
			d.status = "Closed tab " + t.Title
		}
	case "c":
		for _, t := range d.transfers {
			if t.Status.Terminal() {
				continue
			}
			d.app.Transfers.Cancel(ctx, t.ID)
			d.refresh()
			d.status = "Cancelled transfer " + t.Label
			break
		}
	}
	return d, nil
}

func (d dashboard) submitForm(res formResult) (tea.Model, tea.Cmd) {
	ctx := context.Background()
	added, err := d.app.Registry.Add(res.conn)
	if err != nil {
		d.status = security.RedactMessage(err.Error())
		return d, nil
	}
	if err := d.app.Registry.Save(ctx); err != nil {
		d.status = security.RedactMessage(err.Error())
		return d, nil
	}
	d.refresh()
	if res.connect {
		if _, err := d.app.Tabs.OpenTab(ctx, added.ID, model.ViewTerminal); err != nil {
			d.status = security.RedactMessage(err.Error())
			return d, nil
		}
		d.refresh()
	}
	d.status = "Added " + added.DisplayName()
	return d, nil
}

func (d *dashboard) cycleTab(forward bool) {
	if len(d.tabs) == 0 {
		return
	}
	active, _ := d.app.Tabs.ActiveTab()
	idx := 0
	for i, t := range d.tabs {
		if t.ID == active.ID {
			idx = i
			break
		}
	}
	if forward {
		idx = (idx + 1) % len(d.tabs)
	} else {
		idx = (idx - 1 + len(d.tabs)) % len(d.tabs)
	}
	d.app.Tabs.SetActive(d.tabs[idx].ID)
}

func (d dashboard) View() string {
	head := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).Render("termdock")
	subhead := fmt.Sprintf("connections=%d tabs=%d transfers=%d refresh=%ds",
		len(d.conns), len(d.tabs), len(d.transfers), clampRefresh(d.cfg.UI.RefreshSeconds))

	if d.form != nil {
		return lipgloss.JoinVertical(lipgloss.Left, head, subhead, d.form.view(d.renderPanel, d.effectiveWidth()))
	}

	left := strings.Builder{}
	for i, c := range d.conns {
		cursor := " "
		if i == d.sel {
			cursor = ">"
		}
		left.WriteString(fmt.Sprintf("%s[%s] %-22s %s\n", cursor, statusMark(c.Status), c.DisplayName(), util.EmptyDash(c.Host)))
	}
	if len(d.conns) == 0 {
		left.WriteString("  (no connections matched)\n")
	}

	detail := strings.Builder{}
	if len(d.conns) > 0 {
		c := d.conns[d.sel]
		jump := "-"
		if c.JumpServerID != "" {
			jump = c.JumpServerID
			if j, ok := d.app.Registry.Get(c.JumpServerID); ok {
				jump = j.DisplayName()
			}
		}
		detail.WriteString(fmt.Sprintf("Name: %s\nHost: %s\nUser: %s\nPort: %d\nJump: %s\nStatus: %s\n",
			c.DisplayName(), util.EmptyDash(c.Host), util.EmptyDash(c.Username), c.Port, jump, c.Status))
		if c.StatusMessage != "" {
			detail.WriteString("Message: " + security.RedactMessage(c.StatusMessage) + "\n")
		}
		detail.WriteString("Forwards:\n")
		if len(c.Forwards) == 0 {
			detail.WriteString("  (none)\n")
		}
		for i, fwd := range c.Forwards {
			auto := ""
			if fwd.AutoStart {
				auto = " (auto)"
			}
			detail.WriteString(fmt.Sprintf("  [%d] %s:%d -> %s:%d%s\n", i, fwd.LocalString(), fwd.LocalPort, fwd.RemoteString(), fwd.RemotePort, auto))
		}
	} else {
		detail.WriteString("Pick a connection to view details.\n")
	}

	transfers := strings.Builder{}
	transfers.WriteString(fmt.Sprintf("%-28s %-14s %-8s %s\n", "TRANSFER", "STATUS", "PCT", "SPEED"))
	for _, t := range d.transfers {
		transfers.WriteString(fmt.Sprintf("%-28s %-14s %-8s %s\n",
			truncate(t.Label, 28), t.Status, fmt.Sprintf("%.0f%%", t.Percent), formatSpeed(t.SpeedBps)))
	}
	if len(d.transfers) == 0 {
		transfers.WriteString("(none)\n")
	}

	filterLine := fmt.Sprintf("Filter: %s", d.filter)
	if d.filterMode {
		filterLine += " (typing...)"
	}
	quickHelp := "Keys: Enter open tab | d disconnect | n new | x delete | w close tab | c cancel transfer | ? help | q quit"

	main := d.renderMainPanels(left.String(), detail.String())
	transferPanel := d.renderPanel("Transfers", transfers.String(), d.effectiveWidth(), lipgloss.Color("63"))
	statusPanel := d.renderPanel("Status", d.status, d.effectiveWidth(), lipgloss.Color("205"))
	help := ""
	if d.showHelp {
		help = d.renderPanel("Help", helpBlock(), d.effectiveWidth(), lipgloss.Color("244"))
	}
	return lipgloss.JoinVertical(
		lipgloss.Left,
		head,
		subhead,
		d.tabBar(),
		filterLine,
		quickHelp,
		main,
		transferPanel,
		help,
		statusPanel,
	)
}

func (d dashboard) tabBar() string {
	if len(d.tabs) == 0 {
		return "Tabs: (none)"
	}
	active, _ := d.app.Tabs.ActiveTab()
	parts := make([]string, 0, len(d.tabs))
	for _, t := range d.tabs {
		label := t.Title
		if t.View != "" && t.View != model.ViewTerminal {
			label += ":" + string(t.View)
		}
		if t.ID == active.ID {
			label = lipgloss.NewStyle().Bold(true).Underline(true).Render(label)
		}
		parts = append(parts, "["+label+"]")
	}
	return "Tabs: " + strings.Join(parts, " ")
}

// Run starts the TUI dashboard.
func Run(a *app.App, cfg appconfig.Config) error {
	p := tea.NewProgram(newDashboard(a, cfg), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func statusMark(s model.ConnectionStatus) string {
	switch s {
	case model.StatusConnected:
		return "*"
	case model.StatusConnecting:
		return "~"
	case model.StatusError:
		return "!"
	default:
		return " "
	}
}

func clampRefresh(seconds int) int {
	if seconds <= 0 {
		return util.DefaultRefreshSeconds
	}
	return seconds
}

func formatSpeed(bps float64) string {
	switch {
	case bps <= 0:
		return "-"
	case bps >= 1<<20:
		return fmt.Sprintf("%.1f MiB/s", bps/(1<<20))
	case bps >= 1<<10:
		return fmt.Sprintf("%.1f KiB/s", bps/(1<<10))
	default:
		return fmt.Sprintf("%.0f B/s", bps)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

func helpBlock() string {
	return strings.Join([]string{
		"  Navigation: j/k or arrow keys move selection; Tab/Shift-Tab cycle tabs.",
		"  Filtering: press /, type name/host text, then Enter.",
		"  Open: press Enter on a connection; reopening reuses its tab.",
		"  Tabs: w closes the active tab; f opens port forwarding; s opens snippets.",
		"  Connections: n adds, d disconnects, x deletes (tabs close first).",
		"  Transfers: c cancels the oldest running transfer.",
		"  Quit: press q or Ctrl+C.",
	}, "\n")
}

func (d dashboard) renderMainPanels(connsPanel, detailsPanel string) string {
	width := d.effectiveWidth()
	if width < 96 {
		return lipgloss.JoinVertical(
			lipgloss.Left,
			d.renderPanel("Connections", connsPanel, width, lipgloss.Color("39")),
			d.renderPanel("Details", detailsPanel, width, lipgloss.Color("69")),
		)
	}
	leftWidth := width / 2
	rightWidth := width - leftWidth
	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		d.renderPanel("Connections", connsPanel, leftWidth, lipgloss.Color("39")),
		d.renderPanel("Details", detailsPanel, rightWidth, lipgloss.Color("69")),
	)
}

func (d dashboard) effectiveWidth() int {
	if d.width <= 0 {
		return 100
	}
	return d.width
}

func (d dashboard) renderPanel(title, body string, width int, accent lipgloss.Color) string {
	if width < 24 {
		width = 24
	}
	header := lipgloss.NewStyle().Bold(true).Foreground(accent).Render(title)
	content := strings.TrimSuffix(body, "\n")
	panel := strings.TrimSpace(header + "\n" + content)
	return lipgloss.NewStyle().
		Width(width).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(accent).
		Padding(0, 1).
		Render(panel)
}
