// Package cli provides the command-line interface for termdock.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/calebmh/termdock/internal/app"
	"github.com/calebmh/termdock/internal/appconfig"
	"github.com/calebmh/termdock/internal/doctor"
	"github.com/calebmh/termdock/internal/events"
	"github.com/calebmh/termdock/internal/gateway"
	"github.com/calebmh/termdock/internal/model"
	"github.com/calebmh/termdock/internal/security"
	"github.com/calebmh/termdock/internal/snippets"
	"github.com/calebmh/termdock/internal/sshconfig"
	"github.com/calebmh/termdock/internal/ui"
	"github.com/calebmh/termdock/internal/util"
)

// NewRootCommand creates the root cobra command.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "termdock",
		Short: "Multi-session terminal and transfer manager",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cfg, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.Start(cmd.Context()); err != nil {
				return err
			}
			return ui.Run(a, cfg)
		},
	}

	root.AddCommand(newListCmd())
	root.AddCommand(newConnectCmd())
	root.AddCommand(newCpCmd())
	root.AddCommand(newImportCmd())
	root.AddCommand(newExportCmd())
	root.AddCommand(newSnippetCmd())
	root.AddCommand(newEventsCmd())
	root.AddCommand(newDoctorCmd())
	return root
}

// buildApp wires the gateway stack: the loopback always exists so local
// terminals work offline, the websocket client is added when a backend is
// configured, and the mux routes between them.
func buildApp(ctx context.Context) (*app.App, appconfig.Config, error) {
	cfg, err := appconfig.Load()
	if err != nil {
		return nil, appconfig.Config{}, err
	}
	stateDir, err := appconfig.ConfigDir()
	if err != nil {
		return nil, appconfig.Config{}, err
	}

	local := gateway.NewLoopback(cfg.Terminal.Shell, stateDir)
	var gw gateway.Gateway = local
	if cfg.Backend.Addr != "" {
		remote, err := gateway.Dial(ctx, cfg.Backend.Addr, cfg.Backend.Token)
		if err != nil {
			return nil, appconfig.Config{}, fmt.Errorf("dial backend: %w", err)
		}
		gw = gateway.NewMux(local, remote)
	}
	return app.New(gw, events.NewStore()), cfg, nil
}

func newListCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.Start(cmd.Context()); err != nil {
				return err
			}
			conns := a.Registry.List()
			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(conns)
			}
			fmt.Printf("%-38s %-20s %-24s %-6s %-12s %s\n", "ID", "NAME", "HOST", "PORT", "STATUS", "JUMP")
			for _, c := range conns {
				jump := util.EmptyDash("")
				if c.JumpServerID != "" {
					jump = c.JumpServerID
					if j, ok := a.Registry.Get(c.JumpServerID); ok {
						jump = j.DisplayName()
					}
				}
				fmt.Printf("%-38s %-20s %-24s %-6d %-12s %s\n",
					c.ID, c.DisplayName(), util.EmptyDash(c.Host), c.Port, c.Status, jump)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

func newConnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect <id|name>",
		Short: "Connect a saved connection, including its jump chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.Start(cmd.Context()); err != nil {
				return err
			}
			c, err := findConnection(a, args[0])
			if err != nil {
				return err
			}
			if err := a.Registry.Connect(cmd.Context(), c.ID); err != nil {
				return fmt.Errorf("%s", security.RedactMessage(err.Error()))
			}
			fmt.Printf("connected %s\n", c.DisplayName())
			return nil
		},
	}
}

func newCpCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "cp <src> <dst>",
		Short: "Copy a file between endpoints",
		Long: `Copy a file between endpoints. An endpoint is either a local path or
<connection-id>:<remote-path>. A copy within one connection is a rename on
that host; everything else streams through the backend.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.Start(cmd.Context()); err != nil {
				return err
			}
			src := parseEndpointArg(args[0])
			dst := parseEndpointArg(args[1])
			label := fmt.Sprintf("%s -> %s", args[0], args[1])
			id, err := a.Transfers.StartCopy(cmd.Context(), src, dst, label)
			if err != nil {
				return err
			}
			if id == "" {
				fmt.Println("renamed")
				return nil
			}
			return waitForTransfer(cmd.Context(), a, id, timeout)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "give up after this long")
	return cmd
}

func waitForTransfer(ctx context.Context, a *app.App, id string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			a.Transfers.Cancel(context.Background(), id)
			return fmt.Errorf("transfer timed out")
		case <-tick.C:
			t, ok := a.Transfers.Get(id)
			if !ok {
				return nil
			}
			if !t.Status.Terminal() {
				continue
			}
			switch t.Status {
			case model.TransferCompleted:
				fmt.Printf("copied %d bytes\n", t.Transferred)
				return nil
			case model.TransferCancelled:
				return fmt.Errorf("transfer cancelled")
			default:
				return fmt.Errorf("transfer failed: %s", t.Error)
			}
		}
	}
}

func newImportCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import hosts from an OpenSSH config into saved connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.Start(cmd.Context()); err != nil {
				return err
			}

			var res sshconfig.ImportResult
			if path == "" {
				res, err = sshconfig.ImportDefault()
			} else {
				res, err = sshconfig.ImportFile(path)
			}
			if err != nil {
				return err
			}
			added := 0
			for _, c := range res.Connections {
				if _, err := a.Registry.Add(c); err != nil {
					res.Warnings = append(res.Warnings, fmt.Sprintf("skipped %s: %v", c.DisplayName(), err))
					continue
				}
				added++
			}
			if err := a.Registry.Save(cmd.Context()); err != nil {
				return err
			}
			fmt.Printf("imported %d connections\n", added)
			printWarnings(res.Warnings)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "file", "", "config file to import (default ~/.ssh/config)")
	return cmd
}

func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <path>",
		Short: "Export saved connections as an OpenSSH config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.Start(cmd.Context()); err != nil {
				return err
			}
			warnings, err := sshconfig.WriteFile(args[0], a.Registry.List())
			if err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", args[0])
			printWarnings(warnings)
			return nil
		},
	}
}

func newSnippetCmd() *cobra.Command {
	root := &cobra.Command{Use: "snippet", Short: "Manage command snippets"}

	list := &cobra.Command{
		Use:   "list",
		Short: "List snippets",
		RunE: func(cmd *cobra.Command, args []string) error {
			all, err := snippets.LoadAll()
			if err != nil {
				return err
			}
			fmt.Printf("%-24s %-8s %s\n", "NAME", "AUTORUN", "COMMAND")
			for _, s := range all {
				fmt.Printf("%-24s %-8t %s\n", s.Name, s.AutoRun, s.Command)
			}
			return nil
		},
	}

	var autoRun bool
	add := &cobra.Command{
		Use:   "add <name> <command>",
		Short: "Add or replace a snippet",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := snippets.Snippet{Name: args[0], Command: strings.Join(args[1:], " "), AutoRun: autoRun}
			if err := snippets.Save(s); err != nil {
				return err
			}
			fmt.Printf("saved %s\n", s.Name)
			return nil
		},
	}
	add.Flags().BoolVar(&autoRun, "run", false, "append a newline so the shell executes immediately")

	rm := &cobra.Command{
		Use:   "rm <name>",
		Short: "Delete a snippet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := snippets.Delete(args[0]); err != nil {
				return err
			}
			fmt.Printf("deleted %s\n", args[0])
			return nil
		},
	}

	root.AddCommand(list, add, rm)
	return root
}

func newEventsCmd() *cobra.Command {
	var (
		connectionID string
		transferID   string
		eventType    string
		sinceArg     string
		limit        int
		jsonOut      bool
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the local event journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := events.Query{
				ConnectionID: connectionID,
				TransferID:   transferID,
				EventType:    eventType,
				Limit:        limit,
			}
			if sinceArg != "" {
				d, err := time.ParseDuration(sinceArg)
				if err != nil {
					return fmt.Errorf("bad --since duration: %w", err)
				}
				q.Since = time.Now().Add(-d)
			}
			evts, err := events.NewStore().Read(q)
			if err != nil {
				return err
			}
			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(evts)
			}
			for _, e := range evts {
				fmt.Printf("%s %-20s conn=%s transfer=%s %s\n",
					e.Timestamp.Format(time.RFC3339), e.EventType,
					util.EmptyDash(e.ConnectionID), util.EmptyDash(e.TransferID), e.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&connectionID, "connection", "", "filter by connection id")
	cmd.Flags().StringVar(&transferID, "transfer", "", "filter by transfer id")
	cmd.Flags().StringVar(&eventType, "type", "", "filter by event type")
	cmd.Flags().StringVar(&sinceArg, "since", "", "only events newer than this duration (e.g. 24h)")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum events to print")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

func newDoctorCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run local diagnostics",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cfg, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.Start(cmd.Context()); err != nil {
				return err
			}
			report, err := doctor.Run(cfg, a.Registry)
			if err != nil {
				return err
			}
			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			if len(report.Issues) == 0 {
				fmt.Println("no issues found")
				return nil
			}
			for _, is := range report.Issues {
				fmt.Printf("[%s] %s %s: %s\n    %s\n", is.Severity, is.Check, is.Target, is.Message, is.Recommendation)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

func findConnection(a *app.App, idOrName string) (model.Connection, error) {
	if c, ok := a.Registry.Get(idOrName); ok {
		return c, nil
	}
	for _, c := range a.Registry.List() {
		if strings.EqualFold(c.DisplayName(), idOrName) {
			return c, nil
		}
	}
	return model.Connection{}, fmt.Errorf("connection not found: %s", idOrName)
}

// parseEndpointArg splits "<connection-id>:<path>" into an endpoint; a bare
// path is local. Windows-style drive letters are not a concern here, but a
// single-character prefix before the colon is still treated as part of a
// local path only when it does not name a connection.
func parseEndpointArg(arg string) model.Endpoint {
	if i := strings.Index(arg, ":"); i > 0 && !strings.HasPrefix(arg, "/") && !strings.HasPrefix(arg, ".") {
		return model.Endpoint{ConnectionID: arg[:i], Path: arg[i+1:]}
	}
	return model.Endpoint{ConnectionID: model.LocalConnectionID, Path: expandPath(arg)}
}

func expandPath(p string) string {
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return p
}

func printWarnings(warnings []string) {
	if len(warnings) == 0 {
		return
	}
	fmt.Fprintln(os.Stderr, "warnings:")
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "  - %s\n", w)
	}
}
