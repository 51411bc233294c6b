package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"lanchess/internal/config"
	"lanchess/internal/discovery"
	"lanchess/internal/session"
	"lanchess/internal/sound"
	"lanchess/internal/transport"
	"lanchess/internal/tui"
	"lanchess/internal/turn"
)

var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "lanchess",
	Short: "Two-player chess over the local network.",
	Long: `lanchess - two-player chess over the local network.

One player hosts and plays White; the host announces itself on the LAN.
The other player joins, either by scanning for hosts or by address, and
plays Black. Moves can be typed in SAN (Nf3) or UCI (g1f3).

Settings are read from LANCHESS_* environment variables; flags override them.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded
		return applyFlags(cmd, &cfg)
	},
}

// ─── host ───────────────────────────────────────────────────────────────────

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Host a game and wait for an opponent (you play White)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGame(turn.RoleHost, func(s *session.Session) func(context.Context) error {
			return s.Host
		})
	},
}

// ─── join ───────────────────────────────────────────────────────────────────

var joinCmd = &cobra.Command{
	Use:   "join [address]",
	Short: "Join a game (you play Black); scans the LAN when no address is given",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGame(turn.RoleJoiner, func(s *session.Session) func(context.Context) error {
			if len(args) == 1 {
				addr := args[0]
				return func(ctx context.Context) error { return s.Join(ctx, addr) }
			}
			return func(ctx context.Context) error {
				peers, err := s.Scan(ctx)
				if err != nil {
					return err
				}
				if len(peers) == 0 {
					return errors.New("no hosts found on the local network")
				}
				if len(peers) > 1 {
					log.Printf("found %d hosts, joining %s", len(peers), peers[0])
				}
				return s.JoinPeer(ctx, peers[0])
			}
		})
	},
}

// ─── scan ───────────────────────────────────────────────────────────────────

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List hosts announcing a game on the local network",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d := cfg.Discovery()
		fmt.Printf("Scanning UDP port %d for %s...\n", d.Port, d.Timeout)

		peers, err := discovery.Scan(cmd.Context(), d)
		if err != nil {
			return err
		}
		if len(peers) == 0 {
			fmt.Println("No hosts found.")
			return nil
		}
		for _, p := range peers {
			fmt.Printf("  %-15s  seen %s\n", p, p.SeenAt.Format(time.TimeOnly))
		}
		fmt.Printf("\nJoin with: lanchess join %s\n", peers[0])
		return nil
	},
}

// ─── local ──────────────────────────────────────────────────────────────────

var localCmd = &cobra.Command{
	Use:   "local",
	Short: "Play both sides at this keyboard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGame(turn.RoleLocal, nil)
	},
}

// runGame builds a session for role and runs the terminal UI until the
// player quits. start, if set, returns the call that connects the session.
func runGame(role turn.Role, start func(*session.Session) func(context.Context) error) error {
	closeLog, err := setupLogging(cfg.LogFile)
	if err != nil {
		return err
	}
	defer closeLog()

	notifier, err := newNotifier(cfg)
	if err != nil {
		return err
	}

	updates := make(chan tea.Msg, 256)
	sess := session.New(session.Config{
		Role:           role,
		Discovery:      cfg.Discovery(),
		SessionAddr:    cfg.SessionAddr(),
		ConnectTimeout: cfg.ConnectTimeout,
		Events:         tui.Events(updates),
	})
	defer sess.Close()

	opts := tui.Options{
		Session:  sess,
		Updates:  updates,
		Notifier: notifier,
		Title:    "lanchess",
	}
	if start != nil {
		opts.Start = start(sess)
	}

	p := tea.NewProgram(tui.New(opts), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running TUI: %w", err)
	}
	return nil
}

// setupLogging keeps log output off the terminal the UI owns.
func setupLogging(path string) (func(), error) {
	if path == "" {
		log.SetOutput(io.Discard)
		return func() {}, nil
	}
	f, err := tea.LogToFile(path, "lanchess")
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return func() { f.Close() }, nil
}

func newNotifier(c config.Config) (sound.Notifier, error) {
	if !c.Sound {
		return sound.Nop{}, nil
	}
	return sound.New(c.SoundFile)
}

func applyFlags(cmd *cobra.Command, c *config.Config) error {
	flags := cmd.Flags()
	var err error
	if flags.Changed("discovery-port") {
		c.DiscoveryPort, err = flags.GetInt("discovery-port")
	}
	if err == nil && flags.Changed("session-port") {
		c.SessionPort, err = flags.GetInt("session-port")
	}
	if err == nil && flags.Changed("broadcast") {
		c.BroadcastAddr, err = flags.GetString("broadcast")
	}
	if err == nil && flags.Changed("scan-timeout") {
		c.ScanTimeout, err = flags.GetDuration("scan-timeout")
	}
	if err == nil && flags.Changed("sound") {
		c.Sound, err = flags.GetBool("sound")
	}
	if err == nil && flags.Changed("sound-file") {
		c.SoundFile, err = flags.GetString("sound-file")
	}
	if err == nil && flags.Changed("log-file") {
		c.LogFile, err = flags.GetString("log-file")
	}
	if err != nil {
		return err
	}
	return c.Validate()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.Int("discovery-port", discovery.DefaultPort, "UDP port for host announcements")
	pf.Int("session-port", transport.DefaultPort, "TCP port for the game connection")
	pf.String("broadcast", discovery.DefaultBroadcastAddr, "Broadcast address hosts announce to")
	pf.Duration("scan-timeout", discovery.DefaultTimeout, "How long join and scan listen for hosts")
	pf.Bool("sound", false, "Play a sound when it is your turn and when the game ends")
	pf.String("sound-file", "", "wav or mp3 to play instead of the built-in chime")
	pf.String("log-file", "", "Write logs to this file (default: discard)")

	rootCmd.AddCommand(hostCmd, joinCmd, scanCmd, localCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
