package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"grove/cmd/grove/ui"
	"grove/internal/chat"
	"grove/internal/contextfields"
	"grove/internal/engagement"
)

// =============================================================================
// INTERACTIVE COMMANDS
// =============================================================================

var (
	metricsAddr string
	withMetrics bool

	// chatInput is read by the line-oriented chat loop.
	chatInput io.Reader = os.Stdin
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Line-oriented chat that records every exchange",
	Long: `Reads one message per line, asks the configured responder and records the
exchange with the engine. Lines starting with / are commands:

  /lens <id>   /dismiss   /prompts   /status   /quit`,
	RunE: runChat,
}

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Start the interactive terminal UI",
	RunE:  runTUI,
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Prometheus instrumentation",
}

var metricsServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve engagement metrics and hot-reload rule files until interrupted",
	RunE:  runMetricsServe,
}

func init() {
	for _, c := range []*cobra.Command{chatCmd, tuiCmd} {
		c.Flags().BoolVar(&withMetrics, "metrics", false, "Also serve /metrics (default: metrics.enabled)")
	}
	metricsServeCmd.Flags().StringVar(&metricsAddr, "addr", "", "Listen address (default: metrics.addr)")
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// metricsListenAddr returns the address to serve on, or "" for none.
func metricsListenAddr(force bool) string {
	if metricsAddr != "" {
		return metricsAddr
	}
	if force || cfg.Metrics.Enabled {
		return cfg.Metrics.Addr
	}
	return ""
}

func runTUI(cmd *cobra.Command, args []string) error {
	ctx, stop := commandContext(cmd)
	defer stop()

	rt, err := startRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	responder, err := newResponder(ctx, cfg)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if err := rt.run(gctx, g, metricsListenAddr(withMetrics)); err != nil {
		return err
	}

	program := tea.NewProgram(ui.New(ui.Config{
		Engine:    rt.engine,
		Responder: responder,
		Timeout:   cfg.ChatTimeout(),
	}), tea.WithAltScreen(), tea.WithContext(gctx))

	g.Go(func() error {
		defer stop()
		_, err := program.Run()
		if errors.Is(err, tea.ErrProgramKilled) && gctx.Err() != nil {
			return nil
		}
		return err
	})
	return g.Wait()
}

func runMetricsServe(cmd *cobra.Command, args []string) error {
	ctx, stop := commandContext(cmd)
	defer stop()

	rt, err := startRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	g, gctx := errgroup.WithContext(ctx)
	if err := rt.run(gctx, g, metricsListenAddr(true)); err != nil {
		return err
	}
	fmt.Printf("Serving metrics on %s/metrics (ctrl+c to stop)\n", metricsListenAddr(true))
	return g.Wait()
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := commandContext(cmd)
	defer stop()

	rt, err := startRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	responder, err := newResponder(ctx, cfg)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if err := rt.run(gctx, g, metricsListenAddr(withMetrics)); err != nil {
		return err
	}

	loopErr := chatLoop(gctx, rt, responder, chatInput)
	stop()
	if err := g.Wait(); err != nil {
		return err
	}
	return loopErr
}

// chatLoop runs one exchange per input line until EOF, /quit or ctx ends.
func chatLoop(ctx context.Context, rt *runtime, responder chat.Responder, in io.Reader) error {
	e := rt.engine
	var history []chat.Message

	fmt.Printf("grove chat · session %s · responder %s (/quit to exit)\n", e.Bus().State().SessionID, responder.Name())
	scanner := bufio.NewScanner(in)
	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Print("› ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			fields := strings.Fields(line)
			switch fields[0] {
			case "/quit", "/exit":
				return nil
			case "/lens":
				if len(fields) != 2 {
					fmt.Println("usage: /lens <id>")
					continue
				}
				if err := e.SelectLens(fields[1]); err != nil {
					fmt.Printf("error: %v\n", err)
					continue
				}
				history = nil
				fmt.Printf("Lens: %s\n", fields[1])
			case "/dismiss":
				e.DismissInjection()
				fmt.Println("Journey suggestion dismissed.")
			case "/prompts":
				for i, sp := range e.NextPrompts(contextfields.SurfaceSuggestion) {
					fmt.Printf("  %d. %s\n", i+1, sp.Prompt.Label)
				}
			case "/status":
				snap := e.Bus().State()
				fmt.Printf("Stage %s · %d exchanges · entropy %.2f\n", snap.Stage, snap.ExchangeCount, snap.ComputedEntropy)
			default:
				fmt.Printf("unknown command %s\n", fields[0])
			}
			continue
		}

		reqCtx, cancel := context.WithTimeout(ctx, cfg.ChatTimeout())
		reply, err := responder.Respond(reqCtx, history, line)
		cancel()
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}

		before := e.Bus().State().Stage
		turn := e.RecordExchange(line, reply)
		history = append(history,
			chat.Message{Role: chat.RoleUser, Text: line},
			chat.Message{Role: chat.RoleModel, Text: reply},
		)

		fmt.Println(reply)
		if turn.Stage != before {
			fmt.Printf("  · stage %s → %s\n", before, turn.Stage)
		}
		if turn.Injected && turn.SuggestedJourney != nil {
			fmt.Printf("  · drifting? try the journey %q (/dismiss to wave it away)\n", turn.SuggestedJourney.Title)
		}
		printReactions(turn.Reactions)
		if turn.Reveal != nil {
			e.Bus().Emit(engagement.RevealShown{RevealType: turn.Reveal.Type})
			fmt.Printf("  · reveal unlocked: %s\n", turn.Reveal.Type)
		}
	}
}
