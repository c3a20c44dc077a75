package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"grove/internal/engagement"
	"grove/internal/engine"
	"grove/internal/moments"
)

// =============================================================================
// ENGAGEMENT COMMANDS
// =============================================================================

var (
	plainOutput  bool
	jsonOutput   bool
	historyLimit int
	momentSurf   string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the engagement state, stage and reveal queue",
	RunE:  runStatus,
}

var emitCmd = &cobra.Command{
	Use:   "emit <EVENT_TYPE> [key=value...]",
	Short: "Emit an engagement event",
	Long: `Emits one engagement event through the bus. Payload fields are given as
key=value pairs; values that parse as JSON (numbers, booleans, arrays) are
decoded, anything else is a string.

Example:
  grove emit TOPIC_EXPLORED topicId=ratchet topicLabel="The Ratchet"
  grove emit SPROUT_CAPTURED sproutId=s1 'tags=["gpu","ratchet"]'`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEmit,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent engagement events",
	RunE:  runHistory,
}

var momentsCmd = &cobra.Command{
	Use:   "moments",
	Short: "List the moments eligible right now",
	RunE:  runMoments,
}

var lensCmd = &cobra.Command{
	Use:   "lens <lens-id>",
	Short: "Select the active lens",
	Args:  cobra.ExactArgs(1),
	RunE:  runLens,
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Discard all engagement progress and start a new session",
	RunE:  runReset,
}

func init() {
	statusCmd.Flags().BoolVar(&plainOutput, "plain", false, "Plain text instead of rendered markdown")
	statusCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the snapshot as JSON")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum events to show")
	momentsCmd.Flags().StringVar(&momentSurf, "surface", "", "Only moments for this surface")
}

func runStatus(cmd *cobra.Command, args []string) error {
	e, err := bootEngine(engine.Hooks{})
	if err != nil {
		return err
	}
	defer e.Close()

	b := e.Bus()
	snap := b.State()
	if jsonOutput {
		return printJSON(snap)
	}
	return printMarkdown(statusMarkdown(snap, b.RevealQueue(), b.EntropyState(), e.Narrative().ActiveLens()))
}

func runEmit(cmd *cobra.Command, args []string) error {
	payload, err := parsePayload(engagement.EventType(strings.ToUpper(args[0])), args[1:])
	if err != nil {
		return err
	}
	if err := payload.Validate(); err != nil {
		return err
	}

	e, err := bootEngine(engine.Hooks{})
	if err != nil {
		return err
	}
	defer e.Close()

	before := e.Bus().State()
	e.Bus().Emit(payload)
	after := e.Bus().State()

	fmt.Printf("Emitted %s\n", payload.EventType())
	if before.Stage != after.Stage {
		fmt.Printf("Stage: %s → %s\n", before.Stage, after.Stage)
	}
	printReactions(e.TakeReactions())
	for _, item := range e.Bus().RevealQueue() {
		fmt.Printf("  queued reveal: %s (priority %d, trigger %s)\n", item.Type, item.Priority, item.TriggerID)
	}
	return nil
}

// printReactions lists what an event surfaced at once.
func printReactions(r engine.Reactions) {
	for _, m := range r.Moments {
		fmt.Printf("  moment: %s (%s)\n", m.ID, m.Surface)
	}
	for _, item := range r.Reveals {
		fmt.Printf("  immediate reveal: %s\n", item.Type)
	}
}

// parsePayload builds a typed payload from key=value pairs.
func parsePayload(t engagement.EventType, pairs []string) (engagement.Payload, error) {
	fields := make(map[string]json.RawMessage, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", pair)
		}
		if json.Valid([]byte(value)) {
			fields[key] = json.RawMessage(value)
			continue
		}
		quoted, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		fields[key] = quoted
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	return engagement.DecodePayload(t, raw)
}

func runHistory(cmd *cobra.Command, args []string) error {
	e, err := bootEngine(engine.Hooks{})
	if err != nil {
		return err
	}
	defer e.Close()

	events := e.Bus().History()
	if len(events) == 0 {
		fmt.Println("No events recorded.")
		return nil
	}
	if historyLimit > 0 && len(events) > historyLimit {
		events = events[len(events)-historyLimit:]
	}
	for _, ev := range events {
		data, err := json.Marshal(ev.Payload)
		if err != nil {
			return err
		}
		fmt.Printf("%s  %-18s %s\n", ev.Timestamp.Format("15:04:05"), ev.Type, data)
	}
	return nil
}

func runMoments(cmd *cobra.Command, args []string) error {
	e, err := bootEngine(engine.Hooks{})
	if err != nil {
		return err
	}
	defer e.Close()

	eligible := e.EligibleMoments(moments.Surface(momentSurf))
	if len(eligible) == 0 {
		fmt.Println("No moments eligible.")
		return nil
	}
	for _, m := range eligible {
		fmt.Printf("  [%3d] %-22s %-8s %s\n", m.Rank(), m.ID, m.Surface, m.Title)
	}
	return nil
}

func runLens(cmd *cobra.Command, args []string) error {
	e, err := bootEngine(engine.Hooks{})
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.SelectLens(args[0]); err != nil {
		return err
	}
	kind := "standard"
	if e.Narrative().IsCustomLens(args[0]) {
		kind = "custom"
	}
	fmt.Printf("Active lens: %s (%s)\n", args[0], kind)
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	e, err := bootEngine(engine.Hooks{})
	if err != nil {
		return err
	}
	defer e.Close()

	e.Reset()
	fmt.Printf("Engagement reset. New session: %s\n", e.Bus().State().SessionID)
	return nil
}
