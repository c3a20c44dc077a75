package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"grove/internal/config"
	"grove/internal/contextfields"
	"grove/internal/engine"
	"grove/internal/triggers"
)

// =============================================================================
// TRIGGER, ENTROPY AND RANKING COMMANDS
// =============================================================================

var (
	rankMax     int
	rankSurface string
	rankWelcome bool
)

var triggersCmd = &cobra.Command{
	Use:   "triggers",
	Short: "Inspect and validate reveal triggers",
	RunE:  runTriggersList,
}

var triggersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the trigger configs in effect",
	RunE:  runTriggersList,
}

var triggersEvalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Evaluate the triggers against the current state",
	RunE:  runTriggersEval,
}

var triggersValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a trigger file (default: the configured one)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTriggersValidate,
}

var entropyCmd = &cobra.Command{
	Use:   "entropy <message>",
	Short: "Score a message for conversational drift without recording it",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runEntropy,
}

var rankCmd = &cobra.Command{
	Use:   "rank",
	Short: "Rank the prompts to suggest next",
	RunE:  runRank,
}

func init() {
	rankCmd.Flags().IntVar(&rankMax, "max", 0, "Maximum prompts (default: ranking.max_prompts)")
	rankCmd.Flags().StringVar(&rankSurface, "surface", string(contextfields.SurfaceSuggestion), "Surface to rank for (empty: any)")
	rankCmd.Flags().BoolVar(&rankWelcome, "welcome", false, "Use welcome-phase selection")
	entropyCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the result as JSON")
}

func runTriggersList(cmd *cobra.Command, args []string) error {
	e, err := bootEngine(engine.Hooks{})
	if err != nil {
		return err
	}
	defer e.Close()

	rules := e.Bus().Triggers()
	if len(rules) == 0 {
		fmt.Println("No triggers configured.")
		return nil
	}
	for _, t := range rules {
		state := "on "
		if !t.Enabled {
			state = "off"
		}
		fmt.Printf("  %s %-24s %-18s p=%-3d %s\n", state, t.ID, t.Reveal, t.Priority, t.Conditions)
	}
	return nil
}

func runTriggersEval(cmd *cobra.Command, args []string) error {
	e, err := bootEngine(engine.Hooks{})
	if err != nil {
		return err
	}
	defer e.Close()

	snap := e.Bus().State()
	queue := triggers.Evaluate(snap, e.Bus().Triggers())
	fmt.Printf("Stage %s, %d exchanges, %d min active\n", snap.Stage, snap.ExchangeCount, snap.MinutesActive)
	if len(queue) == 0 {
		fmt.Println("No reveals eligible.")
		return nil
	}
	for i, item := range queue {
		fmt.Printf("  %d. %-18s priority %-3d trigger %s\n", i+1, item.Type, item.Priority, item.TriggerID)
	}
	return nil
}

func runTriggersValidate(cmd *cobra.Command, args []string) error {
	path := config.Resolve(workspace, cfg.Files.Triggers)
	if len(args) == 1 {
		path = args[0]
	}

	var rules []triggers.Trigger
	if path == "" {
		rules = triggers.DefaultTriggers()
		path = "built-in defaults"
	} else {
		loaded, err := triggers.Load(path)
		if err != nil {
			return err
		}
		rules = loaded
	}

	issues := triggers.Validate(rules)
	if len(issues) == 0 {
		fmt.Printf("%s: %d triggers, no issues\n", path, len(rules))
		return nil
	}
	for _, issue := range issues {
		fmt.Printf("  %s\n", issue)
	}
	return fmt.Errorf("%s: %d issues", path, len(issues))
}

func runEntropy(cmd *cobra.Command, args []string) error {
	e, err := bootEngine(engine.Hooks{})
	if err != nil {
		return err
	}
	defer e.Close()

	message := strings.Join(args, " ")
	snap := e.Bus().State()
	result := e.Detector().Calculate(message, nil, snap.ExchangeCount+1)
	if jsonOutput {
		return printJSON(result)
	}

	fmt.Printf("Score:          %.2f (%s)\n", result.Score, result.Classification)
	fmt.Printf("Off topic:      %t\n", result.IsOffTopic)
	if cluster := result.Dominant(); cluster != "" {
		fmt.Printf("Cluster:        %s\n", cluster)
	}
	if len(result.MatchedTags) > 0 {
		fmt.Printf("Matched tags:   %s\n", strings.Join(result.MatchedTags, ", "))
	}
	if result.SuggestedJourney != nil {
		inject := e.Detector().ShouldInject(result, e.Bus().EntropyState())
		fmt.Printf("Journey:        %s (would inject: %t)\n", *result.SuggestedJourney, inject)
	}
	return nil
}

func runRank(cmd *cobra.Command, args []string) error {
	if cfg == nil {
		if err := setup(); err != nil {
			return err
		}
	}
	if rankMax > 0 {
		cfg.Ranking.MaxPrompts = rankMax
	}

	e, err := bootEngine(engine.Hooks{})
	if err != nil {
		return err
	}
	defer e.Close()

	var ranked []contextfields.ScoredPrompt
	if rankWelcome {
		ranked = e.WelcomePrompts()
	} else {
		ranked = e.NextPrompts(contextfields.Surface(rankSurface))
	}

	ctx := e.Context()
	fmt.Printf("Stage %s, entropy %.2f, lens %q, %d interactions\n", ctx.Stage, ctx.Entropy, ctx.ActiveLensID, ctx.InteractionCount)
	if len(ranked) == 0 {
		fmt.Println("No prompts match.")
		return nil
	}
	for i, sp := range ranked {
		fmt.Printf("  %d. %5.2f  %-28s %s\n", i+1, sp.Score, sp.Prompt.ID, sp.Prompt.Label)
	}
	return nil
}
