package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"gopkg.in/yaml.v3"

	"grove/internal/engagement"
	"grove/internal/entropy"
	"grove/internal/triggers"
)

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func yamlString(v interface{}) (string, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal: %w", err)
	}
	return string(data), nil
}

// printMarkdown renders md for the terminal, or prints it untouched with
// --plain.
func printMarkdown(md string) error {
	if plainOutput {
		fmt.Print(md)
		return nil
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		fmt.Print(md)
		return nil
	}
	out, err := renderer.Render(md)
	if err != nil {
		return fmt.Errorf("failed to render: %w", err)
	}
	fmt.Print(out)
	return nil
}

// statusMarkdown summarizes a snapshot as a markdown document.
func statusMarkdown(snap engagement.Snapshot, queue []triggers.QueueItem, es entropy.State, lens string) string {
	if lens == "" {
		lens = snap.LensID()
	}
	if lens == "" {
		lens = "none"
	}

	var sb strings.Builder
	sb.WriteString("# Engagement\n\n")
	fmt.Fprintf(&sb, "Session `%s`, visit %d, active %d min\n\n", snap.SessionID, snap.VisitCount, snap.MinutesActive)
	fmt.Fprintf(&sb, "**Stage:** %s  \n**Lens:** %s\n\n", snap.Stage, lens)

	sb.WriteString("| Counter | Value |\n|---|---|\n")
	rows := []struct {
		name  string
		value int
	}{
		{"Exchanges (session)", snap.ExchangeCount},
		{"Exchanges (total)", snap.TotalExchangeCount},
		{"Topics explored", len(snap.TopicsExplored)},
		{"Hubs visited", len(snap.HubsVisited)},
		{"Sprouts captured", snap.SproutsCaptured},
		{"Journeys completed", snap.JourneysCompleted},
	}
	for _, r := range rows {
		fmt.Fprintf(&sb, "| %s | %d |\n", r.name, r.value)
	}

	sb.WriteString("\n## Entropy\n\n")
	fmt.Fprintf(&sb, "Last score %.2f (%s), %d injections, cooldown %d, %d off-topic\n",
		es.LastScore, es.LastClassification, es.InjectionCount, es.CooldownRemaining, es.OffTopicCount)

	sb.WriteString("\n## Reveal queue\n\n")
	if len(queue) == 0 {
		sb.WriteString("_empty_\n")
	}
	for _, item := range queue {
		fmt.Fprintf(&sb, "- **%s** priority %d (`%s`)\n", item.Type, item.Priority, item.TriggerID)
	}

	if len(snap.ActiveMoments) > 0 {
		sb.WriteString("\n## Active moments\n\n")
		for _, id := range snap.ActiveMoments {
			fmt.Fprintf(&sb, "- %s\n", id)
		}
	}
	return sb.String()
}
