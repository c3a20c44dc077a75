package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"grove/internal/config"
	"grove/internal/engagement"
)

// useWorkspace points the CLI globals at a fresh workspace.
func useWorkspace(t *testing.T, backend string) string {
	t.Helper()
	logger = zap.NewNop()
	workspace = t.TempDir()
	configPath = ""
	storeBackend = backend
	cfg = nil
	plainOutput = true
	jsonOutput = false
	rankMax = 0
	rankWelcome = false
	rankSurface = "suggestion"
	t.Setenv("GROVE_STORAGE_BACKEND", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GROVE_CHAT_PROVIDER", "")
	if err := setup(); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	return workspace
}

func run(t *testing.T, fn func(*cobra.Command, []string) error, args ...string) string {
	t.Helper()
	var runErr error
	out := captureOutput(t, func() {
		runErr = fn(&cobra.Command{}, args)
	})
	if runErr != nil {
		t.Fatalf("command failed: %v\noutput: %s", runErr, out)
	}
	return out
}

func TestParsePayload(t *testing.T) {
	p, err := parsePayload(engagement.EventTopicExplored, []string{"topicId=ratchet", "topicLabel=The Ratchet"})
	if err != nil {
		t.Fatalf("parsePayload returned error: %v", err)
	}
	topic, ok := p.(engagement.TopicExplored)
	if !ok || topic.TopicID != "ratchet" || topic.TopicLabel != "The Ratchet" {
		t.Fatalf("unexpected payload: %#v", p)
	}

	p, err = parsePayload(engagement.EventSproutCaptured, []string{"sproutId=s1", `tags=["gpu","ratchet"]`})
	if err != nil {
		t.Fatalf("parsePayload returned error: %v", err)
	}
	if sprout := p.(engagement.SproutCaptured); len(sprout.Tags) != 2 {
		t.Fatalf("expected JSON array value to decode, got %#v", sprout)
	}

	if _, err := parsePayload(engagement.EventHubVisited, []string{"hubId"}); err == nil {
		t.Fatalf("expected error for a pair without =")
	}
	if _, err := parsePayload("NOT_AN_EVENT", nil); err == nil {
		t.Fatalf("expected error for an unknown event type")
	}
}

func TestStatusShowsArrival(t *testing.T) {
	useWorkspace(t, "memory")

	output := run(t, runStatus)

	if !strings.Contains(output, "ARRIVAL") {
		t.Fatalf("expected ARRIVAL stage, got: %s", output)
	}
	if !strings.Contains(output, "Reveal queue") {
		t.Fatalf("expected reveal queue section, got: %s", output)
	}
}

func TestEmitPersistsAcrossCommands(t *testing.T) {
	useWorkspace(t, "file")

	for range 3 {
		run(t, runEmit, "EXCHANGE_SENT", "query=hello", "responseLength=40")
	}
	output := run(t, runHistory)
	if got := strings.Count(output, "EXCHANGE_SENT"); got != 3 {
		t.Fatalf("expected 3 recorded exchanges, got %d in: %s", got, output)
	}

	status := run(t, runStatus)
	if !strings.Contains(status, "ORIENTED") {
		t.Fatalf("three exchanges should orient the visitor, got: %s", status)
	}
}

func TestEmitJourneyCompletedShowsReactions(t *testing.T) {
	useWorkspace(t, "memory")

	output := run(t, runEmit, "JOURNEY_COMPLETED", "lensId=ratchet", "cardsVisited=4")

	for _, want := range []string{"moment: journey-complete (overlay)", "immediate reveal: journeyCompletion"} {
		if !strings.Contains(output, want) {
			t.Fatalf("expected %q in: %s", want, output)
		}
	}
}

func TestEmitRejectsInvalidPayload(t *testing.T) {
	useWorkspace(t, "memory")
	err := runEmit(&cobra.Command{}, []string{"REVEAL_SHOWN", "revealType=nope"})
	if err == nil {
		t.Fatalf("expected validation error for an unknown reveal")
	}
}

func TestHistoryEmpty(t *testing.T) {
	useWorkspace(t, "memory")
	if output := run(t, runHistory); !strings.Contains(output, "No events recorded") {
		t.Fatalf("expected empty history notice, got: %s", output)
	}
}

func TestTriggersValidate(t *testing.T) {
	root := useWorkspace(t, "memory")

	if output := run(t, runTriggersValidate); !strings.Contains(output, "no issues") {
		t.Fatalf("built-in triggers should validate, got: %s", output)
	}

	bad := filepath.Join(root, "triggers.yaml")
	content := "- id: t1\n  reveal: bogus\n  priority: 1\n  enabled: true\n"
	if err := os.WriteFile(bad, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	var runErr error
	output := captureOutput(t, func() {
		runErr = runTriggersValidate(&cobra.Command{}, []string{bad})
	})
	if runErr == nil || !strings.Contains(output, "unknown reveal") {
		t.Fatalf("expected an unknown reveal issue, got err=%v output=%s", runErr, output)
	}
}

func TestTriggersListAndEval(t *testing.T) {
	useWorkspace(t, "memory")

	if output := run(t, runTriggersList); !strings.Contains(output, "simulation") {
		t.Fatalf("expected default triggers listed, got: %s", output)
	}
	if output := run(t, runTriggersEval); !strings.Contains(output, "Stage ARRIVAL") {
		t.Fatalf("expected evaluation header, got: %s", output)
	}
}

func TestEntropyCommand(t *testing.T) {
	useWorkspace(t, "memory")

	output := run(t, runEntropy, "tell", "me", "about", "the", "ratchet")
	if !strings.Contains(output, "Score:") {
		t.Fatalf("expected a score, got: %s", output)
	}
}

func TestRankCommand(t *testing.T) {
	useWorkspace(t, "memory")
	rankWelcome = true
	rankMax = 2

	output := run(t, runRank)
	if !strings.Contains(output, "Stage genesis") {
		t.Fatalf("expected context header, got: %s", output)
	}
}

func TestLensAndReset(t *testing.T) {
	useWorkspace(t, "file")

	if output := run(t, runLens, "my-own-lens"); !strings.Contains(output, "(custom)") {
		t.Fatalf("expected custom lens, got: %s", output)
	}
	if output := run(t, runReset); !strings.Contains(output, "New session") {
		t.Fatalf("expected reset notice, got: %s", output)
	}
}

func TestChatLoopRecordsExchanges(t *testing.T) {
	useWorkspace(t, "memory")
	chatInput = strings.NewReader("hello there\n\n/status\n/bogus\nsecond question\n/quit\nnever read\n")
	defer func() { chatInput = os.Stdin }()

	output := run(t, runChat)

	for _, want := range []string{"[turn 1] You asked: hello there", "Stage ARRIVAL", "unknown command /bogus", "[turn 2]"} {
		if !strings.Contains(output, want) {
			t.Fatalf("expected %q in chat output: %s", want, output)
		}
	}
	if strings.Contains(output, "never read") {
		t.Fatalf("input after /quit must be ignored")
	}
}

func TestConfigInit(t *testing.T) {
	root := useWorkspace(t, "memory")

	output := run(t, runConfigInit)
	if !strings.Contains(output, "Wrote") {
		t.Fatalf("expected config to be written, got: %s", output)
	}
	if _, err := os.Stat(config.DefaultPath(root)); err != nil {
		t.Fatalf("config file missing: %v", err)
	}
	if output := run(t, runConfigInit); !strings.Contains(output, "already exists") {
		t.Fatalf("expected second init to be a no-op, got: %s", output)
	}
}

func TestSetupRejectsInvalidBackend(t *testing.T) {
	logger = zap.NewNop()
	workspace = t.TempDir()
	configPath = ""
	storeBackend = "tape"
	cfg = nil
	defer func() { storeBackend = "" }()

	if err := setup(); err == nil {
		t.Fatalf("expected an invalid backend to fail validation")
	}
}

func captureOutput(t *testing.T, fn func()) string {
	t.Helper()

	origOut := os.Stdout
	origErr := os.Stderr
	rOut, wOut, _ := os.Pipe()
	rErr, wErr, _ := os.Pipe()
	os.Stdout = wOut
	os.Stderr = wErr

	done := make(chan string)
	go func() {
		var outBuf, errBuf bytes.Buffer
		errDone := make(chan struct{})
		go func() {
			_, _ = io.Copy(&errBuf, rErr)
			close(errDone)
		}()
		_, _ = io.Copy(&outBuf, rOut)
		<-errDone
		done <- outBuf.String() + errBuf.String()
	}()

	fn()

	_ = wOut.Close()
	_ = wErr.Close()
	os.Stdout = origOut
	os.Stderr = origErr
	return <-done
}
