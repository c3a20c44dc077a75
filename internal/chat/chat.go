// Package chat holds the LLM collaborator. The engagement core only ever sees
// the visitor's message text and the length of the reply.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Roles of a chat turn.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Message is one chat turn.
type Message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Responder produces the reply to message given the prior turns.
type Responder interface {
	Respond(ctx context.Context, history []Message, message string) (string, error)
	Name() string
}

// Options selects and configures a Responder.
type Options struct {
	Provider     string // echo or gemini
	Model        string
	APIKey       string
	Timeout      time.Duration
	SystemPrompt string
	// BaseURL overrides the provider endpoint, e.g. for a proxy.
	BaseURL string
}

// New builds the responder named by opts.Provider.
func New(ctx context.Context, opts Options) (Responder, error) {
	switch strings.ToLower(opts.Provider) {
	case "", "echo":
		return EchoResponder{}, nil
	case "gemini":
		g, err := NewGeminiResponder(ctx, opts)
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unknown chat provider %q", opts.Provider)
	}
}

// =============================================================================
// ECHO RESPONDER
// =============================================================================

// EchoResponder answers offline by reflecting the message back. It keeps the
// CLI usable without credentials.
type EchoResponder struct{}

// Respond implements Responder.
func (EchoResponder) Respond(ctx context.Context, history []Message, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	turn := 1
	for _, m := range history {
		if m.Role == RoleUser {
			turn++
		}
	}
	return fmt.Sprintf("[turn %d] You asked: %s", turn, strings.TrimSpace(message)), nil
}

// Name implements Responder.
func (EchoResponder) Name() string { return "echo" }
