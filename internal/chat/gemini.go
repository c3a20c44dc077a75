package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"grove/internal/logging"
)

// =============================================================================
// GOOGLE GENAI RESPONDER
// =============================================================================

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiResponder answers through the Gemini API.
type GeminiResponder struct {
	client *genai.Client
	opts   Options
}

// NewGeminiResponder creates a Gemini-backed responder.
func NewGeminiResponder(ctx context.Context, opts Options) (*GeminiResponder, error) {
	if opts.APIKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	if opts.Model == "" {
		opts.Model = DefaultGeminiModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      opts.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: opts.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiResponder{client: client, opts: opts}, nil
}

// Respond implements Responder.
func (g *GeminiResponder) Respond(ctx context.Context, history []Message, message string) (string, error) {
	if g.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.Timeout)
		defer cancel()
	}

	timer := logging.StartTimer(logging.CategoryChat, "gemini.GenerateContent")
	defer timer.Stop()

	resp, err := g.client.Models.GenerateContent(ctx, g.opts.Model, toContents(history, message), g.config())
	if err != nil {
		return "", fmt.Errorf("GenAI generate failed: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", errors.New("GenAI returned an empty response")
	}
	return text, nil
}

// Name implements Responder.
func (g *GeminiResponder) Name() string {
	return fmt.Sprintf("gemini:%s", g.opts.Model)
}

func (g *GeminiResponder) config() *genai.GenerateContentConfig {
	if g.opts.SystemPrompt == "" {
		return nil
	}
	return &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(g.opts.SystemPrompt, genai.RoleUser),
	}
}

// toContents converts history plus the new message into GenAI turns. Turns
// with an unknown role are sent as the user's.
func toContents(history []Message, message string) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, m := range history {
		if strings.TrimSpace(m.Text) == "" {
			continue
		}
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Text, role))
	}
	return append(contents, genai.NewContentFromText(message, genai.RoleUser))
}
