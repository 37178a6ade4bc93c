package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const DefaultGeminiModel = "gemini-1.5-flash"

type GeminiProvider struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

func NewGeminiProvider(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrUnconfigured
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultGeminiModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	gm := client.GenerativeModel(model)
	gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(SystemPrompt)}}
	gm.SetMaxOutputTokens(1024)
	gm.SetTemperature(0.7)
	gm.SetTopP(0.8)
	gm.SetTopK(40)

	return &GeminiProvider{client: client, model: gm}, nil
}

func (p *GeminiProvider) Close() error {
	return p.client.Close()
}

func (p *GeminiProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	if len(messages) == 0 {
		return "", errors.New("gemini: no messages")
	}
	last := messages[len(messages)-1]

	cs := p.model.StartChat()
	cs.History = toGeminiHistory(messages[:len(messages)-1])

	resp, err := cs.SendMessage(ctx, genai.Text(last.Content))
	if err != nil {
		return "", fmt.Errorf("Gemini API error: %w", err)
	}
	text := extractText(resp)
	if text == "" {
		return "", errors.New("gemini: empty response")
	}
	return text, nil
}

// gemini only knows "user" and "model"; system turns are folded into the
// system instruction and dropped here.
func toGeminiHistory(messages []Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		role := "user"
		switch m.Role {
		case RoleAssistant:
			role = "model"
		case RoleSystem:
			continue
		}
		out = append(out, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}
	return out
}

func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text.WriteString(string(t))
			}
		}
		// first candidate only
		break
	}
	return strings.TrimSpace(text.String())
}

// GeminiFactory builds one client per model and reuses it.
func GeminiFactory(apiKey string) ProviderFactory {
	var (
		mu    sync.Mutex
		cache = make(map[string]*GeminiProvider)
	)
	return func(ctx context.Context, model string) (Provider, error) {
		if strings.TrimSpace(apiKey) == "" {
			return nil, ErrUnconfigured
		}
		if strings.TrimSpace(model) == "" {
			model = DefaultGeminiModel
		}
		mu.Lock()
		defer mu.Unlock()
		if p, ok := cache[model]; ok {
			return p, nil
		}
		// the client outlives the request that first asked for it
		p, err := NewGeminiProvider(context.WithoutCancel(ctx), apiKey, model)
		if err != nil {
			return nil, err
		}
		cache[model] = p
		return p, nil
	}
}
