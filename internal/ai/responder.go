package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/suPer8Hu/career-counselor/internal/classifier"
	"github.com/suPer8Hu/career-counselor/internal/common"
)

// CategoryCustom tags replies written by the model.
const CategoryCustom = "custom"

type Reply struct {
	Text     string
	Type     classifier.ResponseType
	Category string
}

// Responder answers a user turn: canned text when the classifier has one,
// otherwise the configured provider under a timeout.
type Responder struct {
	classifier *classifier.Classifier
	registry   *Registry
	provider   string
	model      string
	timeout    time.Duration
}

func NewResponder(c *classifier.Classifier, reg *Registry, provider, model string, timeout time.Duration) *Responder {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Responder{classifier: c, registry: reg, provider: provider, model: model, timeout: timeout}
}

func (r *Responder) Classifier() *classifier.Classifier { return r.classifier }

// Respond returns a *common.Error of kind generation or
// generation_unconfigured on failure.
func (r *Responder) Respond(ctx context.Context, content string, history []Message) (Reply, error) {
	res := r.classifier.Classify(content)
	if res.IsCommon {
		return Reply{Text: res.Text, Type: res.Type, Category: res.Category}, nil
	}

	text, err := r.Generate(ctx, content, history)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Text: text, Type: classifier.TypeAI, Category: CategoryCustom}, nil
}

// Generate always calls the provider.
func (r *Responder) Generate(ctx context.Context, content string, history []Message) (string, error) {
	provider, err := r.registry.Get(ctx, r.provider, r.model)
	if err != nil {
		if errors.Is(err, ErrUnconfigured) {
			return "", common.GenerationUnconfigured("AI provider is not configured")
		}
		return "", common.Generation(err)
	}

	msgs := make([]Message, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, Message{Role: RoleUser, Content: content})

	gctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	text, err := provider.Chat(gctx, msgs)
	if err != nil {
		if errors.Is(err, ErrUnconfigured) {
			return "", common.GenerationUnconfigured("AI provider rejected its credential")
		}
		if errors.Is(gctx.Err(), context.DeadlineExceeded) {
			return "", common.Generation(fmt.Errorf("generation timed out after %s: %w", r.timeout, err))
		}
		return "", common.Generation(err)
	}
	return text, nil
}
