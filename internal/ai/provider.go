package ai

import (
	"context"
	"errors"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Provider interface {
	// Chat returns the assistant reply for messages, oldest first. The last
	// message is the user turn being answered.
	Chat(ctx context.Context, messages []Message) (string, error)
}

// ErrUnconfigured is returned when a provider has no credential.
var ErrUnconfigured = errors.New("ai: provider credential is not configured")

// SystemPrompt frames every generated reply.
const SystemPrompt = `You are a professional career counselor. Give helpful, accurate and supportive career advice.

Guidelines:
- Only answer career questions: job search, career development, skills, education, workplace issues, salary negotiation, interviews, resumes and professional growth.
- For anything else, politely explain that you can help with job search, career development, skills, interviews, resumes and workplace guidance, and ask how you can help with their career goals.
- Be supportive and professional.
- Give actionable advice with specific steps.
- Ask a follow-up question to better understand their situation.
- Keep replies concise, two to four paragraphs at most.`
