package providers

import (
	"context"

	"github.com/zatekoja/concussionrehab/internal/domain/entities"
)

// ChatCompletionProvider sends a conversation to a hosted model and returns its reply text.
type ChatCompletionProvider interface {
	Complete(ctx context.Context, messages []entities.ChatMessage) (string, error)
}

// ExemplarSource supplies the cached few-shot bundle used to augment prompts.
type ExemplarSource interface {
	LoadExemplars(ctx context.Context) (*entities.FewShotBundle, error)
}
