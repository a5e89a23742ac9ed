package ai

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/tenantfirstaid/backend/internal/logging"
	"github.com/zhouzirui/tenantfirstaid/backend/internal/model/chat"
)

// ChainClient streams through an eino chat template + chat model chain.
// Used for the ark and openai providers, which have no retrieval tool.
type ChainClient struct {
	chain      compose.Runnable[map[string]any, *schema.Message]
	retries    int
	newBackoff func(ctx context.Context, retries int) backoff.BackOff
	log        *logging.Logger
}

// NewChainClient compiles the chain around chatModel.
func NewChainClient(ctx context.Context, chatModel model.ChatModel, retries int, log *logging.Logger) (*ChainClient, error) {
	if log == nil {
		log = logging.Nop()
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", false),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &ChainClient{
		chain:      runnable,
		retries:    retries,
		newBackoff: newRetryBackoff,
		log:        log.With("provider", "chain"),
	}, nil
}

// Stream implements Client.
func (c *ChainClient) Stream(ctx context.Context, req Request) (*schema.StreamReader[*schema.Message], error) {
	if req.Retrieval != nil {
		c.log.Debug().Str("filter", req.Retrieval.Filter.String()).Msg("provider has no retrieval tool, answering without it")
	}

	input := buildChainInput(req)
	stream, err := openWithRetry(c.newBackoff(ctx, c.retries), c.log, func() (*schema.StreamReader[*schema.Message], error) {
		return c.chain.Stream(ctx, input)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to stream AI chain output: %w", err)
	}
	return stream, nil
}

func buildChainInput(req Request) map[string]any {
	return map[string]any{
		"system":  req.Instructions,
		"history": toSchemaMessages(req.Messages),
	}
}

func toSchemaMessages(messages []chat.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleUser:
			out = append(out, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			out = append(out, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return out
}
