package ai

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/zhouzirui/tenantfirstaid/backend/internal/config"
	"github.com/zhouzirui/tenantfirstaid/backend/internal/logging"
	"github.com/zhouzirui/tenantfirstaid/backend/internal/model/chat"
)

const (
	defaultMaxOutputTokens = 65535
	streamBuffer           = 16
)

type generateStreamFunc func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]

// GeminiClient streams answers from Gemini. On Vertex AI the retrieval tool
// becomes one Vertex AI Search tool per filter clause.
type GeminiClient struct {
	model        string
	generate     generateStreamFunc
	vertex       bool
	showThinking bool
	temperature  float32
	topP         float32
	maxTokens    int32
	retries      int
	newBackoff   func(ctx context.Context, retries int) backoff.BackOff
	log          *logging.Logger
}

// NewGeminiClient connects with an API key when one is set, otherwise to
// Vertex AI using application default credentials.
func NewGeminiClient(ctx context.Context, cfg config.AIConfig, log *logging.Logger) (*GeminiClient, error) {
	clientCfg := &genai.ClientConfig{
		Backend:  genai.BackendVertexAI,
		Project:  cfg.Project,
		Location: cfg.Location,
	}
	if cfg.GeminiAPIKey != "" {
		clientCfg = &genai.ClientConfig{
			Backend: genai.BackendGeminiAPI,
			APIKey:  cfg.GeminiAPIKey,
		}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	c := newGeminiClient(client.Models.GenerateContentStream, cfg, log)
	c.vertex = clientCfg.Backend == genai.BackendVertexAI
	if !c.vertex && cfg.Datastore != "" {
		log.Warn().Msg("VERTEX_AI_DATASTORE is ignored with a Gemini API key; retrieval needs Vertex AI")
	}
	return c, nil
}

func newGeminiClient(generate generateStreamFunc, cfg config.AIConfig, log *logging.Logger) *GeminiClient {
	if log == nil {
		log = logging.Nop()
	}

	c := &GeminiClient{
		model:        cfg.Model,
		generate:     generate,
		showThinking: cfg.ShowThinking,
		maxTokens:    defaultMaxOutputTokens,
		retries:      cfg.OpenRetries,
		newBackoff:   newRetryBackoff,
		log:          log.With("provider", "gemini"),
	}
	if cfg.Temperature != nil {
		c.temperature = float32(*cfg.Temperature)
	}
	if cfg.TopP != nil {
		c.topP = float32(*cfg.TopP)
	}
	if cfg.MaxTokens != nil && *cfg.MaxTokens > 0 {
		c.maxTokens = int32(*cfg.MaxTokens)
	}
	return c
}

type openedStream struct {
	next  func() (*genai.GenerateContentResponse, error, bool)
	stop  func()
	first *genai.GenerateContentResponse
	ok    bool
}

// Stream implements Client. Opening is retried until the first response
// arrives; later failures end the stream with the provider error.
func (c *GeminiClient) Stream(ctx context.Context, req Request) (*schema.StreamReader[*schema.Message], error) {
	contents := toGenaiContents(req.Messages)
	genCfg := c.generateConfig(req)

	opened, err := openWithRetry(c.newBackoff(ctx, c.retries), c.log, func() (openedStream, error) {
		next, stop := iter.Pull2(c.generate(ctx, c.model, contents, genCfg))
		first, err, ok := next()
		if err != nil {
			stop()
			if errors.Is(err, context.Canceled) {
				return openedStream{}, backoff.Permanent(err)
			}
			return openedStream{}, err
		}
		return openedStream{next: next, stop: stop, first: first, ok: ok}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("gemini stream: %w", err)
	}

	sr, sw := schema.Pipe[*schema.Message](streamBuffer)
	go func() {
		defer sw.Close()
		defer opened.stop()

		resp, ok := opened.first, opened.ok
		for ok {
			if text := c.responseText(resp); text != "" {
				if closed := sw.Send(schema.AssistantMessage(text, nil), nil); closed {
					return
				}
			}

			var err error
			resp, err, ok = opened.next()
			if err != nil {
				sw.Send(nil, err)
				return
			}
		}
	}()

	return sr, nil
}

func (c *GeminiClient) generateConfig(req Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(c.temperature),
		TopP:            genai.Ptr(c.topP),
		MaxOutputTokens: c.maxTokens,
		SafetySettings: []*genai.SafetySetting{
			{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdOff},
			{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdOff},
			{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdOff},
			{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdOff},
		},
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: c.showThinking,
			ThinkingBudget:  genai.Ptr[int32](-1),
		},
	}

	if req.Instructions != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.Instructions, genai.RoleUser)
	}

	if req.Retrieval != nil && c.vertex {
		cfg.Tools = retrievalTools(req.Retrieval)
	}
	return cfg
}

// retrievalTools expands the filter into one tool per clause so every
// clause gets its own result budget.
func retrievalTools(tool *RetrievalTool) []*genai.Tool {
	maxResults := tool.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}

	tools := make([]*genai.Tool, 0, len(tool.Filter.Clauses))
	for _, clause := range tool.Filter.Clauses {
		tools = append(tools, &genai.Tool{
			Retrieval: &genai.Retrieval{
				VertexAISearch: &genai.VertexAISearch{
					Datastore:  tool.Datastore,
					Filter:     clause.String(),
					MaxResults: genai.Ptr(int32(maxResults)),
				},
			},
		})
	}
	return tools
}

func (c *GeminiClient) responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}

	var b strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil || part.Text == "" {
				continue
			}
			if part.Thought {
				if !c.showThinking {
					continue
				}
				b.WriteString("<i>")
				b.WriteString(part.Text)
				b.WriteString("</i>")
				continue
			}
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

func toGenaiContents(messages []chat.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		role := genai.Role(genai.RoleUser)
		if msg.Role == chat.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}
	return contents
}
