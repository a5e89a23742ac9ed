package ai

import (
	"bytes"
	"context"
	"errors"
	"io"
	"iter"
	"strings"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"google.golang.org/genai"

	"github.com/zhouzirui/tenantfirstaid/backend/internal/config"
	"github.com/zhouzirui/tenantfirstaid/backend/internal/logging"
	"github.com/zhouzirui/tenantfirstaid/backend/internal/model/chat"
)

// genai's transport dependencies start an opencensus worker on init.
var leakOpts = []goleak.Option{goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start")}

func noWait(_ context.Context, retries int) backoff.BackOff {
	return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, uint64(retries))
}

func drain(t *testing.T, sr *schema.StreamReader[*schema.Message]) (string, error) {
	t.Helper()
	defer sr.Close()

	var out string
	for {
		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out += msg.Content
	}
}

func textResponse(parts ...*genai.Part) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Role: string(genai.RoleModel), Parts: parts}}},
	}
}

type fakeGenerate struct {
	openFailures int
	calls        int
	responses    []*genai.GenerateContentResponse
	tailErr      error

	gotContents []*genai.Content
	gotConfig   *genai.GenerateContentConfig
}

func (f *fakeGenerate) stream(_ context.Context, _ string, contents []*genai.Content, cfg *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
	f.calls++
	f.gotContents = contents
	f.gotConfig = cfg
	failing := f.calls <= f.openFailures

	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		if failing {
			yield(nil, errors.New("503 unavailable"))
			return
		}
		for _, resp := range f.responses {
			if !yield(resp, nil) {
				return
			}
		}
		if f.tailErr != nil {
			yield(nil, f.tailErr)
		}
	}
}

func newTestGemini(f *fakeGenerate, cfg config.AIConfig) *GeminiClient {
	c := newGeminiClient(f.stream, cfg, nil)
	c.vertex = true
	c.newBackoff = noWait
	return c
}

func TestGeminiStreamsText(t *testing.T) {
	defer goleak.VerifyNone(t, leakOpts...)

	f := &fakeGenerate{responses: []*genai.GenerateContentResponse{
		textResponse(&genai.Part{Text: "Hello"}),
		textResponse(&genai.Part{Text: " world"}),
	}}
	c := newTestGemini(f, config.AIConfig{Model: "gemini-2.5-pro"})

	sr, err := c.Stream(context.Background(), Request{
		Messages: []chat.Message{
			chat.UserMessage("hi"),
			chat.AssistantMessage("hello"),
			chat.UserMessage("am I evicted?"),
		},
		Instructions: BuildInstructions("portland", "or"),
		Retrieval:    BuildRetrievalTool("ds", "portland", "or"),
	})
	require.NoError(t, err)

	got, err := drain(t, sr)
	require.NoError(t, err)
	assert.Equal(t, "Hello world", got)

	require.Len(t, f.gotContents, 3)
	assert.Equal(t, string(genai.RoleUser), f.gotContents[0].Role)
	assert.Equal(t, string(genai.RoleModel), f.gotContents[1].Role)
	assert.Equal(t, "am I evicted?", f.gotContents[2].Parts[0].Text)

	require.NotNil(t, f.gotConfig.SystemInstruction)
	assert.Contains(t, f.gotConfig.SystemInstruction.Parts[0].Text, "portland OR")
	assert.Len(t, f.gotConfig.SafetySettings, 4)
	require.Len(t, f.gotConfig.Tools, 2)
	assert.Equal(t, `city: ANY("portland") AND state: ANY("or")`, f.gotConfig.Tools[0].Retrieval.VertexAISearch.Filter)
	assert.Equal(t, `city: ANY("null") AND state: ANY("or")`, f.gotConfig.Tools[1].Retrieval.VertexAISearch.Filter)
	assert.Equal(t, int32(DefaultMaxResults), *f.gotConfig.Tools[0].Retrieval.VertexAISearch.MaxResults)
}

func TestGeminiDropsRetrievalWithoutVertex(t *testing.T) {
	defer goleak.VerifyNone(t, leakOpts...)

	f := &fakeGenerate{responses: []*genai.GenerateContentResponse{textResponse(&genai.Part{Text: "ok"})}}
	c := newTestGemini(f, config.AIConfig{})
	c.vertex = false

	sr, err := c.Stream(context.Background(), Request{
		Messages:  []chat.Message{chat.UserMessage("hi")},
		Retrieval: BuildRetrievalTool("ds", "null", "or"),
	})
	require.NoError(t, err)
	_, err = drain(t, sr)
	require.NoError(t, err)
	assert.Empty(t, f.gotConfig.Tools)
}

func TestGeminiThoughtParts(t *testing.T) {
	defer goleak.VerifyNone(t, leakOpts...)

	responses := []*genai.GenerateContentResponse{
		textResponse(&genai.Part{Text: "pondering", Thought: true}, &genai.Part{Text: "Answer"}),
	}

	hidden := newTestGemini(&fakeGenerate{responses: responses}, config.AIConfig{})
	sr, err := hidden.Stream(context.Background(), Request{Messages: []chat.Message{chat.UserMessage("q")}})
	require.NoError(t, err)
	got, err := drain(t, sr)
	require.NoError(t, err)
	assert.Equal(t, "Answer", got)

	shown := newTestGemini(&fakeGenerate{responses: responses}, config.AIConfig{ShowThinking: true})
	sr, err = shown.Stream(context.Background(), Request{Messages: []chat.Message{chat.UserMessage("q")}})
	require.NoError(t, err)
	got, err = drain(t, sr)
	require.NoError(t, err)
	assert.Equal(t, "<i>pondering</i>Answer", got)
}

func TestGeminiRetriesOpen(t *testing.T) {
	defer goleak.VerifyNone(t, leakOpts...)

	f := &fakeGenerate{
		openFailures: 2,
		responses:    []*genai.GenerateContentResponse{textResponse(&genai.Part{Text: "ok"})},
	}
	c := newTestGemini(f, config.AIConfig{OpenRetries: 2})

	sr, err := c.Stream(context.Background(), Request{Messages: []chat.Message{chat.UserMessage("q")}})
	require.NoError(t, err)
	got, err := drain(t, sr)
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, f.calls)
}

func TestGeminiGivesUpAfterRetries(t *testing.T) {
	defer goleak.VerifyNone(t, leakOpts...)

	f := &fakeGenerate{openFailures: 5}
	c := newTestGemini(f, config.AIConfig{OpenRetries: 1})

	_, err := c.Stream(context.Background(), Request{Messages: []chat.Message{chat.UserMessage("q")}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Equal(t, 2, f.calls)
}

func TestGeminiMidStreamError(t *testing.T) {
	defer goleak.VerifyNone(t, leakOpts...)

	f := &fakeGenerate{
		responses: []*genai.GenerateContentResponse{textResponse(&genai.Part{Text: "partial"})},
		tailErr:   errors.New("connection reset"),
	}
	c := newTestGemini(f, config.AIConfig{OpenRetries: 3})

	sr, err := c.Stream(context.Background(), Request{Messages: []chat.Message{chat.UserMessage("q")}})
	require.NoError(t, err)
	got, err := drain(t, sr)
	assert.Equal(t, "partial", got)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, 1, f.calls)
}

func TestGeminiReaderClosedEarly(t *testing.T) {
	defer goleak.VerifyNone(t, leakOpts...)

	f := &fakeGenerate{responses: []*genai.GenerateContentResponse{
		textResponse(&genai.Part{Text: "a"}),
		textResponse(&genai.Part{Text: "b"}),
		textResponse(&genai.Part{Text: "c"}),
	}}
	c := newTestGemini(f, config.AIConfig{})

	sr, err := c.Stream(context.Background(), Request{Messages: []chat.Message{chat.UserMessage("q")}})
	require.NoError(t, err)

	msg, err := sr.Recv()
	require.NoError(t, err)
	assert.Equal(t, "a", msg.Content)
	sr.Close()
}

type fakeChatModel struct {
	chunks       []string
	openFailures int
	calls        int
	got          []*schema.Message
}

func (m *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.got = input
	return schema.AssistantMessage("unused", nil), nil
}

func (m *fakeChatModel) Stream(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	m.calls++
	m.got = input
	if m.calls <= m.openFailures {
		return nil, errors.New("rate limited")
	}
	msgs := make([]*schema.Message, 0, len(m.chunks))
	for _, chunk := range m.chunks {
		msgs = append(msgs, schema.AssistantMessage(chunk, nil))
	}
	return schema.StreamReaderFromArray(msgs), nil
}

func (m *fakeChatModel) BindTools([]*schema.ToolInfo) error { return nil }

func TestChainClientStreams(t *testing.T) {
	fake := &fakeChatModel{chunks: []string{"Hello", " world"}, openFailures: 1}
	c, err := NewChainClient(context.Background(), fake, 2, nil)
	require.NoError(t, err)
	c.newBackoff = noWait

	sr, err := c.Stream(context.Background(), Request{
		Messages:     []chat.Message{chat.UserMessage("hi"), chat.AssistantMessage("hey"), chat.UserMessage("help")},
		Instructions: BuildInstructions("null", "or"),
		Retrieval:    BuildRetrievalTool("ds", "null", "or"),
	})
	require.NoError(t, err)

	got, err := drain(t, sr)
	require.NoError(t, err)
	assert.Equal(t, "Hello world", got)
	assert.Equal(t, 2, fake.calls)

	require.Len(t, fake.got, 4)
	assert.Equal(t, schema.System, fake.got[0].Role)
	assert.Contains(t, fake.got[0].Content, "The user is in  OR.")
	assert.Equal(t, schema.User, fake.got[1].Role)
	assert.Equal(t, schema.Assistant, fake.got[2].Role)
	assert.Equal(t, "help", fake.got[3].Content)
}

func TestNewRejectsMissingCredentials(t *testing.T) {
	_, err := New(context.Background(), config.AIConfig{Provider: config.ProviderOpenAI}, nil)
	require.ErrorIs(t, err, ErrDisabled)
}

func TestChainClientLogsSingleSubsystem(t *testing.T) {
	var buf bytes.Buffer
	c, err := NewChainClient(context.Background(), &fakeChatModel{chunks: []string{"ok"}}, 0, logging.New(&buf, "debug").Sub("ai"))
	require.NoError(t, err)

	sr, err := c.Stream(context.Background(), Request{
		Messages:  []chat.Message{chat.UserMessage("q")},
		Retrieval: BuildRetrievalTool("ds", "null", "or"),
	})
	require.NoError(t, err)
	_, err = drain(t, sr)
	require.NoError(t, err)

	line := strings.TrimSpace(buf.String())
	require.NotEmpty(t, line)
	assert.Equal(t, 1, strings.Count(line, `"subsystem"`), line)
	assert.Contains(t, line, `"provider":"chain"`)
}
