package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/zhouzirui/tenantfirstaid/backend/internal/logging"
	"github.com/zhouzirui/tenantfirstaid/backend/internal/model/chat"
	"github.com/zhouzirui/tenantfirstaid/backend/internal/service/ai"
)

const defaultPersistTimeout = 10 * time.Second

var (
	ErrEmptyMessage = errors.New("message is required")
	// ErrModelUnavailable is returned by Query when no model client is configured.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrClientGone wraps sink write failures.
	ErrClientGone = errors.New("client disconnected")
)

// Store is the part of the session store the controller needs.
type Store interface {
	Get(ctx context.Context, id string) (chat.Record, error)
	Set(ctx context.Context, id string, rec chat.Record) error
	Init(ctx context.Context, id, city, state string) (chat.Record, error)
	Delete(ctx context.Context, id string) error
}

// Sink receives answer text in the order the model produced it.
type Sink interface {
	Write(chunk string) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(chunk string) error

func (f SinkFunc) Write(chunk string) error { return f(chunk) }

// Outcome describes how far a round trip got.
type Outcome struct {
	State    State
	Streamed int    // bytes handed to the sink
	Answer   string // text received from the model, partial on failure
	Err      error  // model or relay failure, already recorded in history
}

// Service runs chat round trips against the session store and the model.
type Service struct {
	store          Store
	client         ai.Client
	datastore      string
	maxResults     int
	persistTimeout time.Duration
	log            *logging.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithDatastore enables retrieval against the given datastore.
func WithDatastore(datastore string, maxResults int) Option {
	return func(s *Service) {
		s.datastore = datastore
		s.maxResults = maxResults
	}
}

// WithPersistTimeout bounds the final session write.
func WithPersistTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.persistTimeout = d
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(log *logging.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// NewService wires the controller.
func NewService(store Store, client ai.Client, opts ...Option) *Service {
	s := &Service{
		store:          store,
		client:         client,
		persistTimeout: defaultPersistTimeout,
		log:            logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ModelReady reports whether a model client is configured.
func (s *Service) ModelReady() bool {
	return s.client != nil
}

// Init starts a new conversation for sessionID, discarding any previous one.
func (s *Service) Init(ctx context.Context, sessionID, city, state string) (chat.Record, error) {
	return s.store.Init(ctx, sessionID, city, state)
}

// History returns the stored conversation for sessionID.
func (s *Service) History(ctx context.Context, sessionID string) ([]chat.Message, error) {
	rec, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return rec.History(), nil
}

// Forget deletes the stored conversation for sessionID.
func (s *Service) Forget(ctx context.Context, sessionID string) error {
	return s.store.Delete(ctx, sessionID)
}

// Query appends message to the session, streams the model's answer into sink
// and persists the updated conversation.
//
// Model and relay failures do not fail the call: they are stored as an
// assistant turn prefixed with chat.ErrorMarker and reported in Outcome.Err.
// The returned error is the persist failure, if any. The final write uses a
// context detached from ctx's cancellation, so a client disconnect still
// saves the turn. A panic in the model client or sink is recovered and
// recorded like any other model failure.
func (s *Service) Query(ctx context.Context, sessionID, message string, sink Sink) (out Outcome, persistErr error) {
	if strings.TrimSpace(message) == "" {
		return Outcome{}, ErrEmptyMessage
	}
	if s.client == nil {
		return Outcome{}, ErrModelUnavailable
	}

	log := s.log.With("session_id", sessionID)

	rec, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return Outcome{State: StateError, Err: err}, err
	}
	rec.Append(chat.UserMessage(message))
	out.State = StateLoaded

	var answer strings.Builder
	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("model panic: %v", r)
			log.Error().Interface("panic", r).Msg("recovered panic during round trip")
		}
		out.Answer = answer.String()
		if out.Err != nil {
			out.State = StateError
			rec.Append(chat.AssistantMessage(chat.ErrorMarker + out.Err.Error()))
		} else {
			rec.Append(chat.AssistantMessage(out.Answer))
		}

		persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.persistTimeout)
		defer cancel()

		if err := s.store.Set(persistCtx, sessionID, rec); err != nil {
			persistErr = fmt.Errorf("persist session: %w", err)
			log.Error().Err(err).Msg("failed to persist conversation")
			return
		}
		if out.Err == nil {
			out.State = StatePersisted
		}
		log.Debug().Int("messages", len(rec.Messages)).Str("state", out.State.String()).Msg("conversation persisted")
	}()

	retrieval := ai.BuildRetrievalTool(s.datastore, rec.City, rec.State)
	if retrieval != nil && s.maxResults > 0 {
		retrieval.MaxResults = s.maxResults
	}

	out.State = StateSentToModel
	stream, err := s.client.Stream(ctx, ai.Request{
		Messages:     rec.History(),
		Instructions: ai.BuildInstructions(rec.City, rec.State),
		Retrieval:    retrieval,
	})
	if err != nil {
		out.Err = err
		log.Warn().Err(err).Msg("model request failed")
		return out, nil
	}
	defer stream.Close()

	out.State = StateStreaming
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			out.Err = err
			log.Warn().Err(err).Int("streamed", out.Streamed).Msg("model stream failed")
			return out, nil
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}

		answer.WriteString(chunk.Content)
		if err := sink.Write(chunk.Content); err != nil {
			out.Err = fmt.Errorf("%w: %v", ErrClientGone, err)
			log.Info().Err(err).Int("streamed", out.Streamed).Msg("client went away mid-stream")
			return out, nil
		}
		out.Streamed += len(chunk.Content)
	}

	return out, nil
}
