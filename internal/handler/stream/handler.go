package stream

import (
	"errors"
	"net/http"
	"strings"

	"github.com/zhouzirui/tenantfirstaid/backend/pkg/utils"
)

// ErrUnsupported is returned when the ResponseWriter cannot flush.
var ErrUnsupported = errors.New("streaming unsupported")

// Relay carries one streamed answer to an HTTP client. Headers are written
// lazily on the first chunk so the caller can still answer with a JSON
// error when the model fails before producing anything.
type Relay interface {
	Write(chunk string) error
	// Started reports whether the response status has been sent.
	Started() bool
	// Complete finishes a successful answer.
	Complete(answer string) error
	// Abort reports a failure after streaming began.
	Abort(message string)
}

// New picks the SSE relay when the client asked for text/event-stream,
// plain text otherwise.
func New(w http.ResponseWriter, r *http.Request) (Relay, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrUnsupported
	}
	if WantsEventStream(r) {
		return &sseRelay{w: w, flusher: flusher}, nil
	}
	return &textRelay{w: w, flusher: flusher}, nil
}

// WantsEventStream reports whether the Accept header asks for SSE.
func WantsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

// textRelay streams raw tokens as text/plain.
type textRelay struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func (t *textRelay) start() {
	if t.started {
		return
	}
	t.started = true
	t.w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	t.w.Header().Set("Cache-Control", "no-cache")
	t.w.Header().Set("X-Content-Type-Options", "nosniff")
	t.w.WriteHeader(http.StatusOK)
}

func (t *textRelay) Write(chunk string) error {
	t.start()
	if _, err := t.w.Write([]byte(chunk)); err != nil {
		return err
	}
	t.flusher.Flush()
	return nil
}

func (t *textRelay) Started() bool { return t.started }

func (t *textRelay) Complete(string) error {
	t.start()
	t.flusher.Flush()
	return nil
}

// Abort has nothing to add: a plain-text client only sees the connection end.
func (t *textRelay) Abort(string) {}

// Event 是 SSE 事件的 JSON 负载
type Event struct {
	Content  string `json:"content,omitempty"`
	Finished bool   `json:"finished,omitempty"`
	Error    string `json:"error,omitempty"`
}

// sseRelay frames tokens as delta events, then one end or error event.
type sseRelay struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func (s *sseRelay) start() {
	if s.started {
		return
	}
	s.started = true
	utils.SetupSSEHeaders(s.w)
	s.w.WriteHeader(http.StatusOK)
}

func (s *sseRelay) Write(chunk string) error {
	s.start()
	return utils.SendSSEEvent(s.w, s.flusher, "delta", Event{Content: chunk})
}

func (s *sseRelay) Started() bool { return s.started }

func (s *sseRelay) Complete(answer string) error {
	s.start()
	return utils.SendSSEEvent(s.w, s.flusher, "end", Event{Content: answer, Finished: true})
}

func (s *sseRelay) Abort(message string) {
	s.start()
	_ = utils.SendSSEEvent(s.w, s.flusher, "error", Event{Error: message, Finished: true})
}
