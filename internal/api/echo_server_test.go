package api

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/textgen/internal/inference"
)

type testProvider struct {
	engine   inference.Engine
	defaults inference.GenDefaults
	models   []string
	err      error
}

func (p testProvider) WithEngine(ctx context.Context, modelID string, fn func(engine inference.Engine, defaults inference.GenDefaults) error) error {
	if p.err != nil {
		return p.err
	}
	return fn(p.engine, p.defaults)
}

func (p testProvider) ListModels() ([]string, error) { return p.models, nil }

// testEngine streams its chunks and reports stop as the stop reason.
type testEngine struct {
	chunks []string
	stop   string
	err    error

	mu   sync.Mutex
	last *inference.Request
}

func (e *testEngine) Generate(ctx context.Context, req *inference.Request, stream inference.StreamFunc) (*inference.Result, error) {
	e.mu.Lock()
	e.last = req
	e.mu.Unlock()
	var text strings.Builder
	for _, c := range e.chunks {
		if stream != nil {
			stream(c)
		}
		text.WriteString(c)
	}
	if e.err != nil {
		return nil, e.err
	}
	stop := e.stop
	if stop == "" {
		stop = inference.StopReasonEOS
	}
	return &inference.Result{
		Text:       text.String(),
		PromptText: req.Prompt,
		StopReason: stop,
		Stats:      inference.Stats{PromptTokens: 2, TokensGenerated: len(e.chunks), TPS: 10},
	}, nil
}

func (e *testEngine) Close() error { return nil }

func newTestEcho(p testProvider) *echo.Echo {
	service := NewGenerationService(p, nil)
	server := NewServer(NewGenerationStore(0), service, p)
	e := echo.New()
	server.Register(e)
	return e
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

type sseEvent struct {
	name string
	data streamEvent
}

func readSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var out []sseEvent
	var cur sseEvent
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &cur.data))
		case line == "":
			if cur.name != "" {
				out = append(out, cur)
			}
			cur = sseEvent{}
		}
	}
	return out
}

func TestGenerateLifecycle(t *testing.T) {
	t.Parallel()

	engine := &testEngine{chunks: []string{"Hel", "lo"}}
	e := newTestEcho(testProvider{engine: engine})

	rec := doJSON(t, e, http.MethodPost, "/v1/generate", `{"prompt":"Say hi","max_tokens":8,"temperature":0.5,"seed":7}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	gen := decodeBody[Generation](t, rec)
	assert.True(t, strings.HasPrefix(gen.ID, "gen_"))
	assert.Equal(t, StatusCompleted, gen.Status)
	assert.Equal(t, "Hello", gen.Text)
	assert.Equal(t, "Say hi", gen.PromptText)
	assert.Equal(t, inference.StopReasonEOS, gen.StopReason)
	require.NotNil(t, gen.Usage)
	assert.Equal(t, 4, gen.Usage.TotalTokens)
	require.NotNil(t, gen.CompletedAt)

	require.NotNil(t, engine.last)
	assert.Equal(t, 8, engine.last.Steps)
	assert.Equal(t, uint64(7), engine.last.Seed)
	require.NotNil(t, engine.last.Temperature)
	assert.Equal(t, 0.5, *engine.last.Temperature)

	rec = doJSON(t, e, http.MethodGet, "/v1/generations/"+gen.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, gen.ID, decodeBody[Generation](t, rec).ID)

	rec = doJSON(t, e, http.MethodDelete, "/v1/generations/"+gen.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[DeleteGenerationResp](t, rec).Deleted)

	rec = doJSON(t, e, http.MethodGet, "/v1/generations/"+gen.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGenerateDefaultsMaxTokens(t *testing.T) {
	t.Parallel()

	engine := &testEngine{chunks: []string{"x"}}
	e := newTestEcho(testProvider{engine: engine})
	rec := doJSON(t, e, http.MethodPost, "/v1/generate", `{"prompt":"p","store":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, DefaultMaxTokens, engine.last.Steps)

	gen := decodeBody[Generation](t, rec)
	rec = doJSON(t, e, http.MethodGet, "/v1/generations/"+gen.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "store=false must not keep the generation")
}

func TestGenerateBudgetIsIncomplete(t *testing.T) {
	t.Parallel()

	e := newTestEcho(testProvider{engine: &testEngine{chunks: []string{"a"}, stop: inference.StopReasonMaxTokens}})
	rec := doJSON(t, e, http.MethodPost, "/v1/generate", `{"prompt":"p","max_tokens":1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	gen := decodeBody[Generation](t, rec)
	assert.Equal(t, StatusIncomplete, gen.Status)
	require.NotNil(t, gen.IncompleteDetails)
	assert.Equal(t, inference.StopReasonMaxTokens, gen.IncompleteDetails.Reason)
}

func TestGenerateValidationErrors(t *testing.T) {
	t.Parallel()

	e := newTestEcho(testProvider{engine: &testEngine{}})
	for name, body := range map[string]string{
		"bad json":          `{`,
		"missing prompt":    `{"max_tokens":3}`,
		"negative tokens":   `{"prompt":"p","max_tokens":-1}`,
		"bad repeat window": `{"prompt":"p","repeat_last_n":-2}`,
		"zero penalty":      `{"prompt":"p","repeat_penalty":0}`,
	} {
		rec := doJSON(t, e, http.MethodPost, "/v1/generate", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
		assert.Contains(t, rec.Body.String(), "invalid_request_error", name)
	}
}

func TestGenerateProviderErrors(t *testing.T) {
	t.Parallel()

	e := newTestEcho(testProvider{err: ErrModelNotFound})
	rec := doJSON(t, e, http.MethodPost, "/v1/generate", `{"prompt":"p","model":"nope"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	e = newTestEcho(testProvider{engine: &testEngine{err: errors.New("forward exploded")}})
	rec = doJSON(t, e, http.MethodPost, "/v1/generate", `{"prompt":"p"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "forward exploded")
}

func TestGenerateStreaming(t *testing.T) {
	t.Parallel()

	e := newTestEcho(testProvider{engine: &testEngine{chunks: []string{"a", "b", "c"}}})
	rec := doJSON(t, e, http.MethodPost, "/v1/generate", `{"prompt":"p","stream":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))

	events := readSSE(t, rec.Body.String())
	require.Len(t, events, 5)
	assert.Equal(t, "generation.created", events[0].name)
	var deltas []string
	for i, ev := range events[1:4] {
		assert.Equal(t, "generation.delta", ev.name)
		assert.Equal(t, i+2, ev.data.SequenceNumber)
		deltas = append(deltas, ev.data.Delta)
	}
	assert.Equal(t, []string{"a", "b", "c"}, deltas)
	assert.Equal(t, "generation.completed", events[4].name)
	require.NotNil(t, events[4].data.Generation)
	assert.Equal(t, "abc", events[4].data.Generation.Text)
}

func TestGenerateStreamingStartingAfter(t *testing.T) {
	t.Parallel()

	e := newTestEcho(testProvider{engine: &testEngine{chunks: []string{"a", "b"}}})
	rec := doJSON(t, e, http.MethodPost, "/v1/generate?starting_after=2", `{"prompt":"p","stream":true}`)
	events := readSSE(t, rec.Body.String())
	require.Len(t, events, 2)
	assert.Equal(t, "b", events[0].data.Delta)
	assert.Equal(t, "generation.completed", events[1].name)
}

func TestGenerateStreamingFailure(t *testing.T) {
	t.Parallel()

	e := newTestEcho(testProvider{engine: &testEngine{chunks: []string{"a", "b"}, err: errors.New("boom")}})
	rec := doJSON(t, e, http.MethodPost, "/v1/generate", `{"prompt":"p","stream":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	events := readSSE(t, rec.Body.String())
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, "generation.failed", last.name)
	require.NotNil(t, last.data.Generation)
	require.NotNil(t, last.data.Generation.Error)
	assert.Equal(t, "boom", last.data.Generation.Error.Message)
	assert.Equal(t, "ab", last.data.Generation.Text, "delivered deltas are kept")

	rec = doJSON(t, e, http.MethodGet, "/v1/generations/"+last.data.Generation.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	stored := decodeBody[Generation](t, rec)
	assert.Equal(t, StatusFailed, stored.Status)
	assert.Equal(t, "ab", stored.Text)
}

func TestGenerateForwardsEchoPrompt(t *testing.T) {
	t.Parallel()

	engine := &testEngine{chunks: []string{"x"}}
	e := newTestEcho(testProvider{engine: engine})
	rec := doJSON(t, e, http.MethodPost, "/v1/generate", `{"prompt":"p","echo_prompt":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	engine.mu.Lock()
	defer engine.mu.Unlock()
	require.NotNil(t, engine.last)
	assert.True(t, engine.last.EchoPrompt)
}

func TestGenerateStreamingCancelled(t *testing.T) {
	t.Parallel()

	e := newTestEcho(testProvider{engine: &testEngine{err: context.Canceled}})
	rec := doJSON(t, e, http.MethodPost, "/v1/generate", `{"prompt":"p","stream":true}`)
	events := readSSE(t, rec.Body.String())
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, "generation.incomplete", last.name)
	assert.Equal(t, "cancelled", last.data.Generation.IncompleteDetails.Reason)
}

func TestListModelsAndHealth(t *testing.T) {
	t.Parallel()

	e := newTestEcho(testProvider{engine: &testEngine{}, models: []string{"alpha", "beta"}})
	rec := doJSON(t, e, http.MethodGet, "/v1/models", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[ModelList](t, rec)
	require.Len(t, list.Data, 2)
	assert.Equal(t, "alpha", list.Data[0].ID)
	assert.Equal(t, "model", list.Data[0].Object)

	rec = doJSON(t, e, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestGenerationStoreEvictsOldest(t *testing.T) {
	t.Parallel()

	s := NewGenerationStore(2)
	s.Save(Generation{ID: "a"})
	s.Save(Generation{ID: "b"})
	s.Save(Generation{ID: "c"})
	_, ok := s.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Delete("b"))
	assert.False(t, s.Delete("b"))
	assert.Equal(t, 1, s.Len())
}
