package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanseviera/miage-projet-llm/internal/core/chat"
	"github.com/sanseviera/miage-projet-llm/internal/core/chunk"
	"github.com/sanseviera/miage-projet-llm/internal/core/conversation"
	"github.com/sanseviera/miage-projet-llm/internal/core/index"
	"github.com/sanseviera/miage-projet-llm/internal/core/index/indextest"
	"github.com/sanseviera/miage-projet-llm/internal/core/llm"
	"github.com/sanseviera/miage-projet-llm/internal/core/llm/llmtest"
	"github.com/sanseviera/miage-projet-llm/internal/core/session"
	"github.com/sanseviera/miage-projet-llm/internal/core/summary"
	"github.com/sanseviera/miage-projet-llm/internal/infra/memory"
	"github.com/sanseviera/miage-projet-llm/internal/interface/httpapi"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// appendFailingStore は Append だけが失敗する会話ストア
type appendFailingStore struct {
	*memory.ConversationStore
}

func (s *appendFailingStore) Append(context.Context, string, ...conversation.Message) error {
	return errors.New("store unavailable")
}

type recordedRequest struct {
	route  string
	status int
}

type fakeRecorder struct {
	mu       sync.Mutex
	requests []recordedRequest
}

func (r *fakeRecorder) RecordHTTPRequest(route string, status int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, recordedRequest{route: route, status: status})
}

func (r *fakeRecorder) Requests() []recordedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedRequest(nil), r.requests...)
}

type testServer struct {
	handler  http.Handler
	memory   *session.Store
	recorder *fakeRecorder
}

type serverOptions struct {
	store   conversation.Store
	reply   llmtest.Func
	maxBody int64
}

func newTestServer(t *testing.T, so serverOptions) *testServer {
	t.Helper()

	splitter, err := chunk.NewSplitter(chunk.DefaultConfig())
	require.NoError(t, err)
	idx := index.NewService(memory.NewPassageStore(), indextest.NewHashEmbedder(), splitter, index.WithLogger(discardLogger()))

	reply := so.reply
	if reply == nil {
		reply = func(_ context.Context, messages []llm.Message) (string, error) {
			for _, m := range messages {
				if m.Role == llm.RoleSystem && strings.HasPrefix(m.Content, "Context: ") {
					return "from documents: " + strings.TrimPrefix(m.Content, "Context: "), nil
				}
			}
			return "echo: " + messages[len(messages)-1].Content, nil
		}
	}

	var store conversation.Store = memory.NewConversationStore()
	if so.store != nil {
		store = so.store
	}

	sessions := session.NewStore(session.DefaultConfig(), session.WithLogger(discardLogger()))
	t.Cleanup(sessions.Close)

	chatSvc := chat.NewService(store, sessions, idx, reply, chat.DefaultConfig(), chat.WithLogger(discardLogger()))
	recorder := &fakeRecorder{}

	opts := []httpapi.Option{
		httpapi.WithLogger(discardLogger()),
		httpapi.WithMetrics(recorder, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, "metrics")
		})),
	}
	if so.maxBody > 0 {
		opts = append(opts, httpapi.WithMaxRequestBytes(so.maxBody))
	}

	srv := httpapi.New(httpapi.Deps{
		Chat:    chatSvc,
		Index:   idx,
		Memory:  sessions,
		Summary: summary.NewService(reply, summary.WithLogger(discardLogger())),
	}, opts...)

	return &testServer{handler: srv.Handler(), memory: sessions, recorder: recorder}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestChat_PersistsHistory(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	rec := ts.do(t, http.MethodPost, "/chat", map[string]string{"message": "Hello", "session_id": "s1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "echo: Hello", decode[map[string]string](t, rec)["response"])

	rec = ts.do(t, http.MethodGet, "/history/s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[[]map[string]string](t, rec)
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0]["role"])
	assert.Equal(t, "Hello", history[0]["content"])
	assert.Equal(t, "assistant", history[1]["role"])
	assert.NotEmpty(t, history[1]["timestamp"])
}

func TestChat_UnknownSessionHistoryIsEmpty(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	rec := ts.do(t, http.MethodGet, "/history/nobody", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestChatRAG_UsesIndexedDocuments(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	rec := ts.do(t, http.MethodPost, "/documents/index", map[string]any{
		"texts": []string{"The capital of France is Paris."},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	indexed := decode[map[string]any](t, rec)
	assert.EqualValues(t, 1, indexed["documents"])
	assert.EqualValues(t, 1, indexed["passages"])

	rec = ts.do(t, http.MethodPost, "/chat/rag", map[string]string{"message": "What is the capital of France?", "session_id": "s1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec)["response"], "Paris")
}

func TestChatRAG_EmptyIndexStillAnswers(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	rec := ts.do(t, http.MethodPost, "/chat/rag", map[string]string{"message": "Hi", "session_id": "s1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "echo: Hi", decode[map[string]string](t, rec)["response"])
}

func TestChat_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		opts   serverOptions
		body   any
		status int
	}{
		{
			name:   "不正なJSON",
			body:   "{not json",
			status: http.StatusBadRequest,
		},
		{
			name:   "空のメッセージ",
			body:   map[string]string{"message": "  ", "session_id": "s1"},
			status: http.StatusBadRequest,
		},
		{
			name:   "セッションIDなし",
			body:   map[string]string{"message": "hi"},
			status: http.StatusBadRequest,
		},
		{
			name: "生成失敗",
			opts: serverOptions{reply: func(context.Context, []llm.Message) (string, error) {
				return "", errors.New("upstream down")
			}},
			body:   map[string]string{"message": "hi", "session_id": "s1"},
			status: http.StatusBadGateway,
		},
		{
			name:   "ボディ上限超過",
			opts:   serverOptions{maxBody: 16},
			body:   map[string]string{"message": strings.Repeat("x", 64), "session_id": "s1"},
			status: http.StatusRequestEntityTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, tt.opts)
			rec := ts.do(t, http.MethodPost, "/chat", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.NotEmpty(t, decode[map[string]string](t, rec)["error"])
		})
	}
}

func TestChat_PersistenceFailureReturnsWarning(t *testing.T) {
	ts := newTestServer(t, serverOptions{store: &appendFailingStore{memory.NewConversationStore()}})

	rec := ts.do(t, http.MethodPost, "/chat", map[string]string{"message": "Hello", "session_id": "s1"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Equal(t, "echo: Hello", body["response"])
	assert.NotEmpty(t, body["warning"])
}

func TestDocuments_ListClearAndStats(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	rec := ts.do(t, http.MethodGet, "/chat/documents", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"documents":[]}`, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/documents/index", map[string]any{
		"texts": []string{"line one\nline two", "second document"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/chat/documents", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	docs := decode[map[string][]string](t, rec)["documents"]
	assert.Equal(t, []string{"line one line two", "second document"}, docs)

	rec = ts.do(t, http.MethodGet, "/documents/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[map[string]any](t, rec)
	assert.EqualValues(t, 2, stats["passages"])
	assert.Equal(t, "hash-embedding", stats["model"])
	assert.EqualValues(t, indextest.DefaultDimension, stats["dimension"])

	rec = ts.do(t, http.MethodDelete, "/documents", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/chat/documents", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"documents":[]}`, rec.Body.String())
}

func TestDocuments_IndexValidation(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	rec := ts.do(t, http.MethodPost, "/documents/index", map[string]any{"texts": []string{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDocuments_IndexMultipart(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, content := range map[string]string{"a.txt": "alpha document", "b.txt": "beta document"} {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = io.WriteString(fw, content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.WriteField("clear_existing", "true"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/documents/index", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 2, decode[map[string]any](t, rec)["documents"])
}

func TestSessions_NewAndList(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	rec := ts.do(t, http.MethodPost, "/chat/new-session", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	id := decode[map[string]string](t, rec)["session_id"]
	require.NotEmpty(t, id)

	rec = ts.do(t, http.MethodPost, "/chat", map[string]string{"message": "hi", "session_id": "persisted"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/chat/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sessions := decode[map[string][]string](t, rec)["sessions"]
	assert.Contains(t, sessions, id)
	assert.Contains(t, sessions, "persisted")
}

func TestHistory_Delete(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	rec := ts.do(t, http.MethodPost, "/chat", map[string]string{"message": "hi", "session_id": "s1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/history/s1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/history/s1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMemory_TagMetadataAndClear(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	rec := ts.do(t, http.MethodGet, "/chat/memory/s1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/chat", map[string]string{"message": "hi", "session_id": "s1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/chat/memory/tag", map[string]string{"session_id": "s1", "tag": "work"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodPost, "/chat/memory/tag", map[string]string{"session_id": "s1", "tag": "work"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/chat/memory/s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	meta := decode[map[string]any](t, rec)
	assert.Equal(t, "s1", meta["session_id"])
	assert.EqualValues(t, 2, meta["message_count"])
	assert.Equal(t, []any{"work"}, meta["tags"])
	assert.Nil(t, meta["summary"])
	assert.Equal(t, true, meta["is_active"])

	rec = ts.do(t, http.MethodPost, "/chat/memory/clear", map[string]string{"session_id": "s1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/chat/memory/s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	meta = decode[map[string]any](t, rec)
	assert.EqualValues(t, 0, meta["message_count"])
	assert.Equal(t, []any{}, meta["tags"])

	rec = ts.do(t, http.MethodPost, "/chat/memory/tag", map[string]string{"session_id": "s1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSummarize(t *testing.T) {
	var (
		mu      sync.Mutex
		prompts []string
	)
	reply := llmtest.Func(func(_ context.Context, messages []llm.Message) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		prompts = append(prompts, messages[0].Content)
		switch len(prompts) {
		case 1:
			return "A detailed summary.", nil
		case 2:
			return "- point one\n- point two\n\n- point three", nil
		default:
			return "One line.", nil
		}
	})
	ts := newTestServer(t, serverOptions{reply: reply})

	rec := ts.do(t, http.MethodPost, "/summarize", map[string]any{"text": "Some long\ntext", "max_length": 9})
	require.Equal(t, http.StatusOK, rec.Code)
	result := decode[map[string]any](t, rec)
	assert.Equal(t, "A detailed summary.", result["full_summary"])
	assert.Len(t, result["bullet_points"], 3)
	assert.Equal(t, "One line.", result["one_liner"])

	mu.Lock()
	assert.Contains(t, prompts[0], "Some long")
	assert.NotContains(t, prompts[0], "long text")
	mu.Unlock()

	rec = ts.do(t, http.MethodPost, "/summarize", map[string]any{"text": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMiddleware_CORSAndMetrics(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	rec := ts.do(t, http.MethodOptions, "/chat", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = ts.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = ts.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, "metrics", rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	requests := ts.recorder.Requests()
	require.Len(t, requests, 4)
	assert.Equal(t, recordedRequest{route: "GET /healthz", status: http.StatusOK}, requests[1])
	assert.Equal(t, recordedRequest{route: "unmatched", status: http.StatusNotFound}, requests[3])
}
