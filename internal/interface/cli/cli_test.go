package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanseviera/miage-projet-llm/internal/core/chunk"
	"github.com/sanseviera/miage-projet-llm/internal/core/index/indextest"
	"github.com/sanseviera/miage-projet-llm/internal/core/llm/llmtest"
	"github.com/sanseviera/miage-projet-llm/internal/platform/config"
	"github.com/sanseviera/miage-projet-llm/internal/platform/container"
)

// lockedBuffer はゴルーチンから書き込まれるログを保持します
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type harness struct {
	container *container.Container
	llm       *llmtest.Recorder
	logs      *lockedBuffer
	envFiles  []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Database.Backend = config.BackendMemory
	cfg.Index.Backend = config.IndexSQLite
	cfg.Index.Dir = t.TempDir()

	recorder := llmtest.NewRecorder("generated answer")
	logs := &lockedBuffer{}
	c, err := container.New(context.Background(), cfg,
		container.WithLogger(slog.New(slog.NewJSONHandler(logs, nil))),
		container.WithEmbedder(indextest.NewHashEmbedder()),
		container.WithLLMClient(recorder),
		container.WithTokenCounter(chunk.RuneCounter{}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, c.Close()) })

	return &harness{container: c, llm: recorder, logs: logs}
}

func (h *harness) factory(_ context.Context, envFile string) (*AppContext, error) {
	h.envFiles = append(h.envFiles, envFile)
	return &AppContext{Container: h.container}, nil
}

func (h *harness) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return h.runContext(t, context.Background(), args...)
}

func (h *harness) runContext(t *testing.T, ctx context.Context, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewCommand(WithAppContextFactory(h.factory))
	cmd.Writer = &out
	cmd.ErrWriter = &errOut
	err := cmd.Run(ctx, append([]string{"rag-chat"}, args...))
	return out.String(), errOut.String(), err
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestIndexCommands(t *testing.T) {
	h := newHarness(t)
	first := writeFile(t, "a.txt", "alpha")
	second := writeFile(t, "b.txt", "bravo")

	out, _, err := h.run(t, "index", "add", "--file", first, "--file", second)
	require.NoError(t, err)
	assert.Contains(t, out, "2")

	out, _, err = h.run(t, "index", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "alpha")
	assert.Contains(t, out, "bravo")

	out, _, err = h.run(t, "index", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "hash-embedding")

	_, _, err = h.run(t, "index", "clear")
	require.NoError(t, err)

	out, _, err = h.run(t, "index", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "index is empty")
}

func TestIndexAdd_ClearReplacesPassages(t *testing.T) {
	h := newHarness(t)

	_, _, err := h.run(t, "index", "add", "--file", writeFile(t, "a.txt", "alpha"))
	require.NoError(t, err)
	_, _, err = h.run(t, "index", "add", "--clear", "--file", writeFile(t, "b.txt", "bravo"))
	require.NoError(t, err)

	passages, err := h.container.Index.AllPassages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"bravo"}, passages)
}

func TestIndexAdd_MissingFile(t *testing.T) {
	h := newHarness(t)

	_, _, err := h.run(t, "index", "add", "--file", filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
	assert.Empty(t, h.envFiles, "container should not be opened when input cannot be read")
}

func TestChatAndSessionCommands(t *testing.T) {
	h := newHarness(t)

	out, _, err := h.run(t, "chat", "--session", "s1", "hello", "there")
	require.NoError(t, err)
	assert.Contains(t, out, "generated answer")

	last := h.llm.LastCall()
	require.NotEmpty(t, last)
	assert.Equal(t, "hello there", last[len(last)-1].Content)

	out, _, err = h.run(t, "session", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "s1")

	out, _, err = h.run(t, "session", "history", "--session", "s1")
	require.NoError(t, err)
	assert.Contains(t, out, "session s1 (created ")
	assert.Contains(t, out, "hello there")
	assert.Contains(t, out, "generated answer")

	out, _, err = h.run(t, "session", "history", "--session", "unknown")
	require.NoError(t, err)
	assert.Contains(t, out, "no messages")
}

func TestChat_WithRAGShowsPassages(t *testing.T) {
	h := newHarness(t)
	_, err := h.container.Index.Index(context.Background(), []string{"channels connect goroutines"}, false)
	require.NoError(t, err)

	out, _, err := h.run(t, "chat", "--session", "s1", "--rag", "what do channels connect")
	require.NoError(t, err)
	assert.Contains(t, out, "channels connect goroutines")
}

func TestChat_RequiresMessageAndSession(t *testing.T) {
	h := newHarness(t)

	_, _, err := h.run(t, "chat", "--session", "s1")
	assert.Error(t, err)

	_, _, err = h.run(t, "chat", "hello")
	assert.Error(t, err)
}

func TestEnvFlagIsPassedToFactory(t *testing.T) {
	h := newHarness(t)

	_, _, err := h.run(t, "session", "list", "--env", "custom.env")
	require.NoError(t, err)
	_, _, err = h.run(t, "index", "stats")
	require.NoError(t, err)

	assert.Equal(t, []string{"custom.env", ".env"}, h.envFiles)
}

func TestPreview(t *testing.T) {
	short := "short"
	assert.Equal(t, short, preview(short))

	long := string(bytes.Repeat([]byte("あ"), previewRunes+5))
	got := preview(long)
	assert.Equal(t, previewRunes+3, len([]rune(got)))
}

func TestServerStart_StopsWithContextAndLogsBackends(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := h.runContext(t, ctx, "server", "start", "--port", strconv.Itoa(freePort(t)))
	require.NoError(t, err)

	var started map[string]any
	for _, line := range strings.Split(strings.TrimSpace(h.logs.String()), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry["msg"] == "starting server" {
			started = entry
		}
	}
	require.NotNil(t, started, "starting server log not found")
	assert.Equal(t, "sqlite", started["indexBackend"])
	assert.Equal(t, "memory", started["conversationBackend"])
}

func TestServerStart_RejectsInvalidPort(t *testing.T) {
	h := newHarness(t)

	_, _, err := h.run(t, "server", "start", "--port", "70000")
	assert.ErrorContains(t, err, "invalid port")
}

func TestSessionHistory_PersistsAcrossInvocations(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Database.Backend = config.BackendSQLite
	cfg.Database.SQLitePath = filepath.Join(t.TempDir(), "data", "conversations.db")
	cfg.Index.Backend = config.IndexSQLite
	cfg.Index.Dir = filepath.Join(t.TempDir(), "index")

	// 実行ごとに新しいコンテナを開き、終了時に閉じる
	factory := func(ctx context.Context, _ string) (*AppContext, error) {
		c, err := container.New(ctx, cfg,
			container.WithLogger(slog.New(slog.NewJSONHandler(&lockedBuffer{}, nil))),
			container.WithEmbedder(indextest.NewHashEmbedder()),
			container.WithLLMClient(llmtest.NewRecorder("stored answer")),
			container.WithTokenCounter(chunk.RuneCounter{}),
		)
		if err != nil {
			return nil, err
		}
		return &AppContext{Container: c, close: c.Close}, nil
	}
	run := func(args ...string) string {
		var out bytes.Buffer
		cmd := NewCommand(WithAppContextFactory(factory))
		cmd.Writer = &out
		cmd.ErrWriter = &bytes.Buffer{}
		require.NoError(t, cmd.Run(context.Background(), append([]string{"rag-chat"}, args...)))
		return out.String()
	}

	run("chat", "--session", "s1", "first question")

	assert.Contains(t, run("session", "list"), "s1")
	history := run("session", "history", "--session", "s1")
	assert.Contains(t, history, "first question")
	assert.Contains(t, history, "stored answer")
}
