package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/steveyegge/polyrev/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// messagesServer stands in for the Messages API. It records request bodies
// and answers each call with "reply-N", or with status when it is non-zero.
type messagesServer struct {
	*httptest.Server

	mu     sync.Mutex
	bodies []string
}

func newMessagesServer(t *testing.T, status int, delay time.Duration) *messagesServer {
	t.Helper()
	s := &messagesServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.bodies = append(s.bodies, string(body))
		n := len(s.bodies)
		s.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if status != 0 {
			w.WriteHeader(status)
			fmt.Fprintf(w, `{"type":"error","error":{"type":"api_error","message":"status %d"}}`, status)
			return
		}
		fmt.Fprintf(w, `{"id":"msg_%d","type":"message","role":"assistant","model":"claude-test",`+
			`"content":[{"type":"text","text":"reply-%d"}],"stop_reason":"end_turn","stop_sequence":null,`+
			`"usage":{"input_tokens":10,"output_tokens":5}}`, n, n)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *messagesServer) body(i int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bodies[i]
}

// sessions returns the number of conversations currently held.
func (a *AnthropicAPI) sessions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.conversations)
}

func newTestAnthropic(t *testing.T, baseURL string) *AnthropicAPI {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\n"), 0o644))
	a, err := NewAnthropicAPI(AnthropicConfig{APIKey: "sk-test", BaseURL: baseURL, WorkingDir: dir})
	require.NoError(t, err)
	return a
}

func TestAnthropicAPI_SingleChunk(t *testing.T) {
	srv := newMessagesServer(t, 0, 0)
	a := newTestAnthropic(t, srv.URL)

	resp, err := a.Invoke(context.Background(), Request{
		JobID: "security", Prompt: "review", Files: []string{"a.go"}, TotalChunks: 1,
	})
	require.NoError(t, err)

	assert.Equal(t, "reply-1", resp.RawOutput)
	assert.Empty(t, resp.SessionToken, "single-chunk jobs do not carry a session")
	assert.Equal(t, 0, a.sessions())

	body := srv.body(0)
	assert.Equal(t, int64(1), gjson.Get(body, "messages.#").Int())
	assert.Contains(t, gjson.Get(body, "messages.0.content.0.text").String(), "package a")
}

func TestAnthropicAPI_ConversationAcrossChunks(t *testing.T) {
	srv := newMessagesServer(t, 0, 0)
	a := newTestAnthropic(t, srv.URL)
	ctx := context.Background()

	first, err := a.Invoke(ctx, Request{JobID: "security", Prompt: "chunk one", Files: []string{"a.go"}, TotalChunks: 2})
	require.NoError(t, err)
	require.NotEmpty(t, first.SessionToken)
	assert.Equal(t, 1, a.sessions())

	second, err := a.Invoke(ctx, Request{
		JobID: "security", Prompt: "chunk two", Files: []string{"a.go"},
		SessionToken: first.SessionToken, Sequence: 1, TotalChunks: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, first.SessionToken, second.SessionToken)
	assert.Equal(t, "reply-2", second.RawOutput)

	body := srv.body(1)
	require.Equal(t, int64(3), gjson.Get(body, "messages.#").Int())
	assert.Contains(t, gjson.Get(body, "messages.0.content.0.text").String(), "chunk one")
	assert.Equal(t, "assistant", gjson.Get(body, "messages.1.role").String())
	assert.Equal(t, "reply-1", gjson.Get(body, "messages.1.content.0.text").String())
	assert.Contains(t, gjson.Get(body, "messages.2.content.0.text").String(), "chunk two")

	assert.Equal(t, 0, a.sessions(), "final chunk drops the conversation")
}

func TestAnthropicAPI_CloseSession(t *testing.T) {
	srv := newMessagesServer(t, 0, 0)
	a := newTestAnthropic(t, srv.URL)

	resp, err := a.Invoke(context.Background(), Request{JobID: "security", Prompt: "p", TotalChunks: 3})
	require.NoError(t, err)
	require.Equal(t, 1, a.sessions())

	var closer SessionCloser = a
	closer.CloseSession(resp.SessionToken)
	assert.Equal(t, 0, a.sessions())
}

func TestAnthropicAPI_ErrorClassification(t *testing.T) {
	tests := []struct {
		status   int
		wantTemp bool
		want     retry.Class
	}{
		{http.StatusTooManyRequests, true, retry.ClassTransient},
		{http.StatusInternalServerError, true, retry.ClassTransient},
		{529, true, retry.ClassTransient},
		{http.StatusUnauthorized, false, retry.ClassFatal},
		{http.StatusBadRequest, false, retry.ClassFatal},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			srv := newMessagesServer(t, tt.status, 0)
			a := newTestAnthropic(t, srv.URL)

			_, err := a.Invoke(context.Background(), Request{JobID: "security", Prompt: "p", TotalChunks: 1})

			var perr *Error
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.status, perr.ExitCode)
			assert.Equal(t, tt.wantTemp, perr.Temporary())
			assert.Equal(t, tt.want, retry.Classify(err))
		})
	}
}

func TestAnthropicAPI_Timeout(t *testing.T) {
	srv := newMessagesServer(t, 0, 5*time.Second)
	a := newTestAnthropic(t, srv.URL)

	_, err := a.Invoke(context.Background(), Request{
		JobID: "security", Prompt: "p", TotalChunks: 1, Timeout: 50 * time.Millisecond,
	})

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindTimeout, perr.Kind)
	assert.Equal(t, retry.ClassTransient, retry.Classify(err))
}

func TestAnthropicAPI_ParentCancelIsFatal(t *testing.T) {
	srv := newMessagesServer(t, 0, 5*time.Second)
	a := newTestAnthropic(t, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := a.Invoke(ctx, Request{JobID: "security", Prompt: "p", TotalChunks: 1, Timeout: time.Minute})

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindFatal, perr.Kind)
	assert.Equal(t, retry.ClassFatal, retry.Classify(err))
}
