package backend

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wwwzy/loopie/internal/automation"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{BaseURL: srv.URL + "/", Timeout: 2 * time.Second})
	require.NoError(t, err)
	return c
}

func TestNewClientValidatesURL(t *testing.T) {
	_, err := NewClient(Config{})
	assert.ErrorIs(t, err, ErrNoBaseURL)

	_, err = NewClient(Config{BaseURL: "not a url"})
	assert.Error(t, err)

	c, err := NewClient(Config{BaseURL: "http://localhost:5000/"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:5000", c.BaseURL())
	assert.Equal(t, DefaultTimeout, c.timeout)
}

func TestNextActionSendsPlanRequest(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathNextAction, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		b, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(b, &got))
		_, _ = w.Write([]byte(`{"action":{"kind":"click"}}`))
	})

	raw, err := c.NextAction(context.Background(), automation.PlanRequest{
		Base64Image: "aW1n",
		Goal:        "open mail",
		Credential:  "k",
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":{"kind":"click"}}`, string(raw))

	assert.Equal(t, "aW1n", got["base64Image"])
	assert.Equal(t, "open mail", got["goal"])
	assert.Equal(t, "k", got["credential"])
	v, ok := got["lastState"]
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestNextActionStatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	})

	_, err := c.NextAction(context.Background(), automation.PlanRequest{Goal: "g"})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	assert.Equal(t, "model overloaded", se.Body)
	assert.Contains(t, se.Error(), "503")
}

func TestTrimBodyKeepsRunes(t *testing.T) {
	body := strings.Repeat("a", maxErrorBody-1) + "错误信息"
	got := trimBody([]byte(body))
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("a", maxErrorBody-1), got)

	assert.Equal(t, "short", trimBody([]byte("  short \n")))
}

func TestExecuteActionOutcomes(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   automation.StepOutcome
	}{
		{"success", 200, `{"status":"success"}`, automation.StepOutcome{Status: "success"}},
		{"remote failure", 200, `{"status":"failure","detail":"no such element"}`, automation.StepOutcome{Status: "failure", Detail: "no such element"}},
		{"missing status", 200, `{"detail":"ok"}`, automation.StepOutcome{Status: "success", Detail: "ok"}},
		{"empty body", 200, ``, automation.StepOutcome{Status: "success"}},
		{"non 2xx", 500, `driver crashed`, automation.StepOutcome{Status: "failure", Detail: "driver crashed"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, PathExecuteAction, r.URL.Path)
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			got := c.ExecuteAction(context.Background(), automation.Action{Kind: "click"})
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestExecuteActionSendsNormalizedAction(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(b, &got))
		_, _ = w.Write([]byte(`{"status":"success"}`))
	})
	x := 3.5
	c.ExecuteAction(context.Background(), automation.Action{Kind: "type", X: &x, Value: "hi"})
	assert.Equal(t, "type", got["kind"])
	assert.Equal(t, 3.5, got["x"])
	assert.Equal(t, "hi", got["value"])
	_, hasY := got["y"]
	assert.False(t, hasY)
}

func TestExecuteActionTransportAndDecodeFailures(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	})
	out := c.ExecuteAction(context.Background(), automation.Action{Kind: "click"})
	assert.True(t, out.Failed())
	assert.Contains(t, out.Detail, "decode")

	dead, err := NewClient(Config{BaseURL: "http://127.0.0.1:1", Timeout: time.Second})
	require.NoError(t, err)
	out = dead.ExecuteAction(context.Background(), automation.Action{Kind: "click"})
	assert.True(t, out.Failed())
	assert.NotEmpty(t, out.Detail)
}

func TestAskReplyShapes(t *testing.T) {
	cases := map[string]string{
		"json string": `"hello there"`,
		"response":    `{"response":"hello there"}`,
		"text":        `{"text":"hello there"}`,
		"plain text":  `hello there`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				var req askRequest
				b, _ := io.ReadAll(r.Body)
				require.NoError(t, json.Unmarshal(b, &req))
				assert.Equal(t, "hi", req.UserMessage)
				assert.Equal(t, "gk", req.GeminiAPIKey)
				_, _ = w.Write([]byte(body))
			})
			got, err := c.Ask(context.Background(), "hi", "gk")
			require.NoError(t, err)
			assert.Equal(t, "hello there", got)
		})
	}
}

func TestAnalyseImageDefaultsPrompt(t *testing.T) {
	var req analyseRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathAnalyseImage, r.URL.Path)
		b, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(b, &req))
		_, _ = w.Write([]byte(`{"description":"a login form"}`))
	})

	got, err := c.AnalyseImage(context.Background(), "AAA", " ", "gk")
	require.NoError(t, err)
	assert.Equal(t, "a login form", got)
	assert.Equal(t, DefaultImagePrompt, req.Prompt)
	assert.Equal(t, "AAA", req.Image)
}

func TestAnalyseImageMissingDescription(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"other":1}`))
	})
	_, err := c.AnalyseImage(context.Background(), "AAA", "what is this", "gk")
	assert.ErrorIs(t, err, ErrEmptyReply)
}

func TestRateLimiterRespectsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`"ok"`))
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{BaseURL: srv.URL, RateLimit: 0.001, Burst: 1})
	require.NoError(t, err)

	_, err = c.Ask(context.Background(), "first", "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Ask(ctx, "second", "")
	assert.Error(t, err)
}
