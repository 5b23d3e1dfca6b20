package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"rankforge/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSession(t *testing.T, handler http.HandlerFunc) (*HTTPSession, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	session := NewHTTPSession(HTTPConfig{
		BaseURL:            server.URL,
		ModelName:          "test-model",
		Instructions:       "You compile ranking candidates.",
		RateLimitPerMinute: 6000,
	}, NewLimiterPool(), testLogger())
	return session, server
}

func chatReply(t *testing.T, w http.ResponseWriter, content, finishReason string) {
	t.Helper()
	resp := chatResponse{
		ID:    "chatcmpl-test",
		Model: "test-model",
		Choices: []chatChoice{{
			Message:      chatMessage{Role: "assistant", Content: content},
			FinishReason: finishReason,
		}},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		t.Errorf("failed to encode response: %v", err)
	}
}

func TestRespondStructured(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{"items object", `{"items": ["alpha", "beta", "gamma"]}`, []string{"alpha", "beta", "gamma"}},
		{"bare array", `["one", "two"]`, []string{"one", "two"}},
		{"whitespace trimmed", `{"items": ["  padded  ", "", "ok"]}`, []string{"padded", "ok"}},
		{"empty items is success", `{"items": []}`, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session, _ := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
				chatReply(t, w, tt.content, "stop")
			})
			got, err := session.RespondStructured(context.Background(), "list things", models.DecodingConfig{})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("item %d: got %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestRespondStructuredMalformed(t *testing.T) {
	session, _ := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		chatReply(t, w, `just some prose, no list here`, "stop")
	})
	_, err := session.RespondStructured(context.Background(), "list things", models.DecodingConfig{})
	if KindOf(err) != KindMalformed {
		t.Errorf("expected malformed error, got %v", err)
	}
}

func TestCompleteRequestShape(t *testing.T) {
	var captured chatRequest
	session, _ := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		chatReply(t, w, "42. The Answer", "stop")
	})

	seed := uint64(7)
	_, err := session.Respond(context.Background(), "name things", models.DecodingConfig{
		Sampling:    models.TopP(0.92),
		Temperature: 0.9,
		Seed:        &seed,
		MaxTokens:   256,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if captured.Model != "test-model" {
		t.Errorf("model = %q", captured.Model)
	}
	if len(captured.Messages) != 2 || captured.Messages[0].Role != "system" || captured.Messages[1].Role != "user" {
		t.Errorf("expected system+user messages, got %+v", captured.Messages)
	}
	if captured.Temperature == nil || *captured.Temperature != 0.9 {
		t.Errorf("temperature not forwarded: %+v", captured.Temperature)
	}
	if captured.TopP != 0.92 {
		t.Errorf("top_p = %v", captured.TopP)
	}
	if captured.Seed == nil || *captured.Seed != 7 {
		t.Errorf("seed not forwarded: %+v", captured.Seed)
	}
	if captured.MaxTokens != 256 {
		t.Errorf("max_tokens = %d", captured.MaxTokens)
	}
}

func TestCompleteGreedyForcesZeroTemperature(t *testing.T) {
	var captured chatRequest
	session, _ := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		chatReply(t, w, "answer", "stop")
	})

	_, err := session.Respond(context.Background(), "x", models.DecodingConfig{
		Sampling:    models.Greedy(),
		Temperature: 1.5, // ignored under greedy
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if captured.Temperature == nil || *captured.Temperature != 0 {
		t.Errorf("greedy sampling must pin temperature to 0, got %+v", captured.Temperature)
	}
}

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   Kind
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, KindTransient},
		{"server error", http.StatusInternalServerError, "boom", KindTransient},
		{"bad gateway", http.StatusBadGateway, "", KindTransient},
		{"service unavailable", http.StatusServiceUnavailable, "", KindTransient},
		{"content filter type", http.StatusBadRequest, `{"error":{"message":"nope","type":"content_filter"}}`, KindRefusal},
		{"content policy message", http.StatusBadRequest, `{"error":{"message":"violates content policy"}}`, KindRefusal},
		{"auth failure stays unknown", http.StatusUnauthorized, `{"error":{"message":"bad key"}}`, KindUnknown},
		{"bad request stays unknown", http.StatusBadRequest, `{"error":{"message":"invalid model"}}`, KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session, _ := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := session.Respond(context.Background(), "x", models.DecodingConfig{})
			if err == nil {
				t.Fatalf("expected error for status %d", tt.status)
			}
			if got := KindOf(err); got != tt.want {
				t.Errorf("KindOf = %v, want %v (err: %v)", got, tt.want, err)
			}
		})
	}
}

func TestFinishReasonContentFilter(t *testing.T) {
	session, _ := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		chatReply(t, w, "", "content_filter")
	})
	_, err := session.Respond(context.Background(), "x", models.DecodingConfig{})
	if KindOf(err) != KindRefusal {
		t.Errorf("content_filter finish reason should classify as refusal, got %v", err)
	}
}

func TestCompleteContextCancelled(t *testing.T) {
	session, _ := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		chatReply(t, w, "too late", "stop")
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := session.Respond(ctx, "x", models.DecodingConfig{})
	if err == nil {
		t.Fatalf("expected error on cancelled context")
	}
	if !errors.Is(err, context.Canceled) && KindOf(err) != KindTransient {
		t.Errorf("cancelled call should surface as cancellation or transient, got %v", err)
	}
}

func TestLimiterPoolKeepsFirstRate(t *testing.T) {
	pool := NewLimiterPool()
	ctx := context.Background()
	if err := pool.Wait(ctx, "ep", 6000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Conflicting rate keeps the original limiter rather than replacing it
	if err := pool.Wait(ctx, "ep", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
