package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"market_ingest/internal/models"

	"go.uber.org/zap/zaptest"
)

func chatServer(t *testing.T, status int, content string, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Method != http.MethodPost || r.URL.Path != "/v1/chat/completions" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "gpt-oss-120b" || len(req.Messages) != 2 || req.Messages[1].Content == "" {
			t.Errorf("request = %+v", req)
		}

		w.WriteHeader(status)
		if status == http.StatusOK {
			resp := map[string]any{
				"choices": []any{map[string]any{"message": map[string]any{"content": content}}},
			}
			json.NewEncoder(w).Encode(resp)
		}
	}))
}

func newTestChat(t *testing.T, url string) *Chat {
	return NewChat(ChatConfig{BaseURL: url + "/v1/", APIKey: "secret", Model: "gpt-oss-120b"}, zaptest.NewLogger(t))
}

func TestChatClassify(t *testing.T) {
	tests := []struct {
		name           string
		content        string
		wantLabel      models.SentimentLabel
		wantConfidence float64
	}{
		{"json reply", `{"label": "negative", "confidence": 0.82}`, models.SentimentNegative, 0.82},
		{"fenced json", "```json\n{\"label\": \"Positive\", \"confidence\": 0.9}\n```", models.SentimentPositive, 0.9},
		{"confidence clamped", `{"label": "positive", "confidence": 7}`, models.SentimentPositive, 1},
		{"single word", "Negative", models.SentimentNegative, 0},
		{"good means positive", "Good.", models.SentimentPositive, 0},
		{"neutral word", "Neutral", models.SentimentNeutral, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := chatServer(t, http.StatusOK, tt.content, &calls)
			defer server.Close()

			got, err := newTestChat(t, server.URL).Classify(context.Background(), "Apple beats estimates", "")
			if err != nil {
				t.Fatalf("Classify error = %v", err)
			}
			if got.Label != tt.wantLabel || got.Confidence != tt.wantConfidence {
				t.Errorf("got %s/%v, want %s/%v", got.Label, got.Confidence, tt.wantLabel, tt.wantConfidence)
			}
			if got.Model != "gpt-oss-120b" || got.At.IsZero() {
				t.Errorf("model/at not set: %+v", got)
			}
		})
	}
}

func TestChatUnrecognizedReplyIsPermanent(t *testing.T) {
	replies := []string{
		"I am unable to classify this.",
		"Mixed signals here",
		`{"label": "mixed", "confidence": 0.5}`,
		"",
	}
	for _, reply := range replies {
		var calls atomic.Int32
		server := chatServer(t, http.StatusOK, reply, &calls)

		got, err := newTestChat(t, server.URL).Classify(context.Background(), "Apple beats estimates", "")
		if kind := models.KindOf(err); kind != models.KindPermanent {
			t.Errorf("reply %q: kind = %s, want permanent", reply, kind)
		}
		if got.Label != "" {
			t.Errorf("reply %q: label = %q, want unset", reply, got.Label)
		}
		server.Close()
	}
}

func TestChatEmptyTextSkipsCall(t *testing.T) {
	var calls atomic.Int32
	server := chatServer(t, http.StatusOK, "Positive", &calls)
	defer server.Close()

	got, err := newTestChat(t, server.URL).Classify(context.Background(), "  ", "")
	if err != nil {
		t.Fatal(err)
	}
	if got.Label != models.SentimentNeutral || got.Confidence != 0 {
		t.Errorf("got %+v, want neutral/0", got)
	}
	if calls.Load() != 0 {
		t.Errorf("provider called %d times", calls.Load())
	}
}

func TestChatErrors(t *testing.T) {
	tests := []struct {
		status int
		want   models.ErrorKind
	}{
		{http.StatusServiceUnavailable, models.KindTransient},
		{http.StatusBadRequest, models.KindPermanent},
		{http.StatusTooManyRequests, models.KindRateLimited},
	}
	for _, tt := range tests {
		var calls atomic.Int32
		server := chatServer(t, tt.status, "", &calls)

		_, err := newTestChat(t, server.URL).Classify(context.Background(), "headline", "")
		if got := models.KindOf(err); got != tt.want {
			t.Errorf("status %d: kind = %s, want %s", tt.status, got, tt.want)
		}
		server.Close()
	}
}
