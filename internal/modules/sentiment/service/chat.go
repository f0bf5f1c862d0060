package service

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"market_ingest/internal/helper"
	"market_ingest/internal/models"

	"github.com/bytedance/sonic"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const systemPrompt = `Classify the market sentiment of the financial news headline. ` +
	`Reply with JSON only: {"label": "positive" | "neutral" | "negative", "confidence": <0..1>}.`

// Classifier labels one headline. It is safe for concurrent use.
type Classifier interface {
	Classify(ctx context.Context, headline, body string) (models.Sentiment, error)
}

type ChatConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	RequestTimeout time.Duration
}

// Chat classifies through an OpenAI-compatible /chat/completions endpoint.
type Chat struct {
	url    string
	apiKey string
	model  string
	http   *http.Client
	log    *zap.Logger
	now    func() time.Time
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	MaxTokens   int           `json:"max_completion_tokens"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   *string `json:"content"`
			Reasoning string  `json:"reasoning"`
		} `json:"message"`
		Text string `json:"text"`
	} `json:"choices"`
}

func NewChat(cfg ChatConfig, log *zap.Logger) *Chat {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Chat{
		url:    strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions",
		apiKey: cfg.APIKey,
		model:  cfg.Model,
		http:   &http.Client{Timeout: timeout},
		log:    log.Named("chat"),
		now:    time.Now,
	}
}

func (c *Chat) Classify(ctx context.Context, headline, body string) (models.Sentiment, error) {
	text := strings.TrimSpace(headline)
	if text == "" {
		text = strings.TrimSpace(body)
	}
	if text == "" {
		return models.Sentiment{Label: models.SentimentNeutral, Model: c.model, At: c.now().UTC()}, nil
	}

	span, ctx := opentracing.StartSpanFromContext(ctx, "sentiment.classify")
	defer span.Finish()

	const op = "chat completions"
	payload, err := sonic.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: text},
		},
		MaxTokens:   100,
		Temperature: 0,
		TopP:        1,
	})
	if err != nil {
		return models.Sentiment{}, models.Permanent(op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return models.Sentiment{}, models.Permanent(op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.Sentiment{}, ctxErr
		}
		return models.Sentiment{}, models.Transient(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.Sentiment{}, models.Transient(op, errors.Wrap(err, "read response"))
	}
	if err := helper.CheckStatus("sentiment", op, resp, raw, c.now()); err != nil {
		return models.Sentiment{}, err
	}

	var out chatResponse
	if err := sonic.Unmarshal(raw, &out); err != nil {
		return models.Sentiment{}, models.Permanent(op, errors.Wrap(err, "decode response"))
	}
	if len(out.Choices) == 0 {
		return models.Sentiment{}, models.Permanentf(op, "empty choices")
	}

	choice := out.Choices[0]
	reply := choice.Text
	if choice.Message.Content != nil && *choice.Message.Content != "" {
		reply = *choice.Message.Content
	} else if choice.Message.Reasoning != "" {
		reply = choice.Message.Reasoning
	}

	label, confidence, ok := parseReply(reply)
	if !ok {
		return models.Sentiment{}, models.Permanentf(op, "unrecognized reply %.80q", reply)
	}
	return models.Sentiment{
		Label:      label,
		Confidence: confidence,
		Model:      c.model,
		At:         c.now().UTC(),
	}, nil
}

// parseReply reads {"label","confidence"} JSON, falling back to the first word of
// a free-text answer. ok is false when no label could be read.
func parseReply(reply string) (models.SentimentLabel, float64, bool) {
	reply = strings.TrimSpace(reply)
	reply = strings.TrimPrefix(reply, "```json")
	reply = strings.Trim(reply, "` \n")

	if strings.HasPrefix(reply, "{") {
		var v struct {
			Label      string  `json:"label"`
			Confidence float64 `json:"confidence"`
		}
		if err := sonic.UnmarshalString(reply, &v); err == nil {
			label, ok := models.ParseSentimentLabel(v.Label)
			return label, clamp(v.Confidence), ok
		}
	}

	fields := strings.Fields(reply)
	if len(fields) == 0 {
		return "", 0, false
	}
	label, ok := models.ParseSentimentLabel(fields[0])
	return label, 0, ok
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
