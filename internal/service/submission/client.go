// Package submission forwards spoken questions to the Q&A backend.
package submission

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"voice-interaction-engine/internal/observability/metrics"
)

const askPath = "/api/questions/ask-question"

var ErrEmptyQuestion = errors.New("question is empty")

// Client posts question text to the backend. The text is opaque to it.
type Client struct {
	baseURL string
	http    *http.Client
	metrics *metrics.Metrics
	log     zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		metrics: metrics.DefaultMetrics,
		log:     log.With().Str("component", "submission").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type askRequest struct {
	StudentEmail string `json:"studentEmail"`
	Question     string `json:"question"`
}

// Ask submits question on behalf of email.
func (c *Client) Ask(ctx context.Context, email, question string) error {
	question = strings.TrimSpace(question)
	if question == "" {
		return ErrEmptyQuestion
	}

	start := time.Now()
	err := c.post(ctx, askRequest{StudentEmail: email, Question: question})
	c.metrics.RecordSubmission(err, time.Since(start).Seconds())
	if err != nil {
		c.log.Error().Err(err).Str("email", email).Msg("Question submission failed")
		return err
	}
	c.log.Info().Str("email", email).Msg("Question submitted")
	return nil
}

func (c *Client) post(ctx context.Context, body askRequest) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+askPath, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("submit question: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("submit question: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
