package deepgram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"voxdeck/internal/ports"
)

const (
	DefaultBaseURL = "https://api.deepgram.com/v1"
	DefaultModel   = "nova-2"
)

// Config controls Deepgram websocket settings. Commands are short, so
// Endpointing and UtteranceEnd are tuned to end an utterance quickly.
type Config struct {
	APIKey         string
	APIBaseURL     string
	Model          string
	Language       string
	SmartFormat    bool
	EndpointingMS  int
	UtteranceEndMS int
	// Keywords are boosted words such as the interrupt phrase.
	Keywords []string
}

// Provider implements ports.TranscriptionProvider for Deepgram live
// transcription.
type Provider struct {
	cfg    Config
	dialer *websocket.Dialer
	logger zerolog.Logger
}

func NewProvider(cfg Config, logger zerolog.Logger) *Provider {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.EndpointingMS <= 0 {
		cfg.EndpointingMS = 300
	}
	return &Provider{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		logger: logger.With().Str("component", "deepgram").Logger(),
	}
}

// StartStreaming dials the listen endpoint. The session closes itself when
// ctx is cancelled.
func (p *Provider) StartStreaming(ctx context.Context, cfg ports.StreamingConfig) (ports.StreamingSession, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return nil, errors.New("DEEPGRAM_API_KEY is not configured")
	}

	wsURL, err := buildListenURL(p.cfg, cfg)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.cfg.APIKey)

	conn, resp, err := p.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("connect to Deepgram (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("connect to Deepgram: %w", err)
	}
	p.logger.Debug().Str("model", p.cfg.Model).Int("sample_rate", cfg.SampleRate).Msg("transcription stream opened")

	session := newStreamingSession(conn, keepAliveInterval, p.logger)
	go func() {
		select {
		case <-ctx.Done():
			_ = session.Close()
		case <-session.done:
		}
	}()
	return session, nil
}

func buildListenURL(cfg Config, stream ports.StreamingConfig) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	listenURL, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid Deepgram API base URL: %w", err)
	}
	switch listenURL.Scheme {
	case "https":
		listenURL.Scheme = "wss"
	case "http":
		listenURL.Scheme = "ws"
	}

	if stream.Encoding == "" {
		stream.Encoding = "linear16"
	}
	if stream.SampleRate <= 0 {
		stream.SampleRate = 16000
	}
	if stream.Channels <= 0 {
		stream.Channels = 1
	}

	query := listenURL.Query()
	query.Set("model", cfg.Model)
	query.Set("encoding", stream.Encoding)
	query.Set("sample_rate", strconv.Itoa(stream.SampleRate))
	query.Set("channels", strconv.Itoa(stream.Channels))
	query.Set("interim_results", strconv.FormatBool(stream.InterimResults))
	query.Set("smart_format", strconv.FormatBool(cfg.SmartFormat))
	if cfg.Language != "" {
		query.Set("language", cfg.Language)
	}
	if cfg.EndpointingMS > 0 {
		query.Set("endpointing", strconv.Itoa(cfg.EndpointingMS))
	}
	// Deepgram only accepts utterance_end_ms together with interim results.
	if cfg.UtteranceEndMS > 0 && stream.InterimResults {
		query.Set("utterance_end_ms", strconv.Itoa(cfg.UtteranceEndMS))
	}
	for _, keyword := range keywordTerms(cfg.Keywords) {
		query.Add("keywords", keyword)
	}
	listenURL.RawQuery = query.Encode()
	return listenURL.String(), nil
}

// keywordTerms splits phrases into unique lower-case words.
func keywordTerms(phrases []string) []string {
	seen := map[string]struct{}{}
	var terms []string
	for _, phrase := range phrases {
		for _, word := range strings.Fields(strings.ToLower(phrase)) {
			if _, ok := seen[word]; ok {
				continue
			}
			seen[word] = struct{}{}
			terms = append(terms, word)
		}
	}
	return terms
}
