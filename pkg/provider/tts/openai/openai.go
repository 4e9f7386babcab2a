// Package openai provides speech synthesis backed by the OpenAI audio speech
// API. Audio is requested as raw PCM, which OpenAI renders as 24 kHz 16-bit
// little-endian mono.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/elderme-design/elderme-server/pkg/provider/tts"
)

const (
	defaultModel = "gpt-4o-mini-tts"
	defaultVoice = "sage"

	// pcmSampleRate is fixed by the API for the "pcm" response format.
	pcmSampleRate = 24000
)

var _ tts.Synthesizer = (*Synthesizer)(nil)

type config struct {
	baseURL      string
	model        string
	voice        string
	instructions string
	timeout      time.Duration
}

// Option is a functional option for Synthesizer.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel sets the speech model. Defaults to "gpt-4o-mini-tts".
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithVoice sets the voice name. Defaults to "sage".
func WithVoice(voice string) Option {
	return func(c *config) { c.voice = voice }
}

// WithInstructions sets speaking-style instructions, e.g. "speak slowly and
// warmly". Ignored by tts-1 models.
func WithInstructions(s string) Option {
	return func(c *config) { c.instructions = s }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// Synthesizer implements tts.Synthesizer using OpenAI speech.
type Synthesizer struct {
	client       oai.Client
	model        string
	voice        string
	instructions string
}

// New constructs a Synthesizer.
func New(apiKey string, opts ...Option) (*Synthesizer, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	cfg := &config{model: defaultModel, voice: defaultVoice}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	return &Synthesizer{
		client:       oai.NewClient(reqOpts...),
		model:        cfg.model,
		voice:        cfg.voice,
		instructions: cfg.instructions,
	}, nil
}

// Synthesize implements tts.Synthesizer.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (tts.Audio, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return tts.Audio{SampleRate: pcmSampleRate}, nil
	}

	params := oai.AudioSpeechNewParams{
		Input:          text,
		Model:          oai.SpeechModel(s.model),
		Voice:          oai.AudioSpeechNewParamsVoice(s.voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if s.instructions != "" {
		params.Instructions = oai.String(s.instructions)
	}

	resp, err := s.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("openai: speech: %w", err)
	}
	defer resp.Body.Close()

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("openai: read speech: %w", err)
	}
	return tts.Audio{PCM: pcm, SampleRate: pcmSampleRate}, nil
}
