// Package deepgram provides a Deepgram-backed speech recogniser using the
// Deepgram live transcription WebSocket API.
//
// Each Transcribe call opens a short-lived stream, writes the whole turn,
// asks Deepgram to flush with a CloseStream message and collects the final
// results until the server closes the socket.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/elderme-design/elderme-server/pkg/provider/stt"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en"

	// chunkPeriod is the audio carried by each websocket write. Deepgram
	// recommends 20-250 ms writes.
	chunkPeriod = 100 * time.Millisecond
)

var _ stt.Recognizer = (*Recognizer)(nil)

// Option is a functional option for configuring the Recognizer.
type Option func(*Recognizer)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "nova-2-phonecall").
func WithModel(model string) Option {
	return func(r *Recognizer) { r.model = model }
}

// WithLanguage sets the language code for recognition (e.g., "en", "de").
func WithLanguage(language string) Option {
	return func(r *Recognizer) { r.language = language }
}

// WithEndpoint overrides the streaming endpoint. Intended for tests and
// self-hosted deployments.
func WithEndpoint(endpoint string) Option {
	return func(r *Recognizer) { r.endpoint = endpoint }
}

// Recognizer implements stt.Recognizer backed by the Deepgram streaming API.
type Recognizer struct {
	apiKey   string
	endpoint string
	model    string
	language string
}

// New creates a new Deepgram Recognizer. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Recognizer, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	r := &Recognizer{
		apiKey:   apiKey,
		endpoint: deepgramEndpoint,
		model:    defaultModel,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Transcribe implements stt.Recognizer.
func (r *Recognizer) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	if len(pcm) < 2 {
		return "", nil
	}
	wsURL, err := r.buildURL(sampleRate)
	if err != nil {
		return "", fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+r.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return "", fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()

	size := chunkBytes(sampleRate)
	for off := 0; off < len(pcm); off += size {
		end := min(off+size, len(pcm))
		if err := conn.Write(ctx, websocket.MessageBinary, pcm[off:end]); err != nil {
			return "", fmt.Errorf("deepgram: write audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return "", fmt.Errorf("deepgram: close stream: %w", err)
	}

	var parts []string
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			if ctx.Err() != nil {
				return "", fmt.Errorf("deepgram: read: %w", ctx.Err())
			}
			// Deepgram closes without a close frame on some error paths;
			// return what was collected if there is anything.
			if len(parts) > 0 {
				break
			}
			return "", fmt.Errorf("deepgram: read: %w", err)
		}
		if text, ok := parseFinal(msg); ok {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

// chunkBytes returns the byte length of chunkPeriod of 16-bit mono PCM at
// sampleRate, rounded down to whole samples.
func chunkBytes(sampleRate int) int {
	n := sampleRate * int(chunkPeriod/time.Millisecond) / 1000
	if n < 1 {
		n = 1
	}
	return n * 2
}

// buildURL constructs the streaming endpoint URL for linear16 mono audio.
func (r *Recognizer) buildURL(sampleRate int) (string, error) {
	u, err := url.Parse(r.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", r.model)
	q.Set("language", r.language)
	q.Set("punctuate", "true")
	q.Set("interim_results", "false")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("channels", "1")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// response is the subset of a Deepgram Results message used here.
type response struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseFinal returns the transcript of a final, non-empty Results message.
func parseFinal(data []byte) (string, bool) {
	var resp response
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", false
	}
	if resp.Type != "Results" || !resp.IsFinal || len(resp.Channel.Alternatives) == 0 {
		return "", false
	}
	text := strings.TrimSpace(resp.Channel.Alternatives[0].Transcript)
	return text, text != ""
}
