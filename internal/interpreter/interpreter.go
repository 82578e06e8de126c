// Package interpreter wraps the language model. Its only conversational job
// is slot extraction: pulling structured values out of free-form user text.
// Step selection never happens here.
package interpreter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/saluslabs/clinic-assistant/internal/retry"
	"github.com/saluslabs/clinic-assistant/pkg/logging"
)

// ErrUnparseable indicates the model produced output no coercion could turn
// into the requested structure.
var ErrUnparseable = errors.New("interpreter: unparseable model output")

const (
	defaultModel   = "gpt-4o-mini"
	speechModel    = openai.TTSModel1
	speechVoice    = openai.VoiceNova
	whisperModel   = openai.Whisper1
	requestTimeout = 30 * time.Second
)

type openaiClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateThread(ctx context.Context, request openai.ThreadRequest) (openai.Thread, error)
	CreateTranscription(ctx context.Context, request openai.AudioRequest) (openai.AudioResponse, error)
	CreateSpeech(ctx context.Context, request openai.CreateSpeechRequest) (openai.RawResponse, error)
}

// Service is the OpenAI-backed interpreter.
type Service struct {
	client openaiClient
	model  string
	retry  retry.Policy
	logger *logging.Logger
}

// New builds a Service around an OpenAI client.
func New(client openaiClient, model string, policy retry.Policy, logger *logging.Logger) *Service {
	if client == nil {
		panic("interpreter: openai client cannot be nil")
	}
	if model == "" {
		model = defaultModel
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{client: client, model: model, retry: policy, logger: logger}
}

// classify marks rate-limit, server-side and timeout failures as transient so
// the retry policy attempts them again. Everything else is permanent.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500 {
			return retry.Transient(err)
		}
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return retry.Transient(err)
	}
	return err
}

// NewThread opens a fresh conversation thread and returns its id.
func (s *Service) NewThread(ctx context.Context) (string, error) {
	var thread openai.Thread
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		var err error
		thread, err = s.client.CreateThread(callCtx, openai.ThreadRequest{})
		return classify(err)
	})
	if err != nil {
		return "", fmt.Errorf("interpreter: create thread: %w", err)
	}
	return thread.ID, nil
}

// Extract asks the model to pull the slots described by instruction out of
// the user's text. The model always answers in JSON mode; values are coerced
// to strings so the caller sees a uniform shape. Missing slots come back as
// empty strings or are absent.
func (s *Service) Extract(ctx context.Context, instruction, text string) (map[string]string, error) {
	var resp openai.ChatCompletionResponse
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		var err error
		resp, err = s.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
			Model:       s.model,
			Temperature: 0.1,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: instruction},
				{Role: openai.ChatMessageRoleUser, Content: text},
			},
		})
		return classify(err)
	})
	if err != nil {
		return nil, fmt.Errorf("interpreter: completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("interpreter: model returned no choices")
	}
	slots, err := coerceSlots(resp.Choices[0].Message.Content)
	if err != nil {
		s.logger.Warn("slot extraction produced no JSON", "raw_prefix", prefix(resp.Choices[0].Message.Content, 80))
		return nil, err
	}
	return slots, nil
}

// Transcribe converts base64 voice audio into text. Portuguese is assumed,
// matching the clinic's audience.
func (s *Service) Transcribe(ctx context.Context, audioBase64, mimetype string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(audioBase64)
	if err != nil {
		return "", fmt.Errorf("interpreter: decode audio: %w", err)
	}
	var resp openai.AudioResponse
	err = s.retry.Do(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		var err error
		resp, err = s.client.CreateTranscription(callCtx, openai.AudioRequest{
			Model:    whisperModel,
			FilePath: "voice" + extensionFor(mimetype),
			Reader:   bytes.NewReader(raw),
			Language: "pt",
		})
		return classify(err)
	})
	if err != nil {
		return "", fmt.Errorf("interpreter: transcription failed: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// Synthesize renders text as speech and returns it base64-encoded, ready for
// the gateway's audio endpoint.
func (s *Service) Synthesize(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", errors.New("interpreter: empty speech text")
	}
	var buf bytes.Buffer
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		resp, err := s.client.CreateSpeech(callCtx, openai.CreateSpeechRequest{
			Model:          speechModel,
			Voice:          speechVoice,
			Input:          text,
			ResponseFormat: openai.SpeechResponseFormatMp3,
		})
		if err != nil {
			return classify(err)
		}
		defer resp.Close()
		buf.Reset()
		if _, err := buf.ReadFrom(resp); err != nil {
			return fmt.Errorf("read speech stream: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("interpreter: speech synthesis failed: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DescribeImage asks the model what an inbound picture shows, so image
// messages can join the text transcript.
func (s *Service) DescribeImage(ctx context.Context, imageBase64, mimetype string) (string, error) {
	if mimetype == "" {
		mimetype = "image/jpeg"
	}
	var resp openai.ChatCompletionResponse
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		var err error
		resp, err = s.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
			Model: s.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role: openai.ChatMessageRoleUser,
					MultiContent: []openai.ChatMessagePart{
						{
							Type: openai.ChatMessagePartTypeText,
							Text: "Descreva brevemente o conteúdo desta imagem em português.",
						},
						{
							Type: openai.ChatMessagePartTypeImageURL,
							ImageURL: &openai.ChatMessageImageURL{
								URL: fmt.Sprintf("data:%s;base64,%s", mimetype, imageBase64),
							},
						},
					},
				},
			},
		})
		return classify(err)
	})
	if err != nil {
		return "", fmt.Errorf("interpreter: image description failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("interpreter: model returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// coerceSlots parses model output into a flat string map. Output wrapped in
// code fences or prose still parses as long as a JSON object is in there.
func coerceSlots(raw string) (map[string]string, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, ErrUnparseable
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err != nil {
		return nil, ErrUnparseable
	}
	slots := make(map[string]string, len(parsed))
	for k, v := range parsed {
		switch val := v.(type) {
		case string:
			slots[k] = strings.TrimSpace(val)
		case float64:
			slots[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			slots[k] = strconv.FormatBool(val)
		case nil:
			slots[k] = ""
		default:
			b, err := json.Marshal(val)
			if err != nil {
				continue
			}
			slots[k] = string(b)
		}
	}
	return slots, nil
}

func extensionFor(mimetype string) string {
	switch {
	case strings.Contains(mimetype, "ogg"):
		return ".ogg"
	case strings.Contains(mimetype, "wav"):
		return ".wav"
	case strings.Contains(mimetype, "mp4"), strings.Contains(mimetype, "m4a"):
		return ".m4a"
	default:
		return ".mp3"
	}
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
