package conversation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/saluslabs/clinic-assistant/internal/leads"
	"github.com/saluslabs/clinic-assistant/internal/messaging"
	"github.com/saluslabs/clinic-assistant/internal/observability/metrics"
	"github.com/saluslabs/clinic-assistant/pkg/logging"
)

// IncomingMessage is a webhook event normalized to what the pipeline needs.
type IncomingMessage struct {
	RemoteJID string
	PushName  string
	MessageID string
	Kind      string // "text", "audio" or "image"
	Text      string // body for text, caption for image
}

// Speech converts inbound media to text.
type Speech interface {
	Transcribe(ctx context.Context, audioBase64, mimetype string) (string, error)
	DescribeImage(ctx context.Context, imageBase64, mimetype string) (string, error)
}

// ReplySender delivers an assistant reply to a phone number.
type ReplySender interface {
	Dispatch(ctx context.Context, number string, reply messaging.Reply) error
}

// router routes one settled message. Satisfied by *Flow.
type router interface {
	Handle(ctx context.Context, session *Session, state *State, text string) (*Result, error)
}

// sessionStore is the slice of SessionStore the service uses.
type sessionStore interface {
	SaveState(ctx context.Context, remoteJID string, state *State) error
	LoadState(ctx context.Context, remoteJID string) (*State, error)
	AppendTranscript(ctx context.Context, remoteJID, role, text string) error
}

// ServiceConfig tunes the inbound pipeline.
type ServiceConfig struct {
	ClinicID      string
	Debounce      time.Duration
	MaxFragments  int
	FlushKeywords []string
	// TurnTimeout bounds one full turn, flush to delivery.
	TurnTimeout time.Duration
	// VoiceReplies allows audio answers when the user asks for them.
	VoiceReplies bool
}

// Service is the inbound pipeline: it buffers message fragments, and when a
// stream settles it resolves the session, routes the turn and delivers the
// reply.
type Service struct {
	cfg      ServiceConfig
	buffer   *Buffer
	resolver *Resolver
	sessions sessionStore
	flow     router
	repo     leads.Repository
	sender   ReplySender
	media    messaging.MediaFetcher
	speech   Speech
	metrics  *metrics.AssistantMetrics
	logger   *logging.Logger

	namesMu   sync.Mutex
	pushNames map[string]string
	audioIn   map[string]bool
}

func NewService(cfg ServiceConfig, resolver *Resolver, sessions sessionStore, flow router, repo leads.Repository, sender ReplySender, media messaging.MediaFetcher, speech Speech, m *metrics.AssistantMetrics, logger *logging.Logger) *Service {
	if resolver == nil || sessions == nil || flow == nil || repo == nil || sender == nil {
		panic("conversation: service collaborators cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 2 * time.Minute
	}
	s := &Service{
		cfg:       cfg,
		resolver:  resolver,
		sessions:  sessions,
		flow:      flow,
		repo:      repo,
		sender:    sender,
		media:     media,
		speech:    speech,
		metrics:   m,
		logger:    logger,
		pushNames: make(map[string]string),
		audioIn:   make(map[string]bool),
	}
	s.buffer = NewBuffer(cfg.Debounce, cfg.MaxFragments, cfg.FlushKeywords, s.handleFlush, m, logger)
	return s
}

// Inbound accepts one webhook message. Media is converted to text before it
// enters the debounce buffer, so the flow only ever sees text.
func (s *Service) Inbound(ctx context.Context, msg IncomingMessage) error {
	if err := leads.ValidateJID(msg.RemoteJID); err != nil {
		s.metrics.ObserveInbound(msg.Kind, "rejected")
		return err
	}
	log := s.logger.WithUser(msg.RemoteJID)

	text := strings.TrimSpace(msg.Text)
	switch msg.Kind {
	case "text":
		// nothing to convert
	case "audio":
		transcript, err := s.transcribe(ctx, msg.MessageID)
		if err != nil {
			log.Warn("audio transcription failed", "error", err)
			s.metrics.ObserveInbound(msg.Kind, "error")
			s.apologize(ctx, msg.RemoteJID, "Não consegui ouvir seu áudio. Pode escrever sua mensagem?")
			return nil
		}
		text = transcript
		s.namesMu.Lock()
		s.audioIn[msg.RemoteJID] = true
		s.namesMu.Unlock()
	case "image":
		description, err := s.describe(ctx, msg.MessageID)
		if err != nil {
			log.Warn("image description failed", "error", err)
			s.metrics.ObserveInbound(msg.Kind, "error")
			s.apologize(ctx, msg.RemoteJID, "Não consegui abrir sua imagem. Pode escrever sua mensagem?")
			return nil
		}
		if text != "" {
			text = text + "\n" + description
		} else {
			text = description
		}
	default:
		s.metrics.ObserveInbound(msg.Kind, "unsupported")
		return fmt.Errorf("conversation: unsupported message kind %q", msg.Kind)
	}

	if text == "" {
		s.metrics.ObserveInbound(msg.Kind, "empty")
		return nil
	}
	s.metrics.ObserveInbound(msg.Kind, "accepted")

	if msg.PushName != "" {
		s.namesMu.Lock()
		s.pushNames[msg.RemoteJID] = msg.PushName
		s.namesMu.Unlock()
	}
	s.buffer.Accumulate(BufferKey{RemoteJID: msg.RemoteJID, ClinicID: s.cfg.ClinicID}, text)
	return nil
}

func (s *Service) pushName(remoteJID string) string {
	s.namesMu.Lock()
	defer s.namesMu.Unlock()
	return s.pushNames[remoteJID]
}

// takeAudioIn reports whether the stream being flushed carried a voice note,
// resetting the flag so it only shapes the current turn's reply.
func (s *Service) takeAudioIn(remoteJID string) bool {
	s.namesMu.Lock()
	defer s.namesMu.Unlock()
	got := s.audioIn[remoteJID]
	delete(s.audioIn, remoteJID)
	return got
}

func (s *Service) transcribe(ctx context.Context, messageID string) (string, error) {
	if s.media == nil || s.speech == nil {
		return "", fmt.Errorf("conversation: audio support not configured")
	}
	media, err := s.media.FetchMediaBase64(ctx, messageID)
	if err != nil {
		return "", err
	}
	return s.speech.Transcribe(ctx, media.Base64, media.Mimetype)
}

func (s *Service) describe(ctx context.Context, messageID string) (string, error) {
	if s.media == nil || s.speech == nil {
		return "", fmt.Errorf("conversation: image support not configured")
	}
	media, err := s.media.FetchMediaBase64(ctx, messageID)
	if err != nil {
		return "", err
	}
	return s.speech.DescribeImage(ctx, media.Base64, media.Mimetype)
}

func (s *Service) apologize(ctx context.Context, remoteJID, text string) {
	number := leads.PhoneFromJID(remoteJID)
	if err := s.sender.Dispatch(ctx, number, messaging.Reply{Text: text}); err != nil {
		s.logger.Error("fallback reply failed", "error", err, "remotejid", remoteJID)
	}
}

// handleFlush runs one full turn for a settled stream. It is the buffer's
// callback and runs on its own goroutine, so errors are logged, not returned.
func (s *Service) handleFlush(ctx context.Context, key BufferKey, text, trigger string) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.TurnTimeout)
	defer cancel()
	if err := s.runTurn(ctx, key, text); err != nil {
		s.logger.Error("turn failed", "error", err, "remotejid", key.RemoteJID, "trigger", trigger)
	}
}

func (s *Service) runTurn(ctx context.Context, key BufferKey, text string) error {
	started := time.Now()
	session, err := s.resolver.Resolve(ctx, key.RemoteJID, s.pushName(key.RemoteJID))
	if err != nil {
		return fmt.Errorf("resolve session: %w", err)
	}

	state, err := s.sessions.LoadState(ctx, key.RemoteJID)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	// opportunistic profile capture from free text
	if partial := leads.ExtractFromText(text); partial != (leads.Lead{}) {
		if _, err := s.repo.Upsert(ctx, key.RemoteJID, partial); err != nil {
			s.logger.Warn("profile capture failed", "error", err, "remotejid", key.RemoteJID)
		}
	}

	result, err := s.flow.Handle(ctx, session, state, text)
	if err != nil {
		return fmt.Errorf("route turn: %w", err)
	}

	if err := s.sessions.SaveState(ctx, key.RemoteJID, state); err != nil {
		s.logger.Warn("state save failed", "error", err, "remotejid", key.RemoteJID)
	}
	if err := s.sessions.AppendTranscript(ctx, key.RemoteJID, "user", text); err != nil {
		s.logger.Warn("transcript append failed", "error", err)
	}
	if err := s.sessions.AppendTranscript(ctx, key.RemoteJID, "assistant", result.Reply); err != nil {
		s.logger.Warn("transcript append failed", "error", err)
	}

	wantAudio := s.cfg.VoiceReplies && (s.takeAudioIn(key.RemoteJID) || wantsVoice(text))
	reply := messaging.Reply{Text: result.Reply, WantAudio: wantAudio}
	if err := s.sender.Dispatch(ctx, leads.PhoneFromJID(key.RemoteJID), reply); err != nil {
		return fmt.Errorf("dispatch reply: %w", err)
	}
	s.metrics.ObserveWebhookLatency("turn", time.Since(started).Seconds())
	return nil
}

// Pending reports buffered fragments for a user, for health introspection.
func (s *Service) Pending(remoteJID string) int {
	return s.buffer.Pending(BufferKey{RemoteJID: remoteJID, ClinicID: s.cfg.ClinicID})
}

// wantsVoice reports whether the user asked for the answer as a voice note.
func wantsVoice(text string) bool {
	lower := strings.ToLower(text)
	if !strings.Contains(lower, "áudio") && !strings.Contains(lower, "audio") {
		return false
	}
	for _, marker := range []string{"responda", "responde", "manda", "me manda", "em áudio", "em audio", "por áudio", "por audio"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
