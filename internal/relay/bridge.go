// Package relay bridges a telephony media stream to the voice-AI provider's
// streaming socket, one outbound connection per inbound call.
package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"demo-call-service/internal/metrics"
	"demo-call-service/internal/model"
	"demo-call-service/internal/util"
)

const (
	closeGracePeriod  = time.Second
	transcriptTimeout = 5 * time.Second
	unknownCallSID    = "unknown"
)

// Dialer is satisfied by *websocket.Dialer.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// TranscriptSink stores transcript lines observed during a call.
type TranscriptSink interface {
	Index(ctx context.Context, entry model.TranscriptEntry) error
}

type Config struct {
	ProviderURL    string
	AgentID        string
	APIKey         string
	AudioEncoding  string
	ConnectTimeout time.Duration
}

// Params are read from the inbound connection's query string.
type Params struct {
	CallSID      string
	Prompt       string
	FirstMessage string
}

func ParamsFromQuery(q url.Values) Params {
	p := Params{
		CallSID:      q.Get("CallSid"),
		Prompt:       q.Get("prompt"),
		FirstMessage: q.Get("first_message"),
	}
	if p.CallSID == "" {
		p.CallSID = unknownCallSID
	}
	return p
}

type Bridge struct {
	cfg         Config
	dialer      Dialer
	transcripts TranscriptSink
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// NewBridge returns a bridge. transcripts may be nil.
func NewBridge(cfg Config, dialer Dialer, transcripts TranscriptSink, logger *zap.Logger) *Bridge {
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.ConnectTimeout,
		}
	}
	if cfg.AudioEncoding == "" {
		cfg.AudioEncoding = "mulaw"
	}
	return &Bridge{
		cfg:         cfg,
		dialer:      dialer,
		transcripts: transcripts,
		logger:      logger,
		metrics:     metrics.Default(),
	}
}

// OutboundURL is the provider endpoint with agent and encoding parameters.
func (b *Bridge) OutboundURL() (string, error) {
	u, err := url.Parse(b.cfg.ProviderURL)
	if err != nil {
		return "", fmt.Errorf("invalid provider url: %w", err)
	}
	q := u.Query()
	q.Set("agent_id", b.cfg.AgentID)
	q.Set("input_audio_encoding", b.cfg.AudioEncoding)
	q.Set("output_audio_encoding", b.cfg.AudioEncoding)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Serve owns inbound until the session ends and always closes it. The outbound
// leg is dialed first; any override is sent before audio flows. The session
// ends when either side closes or errors, or ctx is cancelled.
func (b *Bridge) Serve(ctx context.Context, inbound *websocket.Conn, params Params) error {
	s := &session{
		id:      uuid.NewString(),
		params:  params,
		inbound: inbound,
		bridge:  b,
		closing: make(chan struct{}),
	}
	s.logger = b.logger.With(util.CallSID(params.CallSID), util.SessionID(s.id))

	b.metrics.RelaySessionsActive.Inc()
	defer b.metrics.RelaySessionsActive.Dec()

	s.logger.Info("Telephony stream connected")

	outbound, err := b.dial(ctx)
	if err != nil {
		s.logger.Error("Failed to open voice provider stream", zap.Error(err))
		s.teardown()
		b.metrics.RelaySessionsTotal.WithLabelValues("dial_failed").Inc()
		return err
	}
	s.outbound = outbound
	s.logger.Info("Voice provider stream connected")

	stop := context.AfterFunc(ctx, s.teardown)
	defer stop()

	if err := s.sendOverrides(); err != nil {
		s.logger.Error("Failed to send overrides", zap.Error(err))
		s.teardown()
		b.metrics.RelaySessionsTotal.WithLabelValues("error").Inc()
		return err
	}

	var g errgroup.Group
	g.Go(s.pumpInbound)
	g.Go(s.pumpOutbound)
	err = g.Wait()
	s.teardown()

	if err != nil {
		s.logger.Error("Relay session ended with error", zap.Error(err))
		b.metrics.RelaySessionsTotal.WithLabelValues("error").Inc()
		return err
	}
	s.logger.Info("Relay session closed")
	b.metrics.RelaySessionsTotal.WithLabelValues("completed").Inc()
	return nil
}

func (b *Bridge) dial(ctx context.Context) (*websocket.Conn, error) {
	target, err := b.OutboundURL()
	if err != nil {
		return nil, err
	}

	dialCtx := ctx
	if b.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, b.cfg.ConnectTimeout)
		defer cancel()
	}

	header := http.Header{}
	header.Set("xi-api-key", b.cfg.APIKey)

	conn, resp, err := b.dialer.DialContext(dialCtx, target, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("voice provider handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("voice provider dial failed: %w", err)
	}
	return conn, nil
}

type session struct {
	id       string
	params   Params
	inbound  *websocket.Conn
	outbound *websocket.Conn
	bridge   *Bridge
	logger   *zap.Logger

	closeOnce sync.Once
	closing   chan struct{}
}

func (s *session) isClosing() bool {
	select {
	case <-s.closing:
		return true
	default:
		return false
	}
}

// teardown closes both legs once. Safe to call from any goroutine.
func (s *session) teardown() {
	s.closeOnce.Do(func() {
		close(s.closing)
		closeConn(s.outbound)
		closeConn(s.inbound)
	})
}

func closeConn(conn *websocket.Conn) {
	if conn == nil {
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
	_ = conn.Close()
}

func (s *session) sendOverrides() error {
	if s.params.Prompt != "" {
		if err := s.outbound.WriteJSON(model.ControlMessage{Type: model.MessageTypeSystemPromptOverride, Text: s.params.Prompt}); err != nil {
			return fmt.Errorf("failed to send prompt override: %w", err)
		}
	}
	if s.params.FirstMessage != "" {
		if err := s.outbound.WriteJSON(model.ControlMessage{Type: model.MessageTypeFirstMessageOverride, Text: s.params.FirstMessage}); err != nil {
			return fmt.Errorf("failed to send first message override: %w", err)
		}
	}
	return nil
}

// pumpInbound wraps telephony frames as base64 audio control messages.
func (s *session) pumpInbound() error {
	defer s.teardown()

	frames := s.bridge.metrics.RelayFramesTotal.WithLabelValues("inbound")
	for {
		_, data, err := s.inbound.ReadMessage()
		if err != nil {
			return s.readError("telephony", err)
		}

		msg := model.ControlMessage{
			Type:  model.MessageTypeAudio,
			Audio: base64.StdEncoding.EncodeToString(data),
		}
		if err := s.outbound.WriteJSON(msg); err != nil {
			return s.writeError("voice provider", err)
		}
		frames.Inc()
	}
}

// pumpOutbound unwraps provider audio into binary frames and logs transcripts.
func (s *session) pumpOutbound() error {
	defer s.teardown()

	frames := s.bridge.metrics.RelayFramesTotal.WithLabelValues("outbound")
	for {
		_, data, err := s.outbound.ReadMessage()
		if err != nil {
			return s.readError("voice provider", err)
		}

		var msg model.ControlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("malformed voice provider message: %w", err)
		}

		switch msg.Type {
		case model.MessageTypeAudio:
			audio, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				s.logger.Warn("Dropping audio with invalid base64 payload", zap.Error(err))
				continue
			}
			if err := s.inbound.WriteMessage(websocket.BinaryMessage, audio); err != nil {
				return s.writeError("telephony", err)
			}
			frames.Inc()
		case model.MessageTypeTranscript:
			s.logger.Info("Transcript", zap.String("text", msg.Text))
			s.indexTranscript(msg.Text)
		default:
			s.logger.Debug("Ignoring voice provider message", zap.String("type", msg.Type))
		}
	}
}

func (s *session) readError(leg string, err error) error {
	if s.isClosing() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		s.logger.Info("Stream closed", zap.String("leg", leg))
		return nil
	}
	return fmt.Errorf("%s read failed: %w", leg, err)
}

func (s *session) writeError(leg string, err error) error {
	if s.isClosing() || errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return fmt.Errorf("%s write failed: %w", leg, err)
}

func (s *session) indexTranscript(text string) {
	sink := s.bridge.transcripts
	if sink == nil || text == "" {
		return
	}

	entry := model.TranscriptEntry{
		SessionID:  s.id,
		CallSID:    s.params.CallSID,
		Text:       text,
		ObservedAt: time.Now().UTC(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), transcriptTimeout)
		defer cancel()
		if err := sink.Index(ctx, entry); err != nil {
			s.logger.Warn("Failed to index transcript", zap.Error(err))
		}
	}()
}
