// Package live maintains the websocket session with the hosted
// bidirectional generation service: setup handshake, outbound audio
// streaming, and a typed event channel for inbound frames.
package live

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Alphas-DBS/Nova-Core/pkg/core"
	"github.com/Alphas-DBS/Nova-Core/pkg/core/audio"
	"github.com/Alphas-DBS/Nova-Core/pkg/live/protocol"
)

const (
	// DefaultEndpoint is the hosted service's bidirectional websocket endpoint.
	DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	// DefaultModel is used when the session config leaves Model empty.
	DefaultModel = "models/gemini-2.0-flash-live-001"

	// DefaultVoice is used when the session config leaves Voice empty.
	DefaultVoice = "Puck"

	defaultConnectTimeout = 15 * time.Second
)

// Dialer abstracts the websocket dial so tests can point sessions at a
// local server.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Config configures a live session.
type Config struct {
	// APIKey authenticates the websocket dial. Required.
	APIKey string

	// Model selects the generation model. Empty means DefaultModel.
	Model string

	// Voice selects the prebuilt synthesized voice. Empty means DefaultVoice.
	Voice string

	// Instructions is the compiled system instruction for the session.
	Instructions string

	// Tools declares the callable functions exposed to the model.
	Tools []protocol.Tool

	// Endpoint overrides the service endpoint (tests). Empty means
	// DefaultEndpoint.
	Endpoint string

	// Dialer overrides the websocket dialer (tests). Nil means the
	// default dialer.
	Dialer Dialer
}

// Event is an inbound session event. Events arrive in server delivery
// order; a single server frame may expand to several events.
type Event interface {
	liveEventType() string
}

// SetupCompleteEvent confirms the setup handshake.
type SetupCompleteEvent struct{}

func (e SetupCompleteEvent) liveEventType() string { return "setup_complete" }

// AudioEvent carries one decoded chunk of model speech (16-bit LE PCM,
// 24kHz mono).
type AudioEvent struct{ Data []byte }

func (e AudioEvent) liveEventType() string { return "audio" }

// InputTranscriptEvent is a partial transcript of captured caller speech.
type InputTranscriptEvent struct{ Text string }

func (e InputTranscriptEvent) liveEventType() string { return "input_transcript" }

// OutputTranscriptEvent is a partial transcript of model speech.
type OutputTranscriptEvent struct{ Text string }

func (e OutputTranscriptEvent) liveEventType() string { return "output_transcript" }

// TurnCompleteEvent marks the end of a model turn.
type TurnCompleteEvent struct{}

func (e TurnCompleteEvent) liveEventType() string { return "turn_complete" }

// InterruptedEvent signals that caller speech preempted model output.
type InterruptedEvent struct{}

func (e InterruptedEvent) liveEventType() string { return "interrupted" }

// ToolCallEvent carries model-initiated function calls.
type ToolCallEvent struct{ Calls []protocol.FunctionCall }

func (e ToolCallEvent) liveEventType() string { return "tool_call" }

// GoAwayEvent warns that the server will close the connection.
type GoAwayEvent struct{ TimeLeft string }

func (e GoAwayEvent) liveEventType() string { return "go_away" }

// Session is an established live websocket session.
type Session struct {
	conn *websocket.Conn

	events chan Event
	done   chan struct{}
	stop   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool

	errMu sync.Mutex
	err   error
}

// Connect dials the service, performs the setup handshake, and starts the
// read loop. Dial failures against an unreachable or overloaded service
// are retryable; rejected credentials are not.
func Connect(ctx context.Context, cfg Config) (*Session, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, core.NewInvalidRequestError("api key must not be empty")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	voice := strings.TrimSpace(cfg.Voice)
	if voice == "" {
		voice = DefaultVoice
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	wsURL, err := sessionURL(endpoint, cfg.APIKey)
	if err != nil {
		return nil, err
	}

	var dialer Dialer = websocket.DefaultDialer
	if cfg.Dialer != nil {
		dialer = cfg.Dialer
	}

	dialCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		dialCtx, cancel = context.WithTimeout(ctx, defaultConnectTimeout)
		defer cancel()
	}

	conn, resp, err := dialer.DialContext(dialCtx, wsURL, nil)
	if err != nil {
		if resp != nil && isTransientStatus(resp.StatusCode) {
			return nil, core.NewUnavailableError(fmt.Sprintf("websocket dial failed (status %d)", resp.StatusCode), err)
		}
		if resp != nil {
			return nil, core.NewAPIError(fmt.Sprintf("websocket dial failed (status %d): %v", resp.StatusCode, err))
		}
		return nil, core.NewUnavailableError("websocket dial failed", err)
	}

	setup := buildSetup(model, voice, cfg.Instructions, cfg.Tools)
	if err := conn.WriteJSON(setup); err != nil {
		_ = conn.Close()
		return nil, core.NewUnavailableError("send setup frame", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(defaultConnectTimeout))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, core.NewUnavailableError("read setup ack", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	first, err := protocol.DecodeServerMessage(payload)
	if err != nil {
		_ = conn.Close()
		return nil, core.NewAPIError(err.Error())
	}
	if first.SetupComplete == nil {
		_ = conn.Close()
		return nil, core.NewAPIError("first server frame is not setupComplete")
	}

	session := &Session{
		conn:   conn,
		events: make(chan Event, 256),
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
	}
	session.emit(SetupCompleteEvent{})
	go session.readLoop()
	return session, nil
}

func buildSetup(model, voice, instructions string, tools []protocol.Tool) protocol.ClientSetup {
	setup := protocol.Setup{
		Model: model,
		GenerationConfig: &protocol.GenerationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: &protocol.SpeechConfig{
				VoiceConfig: &protocol.VoiceConfig{
					PrebuiltVoiceConfig: &protocol.PrebuiltVoiceConfig{VoiceName: voice},
				},
			},
		},
		Tools:                    tools,
		InputAudioTranscription:  &struct{}{},
		OutputAudioTranscription: &struct{}{},
	}
	if strings.TrimSpace(instructions) != "" {
		setup.SystemInstruction = &protocol.Content{
			Parts: []protocol.Part{{Text: instructions}},
		}
	}
	return protocol.ClientSetup{Setup: setup}
}

func sessionURL(endpoint, apiKey string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", core.NewInvalidRequestError("invalid live endpoint URL")
	}
	switch strings.ToLower(strings.TrimSpace(u.Scheme)) {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", core.NewInvalidRequestError("live endpoint must use ws(s) or http(s)")
	}
	q := u.Query()
	q.Set("key", apiKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func isTransientStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// Events yields inbound session events. The channel closes when the
// session ends.
func (s *Session) Events() <-chan Event {
	if s == nil {
		return nil
	}
	return s.events
}

// SendAudio streams one captured PCM block (16-bit LE, 16kHz mono) to the
// model.
func (s *Session) SendAudio(pcm []byte) error {
	if s == nil {
		return fmt.Errorf("session must not be nil")
	}
	if len(pcm) == 0 {
		return nil
	}
	frame := protocol.NewAudioChunk(audio.EncodeBase64(pcm))
	return s.sendJSON(frame)
}

// SendToolResponse acknowledges model-initiated function calls.
func (s *Session) SendToolResponse(responses []protocol.FunctionResponse) error {
	if s == nil {
		return fmt.Errorf("session must not be nil")
	}
	if len(responses) == 0 {
		return nil
	}
	frame := protocol.ClientToolResponse{
		ToolResponse: protocol.ToolResponse{FunctionResponses: responses},
	}
	return s.sendJSON(frame)
}

func (s *Session) sendJSON(v any) error {
	if s.closed.Load() {
		return fmt.Errorf("live session is closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

// Close shuts the websocket down and waits for the read loop to exit.
// Safe to call more than once.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.stop)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
	<-s.done
	return nil
}

// Err returns the terminal session error, if any. Blocks until the read
// loop exits.
func (s *Session) Err() error {
	if s == nil {
		return nil
	}
	<-s.done
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Session) setErr(err error) {
	if err == nil {
		return
	}
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *Session) readLoop() {
	defer close(s.done)
	defer close(s.events)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			s.setErr(core.NewUnavailableError("live connection lost", err))
			return
		}

		msg, err := protocol.DecodeServerMessage(data)
		if err != nil {
			s.setErr(core.NewAPIError(err.Error()))
			return
		}
		s.dispatch(msg)
	}
}

// dispatch expands one server frame into events, preserving the frame's
// internal order: transcripts, then audio, then interrupted, then
// turn complete.
func (s *Session) dispatch(msg *protocol.ServerMessage) {
	if msg == nil {
		return
	}
	if msg.ToolCall != nil && len(msg.ToolCall.FunctionCalls) > 0 {
		s.emit(ToolCallEvent{Calls: msg.ToolCall.FunctionCalls})
	}
	if msg.GoAway != nil {
		s.emit(GoAwayEvent{TimeLeft: msg.GoAway.TimeLeft})
	}
	content := msg.ServerContent
	if content == nil {
		return
	}
	if content.InputTranscription != nil && content.InputTranscription.Text != "" {
		s.emit(InputTranscriptEvent{Text: content.InputTranscription.Text})
	}
	if content.OutputTranscription != nil && content.OutputTranscription.Text != "" {
		s.emit(OutputTranscriptEvent{Text: content.OutputTranscription.Text})
	}
	if content.ModelTurn != nil {
		for _, part := range content.ModelTurn.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			pcm, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				s.setErr(core.NewAPIError("decode model audio chunk: " + err.Error()))
				continue
			}
			s.emit(AudioEvent{Data: pcm})
		}
	}
	if content.Interrupted {
		s.emit(InterruptedEvent{})
	}
	if content.TurnComplete {
		s.emit(TurnCompleteEvent{})
	}
}

// emit delivers an event to the consumer, blocking until there is room.
// A full buffer pushes backpressure onto the read loop rather than
// dropping frames; turn boundaries and interruptions must never be lost.
// Close unblocks a send in flight.
func (s *Session) emit(event Event) {
	if event == nil {
		return
	}
	select {
	case s.events <- event:
	case <-s.stop:
	}
}
