// Package protocol defines the JSON frames exchanged with the hosted
// bidirectional generation service. Field names and payload encodings are
// wire-compatible with the Gemini Live BidiGenerateContent protocol: frames
// are single JSON objects, audio rides base64-encoded inside them.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// AudioInMIME tags outbound microphone PCM (16-bit LE, 16kHz mono).
	AudioInMIME = "audio/pcm;rate=16000"

	// AudioOutSampleRateHz is the fixed sample rate of inbound model audio.
	AudioOutSampleRateHz = 24000
)

// DecodeError reports a malformed inbound frame.
type DecodeError struct {
	Message string
	Field   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Field) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Field)
}

// Blob carries base64-encoded binary data tagged with a MIME-like label.
type Blob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// Content is a single-role sequence of parts.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Part is one element of a content turn: text or inline binary data.
type Part struct {
	Text       string `json:"text,omitempty"`
	InlineData *Blob  `json:"inlineData,omitempty"`
}

// Schema describes a function parameter in the service's schema dialect.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
}

// FunctionDeclaration declares a callable tool to the model.
type FunctionDeclaration struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Parameters  *Schema `json:"parameters,omitempty"`
}

// Tool groups function declarations.
type Tool struct {
	FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations,omitempty"`
}

// PrebuiltVoiceConfig selects a named synthesized voice.
type PrebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

// VoiceConfig wraps the voice selection.
type VoiceConfig struct {
	PrebuiltVoiceConfig *PrebuiltVoiceConfig `json:"prebuiltVoiceConfig,omitempty"`
}

// SpeechConfig configures synthesized speech output.
type SpeechConfig struct {
	VoiceConfig *VoiceConfig `json:"voiceConfig,omitempty"`
}

// GenerationConfig controls the session's output modality and voice.
type GenerationConfig struct {
	ResponseModalities []string      `json:"responseModalities,omitempty"`
	SpeechConfig       *SpeechConfig `json:"speechConfig,omitempty"`
}

// Setup is the first client frame of a session.
type Setup struct {
	Model                    string            `json:"model"`
	GenerationConfig         *GenerationConfig `json:"generationConfig,omitempty"`
	SystemInstruction        *Content          `json:"systemInstruction,omitempty"`
	Tools                    []Tool            `json:"tools,omitempty"`
	InputAudioTranscription  *struct{}         `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}         `json:"outputAudioTranscription,omitempty"`
}

// ClientSetup is the setup frame envelope.
type ClientSetup struct {
	Setup Setup `json:"setup"`
}

// RealtimeInput streams captured media to the model.
type RealtimeInput struct {
	MediaChunks []Blob `json:"mediaChunks"`
}

// ClientRealtimeInput is the realtime media frame envelope.
type ClientRealtimeInput struct {
	RealtimeInput RealtimeInput `json:"realtimeInput"`
}

// FunctionResponse acknowledges a function call by id and name.
type FunctionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// ToolResponse carries function responses back to the model.
type ToolResponse struct {
	FunctionResponses []FunctionResponse `json:"functionResponses"`
}

// ClientToolResponse is the tool response frame envelope.
type ClientToolResponse struct {
	ToolResponse ToolResponse `json:"toolResponse"`
}

// FunctionCall is a model-initiated tool invocation. Args are forwarded as
// opaque key/value data; the consumer sanitizes them.
type FunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolCall groups the function calls of one server frame.
type ToolCall struct {
	FunctionCalls []FunctionCall `json:"functionCalls"`
}

// Transcription is a partial transcript fragment.
type Transcription struct {
	Text string `json:"text"`
}

// ServerContent carries model output: audio/text parts, transcription
// fragments, and the turn-complete / interrupted signals.
type ServerContent struct {
	ModelTurn           *Content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *Transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *Transcription `json:"outputTranscription,omitempty"`
}

// GoAway warns that the server will close the connection.
type GoAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}

// ServerMessage is one inbound frame. Exactly one field is set per frame;
// frames must be handled in delivery order.
type ServerMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *ServerContent `json:"serverContent,omitempty"`
	ToolCall      *ToolCall      `json:"toolCall,omitempty"`
	GoAway        *GoAway        `json:"goAway,omitempty"`
}

// DecodeServerMessage parses an inbound frame.
func DecodeServerMessage(data []byte) (*ServerMessage, error) {
	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, &DecodeError{Message: "decode server frame: " + err.Error()}
	}
	return &msg, nil
}

// NewAudioChunk builds a realtime input frame for one captured PCM block.
func NewAudioChunk(b64 string) ClientRealtimeInput {
	return ClientRealtimeInput{
		RealtimeInput: RealtimeInput{
			MediaChunks: []Blob{{MIMEType: AudioInMIME, Data: b64}},
		},
	}
}

// NewToolSuccess builds the acknowledging response for one function call.
func NewToolSuccess(call FunctionCall) FunctionResponse {
	return FunctionResponse{
		ID:       call.ID,
		Name:     call.Name,
		Response: map[string]any{"result": "ok"},
	}
}
