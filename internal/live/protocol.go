package live

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Client → server messages. Exactly one top-level field is set per frame.

type setupMessage struct {
	Setup *Setup `json:"setup"`
}

// Setup opens the session: model, voice preset, system instruction and
// the tool declarations discovered from the tool server
type Setup struct {
	Model                    string            `json:"model"`
	GenerationConfig         *GenerationConfig `json:"generationConfig,omitempty"`
	SystemInstruction        *Content          `json:"systemInstruction,omitempty"`
	Tools                    []Tool            `json:"tools,omitempty"`
	InputAudioTranscription  *struct{}         `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}         `json:"outputAudioTranscription,omitempty"`
}

type GenerationConfig struct {
	ResponseModalities []string      `json:"responseModalities,omitempty"`
	SpeechConfig       *SpeechConfig `json:"speechConfig,omitempty"`
}

type SpeechConfig struct {
	VoiceConfig *VoiceConfig `json:"voiceConfig,omitempty"`
}

type VoiceConfig struct {
	PrebuiltVoiceConfig *PrebuiltVoiceConfig `json:"prebuiltVoiceConfig,omitempty"`
}

type PrebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type Tool struct {
	FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations"`
}

type FunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type realtimeInputMessage struct {
	RealtimeInput *RealtimeInput `json:"realtimeInput"`
}

type RealtimeInput struct {
	MediaChunks    []Blob `json:"mediaChunks,omitempty"`
	AudioStreamEnd bool   `json:"audioStreamEnd,omitempty"`
}

// Blob carries base64 PCM with its mime type, e.g. "audio/pcm;rate=16000"
type Blob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type clientContentMessage struct {
	ClientContent *ClientContent `json:"clientContent"`
}

type ClientContent struct {
	Turns        []Content `json:"turns,omitempty"`
	TurnComplete bool      `json:"turnComplete,omitempty"`
}

type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts,omitempty"`
}

type Part struct {
	Text       string `json:"text,omitempty"`
	InlineData *Blob  `json:"inlineData,omitempty"`
}

type toolResponseMessage struct {
	ToolResponse *ToolResponse `json:"toolResponse"`
}

type ToolResponse struct {
	FunctionResponses []FunctionResponse `json:"functionResponses"`
}

type FunctionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// Server → client frames: a tagged union over setup-complete,
// server-content and tool-call

type serverMessage struct {
	SetupComplete        *struct{}             `json:"setupComplete,omitempty"`
	ServerContent        *ServerContent        `json:"serverContent,omitempty"`
	ToolCall             *ToolCallPayload      `json:"toolCall,omitempty"`
	ToolCallCancellation *ToolCallCancellation `json:"toolCallCancellation,omitempty"`
}

type ServerContent struct {
	ModelTurn           *Content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *Transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *Transcription `json:"outputTranscription,omitempty"`
}

type Transcription struct {
	Text string `json:"text,omitempty"`
}

type ToolCallPayload struct {
	FunctionCalls []FunctionCall `json:"functionCalls,omitempty"`
}

type FunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type ToolCallCancellation struct {
	IDs []string `json:"ids,omitempty"`
}

// decodeServerMessage expands one wire frame into typed events, in the
// order the fields are guaranteed to be meaningful: transcripts first,
// then audio, then interrupted/turn-complete flags.
func decodeServerMessage(raw []byte, fallbackRate int) ([]Event, error) {
	var msg serverMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("malformed server frame: %w", err)
	}

	var events []Event

	if msg.SetupComplete != nil {
		events = append(events, SetupCompleteEvent{})
	}

	if sc := msg.ServerContent; sc != nil {
		if sc.InputTranscription != nil {
			events = append(events, UserTranscriptEvent{Text: sc.InputTranscription.Text})
		}
		if sc.OutputTranscription != nil {
			events = append(events, ModelTranscriptEvent{Text: sc.OutputTranscription.Text})
		}
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part.InlineData == nil {
					continue
				}
				pcm, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
				if err != nil {
					continue // Skip undecodable audio, keep the rest of the frame
				}
				events = append(events, AudioFrameEvent{
					PCM:        pcm,
					SampleRate: rateFromMime(part.InlineData.MimeType, fallbackRate),
				})
			}
		}
		if sc.Interrupted {
			events = append(events, InterruptedEvent{})
		}
		if sc.TurnComplete {
			events = append(events, TurnCompleteEvent{})
		}
	}

	if msg.ToolCall != nil && len(msg.ToolCall.FunctionCalls) > 0 {
		events = append(events, ToolCallEvent{Calls: msg.ToolCall.FunctionCalls})
	}

	if msg.ToolCallCancellation != nil && len(msg.ToolCallCancellation.IDs) > 0 {
		events = append(events, ToolCallCancellationEvent{IDs: msg.ToolCallCancellation.IDs})
	}

	return events, nil
}

// rateFromMime extracts the sample rate from mime types like
// "audio/pcm;rate=24000"
func rateFromMime(mime string, fallback int) int {
	for _, param := range strings.Split(mime, ";") {
		param = strings.TrimSpace(param)
		if value, ok := strings.CutPrefix(param, "rate="); ok {
			if rate, err := strconv.Atoi(value); err == nil && rate > 0 {
				return rate
			}
		}
	}
	return fallback
}

func pcmMime(rate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", rate)
}
