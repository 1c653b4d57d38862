// Package remote serves capture and playback from a device connected over a
// websocket. The device (a browser tab or cmd/voiceclient) owns the microphone
// and the speaker; this side tells it when to listen and what to say.
package remote

import (
	"encoding/json"

	"voice-interaction-engine/internal/voice/capability"
)

// Message types sent by the device.
const (
	TypeHello        = "hello"
	TypeListenResult = "listen.result"
	TypeListenError  = "listen.error"
	TypeListenEnd    = "listen.end"
	TypeSpeakStart   = "speak.start"
	TypeSpeakEnd     = "speak.end"
	TypeSpeakError   = "speak.error"
	TypeControl      = "control"
)

// Message types sent to the device.
const (
	TypeListenStart = "listen.start"
	TypeListenStop  = "listen.stop"
	TypeListenAbort = "listen.abort"
	TypeSpeak       = "speak"
	TypeSpeakCancel = "speak.cancel"
	TypeAudioStart  = "audio.start"
	TypeAudioStop   = "audio.stop"
	TypeUI          = "ui"
)

// Control actions carried by TypeControl.
const (
	ActionStart  = "start"
	ActionStop   = "stop"
	ActionCancel = "cancel"
	ActionEnd    = "end"
)

// Message is the JSON frame exchanged in both directions. Binary frames carry
// raw 16-bit little-endian PCM from the device while audio streaming is on.
type Message struct {
	Type         string                   `json:"type"`
	ID           string                   `json:"id,omitempty"`
	Text         string                   `json:"text,omitempty"`
	Final        bool                     `json:"final,omitempty"`
	Error        string                   `json:"error,omitempty"`
	Locale       string                   `json:"locale,omitempty"`
	Rate         float64                  `json:"rate,omitempty"`
	Action       string                   `json:"action,omitempty"`
	Capabilities *capability.Capabilities `json:"capabilities,omitempty"`
	Event        json.RawMessage          `json:"event,omitempty"`
}
