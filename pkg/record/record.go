// Package record defines the interaction record model shared by the capture,
// storage, segmentation, and playback layers. A record is one captured event
// in a voice/video conversation: an audio chunk, a video frame, typed text,
// an AI response, or a user action marker.
package record

import (
	"slices"
	"time"
)

// Kind identifies what a record captured.
type Kind string

const (
	KindVideoFrame  Kind = "video_frame"
	KindAudioChunk  Kind = "audio_chunk"
	KindTextInput   Kind = "text_input"
	KindAPIResponse Kind = "api_response"
	KindUserAction  Kind = "user_action"
)

// IsValid reports whether k is a recognised record kind.
func (k Kind) IsValid() bool {
	switch k {
	case KindVideoFrame, KindAudioChunk, KindTextInput, KindAPIResponse, KindUserAction:
		return true
	}
	return false
}

// ResponseKind distinguishes text-only AI responses from responses that carry
// synthesised audio.
type ResponseKind string

const (
	ResponseText  ResponseKind = "text"
	ResponseAudio ResponseKind = "audio"
)

// Action types carried by user_action records.
const (
	ActionAudioStreamStart = "audio_stream_start"
	ActionAudioStreamEnd   = "audio_stream_end"
)

// Metadata carries kind-specific attributes of a record. Only the fields
// relevant to the record's [Kind] are populated.
type Metadata struct {
	// SampleRate in Hz of the PCM payload. Audio chunks and audio-carrying
	// API responses only.
	SampleRate int `json:"sample_rate,omitempty"`

	// UserSource is true when an audio chunk came from the local microphone
	// and false when it came from the remote/AI voice.
	UserSource bool `json:"user_source,omitempty"`

	// Width and Height describe video frame resolution.
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`

	// ActionType is set on user_action records (e.g. "audio_stream_start").
	ActionType string `json:"action_type,omitempty"`

	// ResponseKind is set on api_response records.
	ResponseKind ResponseKind `json:"response_kind,omitempty"`

	// Text is the display text of text_input and api_response records.
	Text string `json:"text,omitempty"`
}

// InteractionRecord is one captured conversation event. Records are immutable
// once ingested; every derived artifact (segments, materialized buffers) is
// built from copies or references, never by mutating a record.
type InteractionRecord struct {
	// ID uniquely identifies the record. It is stable across resolver and
	// cache lookups.
	ID string `json:"id"`

	// Kind identifies what was captured.
	Kind Kind `json:"kind"`

	// Timestamp is the wall-clock capture time with millisecond precision.
	// Not guaranteed unique — rapid streaming produces ties.
	Timestamp time.Time `json:"timestamp"`

	// Sequence is strictly increasing within a capture session and breaks
	// Timestamp ties deterministically. It is assigned at capture time.
	Sequence int64 `json:"sequence"`

	// Metadata holds kind-specific attributes.
	Metadata Metadata `json:"metadata"`

	// MediaRef is an opaque reference to a remote binary payload. Empty for
	// pure-text records.
	MediaRef string `json:"media_ref,omitempty"`
}

// HasMedia reports whether the record references a remote binary payload.
func (r InteractionRecord) HasMedia() bool { return r.MediaRef != "" }

// IsUserAudio reports whether the record is an audio chunk captured from the
// local microphone.
func (r InteractionRecord) IsUserAudio() bool {
	return r.Kind == KindAudioChunk && r.Metadata.UserSource
}

// IsAPIAudio reports whether the record is an AI response carrying a
// synthesised-audio payload.
func (r InteractionRecord) IsAPIAudio() bool {
	return r.Kind == KindAPIResponse && r.HasMedia() && r.Metadata.ResponseKind == ResponseAudio
}

// IsStreamStart reports whether the record is the user-action marker emitted
// when a microphone stream opens.
func (r InteractionRecord) IsStreamStart() bool {
	return r.Kind == KindUserAction && r.Metadata.ActionType == ActionAudioStreamStart
}

// SortRecords orders records in place by (Timestamp, Sequence). Ties on
// Timestamp are broken solely by Sequence — never by slice position or by the
// order media fetches happened to complete in.
func SortRecords(records []InteractionRecord) {
	slices.SortStableFunc(records, func(a, b InteractionRecord) int {
		switch {
		case a.Timestamp.Before(b.Timestamp):
			return -1
		case a.Timestamp.After(b.Timestamp):
			return 1
		case a.Sequence < b.Sequence:
			return -1
		case a.Sequence > b.Sequence:
			return 1
		}
		return 0
	})
}
