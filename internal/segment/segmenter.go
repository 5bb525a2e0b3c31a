// Package segment converts the flat, time-ordered interaction log of a
// session into conversation segments — contiguous same-kind runs that play
// back as one unit — and materializes each segment into playback-ready audio
// buffers and video timelines.
package segment

import (
	"time"

	"github.com/MrWong99/echoreplay/pkg/record"
)

// Type classifies a conversation segment.
type Type string

const (
	TypeUserSpeech  Type = "user_speech"
	TypeAPIResponse Type = "api_response"
	TypeUserText    Type = "user_text"
	TypeUserAction  Type = "user_action"
)

// Segment is a contiguous grouping of records of one semantic kind. Segments
// are build-once artifacts of a single replay session and are never mutated
// after Split returns.
type Segment struct {
	Type Type

	// StartTime and EndTime derive from the first and last member record.
	StartTime time.Time
	EndTime   time.Time

	// Members holds every record in the segment, in (timestamp, sequence)
	// order. Never empty.
	Members []record.InteractionRecord

	// AudioMembers and VideoMembers are the modality-relevant subsets of
	// Members, in the same order.
	AudioMembers []record.InteractionRecord
	VideoMembers []record.InteractionRecord

	// MergedFrom lists the indices of the original segments collapsed into
	// this one by the consecutive api_response merge pass. Nil for segments
	// that were never merged.
	MergedFrom []int

	// summed holds the accumulated duration of merged constituents. Zero for
	// unmerged segments.
	summed time.Duration
}

// Duration returns the playback-relevant span of the segment. For a merged
// api_response segment this is the sum of the constituent segments' spans —
// the silent gaps between back-to-back AI response fragments are not part of
// the AI turn.
func (s *Segment) Duration() time.Duration {
	if s.summed > 0 {
		return s.summed
	}
	return s.EndTime.Sub(s.StartTime)
}

// MemberIDs returns the IDs of all member records in order.
func (s *Segment) MemberIDs() []string {
	ids := make([]string, len(s.Members))
	for i, m := range s.Members {
		ids[i] = m.ID
	}
	return ids
}

// Split converts the full record list of one session into an ordered segment
// list. The input is not mutated; records are re-sorted into
// (timestamp, sequence) order on a copy before the fold.
//
// Segment boundaries:
//   - text_input starts a user_text segment;
//   - a user_action with action type "audio_stream_start" opens a
//     user_speech segment (the marker announces the microphone stream whose
//     chunks follow);
//   - a user_action with action type "audio_stream_end" terminates the open
//     segment as its last member;
//   - any other user_action starts or continues a user_action segment;
//   - a user-sourced audio chunk starts a user_speech segment unless one is
//     already open — or unless the trailing-noise rule applies (below);
//   - any api_response starts an api_response segment unless one is open.
//
// Trailing-noise rule: a single isolated user-audio record immediately after
// an api_response segment, with no further user-audio continuing it, is an
// echo/VAD artifact of the AI turn's tail. It is appended to the still-open
// api_response segment instead of fragmenting playback into a near-zero
// "user speech" segment.
//
// After the fold, adjacent api_response segments are merged: a single AI
// utterance is frequently logged as several back-to-back response segments,
// and gap-free playback needs one AI turn to be one audio segment.
//
// No segment is ever dropped by length filtering. Empty input yields nil;
// Split never fails.
func Split(records []record.InteractionRecord) []*Segment {
	if len(records) == 0 {
		return nil
	}

	ordered := make([]record.InteractionRecord, len(records))
	copy(ordered, records)
	record.SortRecords(ordered)

	var (
		segments []*Segment
		current  *Segment
	)

	open := func(t Type) {
		current = &Segment{Type: t}
		segments = append(segments, current)
	}

	for i, rec := range ordered {
		closeAfter := false

		switch {
		case rec.Kind == record.KindTextInput:
			open(TypeUserText)

		case rec.IsStreamStart():
			open(TypeUserSpeech)

		case rec.Kind == record.KindUserAction:
			// A stream-end marker is a turn boundary: it terminates the open
			// segment (becoming its last member) instead of starting one.
			// Resumed AI audio after the boundary then opens a fresh
			// api_response segment, which the merge pass below collapses
			// back into one AI turn.
			if rec.Metadata.ActionType == record.ActionAudioStreamEnd && current != nil {
				closeAfter = true
				break
			}
			if current == nil || current.Type != TypeUserAction {
				open(TypeUserAction)
			}

		case rec.IsUserAudio():
			if current == nil || current.Type != TypeUserSpeech {
				if current != nil && current.Type == TypeAPIResponse && isolatedUserAudio(ordered, i) {
					// Trailing noise: keep it inside the AI turn.
					break
				}
				open(TypeUserSpeech)
			}

		case rec.Kind == record.KindAPIResponse:
			if current == nil || current.Type != TypeAPIResponse {
				open(TypeAPIResponse)
			}

		case rec.Kind == record.KindVideoFrame:
			// Frames never open boundaries; camera frames before any other
			// record belong to the user's side of the conversation.
			if current == nil {
				open(TypeUserSpeech)
			}

		default:
			// Non-user audio chunks (AI voice logged as raw chunks) extend an
			// open api_response turn or start one.
			if current == nil || current.Type != TypeAPIResponse {
				open(TypeAPIResponse)
			}
		}

		appendRecord(current, rec)
		if closeAfter {
			current = nil
		}
	}

	return mergeAPIResponses(segments)
}

// isolatedUserAudio reports whether the user-audio record at index i is not
// continued by another user-audio record. Video frames in between are
// ignored — the camera keeps producing frames regardless of who is speaking.
func isolatedUserAudio(ordered []record.InteractionRecord, i int) bool {
	for j := i + 1; j < len(ordered); j++ {
		if ordered[j].Kind == record.KindVideoFrame {
			continue
		}
		return !ordered[j].IsUserAudio()
	}
	return true
}

// appendRecord adds rec to seg, updating time bounds and modality subsets.
func appendRecord(seg *Segment, rec record.InteractionRecord) {
	if len(seg.Members) == 0 || rec.Timestamp.Before(seg.StartTime) {
		seg.StartTime = rec.Timestamp
	}
	if rec.Timestamp.After(seg.EndTime) {
		seg.EndTime = rec.Timestamp
	}
	seg.Members = append(seg.Members, rec)

	switch {
	case rec.Kind == record.KindAudioChunk, rec.IsAPIAudio():
		seg.AudioMembers = append(seg.AudioMembers, rec)
	case rec.Kind == record.KindVideoFrame:
		seg.VideoMembers = append(seg.VideoMembers, rec)
	}
}

// mergeAPIResponses collapses every run of adjacent api_response segments
// into one, concatenating member lists in original order and recording the
// constituent original indices under MergedFrom.
func mergeAPIResponses(segments []*Segment) []*Segment {
	if len(segments) == 0 {
		return nil
	}

	out := make([]*Segment, 0, len(segments))
	for i := 0; i < len(segments); i++ {
		seg := segments[i]
		if seg.Type != TypeAPIResponse {
			out = append(out, seg)
			continue
		}

		merged := &Segment{
			Type:       TypeAPIResponse,
			StartTime:  seg.StartTime,
			EndTime:    seg.EndTime,
			MergedFrom: []int{i},
			summed:     seg.Duration(),
		}
		merged.absorb(seg)

		for i+1 < len(segments) && segments[i+1].Type == TypeAPIResponse {
			i++
			next := segments[i]
			merged.absorb(next)
			merged.summed += next.Duration()
			if next.EndTime.After(merged.EndTime) {
				merged.EndTime = next.EndTime
			}
			merged.MergedFrom = append(merged.MergedFrom, i)
		}

		if len(merged.MergedFrom) == 1 {
			// Nothing was actually merged; keep the original untagged.
			merged.MergedFrom = nil
			merged.summed = 0
		}
		out = append(out, merged)
	}
	return out
}

// absorb appends other's members and counters to s.
func (s *Segment) absorb(other *Segment) {
	s.Members = append(s.Members, other.Members...)
	s.AudioMembers = append(s.AudioMembers, other.AudioMembers...)
	s.VideoMembers = append(s.VideoMembers, other.VideoMembers...)
}
