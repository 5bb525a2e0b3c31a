package record_test

import (
	"testing"
	"time"

	"github.com/MrWong99/echoreplay/pkg/record"
)

// TestSortRecords_TiesBrokenBySequence verifies that records sharing a
// millisecond timestamp are ordered solely by their capture sequence,
// regardless of their original slice position.
func TestSortRecords_TiesBrokenBySequence(t *testing.T) {
	ts := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	recs := []record.InteractionRecord{
		{ID: "c", Kind: record.KindAudioChunk, Timestamp: ts, Sequence: 3},
		{ID: "a", Kind: record.KindAudioChunk, Timestamp: ts, Sequence: 1},
		{ID: "d", Kind: record.KindAudioChunk, Timestamp: ts.Add(time.Millisecond), Sequence: 0},
		{ID: "b", Kind: record.KindAudioChunk, Timestamp: ts, Sequence: 2},
	}

	record.SortRecords(recs)

	want := []string{"a", "b", "c", "d"}
	for i, id := range want {
		if recs[i].ID != id {
			t.Errorf("recs[%d].ID = %q, want %q", i, recs[i].ID, id)
		}
	}
}

// TestSortRecords_TimestampDominates verifies that Sequence only matters
// within a timestamp tie.
func TestSortRecords_TimestampDominates(t *testing.T) {
	ts := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	recs := []record.InteractionRecord{
		{ID: "late", Timestamp: ts.Add(5 * time.Millisecond), Sequence: 1},
		{ID: "early", Timestamp: ts, Sequence: 99},
	}

	record.SortRecords(recs)

	if recs[0].ID != "early" || recs[1].ID != "late" {
		t.Errorf("order = [%s, %s], want [early, late]", recs[0].ID, recs[1].ID)
	}
}

func TestKind_IsValid(t *testing.T) {
	valid := []record.Kind{
		record.KindVideoFrame, record.KindAudioChunk, record.KindTextInput,
		record.KindAPIResponse, record.KindUserAction,
	}
	for _, k := range valid {
		if !k.IsValid() {
			t.Errorf("Kind(%q).IsValid() = false, want true", k)
		}
	}
	if record.Kind("mouse_move").IsValid() {
		t.Error(`Kind("mouse_move").IsValid() = true, want false`)
	}
}

func TestInteractionRecord_Classification(t *testing.T) {
	userChunk := record.InteractionRecord{
		Kind:     record.KindAudioChunk,
		Metadata: record.Metadata{UserSource: true, SampleRate: 16000},
		MediaRef: "blob-1",
	}
	if !userChunk.IsUserAudio() {
		t.Error("user audio chunk not classified as user audio")
	}
	if userChunk.IsAPIAudio() {
		t.Error("user audio chunk classified as API audio")
	}

	apiAudio := record.InteractionRecord{
		Kind:     record.KindAPIResponse,
		Metadata: record.Metadata{ResponseKind: record.ResponseAudio, SampleRate: 24000},
		MediaRef: "blob-2",
	}
	if !apiAudio.IsAPIAudio() {
		t.Error("audio api_response not classified as API audio")
	}

	// An api_response without a media reference is text-only even if its
	// response kind claims audio.
	textOnly := apiAudio
	textOnly.MediaRef = ""
	if textOnly.IsAPIAudio() {
		t.Error("media-less api_response classified as API audio")
	}

	marker := record.InteractionRecord{
		Kind:     record.KindUserAction,
		Metadata: record.Metadata{ActionType: record.ActionAudioStreamStart},
	}
	if !marker.IsStreamStart() {
		t.Error("audio_stream_start action not classified as stream start")
	}
}
