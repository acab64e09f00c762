package calljob

import (
	"testing"

	"github.com/snarg/callscribe/internal/metadata"
)

func TestJobEncodeDecodeRoundTrip(t *testing.T) {
	j := &Job{
		ID:                    "abc123",
		IndexName:             "calls_2026_08",
		AudioURL:              "s3://bucket/audio/call.mp3",
		WhisperImplementation: "deepgram",
		Prompt:                "units clear",
		Metadata: metadata.Call{
			ShortName: "countyso",
			Talkgroup: 5210,
			AudioType: metadata.AudioDigital,
		},
	}
	data, err := j.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	back, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if back.ID != j.ID || back.IndexName != j.IndexName || back.AudioURL != j.AudioURL {
		t.Errorf("round trip mismatch: %+v", back)
	}
	if back.WhisperImplementation != "deepgram" || back.Prompt != "units clear" {
		t.Errorf("per-job engine override round trip mismatch: %+v", back)
	}
	if back.Metadata.ShortName != "countyso" || back.Metadata.Talkgroup != 5210 {
		t.Errorf("metadata round trip mismatch: %+v", back.Metadata)
	}
}

func TestJobIsRetranscribe(t *testing.T) {
	if (&Job{}).IsRetranscribe() {
		t.Error("job with no id should not be a retranscribe")
	}
	if !(&Job{ID: "x"}).IsRetranscribe() {
		t.Error("job with an id should be a retranscribe")
	}
}

func TestDeriveIDIsDeterministic(t *testing.T) {
	raw := []byte(`{"short_name":"countyso","talkgroup":5210}`)
	id1 := DeriveID(raw)
	id2 := DeriveID(raw)
	if id1 != id2 {
		t.Errorf("DeriveID not deterministic: %q != %q", id1, id2)
	}
	if len(id1) != 64 {
		t.Errorf("DeriveID length = %d, want 64 (sha256 hex)", len(id1))
	}
}

func TestDeriveIDDiffersForDifferentInput(t *testing.T) {
	id1 := DeriveID([]byte("a"))
	id2 := DeriveID([]byte("b"))
	if id1 == id2 {
		t.Error("different input should derive different ids")
	}
}
