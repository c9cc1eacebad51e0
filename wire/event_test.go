package wire_test

import (
	"errors"
	"testing"

	"github.com/xraph/courier/wire"
)

func TestParseEvent_Complete(t *testing.T) {
	evt, err := wire.ParseEvent([]byte(`{"event":"experience.complete"}`))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if evt.Kind != wire.KindComplete {
		t.Errorf("Kind = %q, want %q", evt.Kind, wire.KindComplete)
	}
}

func TestParseEvent_Status(t *testing.T) {
	evt, err := wire.ParseEvent([]byte(`{"event":"experience.status","status":"rendering 40%"}`))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if evt.Kind != wire.KindStatus {
		t.Errorf("Kind = %q, want %q", evt.Kind, wire.KindStatus)
	}
	if evt.Status != "rendering 40%" {
		t.Errorf("Status = %q, want %q", evt.Status, "rendering 40%")
	}
}

func TestParseEvent_Scene(t *testing.T) {
	payload := []byte(`{
		"event": "experience.scene",
		"experience": {
			"id": "exp-1",
			"rendering": false,
			"moderation_status": "approved",
			"output": {"mp4": "https://cdn.example.com/exp-1.mp4"}
		}
	}`)
	evt, err := wire.ParseEvent(payload)
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if evt.Kind != wire.KindScene {
		t.Fatalf("Kind = %q, want %q", evt.Kind, wire.KindScene)
	}
	if evt.Experience.ID != "exp-1" {
		t.Errorf("Experience.ID = %q, want %q", evt.Experience.ID, "exp-1")
	}
	if !evt.Experience.Resolved() {
		t.Error("Resolved() = false, want true")
	}
	if evt.Experience.Rejected() {
		t.Error("Rejected() = true, want false")
	}
}

func TestParseEvent_SceneRejectedParsesCleanly(t *testing.T) {
	// Rejection is a classification concern, not a parse failure.
	payload := []byte(`{
		"event": "experience.scene",
		"experience": {"id": "exp-2", "rendering": false, "moderation_status": "rejected"}
	}`)
	evt, err := wire.ParseEvent(payload)
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if !evt.Experience.Rejected() {
		t.Error("Rejected() = false, want true")
	}
}

func TestParseEvent_UnknownKindIgnored(t *testing.T) {
	evt, err := wire.ParseEvent([]byte(`{"event":"experience.sparkle","status":"??"}`))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if evt.Kind != wire.KindUnknown {
		t.Errorf("Kind = %q, want KindUnknown", evt.Kind)
	}
}

func TestParseEvent_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"garbage", `{{{`},
		{"empty object", `{}`},
		{"status without message", `{"event":"experience.status"}`},
		{"scene without experience", `{"event":"experience.scene"}`},
		{"experience without id", `{"event":"experience.scene","experience":{"moderation_status":"pending"}}`},
		{"unknown moderation status", `{"event":"experience.scene","experience":{"id":"x","moderation_status":"maybe"}}`},
		{"output while rendering", `{"event":"experience.scene","experience":{"id":"x","rendering":true,"moderation_status":"pending","output":{"mp4":"u"}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := wire.ParseEvent([]byte(tt.payload))
			var perr *wire.ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("ParseEvent(%s) err = %v, want *ParseError", tt.payload, err)
			}
		})
	}
}

func TestParseEvent_EmptyPayload(t *testing.T) {
	var perr *wire.ParseError
	if _, err := wire.ParseEvent(nil); !errors.As(err, &perr) {
		t.Fatalf("ParseEvent(nil) err = %v, want *ParseError", err)
	}
}

func TestIsServerFailure(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{"server failure", true},
		{"Server Failure", true},
		{"  SERVER FAILURE  ", true},
		{"rendering 99%", false},
		{"", false},
		{"server failure detected", false},
	}
	for _, tt := range tests {
		if got := wire.IsServerFailure(tt.status); got != tt.want {
			t.Errorf("IsServerFailure(%q) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestChannelForJob(t *testing.T) {
	if got := wire.ChannelForJob("abc-123"); got != "render:abc-123" {
		t.Errorf("ChannelForJob = %q, want %q", got, "render:abc-123")
	}
}
