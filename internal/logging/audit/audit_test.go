package audit

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("failed to unmarshal log entry: %v", err)
	}
	return logEntry
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	auditLogger := NewLogger(zerolog.New(&buf))

	if auditLogger == nil {
		t.Fatal("NewLogger returned nil")
	}
}

func TestLogOperation(t *testing.T) {
	tests := []struct {
		name      string
		result    string
		objectID  string
		details   string
		wantLevel string
	}{
		{
			name:      "allowed store",
			result:    ResultAllowed,
			objectID:  "ba7816bf",
			details:   "deduplicated",
			wantLevel: "info",
		},
		{
			name:      "denied forget",
			result:    ResultDenied,
			objectID:  "ba7816bf",
			details:   "object is pinned",
			wantLevel: "warn",
		},
		{
			name:      "failed store",
			result:    ResultError,
			wantLevel: "warn",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			auditLogger := NewLogger(zerolog.New(&buf))

			auditLogger.LogOperation("alice", "store", "bucket-1", tt.objectID, tt.result, tt.details)

			logEntry := decode(t, &buf)
			if got := logEntry["level"]; got != tt.wantLevel {
				t.Errorf("level = %v, want %v", got, tt.wantLevel)
			}
			if got := logEntry["event_type"]; got != "object_operation" {
				t.Errorf("event_type = %v, want object_operation", got)
			}
			if got := logEntry["actor"]; got != "alice" {
				t.Errorf("actor = %v, want alice", got)
			}
			if got := logEntry["bucket"]; got != "bucket-1" {
				t.Errorf("bucket = %v, want bucket-1", got)
			}
			if got := logEntry["result"]; got != tt.result {
				t.Errorf("result = %v, want %v", got, tt.result)
			}

			// Optional fields are omitted when empty
			if tt.objectID == "" {
				if _, exists := logEntry["object_id"]; exists {
					t.Error("object_id should be omitted when empty")
				}
			} else if got := logEntry["object_id"]; got != tt.objectID {
				t.Errorf("object_id = %v, want %v", got, tt.objectID)
			}
			if tt.details == "" {
				if _, exists := logEntry["details"]; exists {
					t.Error("details should be omitted when empty")
				}
			}
		})
	}
}

func TestLogForceForget(t *testing.T) {
	var buf bytes.Buffer
	auditLogger := NewLogger(zerolog.New(&buf))

	auditLogger.LogForceForget("owner", "bucket-1", "abcd", ResultAllowed, 3, "")

	logEntry := decode(t, &buf)
	if got := logEntry["level"]; got != "warn" {
		t.Errorf("level = %v, want warn", got)
	}
	if got := logEntry["event_type"]; got != "force_forget" {
		t.Errorf("event_type = %v, want force_forget", got)
	}
	if got := logEntry["dropped_pins"]; got != float64(3) {
		t.Errorf("dropped_pins = %v, want 3", got)
	}
	if got := logEntry["result"]; got != ResultAllowed {
		t.Errorf("result = %v, want allowed", got)
	}
}

func TestLogBucket(t *testing.T) {
	var buf bytes.Buffer
	auditLogger := NewLogger(zerolog.New(&buf))

	auditLogger.LogBucket("alice", "", "photos", ResultError, "bucket already exists")

	logEntry := decode(t, &buf)
	if got := logEntry["level"]; got != "warn" {
		t.Errorf("level = %v, want warn", got)
	}
	if got := logEntry["event_type"]; got != "bucket_management" {
		t.Errorf("event_type = %v, want bucket_management", got)
	}
	if got := logEntry["name"]; got != "photos" {
		t.Errorf("name = %v, want photos", got)
	}
	if _, exists := logEntry["bucket"]; exists {
		t.Error("bucket should be omitted when empty")
	}
}

func TestNopLogger(t *testing.T) {
	// Must not panic
	auditLogger := NewLogger(zerolog.Nop())
	auditLogger.LogOperation("alice", "pin", "b", "o", ResultAllowed, "")
	auditLogger.LogForceForget("alice", "b", "o", ResultDenied, 0, "not the bucket owner")
	auditLogger.LogBucket("alice", "b", "n", ResultAllowed, "")
}
