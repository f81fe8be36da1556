package protocol

import (
	"errors"
	"strings"
	"testing"
)

func TestDecodeClientMessage(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    any
		wantErr string
	}{
		{
			name: "start interview",
			in:   `{"type":"start_interview"}`,
			want: ClientStartInterview{Type: "start_interview"},
		},
		{
			name: "audio chunk",
			in:   `{"type":"audio_chunk","data_b64":"AAAA"}`,
			want: ClientAudioChunk{Type: "audio_chunk", DataB64: "AAAA"},
		},
		{
			name: "start recording",
			in:   `{"type":"start_recording"}`,
			want: ClientStartRecording{Type: "start_recording"},
		},
		{
			name: "stop recording",
			in:   `{"type":"stop_recording"}`,
			want: ClientStopRecording{Type: "stop_recording"},
		},
		{
			name: "end interview",
			in:   `{"type":"end_interview"}`,
			want: ClientEndInterview{Type: "end_interview"},
		},
		{
			name:    "audio chunk without data",
			in:      `{"type":"audio_chunk"}`,
			wantErr: "data_b64",
		},
		{
			name:    "missing type",
			in:      `{"data_b64":"AAAA"}`,
			wantErr: "type",
		},
		{
			name:    "unknown type",
			in:      `{"type":"reboot"}`,
			wantErr: "type",
		},
		{
			name:    "not json",
			in:      `hello`,
			wantErr: "invalid json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeClientMessage([]byte(tt.in))
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("expected error containing %q, got message %#v", tt.wantErr, got)
				}
				var de *DecodeError
				if !errors.As(err, &de) {
					t.Fatalf("error is %T, want *DecodeError", err)
				}
				if de.Code != "bad_request" {
					t.Fatalf("code=%q, want bad_request", de.Code)
				}
				if !strings.Contains(de.Error(), tt.wantErr) {
					t.Fatalf("error %q does not mention %q", de.Error(), tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeClientMessage: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}
