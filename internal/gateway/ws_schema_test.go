package gateway

import (
	"encoding/json"
	"testing"
)

func mustFrame(t *testing.T, raw string) *wsFrame {
	t.Helper()
	var frame wsFrame
	if err := json.Unmarshal([]byte(raw), &frame); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	return &frame
}

func TestValidateWSRequestFrame(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{
			name: "minimal ping",
			raw:  `{"type":"req","id":"1","method":"ping"}`,
		},
		{
			name: "connect with auth",
			raw:  `{"type":"req","id":"1","method":"connect","params":{"minProtocol":1,"maxProtocol":1,"auth":{"token":"t"}}}`,
		},
		{
			name:    "missing id",
			raw:     `{"type":"req","method":"ping"}`,
			wantErr: true,
		},
		{
			name:    "missing method",
			raw:     `{"type":"req","id":"1"}`,
			wantErr: true,
		},
		{
			name: "config.patch full",
			raw:  `{"type":"req","id":"2","method":"config.patch","params":{"patch":"server:\n  port: 9000\n","baseHash":"abc"}}`,
		},
		{
			name:    "config.patch without baseHash",
			raw:     `{"type":"req","id":"2","method":"config.patch","params":{"patch":"server: {}"}}`,
			wantErr: true,
		},
		{
			name:    "config.patch empty patch",
			raw:     `{"type":"req","id":"2","method":"config.patch","params":{"patch":"","baseHash":"abc"}}`,
			wantErr: true,
		},
		{
			name: "wizard.start empty params",
			raw:  `{"type":"req","id":"3","method":"wizard.start"}`,
		},
		{
			name: "wizard.next with answer",
			raw:  `{"type":"req","id":"4","method":"wizard.next","params":{"sessionId":"s","answer":{"stepId":"provider","value":"anthropic"}}}`,
		},
		{
			name:    "wizard.next without session",
			raw:     `{"type":"req","id":"4","method":"wizard.next","params":{"answer":{"value":true}}}`,
			wantErr: true,
		},
		{
			name:    "wizard.cancel without session",
			raw:     `{"type":"req","id":"5","method":"wizard.cancel","params":{}}`,
			wantErr: true,
		},
		{
			name: "unknown method passes frame schema",
			raw:  `{"type":"req","id":"6","method":"no.such.method","params":{"x":1}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := mustFrame(t, tt.raw)
			err := validateWSRequestFrame([]byte(tt.raw), frame)
			if tt.wantErr && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}
