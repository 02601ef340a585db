package protocol

import (
	"encoding/json"
	"testing"
)

func TestNewMessage(t *testing.T) {
	tests := []struct {
		name    string
		msgType MessageType
		data    any
	}{
		{
			name:    "state message",
			msgType: TypeState,
			data:    StateData{State: "listening", Generation: 3, Muted: false, Sound: true},
		},
		{
			name:    "reply message",
			msgType: TypeReply,
			data:    ReplyData{Text: "Добрый день", Generation: 2},
		},
		{
			name:    "nil data",
			msgType: TypePing,
			data:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := NewMessage(tt.msgType, tt.data)
			if err != nil {
				t.Fatalf("NewMessage() error = %v", err)
			}
			if msg.Type != tt.msgType {
				t.Errorf("NewMessage() type = %v, want %v", msg.Type, tt.msgType)
			}
			if msg.Timestamp == 0 {
				t.Error("NewMessage() timestamp should be set")
			}
			if msg.ID == "" {
				t.Error("NewMessage() id should be set")
			}
		})
	}

	t.Run("unique ids", func(t *testing.T) {
		a, _ := NewMessage(TypePing, nil)
		b, _ := NewMessage(TypePing, nil)
		if a.ID == b.ID {
			t.Error("message ids must be unique")
		}
	})

	t.Run("unmarshalable data", func(t *testing.T) {
		if _, err := NewMessage(TypeState, make(chan int)); err == nil {
			t.Error("expected marshal error")
		}
	})
}

func TestParseMessage(t *testing.T) {
	t.Run("browser native result", func(t *testing.T) {
		raw := `{"type":"native","data":{"kind":"result","text":"Мне нужен юрист","is_final":true}}`
		msg, err := ParseMessage([]byte(raw))
		if err != nil {
			t.Fatalf("ParseMessage() error = %v", err)
		}
		native, err := msg.GetNativeData()
		if err != nil {
			t.Fatal(err)
		}
		if native.Kind != "result" || native.Text != "Мне нужен юрист" || !native.IsFinal {
			t.Errorf("native = %+v", native)
		}
	})

	t.Run("sound command", func(t *testing.T) {
		msg, err := ParseMessage([]byte(`{"type":"command","data":{"name":"sound","enabled":false}}`))
		if err != nil {
			t.Fatal(err)
		}
		cmd, err := msg.GetCommandData()
		if err != nil {
			t.Fatal(err)
		}
		if cmd.Name != CommandSound || cmd.Enabled == nil || *cmd.Enabled {
			t.Errorf("command = %+v", cmd)
		}
	})

	t.Run("missing type", func(t *testing.T) {
		if _, err := ParseMessage([]byte(`{"data":{}}`)); err == nil {
			t.Error("expected error for missing type")
		}
	})

	t.Run("invalid json", func(t *testing.T) {
		if _, err := ParseMessage([]byte(`{not json`)); err == nil {
			t.Error("expected error for invalid JSON")
		}
	})

	t.Run("no data", func(t *testing.T) {
		msg, err := ParseMessage([]byte(`{"type":"ping"}`))
		if err != nil {
			t.Fatal(err)
		}
		ping, err := msg.GetPingData()
		if err != nil || ping.ID != "" {
			t.Errorf("ping = %+v, err = %v", ping, err)
		}
	})
}

func TestHelpers(t *testing.T) {
	msg, err := NewReplyMessage("Извините, произошла ошибка связи. Попробуйте еще раз.", 7, true)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := msg.Bytes()

	var wire map[string]any
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatal(err)
	}
	if wire["type"] != "reply" {
		t.Errorf("type = %v", wire["type"])
	}
	body := wire["data"].(map[string]any)
	if body["fallback"] != true || body["generation"] != float64(7) {
		t.Errorf("data = %v", body)
	}

	pong, _ := NewPongMessage("p1", 1000, 1042)
	var pd PongData
	if err := pong.ParseData(&pd); err != nil {
		t.Fatal(err)
	}
	if pd.LatencyMs != 42 {
		t.Errorf("LatencyMs = %d, want 42", pd.LatencyMs)
	}

	state, _ := NewStateMessage(StateData{CallID: "c1", State: "speaking", Sound: true})
	sd, err := state.GetStateData()
	if err != nil || sd.State != "speaking" || sd.CallID != "c1" {
		t.Errorf("state = %+v, err = %v", sd, err)
	}
}
