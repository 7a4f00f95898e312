package emit

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLogEmitterText(t *testing.T) {
	var buf bytes.Buffer
	e := NewLogEmitter(&buf, false)

	e.Emit(Event{RunID: "run-1", NodeID: "A", Msg: "node_start"})

	out := buf.String()
	if !strings.Contains(out, "[node_start]") || !strings.Contains(out, "runID=run-1") || !strings.Contains(out, "nodeID=A") {
		t.Fatalf("unexpected text output: %q", out)
	}
}

func TestLogEmitterJSON(t *testing.T) {
	var buf bytes.Buffer
	e := NewLogEmitter(&buf, true)

	e.Emit(Event{RunID: "run-1", NodeID: "A", Msg: "race_rejected", Meta: map[string]interface{}{"resource": "r"}})

	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON output: %v (%q)", err, buf.String())
	}
	if decoded["msg"] != "race_rejected" {
		t.Fatalf("msg = %v, want race_rejected", decoded["msg"])
	}
}

func TestNullEmitterDiscardsEvents(t *testing.T) {
	e := NewNullEmitter()
	e.Emit(Event{Msg: "anything"}) // must not panic
}

func TestBufferedEmitterHistory(t *testing.T) {
	e := NewBufferedEmitter()
	e.Emit(Event{RunID: "run-1", Msg: "node_start", NodeID: "A"})
	e.Emit(Event{RunID: "run-1", Msg: "node_finish", NodeID: "A"})
	e.Emit(Event{RunID: "run-2", Msg: "node_start", NodeID: "B"})

	hist1 := e.History("run-1")
	if len(hist1) != 2 {
		t.Fatalf("History(run-1) len = %d, want 2", len(hist1))
	}
	if hist1[0].Msg != "node_start" || hist1[1].Msg != "node_finish" {
		t.Fatalf("unexpected event order: %+v", hist1)
	}

	e.Clear("run-1")
	if got := e.History("run-1"); len(got) != 0 {
		t.Fatalf("History(run-1) after Clear = %v, want empty", got)
	}
	if got := e.History("run-2"); len(got) != 1 {
		t.Fatalf("History(run-2) = %v, want 1 event", got)
	}
}
