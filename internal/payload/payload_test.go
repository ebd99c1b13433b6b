package payload

import (
	"encoding/json"
	"testing"
)

func TestSelect(t *testing.T) {
	doc := json.RawMessage(`{"v":1,"gain":{"ch":[1.5,2.25,3]},"tags":["a","b"]}`)

	tests := []struct {
		expr string
		want string
	}{
		{"$.v", `[1]`},
		{"$.gain.ch[1]", `[2.25]`},
		{"$.gain.ch[*]", `[1.5,2.25,3]`},
		{"$.tags[-1]", `["b"]`},
		{"$.missing", `[]`},
		{"$", `[{"gain":{"ch":[1.5,2.25,3]},"tags":["a","b"],"v":1}]`},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Select(doc, tt.expr)
			if err != nil {
				t.Fatalf("Select: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestSelectKeepsNumberText(t *testing.T) {
	got, err := Select(json.RawMessage(`{"big":12345678901234567890}`), "$.big")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if string(got) != `[12345678901234567890]` {
		t.Errorf("number lost precision: %s", got)
	}
}

func TestSelectErrors(t *testing.T) {
	if _, err := Select(json.RawMessage(`{}`), "$["); err == nil {
		t.Error("expected parse error")
	}
	if _, err := Select(json.RawMessage(`{`), "$.a"); err == nil {
		t.Error("expected decode error")
	}
}
