package protocol

import (
	"bytes"
	"fmt"
	"testing"
)

func TestEncodeFrameShape(t *testing.T) {
	frame, err := Encode("chart_create_session", []interface{}{"cs_abc", ""})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	payload := `{"m":"chart_create_session","p":["cs_abc",""]}`
	want := fmt.Sprintf("~m~%d~m~%s", len(payload), payload)
	if string(frame) != want {
		t.Errorf("frame = %q, want %q", frame, want)
	}
}

func TestRoundTrip(t *testing.T) {
	frame, err := Encode("quote_add_symbols", []interface{}{"qs_x", "FX:EURUSD"})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	envs := Decode(frame)
	if len(envs) != 1 {
		t.Fatalf("decoded %d envelopes, want 1", len(envs))
	}
	if envs[0].M != "quote_add_symbols" {
		t.Errorf("m = %q, want quote_add_symbols", envs[0].M)
	}
	var first, second string
	if !envs[0].Param(0, &first) || first != "qs_x" {
		t.Errorf("p[0] = %q, want qs_x", first)
	}
	if !envs[0].Param(1, &second) || second != "FX:EURUSD" {
		t.Errorf("p[1] = %q, want FX:EURUSD", second)
	}
}

func TestDecodeSkipsControlFrames(t *testing.T) {
	a, _ := Encode("qsd", []interface{}{"qs_x"})
	b, _ := Encode("series_completed", []interface{}{"cs_x"})
	stream := bytes.Join([][]byte{a, []byte("~m~4~m~~h~1"), b}, nil)

	envs := Decode(stream)
	if len(envs) != 2 {
		t.Fatalf("decoded %d envelopes, want 2", len(envs))
	}
	if envs[0].M != "qsd" || envs[1].M != "series_completed" {
		t.Errorf("order = %q, %q", envs[0].M, envs[1].M)
	}
}

func TestDecodeMalformedInput(t *testing.T) {
	cases := map[string]string{
		"empty":             "",
		"garbage":           "not a frame at all",
		"bad length":        "~m~9999~m~{}",
		"truncated payload": "~m~50~m~{\"m\":\"qsd\"",
		"non-json object":   "~m~7~m~{broken",
		"missing delimiter": "~m~12{\"m\":\"qsd\"}",
	}
	for name, input := range cases {
		if envs := Decode([]byte(input)); len(envs) != 0 {
			t.Errorf("%s: decoded %d envelopes, want 0", name, len(envs))
		}
	}
}

func TestDecodeConcatenatedFrames(t *testing.T) {
	var stream []byte
	for i := 0; i < 3; i++ {
		frame, _ := Encode("qsd", []interface{}{"qs_x", map[string]interface{}{"v": map[string]interface{}{"lp": float64(i)}}})
		stream = append(stream, frame...)
	}
	envs := Decode(stream)
	if len(envs) != 3 {
		t.Fatalf("decoded %d envelopes, want 3", len(envs))
	}
}

func TestParamOutOfRange(t *testing.T) {
	env := Envelope{M: "qsd"}
	var v string
	if env.Param(0, &v) {
		t.Error("Param on empty parameter list should report false")
	}
	if env.Param(-1, &v) {
		t.Error("Param with negative index should report false")
	}
}
