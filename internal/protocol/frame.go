// Package protocol implements the chart feed's length-prefixed message
// framing: every envelope is "~m~" + decimal byte length + "~m~" + payload,
// where the payload is a JSON object {"m": command, "p": params}. The stream
// also carries non-JSON control frames (keepalives) that are simply skipped.
package protocol

import (
	"encoding/json"
	"fmt"
)

const delimiter = "~m~"

// Envelope is one decoded protocol message. P keeps its elements raw because
// parameter shapes vary per message kind; callers unmarshal the positions
// they understand.
type Envelope struct {
	M string            `json:"m"`
	P []json.RawMessage `json:"p"`
}

// Param unmarshals parameter i into v. It returns false when the parameter
// is absent or does not match v's shape; it never fails hard, the feed treats
// every field as best-effort.
func (e Envelope) Param(i int, v interface{}) bool {
	if i < 0 || i >= len(e.P) {
		return false
	}
	return json.Unmarshal(e.P[i], v) == nil
}

// Encode wraps a command and its parameters in a framed envelope. The length
// records the exact payload byte count so the receiver can split concatenated
// frames without a closing delimiter.
func Encode(command string, params []interface{}) ([]byte, error) {
	if params == nil {
		params = []interface{}{}
	}
	payload, err := json.Marshal(struct {
		M string        `json:"m"`
		P []interface{} `json:"p"`
	}{M: command, P: params})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", command, err)
	}
	frame := fmt.Sprintf("%s%d%s%s", delimiter, len(payload), delimiter, payload)
	return []byte(frame), nil
}

// Decode splits a raw byte block into its envelopes. Partial trailing frames,
// non-JSON control payloads and malformed lengths are dropped silently; the
// function never fails for bad input.
func Decode(data []byte) []Envelope {
	var out []Envelope
	s := string(data)
	for i := 0; i < len(s); {
		start, length, ok := nextFrame(s, i)
		if !ok {
			break
		}
		end := start + length
		if end > len(s) {
			break
		}
		payload := s[start:end]
		i = end
		if len(payload) == 0 || payload[0] != '{' {
			continue
		}
		var env Envelope
		if err := json.Unmarshal([]byte(payload), &env); err != nil {
			continue
		}
		out = append(out, env)
	}
	return out
}

// nextFrame locates the next "~m~<digits>~m~" header at or after offset and
// returns the payload start index and declared length.
func nextFrame(s string, offset int) (start, length int, ok bool) {
	for i := offset; i+len(delimiter) <= len(s); i++ {
		if s[i:i+len(delimiter)] != delimiter {
			continue
		}
		j := i + len(delimiter)
		n := 0
		digits := 0
		for j < len(s) && s[j] >= '0' && s[j] <= '9' {
			n = n*10 + int(s[j]-'0')
			digits++
			j++
		}
		if digits == 0 || j+len(delimiter) > len(s) || s[j:j+len(delimiter)] != delimiter {
			continue
		}
		return j + len(delimiter), n, true
	}
	return 0, 0, false
}
