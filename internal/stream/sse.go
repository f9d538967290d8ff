// Package stream encodes progress events as Server-Sent-Events-style frames.
//
// Every event is one frame of the form "data: <JSON>\n\n" with payload shape
// {"stage": <string>, "data": <object>}; the stream terminates with the
// literal frame "data: [DONE]\n\n".
package stream

import (
	"encoding/json"
	"fmt"
)

// Done is the literal terminator frame.
var Done = []byte("data: [DONE]\n\n")

type payload struct {
	Stage string `json:"stage"`
	Data  any    `json:"data"`
	Err   string `json:"error,omitempty"`
}

// Frame encodes one stage event as a wire frame.
func Frame(stage string, data any, stageErr string) []byte {
	buf, err := json.Marshal(payload{Stage: stage, Data: data, Err: stageErr})
	if err != nil {
		// Marshal failures are limited to exotic payloads; degrade to an
		// error frame rather than dropping the event.
		buf, _ = json.Marshal(payload{Stage: "error", Data: map[string]string{"message": err.Error()}})
	}
	return []byte(fmt.Sprintf("data: %s\n\n", buf))
}

// Heartbeat encodes a synthetic keep-alive frame.
func Heartbeat(message string) []byte {
	return Frame("heartbeat", map[string]string{"message": message}, "")
}
