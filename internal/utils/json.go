package utils

import (
	"encoding/json"
)

// JSONWriter is satisfied by *websocket.Conn and by the presence client wrapper.
type JSONWriter interface {
	WriteJSON(v interface{}) error
}

// SafeJSONParse parses JSON safely
func SafeJSONParse(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// SendJSON writes a JSON payload. Connections are not safe for concurrent
// writes; callers go through presence.Client which serializes them.
func SendJSON(c JSONWriter, payload interface{}) error {
	return c.WriteJSON(payload)
}
