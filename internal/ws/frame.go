package ws

import "encoding/json"

// Frame types sent by the server.
const (
	TypeRegisterUser = "REGISTER-USER"
	TypeRefreshed    = "REFRESHED"
)

// Frame is the JSON envelope for server-originated messages.
// Relayed peer frames are forwarded raw and never wrapped.
type Frame struct {
	ClientID string `json:"clientId"`
	Type     string `json:"type"`
	Data     any    `json:"data"`
}

// EncodeFrame marshals a frame. A nil data becomes an empty array.
func EncodeFrame(clientID, typ string, data any) ([]byte, error) {
	if data == nil {
		data = []struct{}{}
	}
	return json.Marshal(Frame{ClientID: clientID, Type: typ, Data: data})
}
