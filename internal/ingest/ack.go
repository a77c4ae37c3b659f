package ingest

import "encoding/json"

// Ack is the JSON reply to a position packet, identical on both
// transports. The sequence number is echoed so clients can match replies
// to reports over lossy links.
//
// Shapes:
//
//	success:      {"ack":12345,"ts":1732615260,"event":"Harbour Series"}
//	assist off:   {"ack":12345,"ts":1732615260,"event":"...","assist":false}
//	auth failure: {"ack":12345,"ts":1732615260,"event":"...","error":"auth","msg":"wrong password"}
type Ack struct {
	Ack int64 `json:"ack"`
	TS  int64 `json:"ts"`

	// Event is the event name, present whenever the eid resolved.
	Event string `json:"event,omitempty"`

	// Assist is only ever false: it appears when assist is disabled for
	// the event; absence means enabled.
	Assist *bool `json:"assist,omitempty"`

	Error string `json:"error,omitempty"`
	Msg   string `json:"msg,omitempty"`
}

// Encode renders the ACK for the wire.
func (a *Ack) Encode() []byte {
	b, err := json.Marshal(a)
	if err != nil {
		// An Ack is a flat struct; this cannot fail in practice.
		return []byte(`{}`)
	}
	return b
}

var assistOff = false

// withAssistDisabled marks the ACK with "assist": false.
func (a *Ack) withAssistDisabled() *Ack {
	a.Assist = &assistOff
	return a
}
