// Package model defines the core data structures for the SeaTrack server.
//
// This file contains the event model:
//   - Event: a named tracking context with its own password space and
//     data directory
//   - EventsDoc: the on-disk shape of events.json
//
// Events are owned by the registry; everything else holds them by value.
package model

// Event is one tracking context (a regatta, a race week, a training camp).
//
// The eid is assigned once at creation and never reused, even after the
// event is deleted. Passwords are stored as entered; the wire contract has
// clients echo the tracker password on every packet, so exact-match
// comparison over the stored value is the protocol.
//
// Example (as stored in events.json):
//
//	{
//	  "eid": 2,
//	  "name": "Harbour Series R3",
//	  "description": "Saturday points race",
//	  "admin_password": "committee",
//	  "assist_enabled": true,
//	  "created_at": 1732615200
//	}
type Event struct {
	// EID is the monotonically assigned positive event identifier.
	EID int `json:"eid"`

	// Name is the display name shown on the map and echoed in ACKs.
	Name string `json:"name"`

	// Description is free-form text for event listings.
	Description string `json:"description,omitempty"`

	// AdminPassword authenticates per-event admin operations
	// (X-Admin-Password header).
	AdminPassword string `json:"admin_password"`

	// TrackerPassword authenticates position packets. Empty means the
	// event is open: any packet is accepted.
	TrackerPassword string `json:"tracker_password,omitempty"`

	// OwnTracksPassword authenticates the OwnTracks adapter. When empty
	// the adapter falls back to the process-wide OwnTracks password, then
	// AdminPassword.
	OwnTracksPassword string `json:"owntracks_password,omitempty"`

	// AssistEnabled controls whether the assist flag is honored. When
	// false, incoming ast=true is coerced to false and ACKs carry
	// "assist": false.
	AssistEnabled bool `json:"assist_enabled"`

	// Archived events still serve reads but reject position writes
	// (tracker and OwnTracks packets). Admin and manager mutations stay
	// allowed.
	Archived bool `json:"archived,omitempty"`

	// CreatedAt is the unix creation timestamp.
	CreatedAt int64 `json:"created_at"`
}

// EventsDoc is the persisted form of the event registry (events.json).
type EventsDoc struct {
	// NextEID is the next identifier to hand out. Monotonic; never
	// rewound on deletion.
	NextEID int `json:"next_eid"`

	// Events holds every live event, keyed by eid in memory and stored
	// as a flat list on disk.
	Events []Event `json:"events"`
}
