package live

import (
	"encoding/json"

	"github.com/seatrack-dev/seatrack/internal/model"
)

// positionUpdate is the wire shape of one live-feed message.
type positionUpdate struct {
	Type string                `json:"type"`
	EID  int                   `json:"eid"`
	Pos  model.CurrentPosition `json:"pos"`
}

func positionMessage(eid int, pos model.CurrentPosition) ([]byte, error) {
	return json.Marshal(positionUpdate{Type: "position", EID: eid, Pos: pos})
}
