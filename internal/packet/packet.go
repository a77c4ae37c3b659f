// Package packet parses and validates incoming position reports.
//
// Parse is a pure function from raw JSON bytes to a normalized
// model.TrackerPacket. All structural rules live here so the ingest
// dispatcher and every handler downstream see a single packet shape:
//   - exactly one of (lat, lon) or a pos batch must be present
//   - pos batches decompose into TrackPoints; the last entry becomes the
//     packet's lat/lon
//   - unknown roles become sailor, hdg is clamped modulo 360, bat is
//     clamped to {-1} ∪ [0,100]
//   - packets over 64 KiB are rejected before JSON decoding
//
// auth_check packets skip the position presence and batch rules (the
// lat/lon range checks still apply to values that are sent): they exist
// only to probe a password and must never write state.
package packet

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/seatrack-dev/seatrack/internal/apperr"
	"github.com/seatrack-dev/seatrack/internal/model"
)

// MaxPacketSize bounds a single packet on both transports.
const MaxPacketSize = 64 * 1024

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterValidation("trackerid", validateTrackerID)
}

// wirePacket mirrors the JSON a client sends. Pointer fields distinguish
// "absent" from zero values.
type wirePacket struct {
	ID        *string           `json:"id" validate:"required,trackerid"`
	EID       *int              `json:"eid" validate:"omitempty,gte=0"`
	Seq       *int64            `json:"sq" validate:"required,gt=0"`
	TS        *int64            `json:"ts" validate:"omitempty,gt=0"`
	Lat       *float64          `json:"lat" validate:"omitempty,gte=-90,lte=90"`
	Lon       *float64          `json:"lon" validate:"omitempty,gte=-180,lte=180"`
	Pos       []json.RawMessage `json:"pos"`
	Spd       *float64          `json:"spd" validate:"omitempty,gte=0"`
	Hdg       *float64          `json:"hdg"`
	Ast       *bool             `json:"ast"`
	Bat       *float64          `json:"bat"`
	Role      *string           `json:"role"`
	Ver       *string           `json:"ver"`
	Sig       *int              `json:"sig"`
	Pwd       *string           `json:"pwd"`
	OS        *string           `json:"os"`
	Bdr       *float64          `json:"bdr"`
	Chg       *bool             `json:"chg"`
	PS        *bool             `json:"ps"`
	Hac       *float64          `json:"hac"`
	HR        *int              `json:"hr"`
	Stopped   *bool             `json:"stopped"`
	AuthCheck *bool             `json:"auth_check"`
}

// validateTrackerID enforces 1-32 printable characters.
func validateTrackerID(fl validator.FieldLevel) bool {
	id := fl.Field().String()
	if len(id) < 1 || len(id) > 32 {
		return false
	}
	for _, r := range id {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

// Parse decodes and validates one raw packet.
func Parse(raw []byte) (*model.TrackerPacket, *apperr.AppError) {
	if len(raw) > MaxPacketSize {
		return nil, apperr.PayloadTooLarge(MaxPacketSize)
	}

	var w wirePacket
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, apperr.Malformed("invalid JSON")
	}
	if err := validate.Struct(&w); err != nil {
		return nil, apperr.Malformed(formatValidationError(err))
	}

	p := &model.TrackerPacket{
		ID:        *w.ID,
		Seq:       *w.Seq,
		Role:      model.RoleSailor,
		Bat:       -1,
		AuthCheck: w.AuthCheck != nil && *w.AuthCheck,
	}
	if w.EID != nil {
		p.EID = *w.EID
	}
	if w.Pwd != nil {
		p.Pwd = *w.Pwd
	}
	if w.Role != nil {
		p.Role = model.NormalizeRole(*w.Role)
	}
	if w.Ver != nil {
		p.Ver = *w.Ver
	}
	if w.OS != nil {
		p.OS = *w.OS
	}
	if w.Spd != nil {
		p.Spd = *w.Spd
	}
	if w.Hdg != nil {
		p.Hdg = clampHeading(*w.Hdg)
	}
	if w.Ast != nil {
		p.Ast = *w.Ast
	}
	if w.Bat != nil {
		p.Bat = clampBattery(*w.Bat)
	}
	if w.Stopped != nil {
		p.Stopped = *w.Stopped
	}
	p.Sig, p.Bdr, p.Chg, p.PS, p.Hac, p.HR = w.Sig, w.Bdr, w.Chg, w.PS, w.Hac, w.HR

	if p.AuthCheck {
		// No position handling: ts is optional, and coordinates that
		// passed the range checks above are not used.
		if w.TS != nil {
			p.TS = *w.TS
		}
		return p, nil
	}

	hasFix := w.Lat != nil && w.Lon != nil
	hasBatch := len(w.Pos) > 0
	switch {
	case hasFix && hasBatch:
		return nil, apperr.Malformed("lat/lon and pos are mutually exclusive")
	case w.Lat != nil || w.Lon != nil:
		if !hasFix {
			return nil, apperr.Malformed("lat and lon must be sent together")
		}
	case !hasBatch:
		return nil, apperr.Malformed("packet carries neither lat/lon nor pos")
	}

	if hasFix {
		if w.TS == nil {
			return nil, apperr.Malformed("missing ts")
		}
		p.TS = *w.TS
		p.Lat, p.Lon = *w.Lat, *w.Lon
		p.Points = []model.TrackPoint{{TS: p.TS, Lat: p.Lat, Lon: p.Lon}}
		return p, nil
	}

	points, aerr := parseBatch(w.Pos)
	if aerr != nil {
		return nil, aerr
	}
	p.Points = points
	last := points[len(points)-1]
	p.Lat, p.Lon = last.Lat, last.Lon
	if w.TS != nil {
		p.TS = *w.TS
	} else {
		p.TS = last.TS
	}
	return p, nil
}

// parseBatch decodes a pos array of [ts, lat, lon] or [ts, lat, lon, spd]
// entries. Intermediate timestamps are preserved verbatim.
func parseBatch(entries []json.RawMessage) ([]model.TrackPoint, *apperr.AppError) {
	points := make([]model.TrackPoint, 0, len(entries))
	for i, raw := range entries {
		var vals []float64
		if err := json.Unmarshal(raw, &vals); err != nil {
			return nil, apperr.Malformed(fmt.Sprintf("pos[%d] is not a number array", i))
		}
		if len(vals) != 3 && len(vals) != 4 {
			return nil, apperr.Malformed(fmt.Sprintf("pos[%d] must have 3 or 4 elements", i))
		}
		pt := model.TrackPoint{TS: int64(vals[0]), Lat: vals[1], Lon: vals[2]}
		if pt.TS <= 0 {
			return nil, apperr.Malformed(fmt.Sprintf("pos[%d] has invalid ts", i))
		}
		if pt.Lat < -90 || pt.Lat > 90 || pt.Lon < -180 || pt.Lon > 180 {
			return nil, apperr.Malformed(fmt.Sprintf("pos[%d] out of range", i))
		}
		if len(vals) == 4 {
			spd := vals[3]
			if spd < 0 {
				return nil, apperr.Malformed(fmt.Sprintf("pos[%d] has negative speed", i))
			}
			pt.Spd = &spd
		}
		points = append(points, pt)
	}
	return points, nil
}

// PeekID extracts the tracker id from raw bytes without full validation.
// The ingest dispatcher uses it to pin a packet to a worker; an empty
// string (unreadable id) is a stable pin too.
func PeekID(raw []byte) string {
	var probe struct {
		ID string `json:"id"`
	}
	json.Unmarshal(raw, &probe)
	return probe.ID
}

// ReadSeq extracts just the sequence number from raw bytes. Used to
// compose error ACKs for packets that failed full validation; ok is false
// when no sq can be read (UDP then drops the datagram silently).
func ReadSeq(raw []byte) (int64, bool) {
	var probe struct {
		Seq *int64 `json:"sq"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil || probe.Seq == nil || *probe.Seq <= 0 {
		return 0, false
	}
	return *probe.Seq, true
}

func clampHeading(h float64) int {
	n := int(h) % 360
	if n < 0 {
		n += 360
	}
	return n
}

func clampBattery(b float64) int {
	switch {
	case b < 0:
		return -1
	case b > 100:
		return 100
	default:
		return int(b)
	}
}

// formatValidationError converts validator errors to one readable message.
func formatValidationError(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return "invalid packet"
	}
	parts := make([]string, 0, len(verrs))
	for _, e := range verrs {
		field := strings.ToLower(e.Field())
		switch e.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("missing %s", field))
		case "trackerid":
			parts = append(parts, "id must be 1-32 printable characters")
		default:
			parts = append(parts, fmt.Sprintf("%s out of range", field))
		}
	}
	return strings.Join(parts, "; ")
}
