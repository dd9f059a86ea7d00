package source

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/banshee-data/fleettrack/internal/position"
	"github.com/banshee-data/fleettrack/internal/units"
)

// traccarPosition is the wire shape of a Traccar position object.
type traccarPosition struct {
	DeviceID   json.RawMessage `json:"deviceId"`
	Latitude   float64         `json:"latitude"`
	Longitude  float64         `json:"longitude"`
	Speed      float64         `json:"speed"`
	Course     *float64        `json:"course"`
	FixTime    time.Time       `json:"fixTime"`
	ServerTime time.Time       `json:"serverTime"`
	Attributes map[string]any  `json:"attributes"`
}

// traccarEvent is one message on the /api/socket channel. Messages without
// positions (devices, events) decode to an empty batch.
type traccarEvent struct {
	Positions []traccarPosition `json:"positions"`
}

// DecodeTraccarMessage decodes a push channel message into reports.
func DecodeTraccarMessage(data []byte) ([]position.Report, error) {
	var ev traccarEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decode traccar message: %w", err)
	}
	return convertTraccar(ev.Positions), nil
}

// DecodeTraccarPositions decodes the /api/positions array.
func DecodeTraccarPositions(data []byte) ([]position.Report, error) {
	var ps []traccarPosition
	if err := json.Unmarshal(data, &ps); err != nil {
		return nil, fmt.Errorf("decode traccar positions: %w", err)
	}
	return convertTraccar(ps), nil
}

func convertTraccar(ps []traccarPosition) []position.Report {
	out := make([]position.Report, 0, len(ps))
	for _, p := range ps {
		out = append(out, position.Report{
			EntityID:   deviceID(p.DeviceID),
			Latitude:   p.Latitude,
			Longitude:  p.Longitude,
			Speed:      units.FromKnots(p.Speed),
			Heading:    p.Course,
			FirmTime:   p.FixTime,
			ServerTime: p.ServerTime,
			Attributes: liftAttributes(p.Attributes),
		})
	}
	return out
}

// deviceID accepts numeric or string ids.
func deviceID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func liftAttributes(m map[string]any) position.Attributes {
	var a position.Attributes
	for k, v := range m {
		switch k {
		case "ignition":
			if b, ok := v.(bool); ok {
				a.Ignition = &b
				continue
			}
		case "motion":
			if b, ok := v.(bool); ok {
				a.Motion = &b
				continue
			}
		case "batteryLevel":
			if f, ok := v.(float64); ok {
				a.BatteryLevel = &f
				continue
			}
		case "sat":
			if f, ok := v.(float64); ok {
				n := int(f)
				a.Satellites = &n
				continue
			}
		}
		if a.Extra == nil {
			a.Extra = make(map[string]any)
		}
		a.Extra[k] = v
	}
	return a
}
