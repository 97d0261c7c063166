package protocol

import (
	"encoding/json"
	"math"
	"time"
)

// Timestamps are persisted as int64 nanoseconds since the Unix epoch, so
// only this window can be stored without loss.
var (
	MinTimestamp = time.Unix(0, math.MinInt64).UTC()
	MaxTimestamp = time.Unix(0, math.MaxInt64).UTC()
)

// TimestampInRange reports whether t lies in [MinTimestamp, MaxTimestamp]
func TimestampInRange(t time.Time) bool {
	return !t.Before(MinTimestamp) && !t.After(MaxTimestamp)
}

// DrawingAction is one legacy free-form stroke update
type DrawingAction struct {
	X              float64   `json:"x"`
	Y              float64   `json:"y"`
	Lat            *float64  `json:"lat" validate:"omitempty,gte=-90,lte=90"`
	Lon            *float64  `json:"lon" validate:"omitempty,gte=-180,lte=180"`
	IsGeographical bool      `json:"is_geographical"`
	Action         string    `json:"action" validate:"oneof=down draw up move"`
	Color          string    `json:"color" validate:"hexcolor"`
	Size           int       `json:"size" validate:"gte=0,lte=1000"`
	Tool           string    `json:"tool" validate:"required,max=32,excludesall=<>"`
	Timestamp      time.Time `json:"timestamp"`
}

type Style struct {
	Color   string  `json:"color" validate:"hexcolor"`
	Width   float64 `json:"width" validate:"gte=0,lte=1000"`
	Fill    bool    `json:"fill"`
	Opacity float64 `json:"opacity" validate:"gte=0,lte=1"`
}

// DefaultStyle is applied to events that omit style fields
func DefaultStyle() Style {
	return Style{
		Color:   "#FF0000",
		Width:   2.0,
		Fill:    false,
		Opacity: 1.0,
	}
}

// EventData is the open payload of a DrawingEvent. The well-known keys
// "lat" and "lon" describe a geographic point; every other key is passed
// through untouched.
type EventData map[string]any

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Point returns the geographic point carried by the payload, if any
func (d EventData) Point() (GeoPoint, bool) {
	lat, latOK := d["lat"].(float64)
	lon, lonOK := d["lon"].(float64)
	if !latOK || !lonOK {
		return GeoPoint{}, false
	}
	return GeoPoint{Lat: lat, Lon: lon}, true
}

// DrawingEvent is a standardized drawing unit, de-duplicated by EventID
type DrawingEvent struct {
	EventID     string    `json:"event_id" validate:"required,max=128"`
	EventName   string    `json:"event_name,omitempty" validate:"max=256,excludesall=<>"`
	DrawingType string    `json:"drawing_type" validate:"required,max=64,excludesall=<>"`
	Action      string    `json:"action" validate:"required,max=64,excludesall=<>"`
	Platform    string    `json:"platform" validate:"required,max=64,excludesall=<>"`
	Timestamp   time.Time `json:"timestamp"`
	Style       Style     `json:"style"`
	Data        EventData `json:"data" validate:"required"`
}

// StoredEvent is a DrawingEvent together with the room it was filed under
type StoredEvent struct {
	RoomID string `json:"room_id"`
	DrawingEvent
	CreatedAt time.Time `json:"created_at"`
}

// Template is a named opaque JSON blob scoped to a room
type Template struct {
	ID        int64           `json:"id"`
	RoomID    string          `json:"room_id,omitempty"`
	Name      string          `json:"name"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}
