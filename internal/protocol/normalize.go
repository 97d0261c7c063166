package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/lucasb-eyer/go-colorful"
)

const (
	defaultAction = "draw"
	defaultColor  = "#000000"
	defaultSize   = 5
	defaultTool   = "brush"

	defaultTemplateName = "Template"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// Normalizer turns inbound frames into canonical values. Field aliases,
// defaults and validation all happen here so that persistence and broadcast
// code only ever see canonical types. Strings are trimmed but otherwise kept
// as sent; text carrying markup is rejected rather than rewritten.
type Normalizer struct {
	validate *validator.Validate
	geoShim  bool
	now      func() time.Time
}

// NewNormalizer creates a normalizer. With geoShim set, planar coordinates
// that both fall in latitude/longitude range are reinterpreted as a
// geographic point when lat/lon are absent. This keeps old clients working
// but cannot tell a planar point near the origin from a geographic one.
func NewNormalizer(geoShim bool) *Normalizer {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	return &Normalizer{
		validate: v,
		geoShim:  geoShim,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type actionFrame struct {
	X              *float64        `json:"x"`
	Y              *float64        `json:"y"`
	Lat            *float64        `json:"lat"`
	Lon            *float64        `json:"lon"`
	IsGeographical bool            `json:"is_geographical"`
	Action         string          `json:"action"`
	EventType      string          `json:"event_type"`
	ActionType     string          `json:"action_type"`
	Color          string          `json:"color"`
	Size           *float64        `json:"size"`
	BrushSize      *float64        `json:"brush_size"`
	Tool           string          `json:"tool"`
	Timestamp      any             `json:"timestamp"`
	Data           json.RawMessage `json:"data"`
}

// Action normalizes a "drawing" frame into a DrawingAction
func (n *Normalizer) Action(frame []byte) (DrawingAction, error) {
	var f actionFrame
	if err := decodeFrame(frame, &f); err != nil {
		return DrawingAction{}, err
	}

	// Older clients nest the stroke under "data"
	if f.X == nil && f.Y == nil && f.Lat == nil && isObject(f.Data) {
		var nested actionFrame
		if err := decodeFrame(f.Data, &nested); err != nil {
			return DrawingAction{}, err
		}
		f = nested
	}

	action := DrawingAction{
		Lat:            f.Lat,
		Lon:            f.Lon,
		IsGeographical: f.IsGeographical || (f.Lat != nil && f.Lon != nil),
		Action:         firstNonEmpty(f.Action, f.EventType, f.ActionType, defaultAction),
		Tool:           strings.TrimSpace(firstNonEmpty(f.Tool, defaultTool)),
		Size:           defaultSize,
	}
	if f.X != nil {
		action.X = *f.X
	}
	if f.Y != nil {
		action.Y = *f.Y
	}

	switch {
	case f.Size != nil:
		action.Size = int(math.Round(*f.Size))
	case f.BrushSize != nil:
		action.Size = int(math.Round(*f.BrushSize))
	}

	color, err := canonicalColor(firstNonEmpty(f.Color, defaultColor))
	if err != nil {
		return DrawingAction{}, &ValidationError{Field: "color", Reason: "must be a hex colour"}
	}
	action.Color = color

	if n.geoShim && (f.Lat == nil || f.Lon == nil) && f.X != nil && f.Y != nil &&
		inRange(*f.X, -90, 90) && inRange(*f.Y, -180, 180) {
		lat, lon := *f.X, *f.Y
		action.Lat, action.Lon = &lat, &lon
		action.IsGeographical = true
	}

	if action.IsGeographical && (action.Lat == nil || action.Lon == nil) {
		return DrawingAction{}, &ValidationError{Field: "lat", Reason: "and 'lon' are required for geographical actions"}
	}

	ts, err := n.timestamp(f.Timestamp)
	if err != nil {
		return DrawingAction{}, err
	}
	action.Timestamp = ts

	if err := n.check(action); err != nil {
		return DrawingAction{}, err
	}
	return action, nil
}

type eventFrame struct {
	EventID     *string         `json:"event_id"`
	EventName   string          `json:"event_name"`
	DrawingType *string         `json:"drawing_type"`
	Action      *string         `json:"action"`
	Platform    *string         `json:"platform"`
	Timestamp   any             `json:"timestamp"`
	Style       json.RawMessage `json:"style"`
	Data        EventData       `json:"data"`
}

// Event validates a standardized drawing event. event_id, drawing_type,
// action, platform and data must all be present.
func (n *Normalizer) Event(frame []byte) (DrawingEvent, error) {
	var f eventFrame
	if err := decodeFrame(frame, &f); err != nil {
		return DrawingEvent{}, err
	}

	required := []struct {
		field string
		value *string
	}{
		{"event_id", f.EventID},
		{"drawing_type", f.DrawingType},
		{"action", f.Action},
		{"platform", f.Platform},
	}
	for _, r := range required {
		if r.value == nil || strings.TrimSpace(*r.value) == "" {
			return DrawingEvent{}, &ValidationError{Field: r.field, Reason: "is required"}
		}
	}
	if f.Data == nil {
		return DrawingEvent{}, &ValidationError{Field: "data", Reason: "is required"}
	}

	style := DefaultStyle()
	if isObject(f.Style) {
		if err := decodeFrame(f.Style, &style); err != nil {
			return DrawingEvent{}, err
		}
	}
	color, err := canonicalColor(style.Color)
	if err != nil {
		return DrawingEvent{}, &ValidationError{Field: "color", Reason: "must be a hex colour"}
	}
	style.Color = color

	ts, err := n.timestamp(f.Timestamp)
	if err != nil {
		return DrawingEvent{}, err
	}

	event := DrawingEvent{
		EventID:     strings.TrimSpace(*f.EventID),
		EventName:   strings.TrimSpace(f.EventName),
		DrawingType: strings.TrimSpace(*f.DrawingType),
		Action:      strings.TrimSpace(*f.Action),
		Platform:    strings.TrimSpace(*f.Platform),
		Timestamp:   ts,
		Style:       style,
		Data:        f.Data,
	}
	if err := n.check(event); err != nil {
		return DrawingEvent{}, err
	}
	return event, nil
}

// TemplateInput is a template frame ready to be stored
type TemplateInput struct {
	Name string
	Data json.RawMessage
}

// Template validates a "template" frame; its data must be a JSON object
func (n *Normalizer) Template(frame []byte) (TemplateInput, error) {
	var f struct {
		Data json.RawMessage `json:"data"`
	}
	if err := decodeFrame(frame, &f); err != nil {
		return TemplateInput{}, err
	}
	if !isObject(f.Data) {
		return TemplateInput{}, &ValidationError{Field: "data", Reason: "must be an object"}
	}

	var named struct {
		Name any `json:"name"`
	}
	if err := json.Unmarshal(f.Data, &named); err != nil {
		return TemplateInput{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	name, _ := named.Name.(string)
	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultTemplateName
	}
	if err := n.validate.Var(name, "max=256,excludesall=<>"); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return TemplateInput{}, &ValidationError{Field: "name", Reason: fieldReason(fieldErrs[0])}
		}
		return TemplateInput{}, fmt.Errorf("validation failed: %w", err)
	}
	return TemplateInput{Name: name, Data: f.Data}, nil
}

// timestamp accepts an ISO-8601 string or a number of seconds since the
// epoch. A missing or empty value means now.
func (n *Normalizer) timestamp(v any) (time.Time, error) {
	var t time.Time
	switch ts := v.(type) {
	case nil:
		return n.now(), nil
	case string:
		if ts == "" {
			return n.now(), nil
		}
		parsed, ok := parseTimestamp(ts)
		if !ok {
			return time.Time{}, &ValidationError{Field: "timestamp", Reason: "must be an ISO-8601 time"}
		}
		t = parsed
	case float64:
		if math.Abs(ts) > maxEpochSeconds {
			return time.Time{}, &ValidationError{Field: "timestamp", Reason: "is outside the supported range"}
		}
		sec, frac := math.Modf(ts)
		t = time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()
	default:
		return time.Time{}, &ValidationError{Field: "timestamp", Reason: "must be an ISO-8601 time or epoch seconds"}
	}

	if !TimestampInRange(t) {
		return time.Time{}, &ValidationError{Field: "timestamp", Reason: "is outside the supported range"}
	}
	return t, nil
}

// Seconds beyond this overflow int64 nanoseconds in either direction
const maxEpochSeconds = float64(math.MaxInt64 / int64(time.Second))

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func (n *Normalizer) check(v any) error {
	err := n.validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		return formatFieldError(fieldErrs[0])
	}
	return fmt.Errorf("validation failed: %w", err)
}

func formatFieldError(fe validator.FieldError) *ValidationError {
	return &ValidationError{Field: fe.Field(), Reason: fieldReason(fe)}
}

func fieldReason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min", "max", "gte", "lte":
		return "value out of allowed range"
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "hexcolor":
		return "must be a hex colour"
	case "excludesall":
		return "must not contain markup"
	default:
		return "is invalid"
	}
}

// decodeFrame unmarshals data into v and reports type mismatches as
// validation errors on the offending field
func decodeFrame(data []byte, v any) error {
	err := json.Unmarshal(data, v)
	if err == nil {
		return nil
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return &ValidationError{Field: typeErr.Field, Reason: "has the wrong type"}
	}
	return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
}

func canonicalColor(s string) (string, error) {
	c, err := colorful.Hex(s)
	if err != nil {
		return "", err
	}
	return strings.ToUpper(c.Hex()), nil
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func inRange(v, lo, hi float64) bool {
	return v >= lo && v <= hi
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
