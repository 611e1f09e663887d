package telemetry

import "math"

// sessionFlags lists the SessionFlags bits in the order the simulator
// defines them.
var sessionFlags = []struct {
	bit  uint32
	name string
}{
	{0x00000001, "Checkered"},
	{0x00000002, "White"},
	{0x00000004, "Green"},
	{0x00000008, "Yellow"},
	{0x00000010, "Red"},
	{0x00000020, "Blue"},
	{0x00000040, "Debris"},
	{0x00000080, "Crossed"},
	{0x00000100, "YellowWaving"},
	{0x00000200, "OneLapToGreen"},
	{0x00000400, "GreenHeld"},
	{0x00000800, "TenToGo"},
	{0x00001000, "FiveToGo"},
	{0x00002000, "RandomWaving"},
	{0x00004000, "Caution"},
	{0x00008000, "CautionWaving"},
	{0x00010000, "Black"},
	{0x00020000, "Disqualify"},
	{0x00040000, "Servicible"},
	{0x00080000, "Furled"},
	{0x00100000, "Repair"},
	{0x10000000, "StartHidden"},
	{0x20000000, "StartReady"},
	{0x40000000, "StartSet"},
	{0x80000000, "StartGo"},
}

// SessionFlagNames expands a SessionFlags bitfield into flag names.
// Unknown bits are ignored. The result is never nil so it always
// serializes as a JSON array.
func SessionFlagNames(bits uint32) []string {
	names := []string{}
	for _, f := range sessionFlags {
		if bits&f.bit != 0 {
			names = append(names, f.name)
		}
	}
	return names
}

// Normalize rewrites values whose raw form is not useful to templates.
// SessionFlags arrives as a number and leaves as a list of names so
// that a template can test membership ('Yellow' in value_json.SessionFlags).
func Normalize(values Snapshot) Snapshot {
	if raw, ok := values["SessionFlags"]; ok {
		if bits, ok := asBits(raw); ok {
			values["SessionFlags"] = SessionFlagNames(bits)
		}
	}
	return values
}

// asBits accepts the field as either its unsigned value or its signed
// int32 encoding. Anything outside [MinInt32, MaxUint32] is rejected.
func asBits(v any) (uint32, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || n < math.MinInt32 || n > math.MaxUint32 {
			return 0, false
		}
		return fromInt64(int64(n))
	case int:
		return fromInt64(int64(n))
	case int32:
		return uint32(n), true
	case int64:
		return fromInt64(n)
	case uint32:
		return n, true
	default:
		return 0, false
	}
}

func fromInt64(n int64) (uint32, bool) {
	if n < math.MinInt32 || n > math.MaxUint32 {
		return 0, false
	}
	return uint32(n), true
}
