package codec

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MemsGDivisor converts a raw MEMS byte into g-force, both here and in the
// detectors that consume Frame.MemsX/Y/Z. Every consumer shares this
// constant; a second divisor drifting in a detector is exactly the bug
// this is guarding against.
const MemsGDivisor = 64.0

// validHeaders lists the two accepted frame-family prefixes.
var validHeaders = [...]string{"HH", "AA"}

// ParseLine classifies and decodes one already-framed ASCII line. It never
// returns both a non-nil result and a non-nil error.
func ParseLine(line string) (*FrameOrInfo, error) {
	payload := strings.TrimSpace(line)
	if payload == "" {
		return nil, fmt.Errorf("empty line")
	}

	header, rest, err := locateHeader(payload)
	if err != nil {
		return nil, err
	}

	if IsSystemFrame(rest) {
		return &FrameOrInfo{System: true}, nil
	}

	headerByte := rest[2:4]
	switch headerByte {
	case "00", "01":
		info, err := ParseInfoFrame(header, rest)
		if err != nil {
			return nil, err
		}
		return &FrameOrInfo{Info: info}, nil
	}

	frame, err := parseDataFrame(rest)
	if err != nil {
		return nil, err
	}
	return &FrameOrInfo{Frame: frame}, nil
}

// locateHeader finds the MAT prefix (if any) and returns it along with the
// payload starting at the HH/AA header.
func locateHeader(payload string) (mat string, rest string, err error) {
	for _, h := range validHeaders {
		if idx := strings.Index(payload, h); idx >= 0 {
			if idx == 0 {
				return "", payload, nil
			}
			prefix := strings.TrimSpace(payload[:idx])
			if prefix != "" {
				return prefix, payload[idx:], nil
			}
		}
	}
	return "", "", fmt.Errorf("invalid header: must start with HH or AA")
}

// IsSystemFrame reports whether payload is an acknowledged-and-discarded
// system frame (reset or time-request).
func IsSystemFrame(payload string) bool {
	for _, h := range validHeaders {
		for _, code := range [...]string{"02", "03", "07"} {
			if strings.HasPrefix(payload, h+code) {
				return true
			}
		}
	}
	return false
}

// ParseInfoFrame decodes an HH00/AA00 connect frame or an HH01/AA01 info
// frame. mat is the logical prefix captured by locateHeader, if any.
func ParseInfoFrame(mat, payload string) (*InfoFrame, error) {
	if strings.HasPrefix(payload, "HH00") || strings.HasPrefix(payload, "AA00") {
		return parseConnectFrame(mat, payload)
	}
	if !strings.HasPrefix(payload, "HH01") && !strings.HasPrefix(payload, "AA01") {
		return nil, fmt.Errorf("payload is not a connect or info frame")
	}

	afterHeader := payload[4:]
	parts := strings.Split(afterHeader, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	info := &InfoFrame{MAT: mat}
	if len(parts) > 0 {
		info.Firmware = parts[0]
	}
	for _, part := range parts[1:] {
		applyInfoField(info, part)
	}
	return info, nil
}

func parseConnectFrame(mat, payload string) (*InfoFrame, error) {
	parts := strings.Split(payload, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	info := &InfoFrame{MAT: mat}
	if len(parts) > 0 {
		info.Firmware = parts[0]
	}
	for _, part := range parts {
		applyInfoField(info, part)
	}
	if info.IMEI == "" {
		return nil, fmt.Errorf("connect frame missing IMEI")
	}
	return info, nil
}

func applyInfoField(info *InfoFrame, part string) {
	switch {
	case strings.HasPrefix(part, "ICC:"):
		if v := strings.TrimSpace(strings.TrimPrefix(part, "ICC:")); v != "" {
			info.ICC = v
		}
	case strings.HasPrefix(part, "IMEI:"):
		if v := strings.TrimSpace(strings.TrimPrefix(part, "IMEI:")); v != "" {
			info.IMEI = v
		}
	}
}

func decodeHeaderByte(b string) (FrameKind, FrameVersion, error) {
	v, err := strconv.ParseUint(b, 16, 8)
	if err != nil {
		return 0, 0, fmt.Errorf("decode header byte %q: %w", b, err)
	}
	x := (v >> 4) & 0x0F
	y := v & 0x0F

	var kind FrameKind
	switch x {
	case 1:
		kind = KindRealTimeAndHistory
	case 2:
		kind = KindHistory
	case 3:
		kind = KindRealTime
	default:
		return 0, 0, fmt.Errorf("unknown frame kind: %d", x)
	}

	version := VersionUnknown
	switch y {
	case 1:
		version = VersionV1
	case 3:
		version = VersionV3
	}
	return kind, version, nil
}

func parseDataFrame(payload string) (*Frame, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("payload too short for header: %d", len(payload))
	}
	kind, version, err := decodeHeaderByte(payload[2:4])
	if err != nil {
		return nil, err
	}

	switch version {
	case VersionV1:
		return parseV1(payload, kind, version)
	case VersionV3:
		return parseV3(payload, kind, version)
	default:
		return nil, fmt.Errorf("unsupported frame version nibble")
	}
}

func ensurePayloadLen(payload string, minLen int) error {
	if len(payload) < minLen {
		return fmt.Errorf("payload too short: %d < %d", len(payload), minLen)
	}
	return nil
}

// baseFields holds the hex substrings shared by the V1 and V3 base layouts.
type baseFields struct {
	hour, lat, lon, speed, heading string
	power, fuel, mems, flags, temp string
	odo, sendFlag, addedInfo, date string
}

func sliceBase(payload string) baseFields {
	return baseFields{
		hour:      payload[4:10],
		lat:       payload[10:18],
		lon:       payload[18:26],
		speed:     payload[26:30],
		heading:   payload[30:32],
		power:     payload[32:34],
		fuel:      payload[34:36],
		mems:      payload[36:42],
		flags:     payload[42:44],
		temp:      payload[44:48],
		odo:       payload[48:56],
		sendFlag:  payload[56:58],
		addedInfo: payload[58:66],
		date:      payload[66:70],
	}
}

func decodeBaseFrame(payload string, kind FrameKind, version FrameVersion, f baseFields) (*Frame, error) {
	recordedAt, isRealTime, err := decodeTimestamp(f.hour, f.date, kind)
	if err != nil {
		return nil, err
	}
	flagsRaw, err := strconv.ParseUint(f.flags, 16, 8)
	if err != nil {
		return nil, fmt.Errorf("decode flags: %w", err)
	}

	lat, err := decodeCoordinate(f.lat, uint8(flagsRaw), 0x01)
	if err != nil {
		return nil, fmt.Errorf("decode latitude: %w", err)
	}
	lon, err := decodeCoordinate(f.lon, uint8(flagsRaw), 0x02)
	if err != nil {
		return nil, fmt.Errorf("decode longitude: %w", err)
	}
	speed, err := parseSpeed(f.speed)
	if err != nil {
		return nil, fmt.Errorf("decode speed: %w", err)
	}
	heading, err := parseHeading(f.heading)
	if err != nil {
		return nil, fmt.Errorf("decode heading: %w", err)
	}
	voltage, rescue, err := decodePower(f.power)
	if err != nil {
		return nil, fmt.Errorf("decode power: %w", err)
	}
	mx, my, mz, err := decodeMEMS(f.mems)
	if err != nil {
		return nil, fmt.Errorf("decode mems: %w", err)
	}
	tempRaw, err := strconv.ParseUint(f.temp, 16, 16)
	if err != nil {
		return nil, fmt.Errorf("decode temperature: %w", err)
	}
	odo, err := strconv.ParseUint(f.odo, 16, 32)
	if err != nil {
		return nil, fmt.Errorf("decode odometer: %w", err)
	}
	sendFlag, err := strconv.ParseUint(f.sendFlag, 16, 8)
	if err != nil {
		return nil, fmt.Errorf("decode send flag: %w", err)
	}
	addedInfo, err := strconv.ParseUint(f.addedInfo, 16, 32)
	if err != nil {
		return nil, fmt.Errorf("decode added info: %w", err)
	}
	baseFuel, err := strconv.ParseUint(f.fuel, 16, 8)
	if err != nil {
		return nil, fmt.Errorf("decode fuel: %w", err)
	}

	return &Frame{
		Kind:              kind,
		Version:           version,
		RecordedAt:        recordedAt,
		Latitude:          lat,
		Longitude:         lon,
		SpeedKPH:          speed,
		HeadingDeg:        heading,
		PowerVoltage:      int(voltage),
		PowerSourceRescue: rescue,
		FuelRaw:           int(baseFuel),
		IgnitionOn:        decodeBit(uint8(flagsRaw), 0x04),
		IsValid:           decodeBit(uint8(flagsRaw), 0x40),
		IsRealTime:        isRealTime,
		MemsX:             mx,
		MemsY:             my,
		MemsZ:             mz,
		TemperatureRaw:    int(tempRaw),
		OdometerKM:        int(odo),
		SendFlag:          int(sendFlag),
		AddedInfo:         addedInfo,
		FlagsRaw:          int(flagsRaw),
		RawPayload:        payload,
	}, nil
}

func parseV1(payload string, kind FrameKind, version FrameVersion) (*Frame, error) {
	if err := ensurePayloadLen(payload, 70); err != nil {
		return nil, err
	}
	frame, err := decodeBaseFrame(payload, kind, version, sliceBase(payload))
	if err != nil {
		return nil, err
	}

	if frame.FuelRaw == 0 && len(payload) >= 56 {
		if v, err := strconv.ParseUint(payload[54:56], 16, 8); err == nil && v > 0 && v <= 100 {
			frame.FuelRaw = int(v)
		}
	}
	return frame, nil
}

// v3FuelFallbackOffsets are scanned in order when the base fuel byte is 0;
// the first in-range (1..100) byte wins.
var v3FuelFallbackOffsets = [...]int{54, 70, 82, 86, 90, 94}

func parseV3(payload string, kind FrameKind, version FrameVersion) (*Frame, error) {
	if err := ensurePayloadLen(payload, 74); err != nil {
		return nil, err
	}
	frame, err := decodeBaseFrame(payload, kind, version, sliceBase(payload))
	if err != nil {
		return nil, err
	}

	if len(payload) >= 100 {
		applyFMSTrailer(frame, payload)
	} else if len(payload) >= 74 {
		if v, err := strconv.ParseUint(payload[70:72], 16, 8); err == nil {
			frame.SignalQuality = int(v)
		}
		if v, err := strconv.ParseUint(payload[72:74], 16, 8); err == nil {
			frame.Satellites = int(v)
		}
	}
	frame.RemainingPayload = payload[74:]

	if frame.FuelRaw == 0 {
		applyV3FuelFallback(frame, payload)
	}
	return frame, nil
}

// applyFMSTrailer decodes the 30-char FMS suffix of a V3+FMS frame: offsets
// 70/72/74/82/84/88/92 land exactly at the payload's 100-char boundary.
// The trailer's CAN-bus values override the GPS-derived ones where the bus
// is authoritative (road speed), and are carried alongside otherwise.
func applyFMSTrailer(frame *Frame, payload string) {
	frame.HasFMS = true
	if v, err := strconv.ParseUint(payload[70:72], 16, 8); err == nil {
		frame.FMSFuelPct = int(v)
	}
	if v, err := strconv.ParseUint(payload[72:74], 16, 8); err == nil {
		frame.FMSTemperatureC = int(v) - 40
	}
	if v, err := strconv.ParseUint(payload[74:82], 16, 32); err == nil {
		frame.FMSOdometerKM = int(v)
	}
	if v, err := strconv.ParseUint(payload[82:84], 16, 8); err == nil {
		frame.SpeedKPH = float64(v)
	}
	if v, err := strconv.ParseUint(payload[84:88], 16, 16); err == nil {
		frame.RPM = int(v)
	}
	if v, err := strconv.ParseUint(payload[88:92], 16, 16); err == nil {
		frame.FuelRateKMPerL = float64(v) / 512
	}
	if v, err := strconv.ParseUint(payload[92:100], 16, 32); err == nil {
		frame.TotalFuelUsedL = float64(v) / 2
	}
}

func applyV3FuelFallback(frame *Frame, payload string) {
	for _, pos := range v3FuelFallbackOffsets {
		if len(payload) < pos+2 {
			continue
		}
		v, err := strconv.ParseUint(payload[pos:pos+2], 16, 8)
		if err != nil || v == 0 || v > 100 {
			continue
		}
		frame.FuelRaw = int(v)
		return
	}

	if len(payload) < 82 {
		return
	}
	v, err := strconv.ParseUint(payload[78:82], 16, 16)
	if err != nil || v == 0 {
		return
	}
	const tankLiters = 80
	pct := int((v / 2) * 100 / tankLiters)
	if pct > 100 {
		pct = 100
	}
	if pct > 0 {
		frame.FuelRaw = pct
	}
}

// decodeTimestamp converts the packed seconds-of-day and date fields to a
// UTC instant. Real-time is derived from the frame kind's high nibble: only
// a pure history frame is not real-time.
func decodeTimestamp(hourRaw, dateRaw string, kind FrameKind) (time.Time, bool, error) {
	totalSecs, err := strconv.ParseUint(hourRaw, 16, 32)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("decode seconds-of-day: %w", err)
	}
	hour := int((totalSecs / 3600) % 24)
	minute := int((totalSecs % 3600) / 60)
	second := int(totalSecs % 60)

	dateVal, err := strconv.ParseUint(dateRaw, 16, 32)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("decode date: %w", err)
	}
	day := int(dateVal%31) + 1
	month := int((dateVal/31)%12) + 1
	year := int(dateVal/372) + 2000

	t := time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC)
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return time.Time{}, false, fmt.Errorf("invalid date in frame: %04d-%02d-%02d", year, month, day)
	}

	isRealTime := kind != KindHistory
	return t, isRealTime, nil
}

// decodeCoordinate applies the integer-truncation formula: any
// floating-point division here produces a subtly wrong low-order digit and
// must never be used.
func decodeCoordinate(raw string, flagsRaw uint8, signBit uint8) (float64, error) {
	value, err := strconv.ParseInt(raw, 16, 64)
	if err != nil {
		return 0, err
	}
	degrees := value / 1_000_000
	decimal := (value % 1_000_000) * 100 / 60

	coord := float64(degrees) + float64(decimal)*1e-6
	if flagsRaw&signBit == 0 {
		coord = -coord
	}
	return coord, nil
}

func parseSpeed(raw string) (float64, error) {
	value, err := strconv.ParseUint(raw, 16, 32)
	if err != nil {
		return 0, err
	}
	return float64(value/10) * 1.609, nil
}

func parseHeading(raw string) (float64, error) {
	value, err := strconv.ParseUint(raw, 16, 32)
	if err != nil {
		return 0, err
	}
	return float64(value), nil
}

func decodePower(raw string) (voltage uint8, rescue bool, err error) {
	value, err := strconv.ParseUint(raw, 16, 8)
	if err != nil {
		return 0, false, err
	}
	return uint8(value) & 0x7F, value&0x80 != 0, nil
}

func decodeBit(flagsRaw uint8, mask uint8) bool {
	return flagsRaw&mask != 0
}

func decodeMEMS(raw string) (x, y, z int, err error) {
	if len(raw) != 6 {
		return 0, 0, 0, fmt.Errorf("mems field must be 6 hex chars, got %d", len(raw))
	}
	vals := make([]int, 3)
	for i := 0; i < 3; i++ {
		b, err := strconv.ParseUint(raw[i*2:i*2+2], 16, 8)
		if err != nil {
			return 0, 0, 0, err
		}
		vals[i] = signedByte(uint8(b))
	}
	return vals[0], vals[1], vals[2], nil
}

func signedByte(b uint8) int {
	if b >= 128 {
		return int(b) - 256
	}
	return int(b)
}
