package mcu

import (
	"encoding/binary"
	"math"

	"github.com/Soochol/WF-EOL-TESTER-sub007/hwerr"
)

// Temperatures cross the wire in tenths of a degree. The field widths and
// byte orders below differ between commands; the controller firmware decodes
// each command with its own layout, so they must not be unified.

// TempScale converts degrees Celsius to wire units.
const TempScale = 10

// EncodeTemp packs a single temperature as a signed little-endian 16-bit
// value in tenths of a degree.
func EncodeTemp(celsius float64) []byte {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, uint16(int16(math.Round(celsius*TempScale))))
	return buf
}

// DecodeTemp unpacks a signed little-endian 16-bit temperature.
func DecodeTemp(data []byte) (float64, error) {
	if len(data) != 2 {
		return 0, hwerr.Newf(hwerr.Parse, "mcu", "decode temp",
			"want 2 bytes, got %d", len(data))
	}
	return float64(int16(binary.LittleEndian.Uint16(data))) / TempScale, nil
}

// EncodeInitPayload packs the LMA_INIT parameters: operating temperature,
// standby temperature, and hold time in milliseconds, each as an unsigned
// big-endian 32-bit field.
func EncodeInitPayload(opTemp, standbyTemp float64, holdMS uint32) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint32(buf[0:4], uint32(math.Round(opTemp*TempScale)))
	binary.BigEndian.PutUint32(buf[4:8], uint32(math.Round(standbyTemp*TempScale)))
	binary.BigEndian.PutUint32(buf[8:12], holdMS)
	return buf
}

// EncodeTestMode packs the test mode selector as unsigned big-endian 32-bit.
func EncodeTestMode(mode uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, mode)
	return buf
}

// TempReading is the payload of a TEMP_RESPONSE status.
type TempReading struct {
	Max     float64
	Ambient float64
	// HasAmbient is false for the short single-sensor form.
	HasAmbient bool
}

// DecodeTempResponse handles both response layouts: 8 bytes carry max and
// ambient as big-endian u32 pairs, 4 bytes carry a single little-endian u32.
func DecodeTempResponse(data []byte) (TempReading, error) {
	switch len(data) {
	case 8:
		return TempReading{
			Max:        float64(binary.BigEndian.Uint32(data[0:4])) / TempScale,
			Ambient:    float64(binary.BigEndian.Uint32(data[4:8])) / TempScale,
			HasAmbient: true,
		}, nil
	case 4:
		return TempReading{
			Max: float64(binary.LittleEndian.Uint32(data)) / TempScale,
		}, nil
	default:
		return TempReading{}, hwerr.Newf(hwerr.Parse, "mcu", "decode temp response",
			"want 4 or 8 bytes, got %d", len(data))
	}
}
