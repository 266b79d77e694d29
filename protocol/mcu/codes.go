package mcu

import "fmt"

// Host-to-controller command codes.
const (
	CmdBootComplete       byte = 0x00
	CmdEnterTestMode      byte = 0x01
	CmdSetUpperTemp       byte = 0x02
	CmdSetFanSpeed        byte = 0x03
	CmdLMAInit            byte = 0x04
	CmdSetOperatingTemp   byte = 0x05
	CmdSetCoolingTemp     byte = 0x06
	CmdRequestTemp        byte = 0x07
	CmdStrokeInitComplete byte = 0x08
)

// Controller-to-host status codes. The low range acks the command with the
// same code; the 0x09+ range reports asynchronous state changes.
const (
	StatusBootComplete         byte = 0x00
	StatusTestModeComplete     byte = 0x01
	StatusUpperTempOK          byte = 0x02
	StatusFanSpeedOK           byte = 0x03
	StatusLMAInitOK            byte = 0x04
	StatusOperatingTempOK      byte = 0x05
	StatusCoolingTempOK        byte = 0x06
	StatusTempResponse         byte = 0x07
	StatusStrokeInitOK         byte = 0x08
	StatusTempRiseStart        byte = 0x09
	StatusTempFallStart        byte = 0x0A
	StatusOperatingTempReached byte = 0x0B
	StatusStandbyTempReached   byte = 0x0C
	StatusCoolingTempReached   byte = 0x0D
	StatusLMAInitComplete      byte = 0x0E
)

var commandNames = map[byte]string{
	CmdBootComplete:       "BOOT_COMPLETE",
	CmdEnterTestMode:      "ENTER_TEST_MODE",
	CmdSetUpperTemp:       "SET_UPPER_TEMP",
	CmdSetFanSpeed:        "SET_FAN_SPEED",
	CmdLMAInit:            "LMA_INIT",
	CmdSetOperatingTemp:   "SET_OPERATING_TEMP",
	CmdSetCoolingTemp:     "SET_COOLING_TEMP",
	CmdRequestTemp:        "REQUEST_TEMP",
	CmdStrokeInitComplete: "STROKE_INIT_COMPLETE",
}

var statusNames = map[byte]string{
	StatusBootComplete:         "BOOT_COMPLETE",
	StatusTestModeComplete:     "TEST_MODE_COMPLETE",
	StatusUpperTempOK:          "UPPER_TEMP_OK",
	StatusFanSpeedOK:           "FAN_SPEED_OK",
	StatusLMAInitOK:            "LMA_INIT_OK",
	StatusOperatingTempOK:      "OPERATING_TEMP_OK",
	StatusCoolingTempOK:        "COOLING_TEMP_OK",
	StatusTempResponse:         "TEMP_RESPONSE",
	StatusStrokeInitOK:         "STROKE_INIT_OK",
	StatusTempRiseStart:        "TEMP_RISE_START",
	StatusTempFallStart:        "TEMP_FALL_START",
	StatusOperatingTempReached: "OPERATING_TEMP_REACHED",
	StatusStandbyTempReached:   "STANDBY_TEMP_REACHED",
	StatusCoolingTempReached:   "COOLING_TEMP_REACHED",
	StatusLMAInitComplete:      "LMA_INIT_COMPLETE",
}

func CommandName(code byte) string {
	if n, ok := commandNames[code]; ok {
		return n
	}
	return fmt.Sprintf("UNKNOWN_0x%02X", code)
}

func StatusName(code byte) string {
	if n, ok := statusNames[code]; ok {
		return n
	}
	return fmt.Sprintf("UNKNOWN_0x%02X", code)
}
