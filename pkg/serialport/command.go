package serialport

import "fmt"

// Adapter modes accepted by the settings command
const (
	ModeNormal         byte = 0x00
	ModeLoopback       byte = 0x01
	ModeSilent         byte = 0x02
	ModeLoopbackSilent byte = 0x03
)

const (
	frameTypeStandard byte = 0x01
	frameTypeExtended byte = 0x02
)

// speedCodes maps CAN bitrates in bps to adapter speed codes
var speedCodes = map[int]byte{
	1000000: 0x01,
	800000:  0x02,
	500000:  0x03,
	400000:  0x04,
	250000:  0x05,
	200000:  0x06,
	125000:  0x07,
	100000:  0x08,
	50000:   0x09,
	20000:   0x0A,
	10000:   0x0B,
	5000:    0x0C,
}

func speedCode(bps int) (byte, error) {
	code, ok := speedCodes[bps]
	if !ok {
		return 0, fmt.Errorf("unknown rate: %d", bps)
	}
	return code, nil
}

// ValidRate reports whether the adapter has a speed code for bps
func ValidRate(bps int) error {
	_, err := speedCode(bps)
	return err
}

// ParseMode maps a mode name to its command value
func ParseMode(s string) (byte, error) {
	switch s {
	case "", "normal":
		return ModeNormal, nil
	case "loopback":
		return ModeLoopback, nil
	case "silent":
		return ModeSilent, nil
	case "loopback-silent":
		return ModeLoopbackSilent, nil
	}
	return 0, fmt.Errorf("unknown adapter mode %q", s)
}

// settingsCommand builds the 20 byte adapter settings command
//
//	AA 55 12 <speed> <frame type> <filter x4> <mask x4> <mode> 01 00 00 00 00 <checksum>
//
// The checksum is the low byte of the sum of every byte after the AA 55 header.
func settingsCommand(bps int, extended bool, mode byte) ([]byte, error) {
	code, err := speedCode(bps)
	if err != nil {
		return nil, err
	}
	if mode > ModeLoopbackSilent {
		return nil, fmt.Errorf("unknown adapter mode 0x%02X", mode)
	}
	cmd := make([]byte, 20)
	cmd[0], cmd[1], cmd[2] = 0xAA, 0x55, 0x12
	cmd[3] = code
	cmd[4] = frameTypeStandard
	if extended {
		cmd[4] = frameTypeExtended
	}
	// 5-8 filter id, 9-12 mask id: accept everything
	cmd[13] = mode
	cmd[14] = 0x01
	var sum byte
	for _, b := range cmd[2:19] {
		sum += b
	}
	cmd[19] = sum
	return cmd, nil
}
