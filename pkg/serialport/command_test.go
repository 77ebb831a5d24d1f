package serialport

import (
	"bytes"
	"testing"
)

func TestSettingsCommand(t *testing.T) {
	got, err := settingsCommand(500000, false, ModeNormal)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{
		0xAA, 0x55, 0x12, 0x03, 0x01,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x01, 0x00, 0x00, 0x00, 0x00,
		0x17,
	}
	if !bytes.Equal(got, want) {
		t.Errorf("settingsCommand() = % X, want % X", got, want)
	}
}

func TestSettingsCommand_Options(t *testing.T) {
	got, err := settingsCommand(5000, true, ModeLoopbackSilent)
	if err != nil {
		t.Fatal(err)
	}
	if got[3] != 0x0C || got[4] != frameTypeExtended || got[13] != ModeLoopbackSilent {
		t.Errorf("unexpected command % X", got)
	}
	if got[19] != 0x12+0x0C+0x02+0x03+0x01 {
		t.Errorf("checksum = 0x%02X", got[19])
	}
}

func TestSettingsCommand_Errors(t *testing.T) {
	if _, err := settingsCommand(33300, false, ModeNormal); err == nil {
		t.Error("expected error for unknown rate")
	}
	if _, err := settingsCommand(500000, false, 0x04); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestSpeedCodes(t *testing.T) {
	for bps, code := range speedCodes {
		if bps < 5000 || bps > 1000000 {
			t.Errorf("rate %d outside 5k-1M", bps)
		}
		if code < 0x01 || code > 0x0C {
			t.Errorf("rate %d has code 0x%02X", bps, code)
		}
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]byte{"": ModeNormal, "normal": ModeNormal, "silent": ModeSilent, "loopback": ModeLoopback, "loopback-silent": ModeLoopbackSilent} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %d, %v", in, got, err)
		}
	}
	if _, err := ParseMode("turbo"); err == nil {
		t.Error("expected error")
	}
}

func TestConfigMode(t *testing.T) {
	cfg := DefaultConfig()
	if _, err := cfg.mode(); err != nil {
		t.Fatal(err)
	}
	cfg.StopBits = 3
	if _, err := cfg.mode(); err == nil {
		t.Fatal("expected error for 3 stop bits")
	}
}

func TestValidRate(t *testing.T) {
	for _, bps := range []int{1000000, 500000, 125000, 5000} {
		if err := ValidRate(bps); err != nil {
			t.Errorf("ValidRate(%d) = %v", bps, err)
		}
	}
	for _, bps := range []int{0, 1, 33300, 2000000} {
		if err := ValidRate(bps); err == nil {
			t.Errorf("ValidRate(%d) accepted", bps)
		}
	}
}
