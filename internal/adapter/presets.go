package adapter

// ConfigPreset is a resolved set of SetConfig pairs plus the flags/baud a
// connect() call should use, for one of the channel classes spec.md §4.1
// enumerates.
type ConfigPreset struct {
	Protocol Protocol
	Flags    ConnectFlags
	Baud     int
	Config   map[string]int
}

// HighSpeedCAN returns the preset for an 11- or 29-bit high-speed CAN
// channel at baud (typically 500000 or 250000).
func HighSpeedCAN(baud int, extendedID bool) ConfigPreset {
	samplePoint := 68
	if baud == 500_000 {
		samplePoint = 80
	}
	flags := FlagNone
	if extendedID {
		flags = FlagCANIDBoth
	}
	return ConfigPreset{
		Protocol: ProtocolCAN,
		Flags:    flags,
		Baud:     baud,
		Config: map[string]int{
			"DATA_RATE":         baud,
			"LOOPBACK":          0,
			"BIT_SAMPLE_POINT":  samplePoint,
		},
	}
}

// LowSpeedCANPreset describes the two-step low-speed (125 kbps) connect
// sequence: try CAN_XON_XOFF first, then fall back to CAN_PS.
type LowSpeedCANPreset struct {
	Primary  ConfigPreset
	Fallback ConfigPreset
}

// LowSpeedCAN builds the 125 kbps preset pair per spec.md §4.1.
func LowSpeedCAN() LowSpeedCANPreset {
	return LowSpeedCANPreset{
		Primary: ConfigPreset{
			Protocol: ProtocolCAN,
			Flags:    FlagPhysicalChannel,
			Baud:     125_000,
			Config:   map[string]int{"DATA_RATE": 125_000},
		},
		Fallback: ConfigPreset{
			Protocol: ProtocolCAN,
			Flags:    FlagNone,
			Baud:     125_000,
			Config:   map[string]int{"J1962_PINS": 0x030B},
		},
	}
}

// ISOTPChannel returns the preset for an ISO-TP channel at baud with
// ISO15765 frame padding. The preset installs no message filter.
func ISOTPChannel(baud int) ConfigPreset {
	return ConfigPreset{
		Protocol: ProtocolISO15765,
		Flags:    FlagISO15765FramePad,
		Baud:     baud,
		Config:   map[string]int{},
	}
}

// BridgeChannel returns the ISO-9141 (K-line) bridge preset, including the
// 2s keep-alive cadence the caller should start once the channel is up.
func BridgeChannel() (ConfigPreset, keepAlivePreset) {
	return ConfigPreset{
			Protocol: ProtocolISO9141,
			Flags:    FlagNone,
			Baud:     10_400,
			Config: map[string]int{
				"PARITY": 0,
				"W0":     60,
				"W1":     600,
				"P4_MIN": 0,
			},
		}, keepAlivePreset{IntervalMS: 2000}
}

type keepAlivePreset struct {
	IntervalMS int
}
