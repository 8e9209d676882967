package nvenc

import "fmt"

// GUID has the layout of a Win32 GUID.
type GUID struct {
	Data1 uint32
	Data2 uint16
	Data3 uint16
	Data4 [8]byte
}

func (g GUID) String() string {
	return fmt.Sprintf("{%08X-%04X-%04X-%02X%02X-%02X%02X%02X%02X%02X%02X}",
		g.Data1, g.Data2, g.Data3,
		g.Data4[0], g.Data4[1], g.Data4[2], g.Data4[3],
		g.Data4[4], g.Data4[5], g.Data4[6], g.Data4[7])
}

// Codec GUIDs.
var (
	CodecH264 = GUID{0x6bc82762, 0x4e63, 0x4ca4, [8]byte{0xaa, 0x85, 0x1e, 0x50, 0xf3, 0x21, 0xf6, 0xbf}}
)

// H.264 profile GUIDs.
var (
	ProfileBaseline = GUID{0x0727bcaa, 0x78c4, 0x4c83, [8]byte{0x8c, 0x2f, 0xef, 0x3d, 0xff, 0x26, 0x7c, 0x6a}}
	ProfileMain     = GUID{0x60b5c1d4, 0x67fe, 0x4790, [8]byte{0x94, 0xd5, 0xc4, 0x72, 0x6d, 0x7b, 0x6e, 0x6d}}
	ProfileHigh     = GUID{0xe7cbc309, 0x4f7a, 0x4b89, [8]byte{0xaf, 0x2a, 0xd5, 0x37, 0xc9, 0x2b, 0xe3, 0x10}}
	ProfileHigh444  = GUID{0x7ac663cb, 0xa598, 0x4960, [8]byte{0xb8, 0x44, 0x33, 0x9b, 0x26, 0x1a, 0x7d, 0x52}}
)

// Preset GUIDs.
var (
	PresetDefault           = GUID{0xb2dfb705, 0x4ebd, 0x4c49, [8]byte{0x9b, 0x5f, 0x24, 0xa7, 0x77, 0xd3, 0xe5, 0x87}}
	PresetHP                = GUID{0x60e4c59f, 0xe846, 0x4484, [8]byte{0xa5, 0x6d, 0xcd, 0x45, 0xbe, 0x9f, 0xdd, 0xf6}}
	PresetHQ                = GUID{0x34dba71d, 0xa77b, 0x4b8f, [8]byte{0x9c, 0x3e, 0xb6, 0xd5, 0xda, 0x24, 0xc0, 0x12}}
	PresetBD                = GUID{0x82e3e450, 0xbdbb, 0x4e40, [8]byte{0x98, 0x9c, 0x82, 0xa9, 0x0d, 0xf9, 0xef, 0x32}}
	PresetLowLatencyDefault = GUID{0x49df21c5, 0x6dfa, 0x4feb, [8]byte{0x97, 0x87, 0x6a, 0xcc, 0x9e, 0xff, 0xb7, 0x26}}
	PresetLowLatencyHQ      = GUID{0xc5f733b9, 0xea97, 0x4cf9, [8]byte{0xbe, 0xc2, 0xbf, 0x78, 0xa7, 0x4f, 0xd1, 0x05}}
	PresetLowLatencyHP      = GUID{0x67082a44, 0x4bad, 0x48fa, [8]byte{0x98, 0xea, 0x93, 0x05, 0x6d, 0x15, 0x0a, 0x58}}
	PresetLosslessDefault   = GUID{0xd5bfb716, 0xc604, 0x44e7, [8]byte{0x9b, 0xb8, 0xde, 0xa5, 0x51, 0x0f, 0xc3, 0xac}}
	PresetLosslessHP        = GUID{0x149998e7, 0x2364, 0x411d, [8]byte{0x82, 0xef, 0x17, 0x98, 0x88, 0x09, 0x34, 0x09}}
)

var presetNames = map[GUID]string{
	PresetDefault:           "default",
	PresetHP:                "hp",
	PresetHQ:                "hq",
	PresetBD:                "bd",
	PresetLowLatencyDefault: "ll",
	PresetLowLatencyHQ:      "llhq",
	PresetLowLatencyHP:      "llhp",
	PresetLosslessDefault:   "lossless",
	PresetLosslessHP:        "losslesshp",
}

// PresetName returns the short name of a preset GUID, or its string form.
func PresetName(g GUID) string {
	if name, ok := presetNames[g]; ok {
		return name
	}
	return g.String()
}
