package mctp

import "fmt"

// Version is an MCTP version number as reported by the Get MCTP Version
// Support control command. Fields use the DSP0236 BCD-with-flag encoding:
// 0xF0 | digit for plain numerics, 0xFF for "ignore this field".
type Version struct {
	Major  uint8
	Minor  uint8
	Update uint8
	Alpha  uint8
}

// VersionIgnore marks a version field as not applicable on the wire.
const VersionIgnore = 0xFF

// BaseVersions lists the MCTP base specification versions this
// implementation supports, most recent last.
var BaseVersions = []Version{
	{Major: 1, Minor: 3, Update: 3, Alpha: 0},
}

// ControlVersions lists the supported MCTP Control Protocol versions.
var ControlVersions = []Version{
	{Major: 1, Minor: 3, Update: 3, Alpha: 0},
}

// Encode packs the version into its 4-byte wire form.
func (v Version) Encode() [4]byte {
	return [4]byte{
		encodeVersionField(v.Major),
		encodeVersionField(v.Minor),
		encodeVersionField(v.Update),
		v.Alpha,
	}
}

// DecodeVersion unpacks a 4-byte wire version entry.
func DecodeVersion(b [4]byte) Version {
	return Version{
		Major:  decodeVersionField(b[0]),
		Minor:  decodeVersionField(b[1]),
		Update: decodeVersionField(b[2]),
		Alpha:  b[3],
	}
}

func encodeVersionField(n uint8) uint8 {
	return 0xF0 | (n & 0x0F)
}

func decodeVersionField(b uint8) uint8 {
	if b == VersionIgnore {
		return 0
	}
	return b & 0x0F
}

// String renders the version in dotted form, e.g. "1.3.3".
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Update)
}
