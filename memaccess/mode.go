package memaccess

import "fmt"

// AccessMode selects which kernel strategy the gateway uses to reach a
// bound process's address space (§3.4, §4.1).
type AccessMode int32

const (
	ModeNone AccessMode = iota
	ModeNonCacheable
	ModeWriteThrough
	ModeNormal
	ModePageFault
)

// ParseAccessMode maps the numeric IDs used by external configuration (§6)
// to an AccessMode.
func ParseAccessMode(id int) (AccessMode, error) {
	switch id {
	case 0:
		return ModeNone, nil
	case 1:
		return ModeNonCacheable, nil
	case 2:
		return ModeWriteThrough, nil
	case 3:
		return ModeNormal, nil
	case 4:
		return ModePageFault, nil
	default:
		return 0, fmt.Errorf("memaccess: unknown access mode id %d", id)
	}
}

func (m AccessMode) String() string {
	switch m {
	case ModeNone:
		return "None"
	case ModeNonCacheable:
		return "NonCacheable"
	case ModeWriteThrough:
		return "WriteThrough"
	case ModeNormal:
		return "Normal"
	case ModePageFault:
		return "PageFault"
	default:
		return "Unknown"
	}
}

// memoryType is the kernel-side memory type the bound-process handle is
// programmed with for the "bound" gateway path (§4.1).
type memoryType int

const (
	memTypeDeviceNGnRnE memoryType = iota
	memTypeNormalWT
	memTypeNormal
)

func (m AccessMode) boundMemoryType() (memoryType, bool) {
	switch m {
	case ModeNonCacheable:
		return memTypeDeviceNGnRnE, true
	case ModeWriteThrough:
		return memTypeNormalWT, true
	case ModeNormal:
		return memTypeNormal, true
	default:
		return 0, false
	}
}

// path identifies which of the gateway's three kernel strategies a given
// AccessMode selects (§4.1).
type path int

const (
	pathPhysical path = iota
	pathUserPages
	pathBound
)

func (m AccessMode) path() path {
	switch m {
	case ModeNone:
		return pathPhysical
	case ModePageFault:
		return pathUserPages
	default:
		return pathBound
	}
}
