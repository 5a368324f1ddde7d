package comm

import "fmt"

// CommsType selects how coupled interfaces exchange data
type CommsType uint8

const (
	// Blocking sends and receives complete inside each call
	Blocking CommsType = iota
	// Scheduled follows a deadlock-free ordered schedule, one exchange at a time
	Scheduled
	// NonBlocking posts every request first and completes them with WaitRequests
	NonBlocking
)

func (ct CommsType) String() string {
	switch ct {
	case Blocking:
		return "blocking"
	case Scheduled:
		return "scheduled"
	case NonBlocking:
		return "nonBlocking"
	}
	return fmt.Sprintf("CommsType(%d)", uint8(ct))
}

// ParseCommsType converts a configuration name into a CommsType
func ParseCommsType(name string) (CommsType, error) {
	for _, ct := range []CommsType{Blocking, Scheduled, NonBlocking} {
		if ct.String() == name {
			return ct, nil
		}
	}
	return 0, fmt.Errorf("unknown comms type %q", name)
}

// Message tags. Coupled interfaces use tags >= DefaultTag; negative tags are
// reserved for collectives
const (
	DefaultTag    = 1
	collectiveTag = -1
	splitTag      = -2
)
