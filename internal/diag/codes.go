package diag

import "fmt"

type Code uint16

const (
	UnknownCode Code = 0

	// Locals allocation
	LocInfo          Code = 1000
	LocSoftLimit     Code = 1001
	LocHardLimit     Code = 1002
	LocConsistency   Code = 1003
	LocOffsetPhi     Code = 1004
	LocByteTaint     Code = 1005
	LocNarrowedParam Code = 1006

	// Call graph / stack
	StkInfo           Code = 2000
	StkRecursion      Code = 2001
	StkDepthExceeded  Code = 2002
	StkDepthEstimated Code = 2003
	StkFrameMissing   Code = 2004
	StkOffloadSize    Code = 2005
	StkOperandStack   Code = 2006

	// IR structure
	IRInvalid Code = 3001
)

var codeIDs = map[Code]string{
	UnknownCode:       "E0000",
	LocInfo:           "LOC1000",
	LocSoftLimit:      "LOC1001",
	LocHardLimit:      "LOC1002",
	LocConsistency:    "LOC1003",
	LocOffsetPhi:      "LOC1004",
	LocByteTaint:      "LOC1005",
	LocNarrowedParam:  "LOC1006",
	StkInfo:           "STK2000",
	StkRecursion:      "STK2001",
	StkDepthExceeded:  "STK2002",
	StkDepthEstimated: "STK2003",
	StkFrameMissing:   "STK2004",
	StkOffloadSize:    "STK2005",
	StkOperandStack:   "STK2006",
	IRInvalid:         "IR3001",
}

var codeDescription = map[Code]string{
	UnknownCode:       "Unknown error",
	LocInfo:           "Locals information",
	LocSoftLimit:      "Permanent locals exceed the soft ceiling",
	LocHardLimit:      "Permanent locals exceed the hard ceiling",
	LocConsistency:    "Allocation results are inconsistent",
	LocOffsetPhi:      "Reference phi narrowed to an offset",
	LocByteTaint:      "Byte value may have overflowed at short width",
	LocNarrowedParam:  "Parameter narrowed to short",
	StkInfo:           "Stack information",
	StkRecursion:      "Recursion is not supported",
	StkDepthExceeded:  "Call chain exceeds the stack depth ceiling",
	StkDepthEstimated: "Estimated call chain depth",
	StkFrameMissing:   "No frame cost for function",
	StkOffloadSize:    "Offload stack size",
	StkOperandStack:   "Operand stack exceeds the soft ceiling",
	IRInvalid:         "Malformed IR",
}

func (c Code) ID() string {
	if id, ok := codeIDs[c]; ok {
		return id
	}
	return codeIDs[UnknownCode]
}

func (c Code) Title() string {
	if title, ok := codeDescription[c]; ok {
		return title
	}
	return codeDescription[UnknownCode]
}

func (c Code) String() string {
	return fmt.Sprintf("[%s]: %s", c.ID(), c.Title())
}
