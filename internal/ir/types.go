package ir

type ValueID int32
type BlockID int32
type GlobalID int32

const (
	NoValueID  ValueID  = -1
	NoBlockID  BlockID  = -1
	NoGlobalID GlobalID = -1
)

// Type is the primitive class of an SSA value.
type Type uint8

const (
	TypeVoid Type = iota
	// TypeBool is a compare result; stored like a short.
	TypeBool
	TypeI8
	TypeI16
	TypeI32
	// TypeRef is an opaque reference into global memory.
	TypeRef
)

func (t Type) String() string {
	switch t {
	case TypeVoid:
		return "void"
	case TypeBool:
		return "bool"
	case TypeI8:
		return "i8"
	case TypeI16:
		return "i16"
	case TypeI32:
		return "i32"
	case TypeRef:
		return "ref"
	}
	return "?"
}

// Width returns the number of local slots a value of this type occupies.
func (t Type) Width() int {
	switch t {
	case TypeVoid:
		return 0
	case TypeI32:
		return 2
	default:
		return 1
	}
}

// IsInt reports whether t is an integer class (bool included).
func (t Type) IsInt() bool {
	switch t {
	case TypeBool, TypeI8, TypeI16, TypeI32:
		return true
	}
	return false
}

// Bits returns the arithmetic width of an integer type, 0 otherwise.
func (t Type) Bits() int {
	switch t {
	case TypeBool:
		return 1
	case TypeI8:
		return 8
	case TypeI16:
		return 16
	case TypeI32:
		return 32
	}
	return 0
}

// Short16 bounds of the native register width.
const (
	MinShort = -32768
	MaxShort = 32767
)

// FitsShort reports whether v is representable as a signed 16-bit value.
func FitsShort(v int64) bool {
	return v >= MinShort && v <= MaxShort
}

type Value struct {
	Name string
	Type Type
}

// StorageCategory selects the backing memory of a global.
type StorageCategory uint8

const (
	// StoragePersistent globals live in EEPROM-backed arrays.
	StoragePersistent StorageCategory = iota
	// StorageTransient globals live in RAM and are cleared on reset.
	StorageTransient
)

func (c StorageCategory) String() string {
	switch c {
	case StoragePersistent:
		return "persistent"
	case StorageTransient:
		return "transient"
	}
	return "unknown"
}

type Global struct {
	Name     string
	Category StorageCategory
	Elem     Type
	Count    int
	Init     []int64
}

// ByteSize is the size of the global in bytes.
func (g *Global) ByteSize() int {
	if g == nil {
		return 0
	}
	size := g.Elem.Bits() / 8
	if g.Elem == TypeBool {
		size = 1
	}
	if g.Elem == TypeRef {
		size = 2
	}
	return size * g.Count
}
