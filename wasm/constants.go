package wasm

// WebAssembly binary format magic number and version.
const (
	// Magic is "\0asm" read as a little-endian uint32.
	Magic uint32 = 0x6D736100

	// Version is the supported binary format version.
	Version uint32 = 0x01
)

// Section IDs. Non-custom sections appear at most once, in the order of sectionRank.
const (
	SectionCustom    byte = 0
	SectionType      byte = 1
	SectionImport    byte = 2
	SectionFunction  byte = 3
	SectionTable     byte = 4
	SectionMemory    byte = 5
	SectionGlobal    byte = 6
	SectionExport    byte = 7
	SectionStart     byte = 8
	SectionElement   byte = 9
	SectionCode      byte = 10
	SectionData      byte = 11
	SectionDataCount byte = 12
)

// Import/export descriptor kinds.
const (
	KindFunc   byte = 0
	KindTable  byte = 1
	KindMemory byte = 2
	KindGlobal byte = 3
)

// Type constructor for function types.
const FuncTypeByte byte = 0x60

// Limits flags.
const (
	limitsHasMax byte = 0x01
	limitsShared byte = 0x02
	limits64     byte = 0x04
)

// Opcodes that appear in constant expressions and generated code.
const (
	OpEnd       byte = 0x0B
	OpCall      byte = 0x10
	OpLocalGet  byte = 0x20
	OpGlobalGet byte = 0x23
	OpTableGet  byte = 0x25
	OpTableSet  byte = 0x26
	OpI32Const  byte = 0x41
	OpI64Const  byte = 0x42
	OpF32Const  byte = 0x43
	OpF64Const  byte = 0x44
	OpI32Add    byte = 0x6A
	OpI32Sub    byte = 0x6B
	OpI32Mul    byte = 0x6C
	OpI64Add    byte = 0x7C
	OpI64Sub    byte = 0x7D
	OpI64Mul    byte = 0x7E
	OpRefNull   byte = 0xD0
	OpRefFunc   byte = 0xD2
	OpPrefixFC  byte = 0xFC
	OpPrefixFD  byte = 0xFD
)

// 0xFC-prefixed sub-opcodes.
const (
	OpTableGrow uint32 = 15
	OpTableSize uint32 = 16
)

// 0xFD-prefixed sub-opcodes.
const OpV128Const uint32 = 12

// Element segment kind byte for funcref in legacy encodings.
const elemKindFuncRef byte = 0x00

// PageSize is the size of a linear memory page.
const PageSize = 65536

// MaxPages is the largest 32-bit memory size in pages.
const MaxPages = 65536

// sectionRank orders non-custom sections as they must appear in a binary.
func sectionRank(id byte) int {
	switch id {
	case SectionType:
		return 1
	case SectionImport:
		return 2
	case SectionFunction:
		return 3
	case SectionTable:
		return 4
	case SectionMemory:
		return 5
	case SectionGlobal:
		return 6
	case SectionExport:
		return 7
	case SectionStart:
		return 8
	case SectionElement:
		return 9
	case SectionDataCount:
		return 10
	case SectionCode:
		return 11
	case SectionData:
		return 12
	default:
		return 0
	}
}

// SectionName returns a readable section name for diagnostics.
func SectionName(id byte) string {
	switch id {
	case SectionCustom:
		return "custom"
	case SectionType:
		return "type"
	case SectionImport:
		return "import"
	case SectionFunction:
		return "function"
	case SectionTable:
		return "table"
	case SectionMemory:
		return "memory"
	case SectionGlobal:
		return "global"
	case SectionExport:
		return "export"
	case SectionStart:
		return "start"
	case SectionElement:
		return "element"
	case SectionCode:
		return "code"
	case SectionData:
		return "data"
	case SectionDataCount:
		return "datacount"
	default:
		return "unknown"
	}
}
