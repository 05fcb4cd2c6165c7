// Package bytecode handles decoding and formatting the uint32 instruction words
// of a Lua 5.1 chunk.
package bytecode

import (
	"fmt"
	"strconv"
)

type (
	// Op is the descriptor of which kind of instruction each bytecode is.
	Op uint8
	// Type is a descriptor of what format an instruction has.
	Type string
)

const (
	// TypeABC is an instruction with an a uint8, and b, c uint9 params.
	TypeABC Type = "iABC"
	// TypeABx is an instruction with an a uint8 and b uint18 param.
	TypeABx Type = "iABx"
	// TypeAsBx is an instruction with an a uint8 and b signed 18 bit param.
	TypeAsBx Type = "iAsBx"
	// TypeEx is a raw uint32 value.
	TypeEx Type = "EXARG"
)

const (
	// MOVE Copy a value between registers.
	MOVE Op = iota
	// LOADK Load a constant into a register.
	LOADK
	// LOADBOOL Load a boolean into a register.
	LOADBOOL
	// LOADNIL Load nil values into a range of registers.
	LOADNIL
	// GETUPVAL Read an upvalue into a register.
	GETUPVAL
	// GETGLOBAL Read a global variable into a register.
	GETGLOBAL
	// GETTABLE Read a table element into a register.
	GETTABLE
	// SETGLOBAL Write a register value into a global variable.
	SETGLOBAL
	// SETUPVAL Write a register value into an upvalue.
	SETUPVAL
	// SETTABLE Write a register value into a table element.
	SETTABLE
	// NEWTABLE Create a new table.
	NEWTABLE
	// SELF Prepare an object method for calling.
	SELF
	// ADD Addition operator.
	ADD
	// SUB Subtraction operator.
	SUB
	// MUL Multiplication operator.
	MUL
	// DIV Division operator.
	DIV
	// MOD Modulus (remainder) operator.
	MOD
	// POW Exponentation operator.
	POW
	// UNM Unary minus.
	UNM
	// NOT Logical NOT operator.
	NOT
	// LEN Length operator.
	LEN
	// CONCAT Concatenate a range of registers.
	CONCAT
	// JMP Unconditional jump.
	JMP
	// EQ Equality test, with conditional jump.
	EQ
	// LT Less than test, with conditional jump.
	LT
	// LE Less than or equal to test, with conditional jump.
	LE
	// TEST Boolean test, with conditional jump.
	TEST
	// TESTSET Boolean test, with conditional jump and assignment.
	TESTSET
	// CALL Call a closure.
	CALL
	// TAILCALL Perform a tail call.
	TAILCALL
	// RETURN Return from function call.
	RETURN
	// FORLOOP Iterate a numeric for loop.
	FORLOOP
	// FORPREP Initialization for a numeric for loop.
	FORPREP
	// TFORLOOP Iterate a generic for loop.
	TFORLOOP
	// SETLIST Set a range of array elements for a table.
	SETLIST
	// CLOSE close upvalues.
	CLOSE
	// CLOSURE Create a closure of a function prototype.
	CLOSURE
	// VARARG Assign vararg function arguments to registers.
	VARARG
	// NumOps is the count of defined opcodes, max possible is 6 bits or 64 codes.
	NumOps int = iota
)

var opcodeToString = map[Op]string{
	MOVE:      "MOVE",
	LOADK:     "LOADK",
	LOADBOOL:  "LOADBOOL",
	LOADNIL:   "LOADNIL",
	GETUPVAL:  "GETUPVAL",
	GETGLOBAL: "GETGLOBAL",
	GETTABLE:  "GETTABLE",
	SETGLOBAL: "SETGLOBAL",
	SETUPVAL:  "SETUPVAL",
	SETTABLE:  "SETTABLE",
	NEWTABLE:  "NEWTABLE",
	SELF:      "SELF",
	ADD:       "ADD",
	SUB:       "SUB",
	MUL:       "MUL",
	DIV:       "DIV",
	MOD:       "MOD",
	POW:       "POW",
	UNM:       "UNM",
	NOT:       "NOT",
	LEN:       "LEN",
	CONCAT:    "CONCAT",
	JMP:       "JMP",
	EQ:        "EQ",
	LT:        "LT",
	LE:        "LE",
	TEST:      "TEST",
	TESTSET:   "TESTSET",
	CALL:      "CALL",
	TAILCALL:  "TAILCALL",
	RETURN:    "RETURN",
	FORLOOP:   "FORLOOP",
	FORPREP:   "FORPREP",
	TFORLOOP:  "TFORLOOP",
	SETLIST:   "SETLIST",
	CLOSE:     "CLOSE",
	CLOSURE:   "CLOSURE",
	VARARG:    "VARARG",
}

func (op Op) String() string {
	if name, ok := opcodeToString[op]; ok {
		return name
	}
	return "UNDEFINED"
}

// Format values in the 32 bit opcode.
// | B: u9 | C: u9 | A: u8 | Opcode: u6 | and | Bx: u18 | A: u8 | Opcode: u6 |.
const (
	aShift    = 6
	cShift    = aShift + 8
	bShift    = cShift + 9
	bxShift   = cShift
	mask6bits = 0x3F
	mask9bits = 0x1FF
	mask18bit = 0x3FFFF
	maskByte  = 0xFF

	// MaxArgBx is the largest value the Bx field can carry.
	MaxArgBx = mask18bit
	// MaxArgsBx is the sBx bias, sBx = Bx - MaxArgsBx.
	MaxArgsBx = MaxArgBx >> 1
	// BitRK marks an RK operand as a constant pool index.
	BitRK = 1 << 8
	// FieldsPerFlush is how many list items a single SETLIST block covers.
	FieldsPerFlush = 50
)

// IABCK creates a new bytecode instruction with B and C as RK operands. When the
// const flag is set the operand indexes the constant pool.
func IABCK(op Op, a uint8, b uint8, bconst bool, c uint8, cconst bool) uint32 {
	return IABC(op, a, RKAsK(b, bconst), RKAsK(c, cconst))
}

// IAB is a helper to create an IABC instruction without a c param.
func IAB(op Op, a uint8, b uint16) uint32 { return IABC(op, a, b, 0) }

// IABC creates an instruction with 9 bit b and c params.
func IABC(op Op, a uint8, b, c uint16) uint32 {
	return (uint32(b)&mask9bits)<<bShift |
		(uint32(c)&mask9bits)<<cShift |
		uint32(a)<<aShift |
		uint32(op)&mask6bits
}

// IABx creates an instruction with a register and an unsigned 18 bit value usually load constant.
func IABx(op Op, a uint8, bx uint32) uint32 {
	return (bx&mask18bit)<<bxShift | uint32(a)<<aShift | uint32(op)&mask6bits
}

// IAsBx creates an instruction with a register and a signed value often used for jumps.
func IAsBx(op Op, a uint8, sbx int32) uint32 { return IABx(op, a, uint32(sbx+MaxArgsBx)) }

// RKAsK will set the constant bit on an operand if k is true.
func RKAsK(idx uint8, k bool) uint16 {
	if k {
		return uint16(idx) | BitRK
	}
	return uint16(idx)
}

// GetOp gets what type of instruction it is. Used for the switch in the vm.
func GetOp(bc uint32) Op { return Op(bc & mask6bits) }

// GetA gets the a param in all of the instructions.
func GetA(bc uint32) int64 { return int64(bc >> aShift & maskByte) }

// GetB gets the raw 9 bit b param in IABC instructions.
func GetB(bc uint32) int64 { return int64(bc >> bShift & mask9bits) }

// GetC gets the raw 9 bit c param in IABC instructions.
func GetC(bc uint32) int64 { return int64(bc >> cShift & mask9bits) }

// GetBx gets the b param in IABx instructions.
func GetBx(bc uint32) int64 { return int64(bc >> bxShift & mask18bit) }

// GetsBx gets the b param in IAsBx instructions.
func GetsBx(bc uint32) int64 { return GetBx(bc) - MaxArgsBx }

// GetBK gets the b param in IABC instructions with an indicator if it is a const or not.
func GetBK(bc uint32) (int64, bool) { return splitRK(GetB(bc)) }

// GetCK gets the c param in IABC instructions with an indicator if it is a const or not.
func GetCK(bc uint32) (int64, bool) { return splitRK(GetC(bc)) }

func splitRK(v int64) (int64, bool) { return v & maskByte, v&BitRK != 0 }

// FloatingPointByte decodes the eeeeexxx size hint encoding used by NEWTABLE.
func FloatingPointByte(x int64) int64 {
	e := (x >> 3) & 0x1F
	if e == 0 {
		return x & 7
	}
	return ((x & 7) + 8) << (e - 1)
}

// ToString will format an instruction to be understandable.
func ToString(bc uint32) string {
	op := GetOp(bc).String()
	switch Kind(bc) {
	case TypeABx:
		return fmt.Sprintf("%-10v %-5v %-5v %-5v", op, GetA(bc), GetBx(bc), "")
	case TypeAsBx:
		return fmt.Sprintf("%-10v %-5v %-5v %-5v", op, GetA(bc), GetsBx(bc), "")
	case TypeABC:
		b, bconst := GetBK(bc)
		c, cconst := GetCK(bc)
		bstr := strconv.FormatInt(b, 10)
		if bconst {
			bstr += "k"
		}
		cstr := strconv.FormatInt(c, 10)
		if cconst {
			cstr += "k"
		}
		return fmt.Sprintf("%-10v %-5v %-5v %-5v", op, GetA(bc), bstr, cstr)
	default:
		return fmt.Sprintf("%-10v %-5v", "EXARG", bc)
	}
}

// Kind will return which type of bytecode it is, iABC, iABx, iAsBx.
func Kind(bc uint32) Type {
	switch GetOp(bc) {
	case LOADK, GETGLOBAL, SETGLOBAL, CLOSURE:
		return TypeABx
	case JMP, FORLOOP, FORPREP:
		return TypeAsBx
	case MOVE, LOADBOOL, LOADNIL, GETUPVAL, GETTABLE, SETUPVAL,
		SETTABLE, NEWTABLE, SELF, ADD, SUB, MUL, DIV, MOD, POW,
		UNM, NOT, LEN, CONCAT, EQ, LT, LE, TEST, TESTSET, CALL,
		TAILCALL, RETURN, TFORLOOP, SETLIST, CLOSE, VARARG:
		return TypeABC
	default:
		return TypeEx
	}
}
