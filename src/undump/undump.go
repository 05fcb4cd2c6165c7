// Package undump reads and writes precompiled lua 5.1 chunks, the format
// produced by luac.
package undump

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"

	"github.com/tanema/lvm/src/conf"
	"github.com/tanema/lvm/src/lerrors"
	"github.com/tanema/lvm/src/proto"
)

type (
	// Header is the 12 byte preamble of every chunk.
	Header struct {
		Signature       string
		Version         byte
		Format          byte
		Endianness      byte
		IntSize         byte
		SizeTSize       byte
		InstructionSize byte
		NumberSize      byte
		Integral        byte
	}
	reader struct {
		src    io.Reader
		header Header
		order  binary.ByteOrder
	}
)

// Constant tags in a chunk.
const (
	tagNil     = 0
	tagBoolean = 1
	tagNumber  = 3
	tagString  = 4

	maxCount = 1 << 24
)

// DefaultHeader is the header of a chunk produced by luac 5.1 on a 64 bit little endian host.
var DefaultHeader = Header{
	Signature:       conf.LUASIGNATURE,
	Version:         conf.LUAVERSIONBYTE,
	Format:          conf.LUAFORMAT,
	Endianness:      1,
	IntSize:         4,
	SizeTSize:       8,
	InstructionSize: 4,
	NumberSize:      8,
	Integral:        0,
}

// File loads a chunk from a file on disk.
func File(path string) (*proto.Prototype, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &lerrors.Error{Kind: lerrors.LoaderErr, Chunk: path, Err: err}
	}
	defer f.Close()
	return Load(bufio.NewReader(f), path)
}

// Load reads a whole chunk and returns its top level prototype.
func Load(src io.Reader, name string) (*proto.Prototype, error) {
	rd := &reader{src: src}
	if err := rd.readHeader(); err != nil {
		return nil, &lerrors.Error{Kind: lerrors.LoaderErr, Chunk: name, Err: err}
	}
	p, err := rd.readProto("=" + name)
	if err != nil {
		return nil, &lerrors.Error{Kind: lerrors.LoaderErr, Chunk: name, Err: err}
	}
	return p, nil
}

func (rd *reader) readHeader() error {
	sig := make([]byte, len(conf.LUASIGNATURE))
	if _, err := io.ReadFull(rd.src, sig); err != nil {
		return errors.Wrap(err, "read signature")
	}
	rest := make([]byte, 8)
	if _, err := io.ReadFull(rd.src, rest); err != nil {
		return errors.Wrap(err, "read header")
	}
	rd.header = Header{
		Signature:       string(sig),
		Version:         rest[0],
		Format:          rest[1],
		Endianness:      rest[2],
		IntSize:         rest[3],
		SizeTSize:       rest[4],
		InstructionSize: rest[5],
		NumberSize:      rest[6],
		Integral:        rest[7],
	}
	return rd.header.validate(&rd.order)
}

func (h Header) validate(order *binary.ByteOrder) error {
	switch {
	case h.Signature != conf.LUASIGNATURE:
		return fmt.Errorf("%w: not a precompiled chunk", lerrors.ErrBadChunk)
	case h.Version != conf.LUAVERSIONBYTE:
		return fmt.Errorf("%w: version mismatch, expected %#x found %#x", lerrors.ErrBadChunk, conf.LUAVERSIONBYTE, h.Version)
	case h.Format != conf.LUAFORMAT:
		return fmt.Errorf("%w: format mismatch %v", lerrors.ErrBadChunk, h.Format)
	case h.IntSize != 4:
		return fmt.Errorf("%w: int size %v unsupported", lerrors.ErrBadChunk, h.IntSize)
	case h.SizeTSize != 4 && h.SizeTSize != 8:
		return fmt.Errorf("%w: size_t size %v unsupported", lerrors.ErrBadChunk, h.SizeTSize)
	case h.InstructionSize != 4:
		return fmt.Errorf("%w: instruction size %v unsupported", lerrors.ErrBadChunk, h.InstructionSize)
	case h.NumberSize != 8 || h.Integral != 0:
		return fmt.Errorf("%w: only 8 byte floating point numbers are supported", lerrors.ErrBadChunk)
	}
	switch h.Endianness {
	case 0:
		*order = binary.BigEndian
	case 1:
		*order = binary.LittleEndian
	default:
		return fmt.Errorf("%w: endianness flag %v", lerrors.ErrBadChunk, h.Endianness)
	}
	return nil
}

func (rd *reader) readProto(parentSource string) (*proto.Prototype, error) {
	source, err := rd.readString()
	if err != nil {
		return nil, errors.Wrap(err, "source")
	}
	if source == "" {
		source = parentSource
	}
	p := &proto.Prototype{Source: source}
	var line, lastLine int32
	if err := anyerr([]error{
		rd.read(&line),
		rd.read(&lastLine),
		rd.read(&p.NumUpvalues),
		rd.read(&p.NumParams),
		rd.read(&p.IsVararg),
		rd.read(&p.MaxStackSize),
	}); err != nil {
		return nil, errors.Wrap(err, "function header")
	}
	p.LineDefined, p.LastLineDefined = int64(line), int64(lastLine)
	if p.Code, err = rd.readCode(); err != nil {
		return nil, errors.Wrap(err, "code")
	}
	if p.Constants, err = rd.readConstants(); err != nil {
		return nil, errors.Wrap(err, "constants")
	}
	if p.Protos, err = rd.readProtos(source); err != nil {
		return nil, errors.Wrap(err, "protos")
	}
	if err := rd.readDebug(p); err != nil {
		return nil, errors.Wrap(err, "debug")
	}
	return p, nil
}

func (rd *reader) readCode() ([]uint32, error) {
	size, err := rd.readCount()
	if err != nil {
		return nil, err
	} else if size == 0 {
		return nil, fmt.Errorf("%w: function has no instructions", lerrors.ErrBadChunk)
	}
	code := make([]uint32, size)
	return code, rd.read(code)
}

func (rd *reader) readConstants() ([]any, error) {
	size, err := rd.readCount()
	if err != nil {
		return nil, err
	}
	consts := make([]any, size)
	for i := range consts {
		var tag byte
		if err := rd.read(&tag); err != nil {
			return nil, err
		}
		switch tag {
		case tagNil:
			consts[i] = nil
		case tagBoolean:
			var b byte
			if err := rd.read(&b); err != nil {
				return nil, err
			}
			consts[i] = b != 0
		case tagNumber:
			var bits uint64
			if err := rd.read(&bits); err != nil {
				return nil, err
			}
			consts[i] = math.Float64frombits(bits)
		case tagString:
			str, err := rd.readString()
			if err != nil {
				return nil, err
			}
			consts[i] = str
		default:
			return nil, fmt.Errorf("%w: unknown constant tag %v", lerrors.ErrBadChunk, tag)
		}
	}
	return consts, nil
}

func (rd *reader) readProtos(source string) ([]*proto.Prototype, error) {
	size, err := rd.readCount()
	if err != nil {
		return nil, err
	}
	protos := make([]*proto.Prototype, size)
	for i := range protos {
		if protos[i], err = rd.readProto(source); err != nil {
			return nil, err
		}
	}
	return protos, nil
}

func (rd *reader) readDebug(p *proto.Prototype) error {
	size, err := rd.readCount()
	if err != nil {
		return err
	}
	lines := make([]int32, size)
	if err := rd.read(lines); err != nil {
		return err
	}
	p.LineInfo = make([]int64, size)
	for i, l := range lines {
		p.LineInfo[i] = int64(l)
	}

	if size, err = rd.readCount(); err != nil {
		return err
	}
	p.LocVars = make([]proto.LocVar, size)
	for i := range p.LocVars {
		var start, end int32
		name, err := rd.readString()
		if err != nil {
			return err
		} else if err := anyerr([]error{rd.read(&start), rd.read(&end)}); err != nil {
			return err
		}
		p.LocVars[i] = proto.LocVar{Name: name, StartPC: int64(start), EndPC: int64(end)}
	}

	if size, err = rd.readCount(); err != nil {
		return err
	}
	p.UpvalueNames = make([]string, size)
	for i := range p.UpvalueNames {
		if p.UpvalueNames[i], err = rd.readString(); err != nil {
			return err
		}
	}
	return nil
}

// readString reads a size_t length, counting a trailing NUL, then the bytes.
func (rd *reader) readString() (string, error) {
	var size uint64
	if rd.header.SizeTSize == 8 {
		if err := rd.read(&size); err != nil {
			return "", err
		}
	} else {
		var size32 uint32
		if err := rd.read(&size32); err != nil {
			return "", err
		}
		size = uint64(size32)
	}
	if size == 0 {
		return "", nil
	} else if size > math.MaxInt32 {
		return "", fmt.Errorf("%w: string of %v bytes", lerrors.ErrBadChunk, size)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(rd.src, buf); err != nil {
		return "", errors.Wrap(err, "undump string")
	}
	if buf[size-1] == 0 {
		buf = buf[:size-1]
	}
	return string(buf), nil
}

func (rd *reader) readCount() (int, error) {
	var n int32
	if err := rd.read(&n); err != nil {
		return 0, err
	} else if n < 0 || n > maxCount {
		return 0, fmt.Errorf("%w: bad count %v", lerrors.ErrBadChunk, n)
	}
	return int(n), nil
}

func (rd *reader) read(val any) error {
	if err := binary.Read(rd.src, rd.order, val); err != nil {
		return errors.Wrap(err, "undump")
	}
	return nil
}

func anyerr(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
