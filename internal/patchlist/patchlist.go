// Package patchlist implements the ROM-modifying patch list format a
// cabinet's patch selections are resolved through before a push: a small
// line-oriented text grammar parsed with participle (the same
// parser-combinator library the teacher project uses for its own
// domain-specific spec format), applied in file order to a working copy of
// the ROM.
package patchlist

import (
	"fmt"

	"github.com/alecthomas/participle"
)

// Script is the top-level grammar: a sequence of write/copy statements.
type Script struct {
	Statements []*Statement `@@*`
}

// Statement is one line of a patch script.
type Statement struct {
	Write *WriteStmt `"write" @@`
	Copy  *CopyStmt  `| "copy" @@`
}

// WriteStmt is `write at <offset> = <hex byte> <hex byte> ...`. Byte tokens
// are lexed as Ident (e.g. "CA", "DE") or Int (e.g. "00", "12") depending on
// whether they contain only digits, so both alternatives must be captured.
type WriteStmt struct {
	Offset int      `"at" @Int`
	Bytes  []string `"=" @(Ident|Int)*`
}

// CopyStmt is `copy from <src> length <n> to <dst>`.
type CopyStmt struct {
	Src    int `"from" @Int`
	Length int `"length" @Int`
	Dst    int `"to" @Int`
}

var parser = buildParser()

func buildParser() *participle.Parser {
	p, err := participle.Build(&Script{})
	if err != nil {
		panic(fmt.Sprintf("patchlist: grammar failed to build: %s", err))
	}
	return p
}

// Op is one decoded patch operation, ready to apply to a ROM byte slice.
type Op interface {
	apply(data []byte) ([]byte, error)
}

// WriteOp overwrites Offset..Offset+len(Bytes) with Bytes.
type WriteOp struct {
	Offset uint32
	Bytes  []byte
}

// CopyOp copies Length bytes from Src to Dst.
type CopyOp struct {
	Src, Dst uint32
	Length   uint32
}

func (op WriteOp) apply(data []byte) ([]byte, error) {
	end := int(op.Offset) + len(op.Bytes)
	if end > len(data) {
		return nil, fmt.Errorf("patchlist: write at %#x length %d exceeds rom length %d", op.Offset, len(op.Bytes), len(data))
	}
	out := append([]byte(nil), data...)
	copy(out[op.Offset:end], op.Bytes)
	return out, nil
}

func (op CopyOp) apply(data []byte) ([]byte, error) {
	srcEnd := int(op.Src) + int(op.Length)
	dstEnd := int(op.Dst) + int(op.Length)
	if srcEnd > len(data) || dstEnd > len(data) {
		return nil, fmt.Errorf("patchlist: copy [%#x:%#x] -> %#x exceeds rom length %d", op.Src, srcEnd, op.Dst, len(data))
	}
	out := append([]byte(nil), data...)
	copy(out[op.Dst:dstEnd], data[op.Src:srcEnd])
	return out, nil
}

// Parse parses a patch script's source text into an ordered list of Ops.
func Parse(src string) ([]Op, error) {
	var script Script
	if err := parser.ParseString(src, &script); err != nil {
		return nil, fmt.Errorf("patchlist: %w", err)
	}

	ops := make([]Op, 0, len(script.Statements))
	for _, st := range script.Statements {
		switch {
		case st.Write != nil:
			b, err := decodeHexBytes(st.Write.Bytes)
			if err != nil {
				return nil, err
			}
			if len(b) == 0 {
				return nil, fmt.Errorf("patchlist: write at %#x has no bytes", st.Write.Offset)
			}
			ops = append(ops, WriteOp{Offset: uint32(st.Write.Offset), Bytes: b})
		case st.Copy != nil:
			ops = append(ops, CopyOp{
				Src:    uint32(st.Copy.Src),
				Dst:    uint32(st.Copy.Dst),
				Length: uint32(st.Copy.Length),
			})
		default:
			return nil, fmt.Errorf("patchlist: empty statement")
		}
	}
	return ops, nil
}

func decodeHexBytes(tokens []string) ([]byte, error) {
	out := make([]byte, len(tokens))
	for i, tok := range tokens {
		var b byte
		if _, err := fmt.Sscanf(tok, "%02X", &b); err != nil {
			return nil, fmt.Errorf("patchlist: invalid hex byte %q", tok)
		}
		out[i] = b
	}
	return out, nil
}

// Apply runs ops in order against a clone of data, never mutating data
// itself. A partial run (one op fails) returns an error and no data.
func Apply(data []byte, ops []Op) ([]byte, error) {
	cur := data
	var err error
	for _, op := range ops {
		cur, err = op.apply(cur)
		if err != nil {
			return nil, err
		}
	}
	return cur, nil
}
