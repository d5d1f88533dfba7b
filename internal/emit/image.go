package emit

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/kiln/internal/ir"
	"github.com/roach88/kiln/internal/transform"
)

var imageMagic = [4]byte{'K', 'I', 'L', 'N'}

const imageVersion = 1

// Section names.
const (
	SectionText   = ".text"
	SectionROData = ".rodata"
	SectionData   = ".data"
	SectionBSS    = ".bss"
)

// ImageBackend writes a deterministic flat image: a header, the loadable
// sections and a symbol table. Instruction bytes are placeholders derived
// from the lowered fragments, sized exactly as estimated.
type ImageBackend struct{}

var _ FragmentBackend = ImageBackend{}

func (ImageBackend) Name() string { return "image" }

// Emit emits every fragment and links them.
func (b ImageBackend) Emit(ctx context.Context, tir *transform.TargetIR, _ ir.Target, _ ir.Profile) (*Artifact, error) {
	pieces := make(map[string][]byte, len(tir.Fragments))
	for _, f := range tir.Fragments {
		data, err := b.EmitFragment(ctx, tir, f)
		if err != nil {
			return nil, err
		}
		pieces[f.Node] = data
	}
	return b.Link(ctx, tir, pieces)
}

// EmitFragment emits a node's site code.
func (ImageBackend) EmitFragment(ctx context.Context, _ *transform.TargetIR, f transform.Fragment) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return fill("site/"+f.Node+"/"+f.Variant, f.SiteCode), nil
}

// Link lays out sections and writes the image.
func (ImageBackend) Link(ctx context.Context, tir *transform.TargetIR, pieces map[string][]byte) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(tir.Fragments) == 0 {
		return nil, ErrNothingToEmit
	}

	var text, rodata bytes.Buffer
	var syms []Symbol
	place := func(buf *bytes.Buffer, section, name string, data []byte) {
		if len(data) == 0 {
			return
		}
		syms = append(syms, Symbol{Name: name, Section: section, Offset: int64(buf.Len()), Size: int64(len(data))})
		buf.Write(data)
	}

	ro := map[string]int64{}
	for _, f := range tir.Fragments {
		piece, ok := pieces[f.Node]
		if !ok {
			return nil, missingPiece(f.Node)
		}
		if int64(len(piece)) != f.SiteCode {
			return nil, fmt.Errorf("node %s: piece is %d bytes, fragment says %d", ir.Short(f.Node), len(piece), f.SiteCode)
		}
		place(&text, SectionText, "n_"+ir.Short(f.Node), piece)
		if f.ROKey != "" {
			ro[f.ROKey] = f.ROData
		}
	}
	for _, r := range tir.Routines {
		place(&text, SectionText, r.Name, fill("routine/"+r.Name, r.CodeBytes))
	}
	for _, a := range tir.Adapters {
		place(&text, SectionText, "abi_"+ir.Short(a.Node), fill("adapter/"+a.Node, a.CodeBytes))
	}
	for _, key := range slices.Sorted(maps.Keys(ro)) {
		place(&rodata, SectionROData, key, fill("rodata/"+key, ro[key]))
	}

	sections := []ir.SectionSize{
		{Name: SectionText, Size: int64(text.Len())},
		{Name: SectionROData, Size: int64(rodata.Len())},
		{Name: SectionData, Size: 0},
		{Name: SectionBSS, Size: tir.Layout.StaticBytes},
	}
	art := &Artifact{
		Size:     int64(text.Len() + rodata.Len()),
		Sections: sections,
		Symbols:  syms,
	}
	art.Binary = writeImage(tir.Target.Name, sections, [][]byte{text.Bytes(), rodata.Bytes()}, syms)
	return art, nil
}

func writeImage(target string, sections []ir.SectionSize, contents [][]byte, syms []Symbol) []byte {
	var buf bytes.Buffer
	le := binary.LittleEndian
	buf.Write(imageMagic[:])
	buf.Write(le.AppendUint16(nil, imageVersion))
	writeString(&buf, target)

	index := map[string]int{}
	buf.Write(le.AppendUint16(nil, uint16(len(sections))))
	for i, s := range sections {
		index[s.Name] = i
		writeString(&buf, s.Name)
		buf.Write(le.AppendUint64(nil, uint64(s.Size)))
	}
	for _, c := range contents {
		buf.Write(c)
	}

	buf.Write(le.AppendUint32(nil, uint32(len(syms))))
	for _, s := range syms {
		writeString(&buf, s.Name)
		buf.WriteByte(byte(index[s.Section]))
		buf.Write(le.AppendUint64(nil, uint64(s.Offset)))
		buf.Write(le.AppendUint64(nil, uint64(s.Size)))
	}
	return buf.Bytes()
}

func writeString(buf *bytes.Buffer, s string) {
	buf.Write(binary.LittleEndian.AppendUint16(nil, uint16(len(s))))
	buf.WriteString(s)
}

// fill returns n deterministic bytes derived from seed.
func fill(seed string, n int64) []byte {
	if n <= 0 {
		return nil
	}
	out := make([]byte, 0, n)
	var counter uint64
	for int64(len(out)) < n {
		h := sha256.New()
		h.Write([]byte(seed))
		h.Write(binary.BigEndian.AppendUint64(nil, counter))
		out = append(out, h.Sum(nil)...)
		counter++
	}
	return out[:n]
}
