// Package delta computes a global alignment between a reference sequence
// and a child sequence and encodes the child as a compact edit script
// against the reference, so that storing a large family of near-identical
// sequences costs one full reference plus one small script per child.
package delta

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"fmt"
	"io"

	"talaria/internal/sequence"
)

// Op names one edit script instruction kind.
type Op byte

const (
	OpMatch Op = iota
	OpSubstitute
	OpInsert
	OpDelete
)

// Instruction is one step of an edit script. Length is a run length for
// Match and Delete (how many reference bytes are consumed), the number
// of inserted bytes for Insert, and always 1 for Substitute. Literal
// carries the replacement/inserted bytes for Substitute and Insert; it
// is empty for Match and Delete, whose bytes are recovered from the
// reference.
type Instruction struct {
	Op      Op
	Length  uint32
	Literal []byte
}

// Script is an ordered edit script, applied left to right against a
// reference byte cursor starting at 0.
type Script []Instruction

// MarshalBinary encodes the script as a compact byte stream: one tag
// byte, a varint length, and — for Substitute and Insert — Length
// literal bytes, per instruction.
func (s Script) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	var scratch [binary.MaxVarintLen64]byte
	for _, ins := range s {
		buf.WriteByte(byte(ins.Op))
		n := binary.PutUvarint(scratch[:], uint64(ins.Length))
		buf.Write(scratch[:n])
		switch ins.Op {
		case OpSubstitute, OpInsert:
			if uint32(len(ins.Literal)) != ins.Length {
				return nil, fmt.Errorf("delta: instruction literal length %d disagrees with Length %d", len(ins.Literal), ins.Length)
			}
			buf.Write(ins.Literal)
		case OpMatch, OpDelete:
			if len(ins.Literal) != 0 {
				return nil, fmt.Errorf("delta: %v instruction must not carry a literal", ins.Op)
			}
		default:
			return nil, fmt.Errorf("delta: unknown op %v", ins.Op)
		}
	}
	return buf.Bytes(), nil
}

// UnmarshalScript decodes a script previously produced by MarshalBinary.
func UnmarshalScript(data []byte) (Script, error) {
	r := bytes.NewReader(data)
	var script Script
	for r.Len() > 0 {
		tagByte, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("delta: read op tag: %w", err)
		}
		op := Op(tagByte)
		length, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("delta: read instruction length: %w", err)
		}
		ins := Instruction{Op: op, Length: uint32(length)}
		switch op {
		case OpSubstitute, OpInsert:
			literal := make([]byte, length)
			if _, err := io.ReadFull(r, literal); err != nil {
				return nil, fmt.Errorf("delta: read literal: %w", err)
			}
			ins.Literal = literal
		case OpMatch, OpDelete:
		default:
			return nil, fmt.Errorf("delta: unknown op tag %d", tagByte)
		}
		script = append(script, ins)
	}
	return script, nil
}

// Apply reconstructs the child bytes a script encodes against ref.
func (s Script) Apply(ref []byte) ([]byte, error) {
	out := make([]byte, 0, len(ref))
	cursor := 0
	for _, ins := range s {
		switch ins.Op {
		case OpMatch:
			end := cursor + int(ins.Length)
			if end > len(ref) {
				return nil, fmt.Errorf("delta: match instruction runs past end of reference (cursor %d, length %d, ref len %d)", cursor, ins.Length, len(ref))
			}
			out = append(out, ref[cursor:end]...)
			cursor = end
		case OpSubstitute:
			if cursor >= len(ref) {
				return nil, fmt.Errorf("delta: substitute instruction past end of reference (cursor %d, ref len %d)", cursor, len(ref))
			}
			out = append(out, ins.Literal...)
			cursor++
		case OpInsert:
			out = append(out, ins.Literal...)
		case OpDelete:
			cursor += int(ins.Length)
			if cursor > len(ref) {
				return nil, fmt.Errorf("delta: delete instruction runs past end of reference (cursor %d, ref len %d)", cursor, len(ref))
			}
		default:
			return nil, fmt.Errorf("delta: unknown op %v", ins.Op)
		}
	}
	return out, nil
}

// Scoring tunes the Needleman-Wunsch/Gotoh global alignment used to
// derive an edit script. Mismatch, GapOpen and GapExtend are penalties
// (negative); Match is a reward (positive). A zero field takes its
// default: Match 2, Mismatch -1, GapOpen -5, GapExtend -1.
type Scoring struct {
	Match     int
	Mismatch  int
	GapOpen   int
	GapExtend int
}

func (s Scoring) withDefaults() Scoring {
	s.Match = cmp.Or(s.Match, 2)
	if s.Mismatch == 0 {
		s.Mismatch = -1
	}
	if s.GapOpen == 0 {
		s.GapOpen = -5
	}
	if s.GapExtend == 0 {
		s.GapExtend = -1
	}
	return s
}

// ChildMetadata is the description and taxon carried alongside a
// delta-encoded child, so Decode can fully reconstruct the original
// sequence.Sequence without a separate lookup.
type ChildMetadata struct {
	Description string
	Taxon       sequence.TaxonID
}

// Record is one delta-encoded child, ready to be batched into a delta
// chunk alongside others.
type Record struct {
	ReferenceID string
	ChildID     string
	ChildLength uint64
	EditScript  []byte
	Metadata    ChildMetadata
}

// Encode computes a global alignment between ref and child and encodes
// child as a Record carrying an edit script against ref.
func Encode(scoring Scoring, ref, child sequence.Sequence) (Record, error) {
	scoring = scoring.withDefaults()
	script := align(ref.Residues, child.Residues, scoring)
	data, err := script.MarshalBinary()
	if err != nil {
		return Record{}, fmt.Errorf("delta: encode edit script: %w", err)
	}
	return Record{
		ReferenceID: ref.ID,
		ChildID:     child.ID,
		ChildLength: uint64(child.Len()),
		EditScript:  data,
		Metadata: ChildMetadata{
			Description: child.Description,
			Taxon:       child.Taxon,
		},
	}, nil
}

// Decode reconstructs the original child sequence.Sequence from ref and
// rec. decode(ref, encode(ref, child)) reproduces child byte-exact.
func Decode(ref sequence.Sequence, rec Record) (sequence.Sequence, error) {
	script, err := UnmarshalScript(rec.EditScript)
	if err != nil {
		return sequence.Sequence{}, fmt.Errorf("delta: decode %s: %w", rec.ChildID, err)
	}
	residues, err := script.Apply(ref.Residues)
	if err != nil {
		return sequence.Sequence{}, fmt.Errorf("delta: apply %s: %w", rec.ChildID, err)
	}
	if uint64(len(residues)) != rec.ChildLength {
		return sequence.Sequence{}, fmt.Errorf("delta: reconstructed %s has length %d, record declares %d", rec.ChildID, len(residues), rec.ChildLength)
	}
	return sequence.Sequence{
		ID:          rec.ChildID,
		Description: rec.Metadata.Description,
		Residues:    residues,
		Taxon:       rec.Metadata.Taxon,
	}, nil
}
