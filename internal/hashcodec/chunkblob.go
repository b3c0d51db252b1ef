package hashcodec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"talaria/internal/sequence"
)

var chunkBlobMagic = [3]byte{'C', 'H', 'K'}

const chunkBlobVersion = 0x01

// ErrMalformedChunkBlob is returned by DecodeChunkBlob when the header or a
// varint field is truncated or inconsistent.
var ErrMalformedChunkBlob = errors.New("hashcodec: malformed chunk blob")

// ErrUnsupportedChunkBlobVersion is returned when the blob's version byte is
// not one this decoder understands.
var ErrUnsupportedChunkBlobVersion = errors.New("hashcodec: unsupported chunk blob version")

// EncodeChunkBlob serializes seqs into the on-disk chunk blob layout:
//
//	magic       3 bytes    "CHK"
//	version     1 byte     0x01
//	codec       1 byte     0x00 raw | 0x01 zstd | 0x02 gzip
//	count       varint     sequence_count
//	for each sequence:
//	    id_len  varint, id_bytes
//	    desc_len varint, desc_bytes
//	    taxon   varint, 0 meaning "absent"
//	    seq_len varint, seq_bytes
//
// Everything after the 5-byte magic/version/codec header (the count and the
// per-sequence section) is framed under codec before being appended; the
// header is always stored uncompressed so a reader can dispatch without
// decoding first.
func EncodeChunkBlob(seqs []sequence.Sequence, codec Codec, level int) ([]byte, error) {
	var body bytes.Buffer
	body.Write(binary.AppendUvarint(nil, uint64(len(seqs))))
	for _, seq := range seqs {
		body.Write(binary.AppendUvarint(nil, uint64(len(seq.ID))))
		body.WriteString(seq.ID)
		body.Write(binary.AppendUvarint(nil, uint64(len(seq.Description))))
		body.WriteString(seq.Description)
		body.Write(binary.AppendUvarint(nil, uint64(seq.Taxon)))
		body.Write(binary.AppendUvarint(nil, uint64(len(seq.Residues))))
		body.Write(seq.Residues)
	}

	frame, err := frameCompress(body.Bytes(), codec, level)
	if err != nil {
		return nil, fmt.Errorf("hashcodec: encode chunk blob: %w", err)
	}

	out := make([]byte, 0, 5+len(frame))
	out = append(out, chunkBlobMagic[:]...)
	out = append(out, chunkBlobVersion, byte(codec))
	out = append(out, frame...)
	return out, nil
}

// DecodeChunkBlob parses a chunk blob produced by EncodeChunkBlob, returning
// the sequences in their original order and the codec the blob was stored
// under.
func DecodeChunkBlob(blob []byte) ([]sequence.Sequence, Codec, error) {
	if len(blob) < 5 || !bytes.Equal(blob[:3], chunkBlobMagic[:]) {
		return nil, 0, fmt.Errorf("%w: bad magic", ErrMalformedChunkBlob)
	}
	if blob[3] != chunkBlobVersion {
		return nil, 0, fmt.Errorf("%w: %#02x", ErrUnsupportedChunkBlobVersion, blob[3])
	}
	codec := Codec(blob[4])

	body, err := frameDecompress(blob[5:], codec)
	if err != nil {
		return nil, 0, fmt.Errorf("hashcodec: decode chunk blob: %w", err)
	}

	r := bytes.NewReader(body)
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: sequence count: %v", ErrMalformedChunkBlob, err)
	}

	seqs := make([]sequence.Sequence, 0, count)
	for i := uint64(0); i < count; i++ {
		id, err := readVarintString(r)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: sequence %d id: %v", ErrMalformedChunkBlob, i, err)
		}
		desc, err := readVarintString(r)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: sequence %d description: %v", ErrMalformedChunkBlob, i, err)
		}
		taxon, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: sequence %d taxon: %v", ErrMalformedChunkBlob, i, err)
		}
		residues, err := readVarintBytes(r)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: sequence %d residues: %v", ErrMalformedChunkBlob, i, err)
		}
		seqs = append(seqs, sequence.Sequence{
			ID:          id,
			Description: desc,
			Residues:    residues,
			Taxon:       sequence.TaxonID(taxon),
		})
	}
	if r.Len() != 0 {
		return nil, 0, fmt.Errorf("%w: %d trailing bytes", ErrMalformedChunkBlob, r.Len())
	}
	return seqs, codec, nil
}

func readVarintBytes(r *bytes.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func readVarintString(r *bytes.Reader) (string, error) {
	buf, err := readVarintBytes(r)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}
