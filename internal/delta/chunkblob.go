package delta

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"talaria/internal/hashcodec"
	"talaria/internal/sequence"
)

var deltaBlobMagic = [3]byte{'D', 'L', 'T'}

const deltaBlobVersion = 0x01

// ErrMalformedDeltaBlob is returned by DecodeChunkBlob when the header or a
// varint field is truncated or inconsistent.
var ErrMalformedDeltaBlob = errors.New("delta: malformed delta chunk blob")

// ErrUnsupportedDeltaBlobVersion is returned when the blob's version byte
// is not one this decoder understands.
var ErrUnsupportedDeltaBlobVersion = errors.New("delta: unsupported delta chunk blob version")

// EncodeChunkBlob serializes records into a delta chunk blob, the delta
// record analogue of hashcodec.EncodeChunkBlob's sequence chunk layout:
//
//	magic        3 bytes    "DLT"
//	version      1 byte     0x01
//	codec+frame  hashcodec.Compress(body): codec tag byte, then frame bytes
//	count        varint     record_count (inside the decompressed body)
//	for each record:
//	    ref_len       varint, reference_id bytes
//	    child_len     varint, child_id bytes
//	    child_length  varint
//	    script_len    varint, edit_script bytes
//	    desc_len      varint, description bytes
//	    taxon         varint, 0 meaning "absent"
func EncodeChunkBlob(records []Record, codec hashcodec.Codec, level int) ([]byte, error) {
	var body bytes.Buffer
	body.Write(binary.AppendUvarint(nil, uint64(len(records))))
	for _, rec := range records {
		writeVarintString(&body, rec.ReferenceID)
		writeVarintString(&body, rec.ChildID)
		body.Write(binary.AppendUvarint(nil, rec.ChildLength))
		writeVarintBytes(&body, rec.EditScript)
		writeVarintString(&body, rec.Metadata.Description)
		body.Write(binary.AppendUvarint(nil, uint64(rec.Metadata.Taxon)))
	}

	frame, err := hashcodec.Compress(body.Bytes(), codec, level)
	if err != nil {
		return nil, fmt.Errorf("delta: encode chunk blob: %w", err)
	}

	out := make([]byte, 0, 5+len(frame)-1)
	out = append(out, deltaBlobMagic[:]...)
	out = append(out, deltaBlobVersion)
	out = append(out, frame...) // frame's leading byte is the codec tag
	return out, nil
}

// DecodeChunkBlob parses a delta chunk blob produced by EncodeChunkBlob,
// returning the records in their original order and the codec the blob
// was stored under.
func DecodeChunkBlob(blob []byte) ([]Record, hashcodec.Codec, error) {
	if len(blob) < 5 || !bytes.Equal(blob[:3], deltaBlobMagic[:]) {
		return nil, 0, fmt.Errorf("%w: bad magic", ErrMalformedDeltaBlob)
	}
	if blob[3] != deltaBlobVersion {
		return nil, 0, fmt.Errorf("%w: %#02x", ErrUnsupportedDeltaBlobVersion, blob[3])
	}
	codec := hashcodec.Codec(blob[4])

	body, err := hashcodec.Decompress(blob[4:])
	if err != nil {
		return nil, 0, fmt.Errorf("delta: decode chunk blob: %w", err)
	}

	r := bytes.NewReader(body)
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: record count: %v", ErrMalformedDeltaBlob, err)
	}

	records := make([]Record, 0, count)
	for i := uint64(0); i < count; i++ {
		refID, err := readVarintString(r)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: record %d reference id: %v", ErrMalformedDeltaBlob, i, err)
		}
		childID, err := readVarintString(r)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: record %d child id: %v", ErrMalformedDeltaBlob, i, err)
		}
		childLength, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: record %d child length: %v", ErrMalformedDeltaBlob, i, err)
		}
		script, err := readVarintBytes(r)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: record %d edit script: %v", ErrMalformedDeltaBlob, i, err)
		}
		desc, err := readVarintString(r)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: record %d description: %v", ErrMalformedDeltaBlob, i, err)
		}
		taxon, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: record %d taxon: %v", ErrMalformedDeltaBlob, i, err)
		}
		records = append(records, Record{
			ReferenceID: refID,
			ChildID:     childID,
			ChildLength: childLength,
			EditScript:  script,
			Metadata: ChildMetadata{
				Description: desc,
				Taxon:       sequence.TaxonID(taxon),
			},
		})
	}
	if r.Len() != 0 {
		return nil, 0, fmt.Errorf("%w: %d trailing bytes", ErrMalformedDeltaBlob, r.Len())
	}
	return records, codec, nil
}

func writeVarintBytes(buf *bytes.Buffer, data []byte) {
	buf.Write(binary.AppendUvarint(nil, uint64(len(data))))
	buf.Write(data)
}

func writeVarintString(buf *bytes.Buffer, s string) {
	writeVarintBytes(buf, []byte(s))
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
