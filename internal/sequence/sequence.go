// Package sequence defines the core biological sequence data model shared
// across the chunk store, chunker, reference selector and delta encoder.
//
// The residue alphabet is opaque to this package: sequences are treated as
// raw bytes and preserved byte-exact. Validating an alphabet is the
// caller's job (see Sanitize).
package sequence

// TaxonID is an opaque identifier into the taxonomy tree. Zero means
// "absent" — a sequence with no known taxonomic assignment.
type TaxonID uint32

// Sequence is one biological sequence: an identifier unique within a
// single database version, optional free-text description, residue bytes
// preserved byte-exact, and an optional taxon assignment.
type Sequence struct {
	ID          string
	Description string
	Residues    []byte
	Taxon       TaxonID // 0 means absent
}

// Len returns the residue length.
func (s Sequence) Len() int { return len(s.Residues) }

// HasTaxon reports whether the sequence carries a taxonomic assignment.
func (s Sequence) HasTaxon() bool { return s.Taxon != 0 }

// Copy returns a deep copy, safe to retain beyond the lifetime of any
// buffer s.Residues may alias (e.g. an mmap'd chunk blob).
func (s Sequence) Copy() Sequence {
	residues := make([]byte, len(s.Residues))
	copy(residues, s.Residues)
	return Sequence{
		ID:          s.ID,
		Description: s.Description,
		Residues:    residues,
		Taxon:       s.Taxon,
	}
}

// Source is a lazy, possibly-streaming iterator of sequences. It is the
// boundary type the (out-of-scope) FASTA parser feeds into the Chunker and
// the Reduction Engine: the core never parses FASTA itself.
//
// Next returns (seq, true, nil) for each sequence in order, (zero, false,
// nil) at end of stream, or (zero, false, err) on a read/parse failure.
type Source interface {
	Next() (Sequence, bool, error)
}

// Sink is the symmetric boundary type the Reconstructor and the
// Repository Façade's Export write into; it is fed onward to the
// out-of-scope FASTA writer.
type Sink interface {
	Write(Sequence) error
}

// SliceSource adapts an in-memory slice to Source. Used by tests and by
// callers that have already materialized their sequences.
type SliceSource struct {
	seqs []Sequence
	pos  int
}

// NewSliceSource creates a Source over an in-memory sequence slice.
func NewSliceSource(seqs []Sequence) *SliceSource {
	return &SliceSource{seqs: seqs}
}

func (s *SliceSource) Next() (Sequence, bool, error) {
	if s.pos >= len(s.seqs) {
		return Sequence{}, false, nil
	}
	seq := s.seqs[s.pos]
	s.pos++
	return seq, true, nil
}

// SliceSink adapts an in-memory slice to Sink, for tests.
type SliceSink struct {
	Seqs []Sequence
}

func (s *SliceSink) Write(seq Sequence) error {
	s.Seqs = append(s.Seqs, seq.Copy())
	return nil
}

// Drain reads every remaining sequence out of src in order. Used by tests
// and by small, fully in-memory code paths; large streaming callers should
// iterate Next() themselves instead.
func Drain(src Source) ([]Sequence, error) {
	var out []Sequence
	for {
		seq, ok, err := src.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, seq)
	}
}

// SanitizeResult reports what Sanitize removed.
type SanitizeResult struct {
	Kept    []Sequence
	Removed int
}

// Sanitize drops sequences containing any residue byte outside accepted.
func Sanitize(seqs []Sequence, accepted [256]bool) SanitizeResult {
	result := SanitizeResult{Kept: make([]Sequence, 0, len(seqs))}
	for _, seq := range seqs {
		if allAccepted(seq.Residues, accepted) {
			result.Kept = append(result.Kept, seq)
		} else {
			result.Removed++
		}
	}
	return result
}

func allAccepted(residues []byte, accepted [256]bool) bool {
	for _, b := range residues {
		if !accepted[b] {
			return false
		}
	}
	return true
}

// AcceptedSet builds the 256-entry accepted-byte table from an alphabet
// string, for convenient use with Sanitize.
func AcceptedSet(alphabet string) [256]bool {
	var set [256]bool
	for i := 0; i < len(alphabet); i++ {
		set[alphabet[i]] = true
	}
	return set
}
