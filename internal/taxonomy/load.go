package taxonomy

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"talaria/internal/sequence"
)

// dmpFieldSep is the column separator NCBI .dmp files use: "\t|\t"
// between fields, and a trailing "\t|" before the newline.
const dmpFieldSep = "\t|\t"

func splitDmpLine(line string) []string {
	line = strings.TrimSuffix(strings.TrimRight(line, "\n"), "\t|")
	return strings.Split(line, dmpFieldSep)
}

// Load builds a Tree from an NCBI-style nodes.dmp and names.dmp pair.
// Only "scientific name" entries from names.dmp are retained.
func Load(nodesPath, namesPath string) (*Tree, error) {
	nodes, root, err := loadNodes(nodesPath)
	if err != nil {
		return nil, fmt.Errorf("taxonomy: load nodes: %w", err)
	}
	if err := loadNames(namesPath, nodes); err != nil {
		return nil, fmt.Errorf("taxonomy: load names: %w", err)
	}
	return &Tree{nodes: nodes, root: root}, nil
}

func loadNodes(path string) (map[sequence.TaxonID]node, sequence.TaxonID, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	nodes := make(map[sequence.TaxonID]node)
	var root sequence.TaxonID

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		fields := splitDmpLine(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		taxID, err := parseTaxonID(fields[0])
		if err != nil {
			return nil, 0, fmt.Errorf("nodes.dmp: tax_id: %w", err)
		}
		parentID, err := parseTaxonID(fields[1])
		if err != nil {
			return nil, 0, fmt.Errorf("nodes.dmp: parent_tax_id: %w", err)
		}
		rank := strings.TrimSpace(fields[2])
		nodes[taxID] = node{parent: parentID, rank: rank}
		if taxID == parentID {
			root = taxID
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, err
	}
	return nodes, root, nil
}

func loadNames(path string, nodes map[sequence.TaxonID]node) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		fields := splitDmpLine(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		if strings.TrimSpace(fields[3]) != "scientific name" {
			continue
		}
		taxID, err := parseTaxonID(fields[0])
		if err != nil {
			return fmt.Errorf("names.dmp: tax_id: %w", err)
		}
		n, ok := nodes[taxID]
		if !ok {
			continue // name for a taxon not present in nodes.dmp
		}
		n.name = strings.TrimSpace(fields[1])
		nodes[taxID] = n
	}
	return scanner.Err()
}

func parseTaxonID(s string) (sequence.TaxonID, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, err
	}
	return sequence.TaxonID(n), nil
}

// AccessionMap answers taxon_of(accession) from one or more loaded
// accession2taxid-style tabular files.
type AccessionMap struct {
	taxa map[string]sequence.TaxonID
}

// NewAccessionMap creates an empty AccessionMap.
func NewAccessionMap() *AccessionMap {
	return &AccessionMap{taxa: make(map[string]sequence.TaxonID)}
}

// TaxonOf returns the taxon mapped to accession, or ok=false if absent.
func (m *AccessionMap) TaxonOf(accession string) (sequence.TaxonID, bool) {
	t, ok := m.taxa[accession]
	return t, ok
}

// Len returns the number of accessions mapped.
func (m *AccessionMap) Len() int { return len(m.taxa) }

// LoadAccession2Taxid streams an NCBI accession2taxid file into m. Rows
// are tab-separated: accession, accession.version, taxid, gi. Only
// accession and taxid are used; either accession form is indexed. The
// first line (a header) is skipped when it fails to parse as a data row.
// path may end in ".gz", in which case it is decompressed while
// streaming rather than being fully materialized in memory.
func (m *AccessionMap) LoadAccession2Taxid(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("taxonomy: open gzip accession2taxid: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Split(line, "\t")
		if len(fields) < 3 {
			first = false
			continue
		}
		taxID, err := parseTaxonID(fields[2])
		if err != nil {
			if first {
				// Header row ("accession accession.version taxid gi");
				// not a parse error worth surfacing.
				first = false
				continue
			}
			return fmt.Errorf("taxonomy: accession2taxid row %q: %w", line, err)
		}
		first = false
		m.taxa[fields[0]] = taxID
		if fields[1] != "" {
			m.taxa[fields[1]] = taxID
		}
	}
	return scanner.Err()
}
