// Package aligner shields the core from the all-vs-all alignment
// binary's command-line interface behind a small adapter: given a
// reference FASTA path and a query FASTA path, it runs a configured
// external program and parses its tabular stdout into aligner.Row
// values the reference selector consumes as selector.Edge input.
package aligner

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Row is one all-vs-all alignment result: query against reference, with
// percent identity and query coverage as fractions in [0, 1].
type Row struct {
	Query           string
	Reference       string
	PercentIdentity float64
	Coverage        float64
}

// Adapter runs an external aligner and parses its output into Rows.
type Adapter interface {
	// Align runs the configured aligner against referencePath (subject
	// sequences) and queryPath (query sequences) and returns every
	// resulting row.
	Align(ctx context.Context, referencePath, queryPath string) ([]Row, error)
}

// Command configures a subprocess-backed Adapter. Args is a template:
// the literal tokens "{reference}" and "{query}" are substituted with
// referencePath and queryPath before the subprocess is started.
type Command struct {
	Binary string
	Args   []string

	// ColumnOrder names the tab-separated output columns this aligner
	// emits, in order. Recognized names: "query", "reference",
	// "identity", "coverage". Unrecognized columns are ignored.
	// Defaults to {"query", "reference", "identity", "coverage"}.
	ColumnOrder []string
}

func (c Command) withDefaults() Command {
	if len(c.ColumnOrder) == 0 {
		c.ColumnOrder = []string{"query", "reference", "identity", "coverage"}
	}
	return c
}

// NewCommand builds a subprocess Adapter from cfg.
func NewCommand(cfg Command) Adapter {
	return &commandAdapter{cfg: cfg.withDefaults()}
}

type commandAdapter struct {
	cfg Command
}

func (a *commandAdapter) Align(ctx context.Context, referencePath, queryPath string) ([]Row, error) {
	args := make([]string, len(a.cfg.Args))
	for i, arg := range a.cfg.Args {
		arg = strings.ReplaceAll(arg, "{reference}", referencePath)
		arg = strings.ReplaceAll(arg, "{query}", queryPath)
		args[i] = arg
	}

	cmd := exec.CommandContext(ctx, a.cfg.Binary, args...)
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("aligner: %s exited %d: %s", a.cfg.Binary, exitErr.ExitCode(), exitErr.Stderr)
		}
		return nil, fmt.Errorf("aligner: run %s: %w", a.cfg.Binary, err)
	}

	return parseRows(out, a.cfg.ColumnOrder)
}

func parseRows(out []byte, columns []string) ([]Row, error) {
	var rows []Row
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < len(columns) {
			return nil, fmt.Errorf("aligner: line has %d fields, want at least %d: %q", len(fields), len(columns), line)
		}
		var row Row
		for i, col := range columns {
			field := fields[i]
			switch col {
			case "query":
				row.Query = field
			case "reference":
				row.Reference = field
			case "identity":
				v, err := strconv.ParseFloat(field, 64)
				if err != nil {
					return nil, fmt.Errorf("aligner: parse identity %q: %w", field, err)
				}
				row.PercentIdentity = v
			case "coverage":
				v, err := strconv.ParseFloat(field, 64)
				if err != nil {
					return nil, fmt.Errorf("aligner: parse coverage %q: %w", field, err)
				}
				row.Coverage = v
			}
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("aligner: scan output: %w", err)
	}
	return rows, nil
}

// Fake is a test double that replays a canned row set without spawning
// a process.
type Fake struct {
	Rows []Row
	Err  error
}

func (f *Fake) Align(ctx context.Context, referencePath, queryPath string) ([]Row, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Rows, nil
}
