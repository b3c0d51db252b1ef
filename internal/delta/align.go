package delta

// align computes a global alignment of ref against child using Gotoh's
// affine-gap generalization of Needleman-Wunsch, and returns the
// resulting edit script. Three score matrices are tracked per cell:
// m (alignment ending in a match/substitute), x (ending in a gap that
// consumes a reference byte without a child byte, i.e. a deletion), and
// y (ending in a gap that consumes a child byte without a reference
// byte, i.e. an insertion).
func align(ref, child []byte, scoring Scoring) Script {
	rows, cols := len(ref)+1, len(child)+1
	const negInf = -1 << 30

	m := make2D(rows, cols, negInf)
	x := make2D(rows, cols, negInf)
	y := make2D(rows, cols, negInf)

	m[0][0] = 0
	for i := 1; i < rows; i++ {
		x[i][0] = scoring.GapOpen + (i-1)*scoring.GapExtend
	}
	for j := 1; j < cols; j++ {
		y[0][j] = scoring.GapOpen + (j-1)*scoring.GapExtend
	}

	for i := 1; i < rows; i++ {
		for j := 1; j < cols; j++ {
			sub := scoring.Mismatch
			if ref[i-1] == child[j-1] {
				sub = scoring.Match
			}
			m[i][j] = max3(m[i-1][j-1], x[i-1][j-1], y[i-1][j-1]) + sub
			x[i][j] = max2(m[i-1][j]+scoring.GapOpen, x[i-1][j]+scoring.GapExtend)
			y[i][j] = max2(m[i][j-1]+scoring.GapOpen, y[i][j-1]+scoring.GapExtend)
		}
	}

	return traceback(ref, child, m, x, y)
}

type cellMatrix byte

const (
	cellM cellMatrix = iota
	cellX
	cellY
)

// traceback walks the three score matrices from (len(ref), len(child))
// back to (0, 0), emitting one raw instruction per cell transition, then
// reverses and run-length-merges them into the final Script.
func traceback(ref, child []byte, m, x, y [][]int) Script {
	i, j := len(ref), len(child)
	cur := bestOf(m[i][j], x[i][j], y[i][j])

	var raw []Instruction
	for i > 0 || j > 0 {
		switch cur {
		case cellM:
			op := OpMatch
			var literal []byte
			if ref[i-1] != child[j-1] {
				op = OpSubstitute
				literal = []byte{child[j-1]}
			}
			raw = append(raw, Instruction{Op: op, Length: 1, Literal: literal})
			cur = bestOf(m[i-1][j-1], x[i-1][j-1], y[i-1][j-1])
			i--
			j--
		case cellX:
			raw = append(raw, Instruction{Op: OpDelete, Length: 1})
			if m[i-1][j] >= x[i-1][j] {
				cur = cellM
			} else {
				cur = cellX
			}
			i--
		case cellY:
			raw = append(raw, Instruction{Op: OpInsert, Length: 1, Literal: []byte{child[j-1]}})
			if m[i][j-1] >= y[i][j-1] {
				cur = cellM
			} else {
				cur = cellY
			}
			j--
		}
	}

	reverse(raw)
	return mergeRuns(raw)
}

// bestOf returns the matrix with the greatest score at the current
// cell, preferring M over X over Y on ties so closed gaps are favored
// over keeping one open.
func bestOf(mScore, xScore, yScore int) cellMatrix {
	best, bestScore := cellM, mScore
	if xScore > bestScore {
		best, bestScore = cellX, xScore
	}
	if yScore > bestScore {
		best = cellY
	}
	return best
}

// mergeRuns coalesces consecutive Match, Delete and Insert instructions
// (which traceback emits one byte at a time) into run-length
// instructions, concatenating the literals of merged inserts.
// Substitute instructions are left as-is: substitutions are recorded
// one position at a time by design.
func mergeRuns(raw []Instruction) Script {
	var out Script
	for _, ins := range raw {
		if n := len(out); n > 0 {
			last := &out[n-1]
			switch {
			case ins.Op == OpMatch && last.Op == OpMatch:
				last.Length++
				continue
			case ins.Op == OpDelete && last.Op == OpDelete:
				last.Length++
				continue
			case ins.Op == OpInsert && last.Op == OpInsert:
				last.Length++
				last.Literal = append(last.Literal, ins.Literal...)
				continue
			}
		}
		out = append(out, ins)
	}
	return out
}

func max2(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func max3(a, b, c int) int {
	return max2(a, max2(b, c))
}

func make2D(rows, cols, fill int) [][]int {
	grid := make([][]int, rows)
	backing := make([]int, rows*cols)
	for i := range grid {
		grid[i] = backing[i*cols : (i+1)*cols]
		for j := range grid[i] {
			grid[i][j] = fill
		}
	}
	return grid
}

func reverse(ins []Instruction) {
	for i, j := 0, len(ins)-1; i < j; i, j = i+1, j-1 {
		ins[i], ins[j] = ins[j], ins[i]
	}
}
