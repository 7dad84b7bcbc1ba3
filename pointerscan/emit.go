package pointerscan

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
)

// engineVersion is the banner string written to the output file header.
const engineVersion = "0.1"

// WriteHeader writes the fixed §6 header block (target, depth, window,
// format line) followed by a blank separator line, ahead of the chain body
// emitChains produces.
func WriteHeader(w io.Writer, target uint64, depth int, window uint64) error {
	_, err := fmt.Fprintf(w,
		"# Pointer Scan Results\n"+
			"# Target: 0x%X\n"+
			"# Depth: %d\n"+
			"# Offset: 0x%X\n"+
			"# Generated by Memwalk Pointer Scanner %s\n"+
			"#\n"+
			"# Format: module_name[index]+base_offset->offset1->offset2->...\n\n",
		target, depth, window, engineVersion)
	return err
}

// emitChains walks every PointerRange and recursively writes each complete
// chain it roots, stopping once maxResults lines have been written (§4.5
// "Emission"). It returns how many lines were actually written; the total
// realizable chain count (unclamped) comes from chainCount/buildCounts
// instead, since ranges past the cap are never walked.
func emitChains(w io.Writer, ranges []PointerRange, dirsByLevel [][]PointerDir, modules []moduleInstance, maxResults int) (int, error) {
	bw := bufio.NewWriter(w)
	cw := &chainWriter{w: bw, remaining: maxResults}
	for _, r := range ranges {
		if cw.remaining <= 0 {
			break
		}
		cw.emitRange(r, modules, dirsByLevel)
	}
	written := maxResults - cw.remaining
	if err := bw.Flush(); err != nil {
		return written, err
	}
	return written, nil
}

type chainWriter struct {
	w         *bufio.Writer
	remaining int
}

func (cw *chainWriter) emitRange(r PointerRange, modules []moduleInstance, dirsByLevel [][]PointerDir) {
	mod := modules[r.ModuleIdx]
	prefix := fmt.Sprintf("%s[%d]+0x%X", filepath.Base(mod.Name), mod.Index, r.BaseOffset)
	if r.Level == 0 {
		cw.writeLine(prefix)
		cw.remaining--
		return
	}
	cw.walk(r.Level-1, r.Start, r.End, prefix, r.Value, dirsByLevel)
}

// walk descends from a PointerRange (or an intermediate PointerDir) through
// its [start,end) child index range one level at a time, emitting one line
// per distinct path that reaches the level-0 leaf (the target itself).
func (cw *chainWriter) walk(level, start, end int, prefix string, parentValue uint64, dirsByLevel [][]PointerDir) {
	frontier := dirsByLevel[level]
	for i := start; i < end && cw.remaining > 0; i++ {
		d := frontier[i]
		line := prefix + "->" + signedHex(int64(d.Address)-int64(parentValue))
		if level == 0 {
			cw.writeLine(line)
			cw.remaining--
			continue
		}
		cw.walk(level-1, d.Start, d.End, line, d.Value, dirsByLevel)
	}
}

func (cw *chainWriter) writeLine(s string) {
	cw.w.WriteString(s)
	cw.w.WriteByte('\n')
}

func signedHex(v int64) string {
	if v < 0 {
		return fmt.Sprintf("-0x%X", -v)
	}
	return fmt.Sprintf("+0x%X", v)
}
