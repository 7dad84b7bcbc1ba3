package scantypes

import "encoding/binary"

// FuzzyConditionKind enumerates the relative-change predicates a fuzzy
// refine can apply against a previously recorded value.
type FuzzyConditionKind int

const (
	Initial FuzzyConditionKind = iota
	Unchanged
	Changed
	Increased
	Decreased
	IncreasedBy
	DecreasedBy
	IncreasedByRange
	DecreasedByRange
	IncreasedByPercent
	DecreasedByPercent
)

// FuzzyCondition is the refine predicate passed to
// Executor.StartFuzzyRefineAsync. Only the fields relevant to Kind are read.
type FuzzyCondition struct {
	Kind FuzzyConditionKind
	N    float64 // IncreasedBy / DecreasedBy
	Min  float64 // *Range
	Max  float64 // *Range
	Pct  float64 // *Percent, in [0,100]
}

const fuzzyEpsilon = 1e-9

// Evaluate applies c to the previously observed value old and the freshly
// read value cur, both decoded per typ's sign/float rules (integer types
// widen to int64, float types widen to float64).
func (c FuzzyCondition) Evaluate(old, cur []byte, typ ValueType) bool {
	if c.Kind == Initial {
		return true
	}
	if typ.IsFloatType() {
		o := decodeFloat(old, typ)
		n := decodeFloat(cur, typ)
		return c.evalFloat(o, n)
	}
	o := decodeIntWiden(old, typ)
	n := decodeIntWiden(cur, typ)
	return c.evalFloat(float64(o), float64(n))
}

func (c FuzzyCondition) evalFloat(o, n float64) bool {
	switch c.Kind {
	case Unchanged:
		return floatEq(o, n)
	case Changed:
		return !floatEq(o, n)
	case Increased:
		return n > o+fuzzyEpsilon
	case Decreased:
		return n < o-fuzzyEpsilon
	case IncreasedBy:
		return floatEq(n-o, c.N)
	case DecreasedBy:
		return floatEq(o-n, c.N)
	case IncreasedByRange:
		d := n - o
		return d >= c.Min-fuzzyEpsilon && d <= c.Max+fuzzyEpsilon
	case DecreasedByRange:
		d := o - n
		return d >= c.Min-fuzzyEpsilon && d <= c.Max+fuzzyEpsilon
	case IncreasedByPercent:
		return percentMatch(o, n, c.Pct, true)
	case DecreasedByPercent:
		return percentMatch(o, n, c.Pct, false)
	default:
		return false
	}
}

// percentMatch interprets old as the base. When the base is zero the rule
// degrades to "strictly positive/negative" per §3.1.
func percentMatch(o, n, pct float64, increase bool) bool {
	if floatEq(o, 0) {
		if increase {
			return n > fuzzyEpsilon
		}
		return n < -fuzzyEpsilon
	}
	var want float64
	if increase {
		want = o * (1 + pct/100)
		return n >= want-fuzzyEpsilon
	}
	want = o * (1 - pct/100)
	return n <= want+fuzzyEpsilon
}

func floatEq(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < fuzzyEpsilon
}

func decodeIntWiden(mem []byte, typ ValueType) int64 {
	switch typ {
	case Byte:
		return int64(int8(mem[0]))
	case Word:
		return int64(int16(binary.LittleEndian.Uint16(mem)))
	case Dword, Auto, Xor:
		return int64(int32(binary.LittleEndian.Uint32(mem)))
	case Qword:
		return int64(binary.LittleEndian.Uint64(mem))
	default:
		return 0
	}
}
