package ghost

import (
	"fmt"
	"math"
	"regexp"
	"regexp/syntax"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/morph/internal/ir"
)

// TagKind distinguishes validation predicates from layout directives.
type TagKind uint8

const (
	TagRegex TagKind = iota
	TagMin
	TagMax
	TagPacked
	TagAlign
	TagOrder
)

func (k TagKind) String() string {
	switch k {
	case TagRegex:
		return "regex"
	case TagMin:
		return "min"
	case TagMax:
		return "max"
	case TagPacked:
		return "packed"
	case TagAlign:
		return "align"
	case TagOrder:
		return "order"
	}
	return fmt.Sprintf("tag(%d)", uint8(k))
}

// Layout reports whether the tag is a layout directive.
func (k TagKind) Layout() bool {
	return k == TagPacked || k == TagAlign || k == TagOrder
}

// Tag is one annotation on a ghost type.
type Tag struct {
	Kind    TagKind
	Pattern string
	Bound   float64
	Packed  bool
	Align   int
	Order   []string

	re *regexp.Regexp
}

// Regex builds a string predicate. The pattern is matched anywhere in the
// value, as with an unanchored search.
func Regex(pattern string) (Tag, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Tag{}, fmt.Errorf("invalid regex pattern %q: %w", pattern, err)
	}
	return Tag{Kind: TagRegex, Pattern: pattern, re: re}, nil
}

// MustRegex is like Regex but panics on an invalid pattern.
func MustRegex(pattern string) Tag {
	t, err := Regex(pattern)
	if err != nil {
		panic(err)
	}
	return t
}

// Min builds a numeric lower bound (inclusive).
func Min(bound float64) Tag { return Tag{Kind: TagMin, Bound: bound} }

// Max builds a numeric upper bound (inclusive).
func Max(bound float64) Tag { return Tag{Kind: TagMax, Bound: bound} }

// Packed requests a layout without padding.
func Packed(on bool) Tag { return Tag{Kind: TagPacked, Packed: on} }

// Align requests a minimum record alignment in bytes (a power of two).
func Align(n int) (Tag, error) {
	if n <= 0 || n&(n-1) != 0 {
		return Tag{}, fmt.Errorf("align must be a positive power of two, got %d", n)
	}
	return Tag{Kind: TagAlign, Align: n}, nil
}

// Order fixes the physical field order of a record.
func Order(fields ...string) Tag {
	return Tag{Kind: TagOrder, Order: slices.Clone(fields)}
}

// String renders the tag as an attribute.
func (t Tag) String() string {
	switch t.Kind {
	case TagRegex:
		return "regex=" + strconv.Quote(t.Pattern)
	case TagMin, TagMax:
		return t.Kind.String() + "=" + strconv.FormatFloat(t.Bound, 'g', -1, 64)
	case TagPacked:
		return "packed=" + strconv.FormatBool(t.Packed)
	case TagAlign:
		return "align=" + strconv.Itoa(t.Align)
	case TagOrder:
		return "order=" + strings.Join(t.Order, ",")
	}
	return t.Kind.String()
}

// check evaluates a predicate against v. Predicates that do not apply to
// the value's kind hold vacuously; layout directives always hold.
func (t Tag) check(typeName string, v ir.Value) error {
	switch t.Kind {
	case TagRegex:
		s, ok := v.(ir.Str)
		if !ok {
			return nil
		}
		if !t.re.MatchString(string(s)) {
			return &ValidationError{
				Type:   typeName,
				Reason: fmt.Sprintf("Value '%s' does not match pattern '%s'", string(s), t.Pattern),
				Value:  v,
			}
		}
	case TagMin:
		n, ok := numeric(v)
		if ok && n < t.Bound {
			return &ValidationError{
				Type:   typeName,
				Reason: fmt.Sprintf("Value %s is less than minimum %s", ir.Display(v), formatBound(t.Bound)),
				Value:  v,
			}
		}
	case TagMax:
		n, ok := numeric(v)
		if ok && n > t.Bound {
			return &ValidationError{
				Type:   typeName,
				Reason: fmt.Sprintf("Value %s is greater than maximum %s", ir.Display(v), formatBound(t.Bound)),
				Value:  v,
			}
		}
	}
	return nil
}

// provable reports whether the predicate holds for every value of kind k,
// so erasure may drop it.
func (t Tag) provable(k ir.Kind) bool {
	switch t.Kind {
	case TagRegex:
		return k != ir.KindString || regexMatchesEverything(t.Pattern, t.re)
	case TagMin:
		switch k {
		case ir.KindInt:
			return t.Bound <= math.MinInt64
		case ir.KindFloat:
			return math.IsInf(t.Bound, -1)
		}
		return true
	case TagMax:
		switch k {
		case ir.KindInt:
			return t.Bound >= math.MaxInt64
		case ir.KindFloat:
			return math.IsInf(t.Bound, 1)
		}
		return true
	}
	return true
}

// regexMatchesEverything is true when an unanchored search always succeeds:
// the pattern matches the empty string and has no position assertions, so
// it matches at offset zero of any input.
func regexMatchesEverything(pattern string, re *regexp.Regexp) bool {
	if !re.MatchString("") {
		return false
	}
	parsed, err := syntax.Parse(pattern, syntax.Perl)
	if err != nil {
		return false
	}
	return !hasAssertion(parsed)
}

func hasAssertion(re *syntax.Regexp) bool {
	switch re.Op {
	case syntax.OpBeginLine, syntax.OpEndLine, syntax.OpBeginText, syntax.OpEndText,
		syntax.OpWordBoundary, syntax.OpNoWordBoundary:
		return true
	}
	for _, sub := range re.Sub {
		if hasAssertion(sub) {
			return true
		}
	}
	return false
}

func numeric(v ir.Value) (float64, bool) {
	switch x := v.(type) {
	case ir.Int:
		return float64(x), true
	case ir.Float:
		return float64(x), true
	}
	return 0, false
}

func formatBound(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// conflicts reports whether a layout directive contradicts an existing one.
func conflicts(existing, incoming Tag) bool {
	switch {
	case existing.Kind == incoming.Kind:
		switch existing.Kind {
		case TagPacked:
			return existing.Packed != incoming.Packed
		case TagAlign:
			return existing.Align != incoming.Align
		case TagOrder:
			return !slices.Equal(existing.Order, incoming.Order)
		}
	case existing.Kind == TagPacked && incoming.Kind == TagAlign:
		return existing.Packed && incoming.Align > 1
	case existing.Kind == TagAlign && incoming.Kind == TagPacked:
		return incoming.Packed && existing.Align > 1
	}
	return false
}
