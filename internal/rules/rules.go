package rules

import (
	"bufio"
	"io"
	"os"
	"regexp"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Line forms: a quoted account path may contain spaces, a bare one may not.
var (
	quotedLine = regexp.MustCompile(`^"([^"]+)"\s+(.+)`)
	bareLine   = regexp.MustCompile(`^(\S+)\s+(.+)`)
)

const negationMarker = "!!"

// Predicate is one compiled clause of a rule: a pattern plus the polarity
// and case sensitivity fixed at compile time.
type Predicate struct {
	Pattern     *regexp.Regexp
	ExpectMatch bool // false when the clause was negated with !!
	Insensitive bool // clause text was entirely upper-case
}

// Satisfied reports whether the predicate holds for the search text: the
// pattern is found and expected, or absent and expected absent.
func (p Predicate) Satisfied(search string) bool {
	return p.Pattern.MatchString(search) == p.ExpectMatch
}

// Rule conjoins predicates with the account path splits move to when all of
// them are satisfied.
type Rule struct {
	Target     string
	Predicates []Predicate
	Line       int // 1-based line in the rules file
}

// Matches reports whether every predicate is satisfied by the search text.
func (r *Rule) Matches(search string) bool {
	for _, p := range r.Predicates {
		if !p.Satisfied(search) {
			return false
		}
	}
	return true
}

// Set holds compiled rules in evaluation order, which is the reverse of file
// order: appending a more specific rule at the end of the file gives it
// precedence without reordering earlier lines.
type Set struct {
	rules []Rule
	log   *logrus.Logger
}

// Load reads and compiles the rules file at path.
//
// Each non-blank, non-comment line is `account-path pattern[&&pattern]...`.
// The account path may be double-quoted if it contains spaces. A pattern is a
// regular expression matched anywhere in the search text; a leading !! inverts
// it, and a pattern written entirely in upper case matches case-insensitively.
// Lines starting with # are comments.
func Load(path string, log *logrus.Logger) (*Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open rules file %s", path)
	}
	defer f.Close()

	s, err := Parse(f, log)
	if err != nil {
		return nil, errors.Wrapf(err, "read rules file %s", path)
	}
	return s, nil
}

// Parse compiles rules from r. Malformed lines are logged as warnings and
// dropped; only a read failure is an error.
func Parse(r io.Reader, log *logrus.Logger) (*Set, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Set{log: log}

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rule, ok := s.compileLine(line, lineNo)
		if !ok {
			continue
		}
		s.log.Debugf("rule %q -> %s", line, rule.Target)
		s.rules = append(s.rules, rule)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	slices.Reverse(s.rules)
	return s, nil
}

func (s *Set) compileLine(line string, lineNo int) (Rule, bool) {
	var m []string
	if strings.HasPrefix(line, `"`) {
		m = quotedLine.FindStringSubmatch(line)
	} else {
		m = bareLine.FindStringSubmatch(line)
	}
	if m == nil {
		s.log.Warnf("rules line %d: incorrect format, ignoring: %q", lineNo, line)
		return Rule{}, false
	}

	target, expr := m[1], m[2]
	var preds []Predicate
	for _, clause := range strings.Split(expr, "&&") {
		expect := true
		// The marker is only recognized immediately after && or the account
		// path; "A && !!B" leaves the second clause positive.
		if strings.HasPrefix(clause, negationMarker) {
			expect = false
			clause = clause[len(negationMarker):]
		}
		clause = strings.TrimSpace(clause)
		if clause == "" {
			s.log.Warnf("rules line %d: empty pattern, ignoring line: %q", lineNo, line)
			return Rule{}, false
		}

		insensitive := clause == strings.ToUpper(clause)
		src := clause
		if insensitive {
			src = "(?i)" + clause
		}
		re, err := regexp.Compile(src)
		if err != nil {
			s.log.Warnf("rules line %d: bad pattern %q, ignoring line: %v", lineNo, clause, err)
			return Rule{}, false
		}
		preds = append(preds, Predicate{Pattern: re, ExpectMatch: expect, Insensitive: insensitive})
	}

	return Rule{Target: target, Predicates: preds, Line: lineNo}, true
}

// Match returns the first rule, in evaluation order, whose predicates are all
// satisfied by the search text.
func (s *Set) Match(search string) (*Rule, bool) {
	for i := range s.rules {
		r := &s.rules[i]
		if r.Matches(search) {
			s.log.Debugf("%q matches rule from line %d -> %s", search, r.Line, r.Target)
			return r, true
		}
	}
	return nil, false
}

// Len returns the number of compiled rules.
func (s *Set) Len() int { return len(s.rules) }

// Rules returns the compiled rules in evaluation order.
func (s *Set) Rules() []Rule { return s.rules }
