// Package fix reassigns imported splits to real accounts according to a
// compiled rule set.
package fix

import (
	"context"
	"regexp"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"fiximports/internal/book"
	"fiximports/internal/rules"
)

// Fixer walks the splits of a placeholder account and moves each one whose
// search text matches a rule to the rule's target account, guarded by the
// offset-account pattern.
type Fixer struct {
	Book  *book.Book
	Rules *rules.Set
	Log   *logrus.Logger

	// target accounts resolved so far, by rule target path
	resolved map[string]*book.Account
}

// Options controls one classification run.
type Options struct {
	// UseMemo matches against the split's memo instead of the transaction
	// description.
	UseMemo bool
	// OffsetPattern must match the counter split's account name for a
	// reassignment to execute. Matching is anchored at the start.
	OffsetPattern *regexp.Regexp
}

// Summary counts one run's outcomes: splits seen, splits that matched a rule
// on an eligible two-split transaction, and splits actually reassigned.
type Summary struct {
	Total    int
	Eligible int
	Fixed    int
}

// Run classifies every split currently under fixAcc. Reassignments stay in
// memory on the book; the caller decides whether they are flushed and saved.
// An unresolvable rule target is fatal, everything else is best-effort.
func (f *Fixer) Run(ctx context.Context, fixAcc *book.Account, opts Options) (Summary, error) {
	var sum Summary

	live, err := f.Book.Splits(ctx, fixAcc)
	if err != nil {
		return sum, err
	}
	// Reassigning removes splits from the live view, so iterate a snapshot.
	snapshot := make([]*book.Split, len(live))
	copy(snapshot, live)

	for _, split := range snapshot {
		sum.Total++
		txn := split.Transaction

		search := txn.Description
		if opts.UseMemo {
			search = split.Memo
		}

		rule, ok := f.Rules.Match(search)
		if !ok {
			continue
		}

		target, err := f.target(rule)
		if err != nil {
			return sum, err
		}

		other, ok := split.Other()
		if !ok {
			f.Log.Debugf("skipping %q at %s: transaction does not have exactly two splits",
				search, txn.PostDate.Format("2006-01-02"))
			continue
		}
		sum.Eligible++

		f.Log.Infof("changing account from %q to %q for transaction %q at %s (%s)",
			fixAcc.FullName(), target.FullName(), search,
			txn.PostDate.Format("2006-01-02"), split.Value())
		if !MatchesStart(opts.OffsetPattern, other.Account.Name) {
			f.Log.Debugf("offset account %q does not match pattern %q, leaving split untouched",
				other.Account.Name, opts.OffsetPattern)
			continue
		}

		f.Book.SetAccount(split, target)
		sum.Fixed++
	}
	return sum, nil
}

// target resolves a rule's account path once and memoizes it. Resolution
// stays lazy so a rule that never fires never needs a valid target, but a
// firing rule with a bad path halts the run.
func (f *Fixer) target(r *rules.Rule) (*book.Account, error) {
	if acc, ok := f.resolved[r.Target]; ok {
		return acc, nil
	}
	acc, err := f.Book.FindAccount(r.Target)
	if err != nil {
		return nil, errors.Wrapf(err, "rules line %d", r.Line)
	}
	if f.resolved == nil {
		f.resolved = make(map[string]*book.Account)
	}
	f.resolved[r.Target] = acc
	return acc, nil
}

// MatchesStart reports whether p matches s beginning at the first character.
// Account-name patterns are anchored this way, unlike rule clauses, which
// search anywhere. A nil pattern matches everything.
func MatchesStart(p *regexp.Regexp, s string) bool {
	if p == nil {
		return true
	}
	loc := p.FindStringIndex(s)
	return loc != nil && loc[0] == 0
}
