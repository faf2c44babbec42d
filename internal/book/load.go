package book

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

func (b *Book) loadAccounts(ctx context.Context) error {
	var rootGUID string
	if err := b.db.QueryRowContext(ctx, `SELECT root_account_guid FROM books LIMIT 1`).Scan(&rootGUID); err != nil {
		return errors.Wrapf(err, "%s is not a GnuCash SQLite book", b.path)
	}

	rows, err := b.db.QueryContext(ctx, `
	SELECT guid, name, account_type, parent_guid, description, hidden, placeholder
	FROM accounts ORDER BY name`)
	if err != nil {
		return errors.Wrap(err, "load accounts")
	}
	defer rows.Close()

	type accountRow struct {
		acc    *Account
		parent string
	}
	var loaded []accountRow
	for rows.Next() {
		var a Account
		var parent, description sql.NullString
		var hidden, placeholder sql.NullInt64
		if err := rows.Scan(&a.GUID, &a.Name, &a.Type, &parent, &description, &hidden, &placeholder); err != nil {
			return errors.Wrap(err, "scan account")
		}
		a.Description = description.String
		a.Hidden = hidden.Int64 != 0
		a.Placeholder = placeholder.Int64 != 0
		acc := &a
		b.accounts[acc.GUID] = acc
		loaded = append(loaded, accountRow{acc: acc, parent: parent.String})
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "load accounts")
	}

	// Rows arrive name-sorted, so every child list ends up name-sorted too.
	for _, row := range loaded {
		if row.parent == "" {
			continue
		}
		parent, ok := b.accounts[row.parent]
		if !ok {
			return errors.Errorf("account %s references unknown parent %s", row.acc.GUID, row.parent)
		}
		row.acc.Parent = parent
		parent.Children = append(parent.Children, row.acc)
	}

	b.root = b.accounts[rootGUID]
	if b.root == nil {
		return errors.Errorf("root account %s not present in book", rootGUID)
	}

	var currency sql.NullString
	err = b.db.QueryRowContext(ctx,
		`SELECT guid FROM commodities WHERE namespace = 'CURRENCY' ORDER BY mnemonic LIMIT 1`).Scan(&currency)
	if err != nil && err != sql.ErrNoRows {
		return errors.Wrap(err, "load currency")
	}
	b.currencyGUID = currency.String
	return nil
}

func (b *Book) loadTransaction(ctx context.Context, guid string) (*Transaction, error) {
	if t, ok := b.txns[guid]; ok {
		return t, nil
	}

	var num, postDate, description sql.NullString
	t := &Transaction{GUID: guid}
	err := b.db.QueryRowContext(ctx,
		`SELECT num, post_date, description FROM transactions WHERE guid = ?`, guid).
		Scan(&num, &postDate, &description)
	if err != nil {
		return nil, errors.Wrapf(err, "load transaction %s", guid)
	}
	t.Num = num.String
	t.Description = description.String
	if postDate.Valid && postDate.String != "" {
		when, err := parseBookTime(postDate.String)
		if err != nil {
			return nil, errors.Wrapf(err, "transaction %s post date", guid)
		}
		t.PostDate = when
	}

	rows, err := b.db.QueryContext(ctx, `
	SELECT guid, account_guid, memo, value_num, value_denom
	FROM splits WHERE tx_guid = ? ORDER BY guid`, guid)
	if err != nil {
		return nil, errors.Wrapf(err, "load splits of %s", guid)
	}
	defer rows.Close()

	for rows.Next() {
		var s Split
		var acctGUID string
		var memo sql.NullString
		if err := rows.Scan(&s.GUID, &acctGUID, &memo, &s.ValueNum, &s.ValueDenom); err != nil {
			return nil, errors.Wrap(err, "scan split")
		}
		s.Memo = memo.String
		s.Account = b.accounts[acctGUID]
		if s.Account == nil {
			return nil, errors.Errorf("split %s references unknown account %s", s.GUID, acctGUID)
		}
		s.Transaction = t
		split := &s
		t.Splits = append(t.Splits, split)
		b.splits[split.GUID] = split
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "load splits of %s", guid)
	}

	b.txns[guid] = t
	return t, nil
}

// Splits returns the live collection of splits currently assigned to acc.
// The view reflects in-memory reassignments made this session; callers that
// reassign while iterating must copy it first.
func (b *Book) Splits(ctx context.Context, acc *Account) ([]*Split, error) {
	if view, ok := b.views[acc.GUID]; ok {
		return view, nil
	}

	// Collect references first: with a single sqlite connection, nested
	// queries would deadlock while rows are open.
	type ref struct{ guid, txGUID string }
	var refs []ref
	rows, err := b.db.QueryContext(ctx,
		`SELECT guid, tx_guid FROM splits WHERE account_guid = ? ORDER BY tx_guid, guid`, acc.GUID)
	if err != nil {
		return nil, errors.Wrapf(err, "load splits of account %s", acc.FullName())
	}
	for rows.Next() {
		var r ref
		if err := rows.Scan(&r.guid, &r.txGUID); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan split ref")
		}
		refs = append(refs, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, errors.Wrapf(err, "load splits of account %s", acc.FullName())
	}
	rows.Close()

	view := make([]*Split, 0, len(refs))
	seen := make(map[string]struct{}, len(refs))
	for _, r := range refs {
		if _, err := b.loadTransaction(ctx, r.txGUID); err != nil {
			return nil, err
		}
		s := b.splits[r.guid]
		if s == nil {
			return nil, errors.Errorf("split %s missing from transaction %s", r.guid, r.txGUID)
		}
		// A split already moved away in memory no longer belongs here.
		if s.Account == acc {
			view = append(view, s)
			seen[s.GUID] = struct{}{}
		}
	}
	for _, s := range b.reassigned {
		if s.Account != acc {
			continue
		}
		if _, ok := seen[s.GUID]; ok {
			continue
		}
		view = append(view, s)
		seen[s.GUID] = struct{}{}
	}

	b.views[acc.GUID] = view
	return view, nil
}

func (b *Book) removeFromView(acc *Account, s *Split) {
	view, ok := b.views[acc.GUID]
	if !ok {
		return
	}
	for i, v := range view {
		if v == s {
			b.views[acc.GUID] = append(view[:i], view[i+1:]...)
			return
		}
	}
}

func (b *Book) appendToView(acc *Account, s *Split) {
	view, ok := b.views[acc.GUID]
	if !ok {
		return
	}
	b.views[acc.GUID] = append(view, s)
}
