package book

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// The subset of the GnuCash SQLite schema this tool touches. Column shapes
// follow what GnuCash itself writes; schema evolution is GnuCash's business,
// so no versioned migrations.
const bookSchema = `
CREATE TABLE versions (
	table_name     TEXT(50) PRIMARY KEY NOT NULL,
	table_version  INTEGER NOT NULL
);

CREATE TABLE books (
	guid               TEXT(32) PRIMARY KEY NOT NULL,
	root_account_guid  TEXT(32) NOT NULL,
	root_template_guid TEXT(32) NOT NULL
);

CREATE TABLE commodities (
	guid          TEXT(32) PRIMARY KEY NOT NULL,
	namespace     TEXT(2048) NOT NULL,
	mnemonic      TEXT(2048) NOT NULL,
	fullname      TEXT(2048),
	cusip         TEXT(2048),
	fraction      INTEGER NOT NULL,
	quote_flag    INTEGER NOT NULL,
	quote_source  TEXT(2048),
	quote_tz      TEXT(2048)
);

CREATE TABLE accounts (
	guid            TEXT(32) PRIMARY KEY NOT NULL,
	name            TEXT(2048) NOT NULL,
	account_type    TEXT(2048) NOT NULL,
	commodity_guid  TEXT(32),
	commodity_scu   INTEGER NOT NULL,
	non_std_scu     INTEGER NOT NULL,
	parent_guid     TEXT(32),
	code            TEXT(2048),
	description     TEXT(2048),
	hidden          INTEGER,
	placeholder     INTEGER
);

CREATE TABLE transactions (
	guid           TEXT(32) PRIMARY KEY NOT NULL,
	currency_guid  TEXT(32) NOT NULL,
	num            TEXT(2048) NOT NULL,
	post_date      TEXT(19),
	enter_date     TEXT(19),
	description    TEXT(2048)
);

CREATE TABLE splits (
	guid             TEXT(32) PRIMARY KEY NOT NULL,
	tx_guid          TEXT(32) NOT NULL,
	account_guid     TEXT(32) NOT NULL,
	memo             TEXT(2048) NOT NULL,
	action           TEXT(2048) NOT NULL,
	reconcile_state  TEXT(1) NOT NULL,
	reconcile_date   TEXT(19),
	value_num        BIGINT NOT NULL,
	value_denom      BIGINT NOT NULL,
	quantity_num     BIGINT NOT NULL,
	quantity_denom   BIGINT NOT NULL,
	lot_guid         TEXT(32)
);
CREATE INDEX splits_tx_guid_index ON splits (tx_guid);
CREATE INDEX splits_account_guid_index ON splits (account_guid);

CREATE TABLE gnclock (
	Hostname  VARCHAR(255),
	PID       INTEGER
);
`

// newGUID mints a 32-char lowercase hex GUID in GnuCash's format.
func newGUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Create writes a fresh book at path with a USD currency and an empty root
// account, and returns it open. It exists for building fixture books; real
// books come from GnuCash.
func Create(ctx context.Context, path string, log *logrus.Logger) (*Book, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if _, err := os.Stat(path); err == nil {
		return nil, errors.Errorf("book %s already exists", path)
	}

	db, err := openDB(path)
	if err != nil {
		return nil, errors.Wrapf(err, "create book %s", path)
	}

	b := &Book{
		db:       db,
		path:     path,
		log:      log,
		accounts: make(map[string]*Account),
		txns:     make(map[string]*Transaction),
		splits:   make(map[string]*Split),
		views:    make(map[string][]*Split),
	}
	if err := b.initSchema(ctx); err != nil {
		db.Close()
		os.Remove(path)
		return nil, errors.Wrapf(err, "create book %s", path)
	}
	if err := b.acquireLock(ctx, false); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (b *Book) initSchema(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, bookSchema); err != nil {
		return err
	}

	return withTx(b.db, func(tx *sql.Tx) error {
		for _, v := range []struct {
			table   string
			version int
		}{
			{"Gnucash", 5000000},
			{"books", 1},
			{"commodities", 1},
			{"accounts", 1},
			{"transactions", 4},
			{"splits", 5},
		} {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO versions(table_name, table_version) VALUES(?, ?)`, v.table, v.version); err != nil {
				return err
			}
		}

		b.currencyGUID = newGUID()
		if _, err := tx.ExecContext(ctx, `
		INSERT INTO commodities(guid, namespace, mnemonic, fullname, fraction, quote_flag)
		VALUES(?, 'CURRENCY', 'USD', 'US Dollar', 100, 0)`, b.currencyGUID); err != nil {
			return err
		}

		root := &Account{GUID: newGUID(), Name: "Root Account", Type: "ROOT"}
		template := newGUID()
		for _, row := range []struct {
			guid, name string
		}{{root.GUID, root.Name}, {template, "Template Root"}} {
			if _, err := tx.ExecContext(ctx, `
			INSERT INTO accounts(guid, name, account_type, commodity_scu, non_std_scu)
			VALUES(?, ?, 'ROOT', 100, 0)`, row.guid, row.name); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `
		INSERT INTO books(guid, root_account_guid, root_template_guid)
		VALUES(?, ?, ?)`, newGUID(), root.GUID, template); err != nil {
			return err
		}

		b.root = root
		b.accounts[root.GUID] = root
		return nil
	})
}

// AddAccount inserts a child account under parent and returns it. Insert
// helpers serve fixture seeding and write directly; classifier mutations go
// through SetAccount and Save.
func (b *Book) AddAccount(ctx context.Context, parent *Account, name, accType string) (*Account, error) {
	acc := &Account{GUID: newGUID(), Name: name, Type: accType, Parent: parent}
	_, err := b.db.ExecContext(ctx, `
	INSERT INTO accounts(guid, name, account_type, commodity_guid, commodity_scu, non_std_scu, parent_guid)
	VALUES(?, ?, ?, ?, 100, 0, ?)`, acc.GUID, name, accType, b.currencyGUID, parent.GUID)
	if err != nil {
		return nil, errors.Wrapf(err, "add account %s", name)
	}
	parent.Children = append(parent.Children, acc)
	b.accounts[acc.GUID] = acc
	return acc, nil
}

// AddTransaction inserts a two-split transaction of valueNum/100 moving value
// from one account to another, memos applied per side.
func (b *Book) AddTransaction(ctx context.Context, from, to *Account, description string, postDate time.Time, valueNum int64, fromMemo, toMemo string) (*Transaction, error) {
	t := &Transaction{
		GUID:        newGUID(),
		Description: description,
		PostDate:    postDate.UTC().Truncate(time.Second),
	}
	err := withTx(b.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
		INSERT INTO transactions(guid, currency_guid, num, post_date, enter_date, description)
		VALUES(?, ?, '', ?, ?, ?)`,
			t.GUID, b.currencyGUID, formatBookTime(t.PostDate), formatBookTime(time.Now()), description); err != nil {
			return err
		}
		for _, side := range []struct {
			acc  *Account
			memo string
			num  int64
		}{
			{to, toMemo, valueNum},
			{from, fromMemo, -valueNum},
		} {
			s := &Split{
				GUID:        newGUID(),
				Memo:        side.memo,
				ValueNum:    side.num,
				ValueDenom:  100,
				Account:     side.acc,
				Transaction: t,
			}
			if _, err := tx.ExecContext(ctx, `
			INSERT INTO splits(guid, tx_guid, account_guid, memo, action, reconcile_state,
			                   value_num, value_denom, quantity_num, quantity_denom)
			VALUES(?, ?, ?, ?, '', 'n', ?, 100, ?, 100)`,
				s.GUID, t.GUID, side.acc.GUID, side.memo, side.num, side.num); err != nil {
				return err
			}
			t.Splits = append(t.Splits, s)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "add transaction %q", description)
	}

	// Keep loaded state and views coherent with what was just written.
	b.txns[t.GUID] = t
	for _, s := range t.Splits {
		b.splits[s.GUID] = s
		b.appendToView(s.Account, s)
	}
	return t, nil
}
