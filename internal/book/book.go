package book

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Options controls how a book is opened.
type Options struct {
	// IgnoreLock opens the book even when another session holds the gnclock.
	IgnoreLock bool
}

// LockError reports a book already opened by another GnuCash session.
type LockError struct {
	Hostname string
	PID      int
}

func (e *LockError) Error() string {
	return fmt.Sprintf("book is locked by %s (pid %d)", e.Hostname, e.PID)
}

// Book is an open GnuCash SQLite book. Reassignments made through SetAccount
// stay in memory until Save commits them in a single transaction; closing
// without saving leaves the file untouched.
type Book struct {
	db   *sql.DB
	path string
	log  *logrus.Logger

	root         *Account
	accounts     map[string]*Account // by guid
	currencyGUID string

	txns   map[string]*Transaction // loaded transactions by guid
	splits map[string]*Split       // loaded splits by guid
	views  map[string][]*Split     // materialized live split views by account guid

	reassigned []*Split // splits whose account changed this session, in order
	dirty      []change
	staged     []change

	lockHost string
	lockPID  int
	locked   bool
}

type change struct {
	split *Split
	from  *Account
	to    *Account
}

// Open opens an existing GnuCash SQLite book, honoring its session lock.
func Open(ctx context.Context, path string, opts Options, log *logrus.Logger) (*Book, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(err, "book %s", path)
	}

	db, err := openDB(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open book %s", path)
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

	// Verify the format before acquiring the lock: taking a lock writes,
	// and a file that is not a book must stay untouched.
	if err := b.checkFormat(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := b.acquireLock(ctx, opts.IgnoreLock); err != nil {
		db.Close()
		return nil, err
	}
	if err := b.loadAccounts(ctx); err != nil {
		b.releaseLock(ctx)
		db.Close()
		return nil, err
	}
	return b, nil
}

func openDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // sqlite
	db.SetConnMaxLifetime(0)
	return db, nil
}

func (b *Book) checkFormat(ctx context.Context) error {
	var rootGUID string
	if err := b.db.QueryRowContext(ctx, `SELECT root_account_guid FROM books LIMIT 1`).Scan(&rootGUID); err != nil {
		return errors.Wrapf(err, "%s is not a GnuCash SQLite book", b.path)
	}
	return nil
}

// GnuCash removes the gnclock table in some export paths, so make sure it
// exists before inspecting it.
func (b *Book) acquireLock(ctx context.Context, ignoreLock bool) error {
	if _, err := b.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS gnclock (Hostname varchar(255), PID int)`); err != nil {
		return errors.Wrap(err, "check session lock")
	}

	var host sql.NullString
	var pid sql.NullInt64
	err := b.db.QueryRowContext(ctx, `SELECT Hostname, PID FROM gnclock LIMIT 1`).Scan(&host, &pid)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return errors.Wrap(err, "check session lock")
	default:
		held := &LockError{Hostname: host.String, PID: int(pid.Int64)}
		if !ignoreLock {
			return held
		}
		b.log.Warnf("ignoring session lock: %v", held)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	b.lockHost, b.lockPID = hostname, os.Getpid()
	if _, err := b.db.ExecContext(ctx, `INSERT INTO gnclock(Hostname, PID) VALUES(?, ?)`, b.lockHost, b.lockPID); err != nil {
		return errors.Wrap(err, "acquire session lock")
	}
	b.locked = true
	return nil
}

func (b *Book) releaseLock(ctx context.Context) {
	if !b.locked {
		return
	}
	if _, err := b.db.ExecContext(ctx, `DELETE FROM gnclock WHERE Hostname = ? AND PID = ?`, b.lockHost, b.lockPID); err != nil {
		b.log.Warnf("release session lock: %v", err)
	}
	b.locked = false
}

// Root returns the book's root account.
func (b *Book) Root() *Account { return b.root }

// Path returns the book file path.
func (b *Book) Path() string { return b.path }

// SetAccount rewrites the split's account reference in memory and records the
// change for the next Flush/Save. Only the split's account field is touched.
func (b *Book) SetAccount(s *Split, target *Account) {
	from := s.Account
	s.Account = target
	b.removeFromView(from, s)
	b.appendToView(target, s)
	b.reassigned = append(b.reassigned, s)
	b.dirty = append(b.dirty, change{split: s, from: from, to: target})
}

// Flush stages all pending reassignments for the next Save and returns the
// total staged. No SQL runs here; durable state is untouched.
func (b *Book) Flush() int {
	b.staged = append(b.staged, b.dirty...)
	b.dirty = b.dirty[:0]
	return len(b.staged)
}

// Save commits every staged reassignment in one transaction. A split whose
// on-disk account no longer matches what was read rolls the whole save back.
func (b *Book) Save(ctx context.Context) error {
	b.Flush()
	if len(b.staged) == 0 {
		return nil
	}

	err := withTx(b.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `UPDATE splits SET account_guid = ? WHERE guid = ? AND account_guid = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, c := range b.staged {
			res, err := stmt.ExecContext(ctx, c.to.GUID, c.split.GUID, c.from.GUID)
			if err != nil {
				return errors.Wrapf(err, "update split %s", c.split.GUID)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n != 1 {
				return errors.Errorf("split %s changed on disk, account is no longer %s", c.split.GUID, c.from.FullName())
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "save book %s", b.path)
	}

	b.log.Debugf("saved %d split reassignments", len(b.staged))
	b.staged = b.staged[:0]
	return nil
}

// Close releases the session lock and closes the book. Staged but unsaved
// changes are discarded.
func (b *Book) Close() error {
	if n := len(b.dirty) + len(b.staged); n > 0 {
		b.log.Debugf("closing book with %d unsaved reassignments", n)
	}
	b.releaseLock(context.Background())
	return b.db.Close()
}

func withTx(db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
