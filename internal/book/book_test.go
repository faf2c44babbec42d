package book_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"fiximports/internal/book"
	"fiximports/internal/testdata"
)

func newBook(t *testing.T) (*book.Book, testdata.Fixture, string) {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.gnucash")
	log, _ := logtest.NewNullLogger()
	b, err := book.Create(ctx, path, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	f, err := testdata.Seed(ctx, b)
	require.NoError(t, err)
	return b, f, path
}

// reopen opens a second session on the book; the fixture session may still
// hold the lock, so it is ignored.
func reopen(t *testing.T, path string) *book.Book {
	t.Helper()
	log, _ := logtest.NewNullLogger()
	b, err := book.Open(context.Background(), path, book.Options{IgnoreLock: true}, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestOpenMissingFileFails(t *testing.T) {
	t.Parallel()
	log, _ := logtest.NewNullLogger()
	_, err := book.Open(context.Background(), filepath.Join(t.TempDir(), "nope.gnucash"), book.Options{}, log)
	require.Error(t, err)
}

func TestOpenRejectsNonBook(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "random.db")
	require.NoError(t, os.WriteFile(path, []byte{}, 0o644))

	log, _ := logtest.NewNullLogger()
	_, err := book.Open(context.Background(), path, book.Options{}, log)
	require.Error(t, err)
	require.Contains(t, err.Error(), "not a GnuCash SQLite book")
}

func TestFindAccountWalksTree(t *testing.T) {
	t.Parallel()
	b, f, _ := newBook(t)

	acc, err := b.FindAccount("Expenses:Dining")
	require.NoError(t, err)
	require.Equal(t, f.Dining, acc)
	require.Equal(t, "Expenses:Dining", acc.FullName())

	top, err := b.FindAccount("Imbalance-USD")
	require.NoError(t, err)
	require.Equal(t, f.Imbalance, top)
}

func TestFindAccountIsCaseSensitive(t *testing.T) {
	t.Parallel()
	b, _, _ := newBook(t)

	_, err := b.FindAccount("expenses:Dining")
	var nf *book.NotFoundError
	require.ErrorAs(t, err, &nf)
	require.Equal(t, "expenses:Dining", nf.Path)
	require.Equal(t, "expenses", nf.Missing)
}

func TestFindAccountSuggestsNearMiss(t *testing.T) {
	t.Parallel()
	b, _, _ := newBook(t)

	_, err := b.FindAccount("Expenses:Diner")
	var nf *book.NotFoundError
	require.ErrorAs(t, err, &nf)
	require.Equal(t, "Dining", nf.Suggestion)
	require.Contains(t, nf.Error(), `did you mean "Dining"?`)
}

func TestSaveCommitsOnlyStagedMoves(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b, f, path := newBook(t)

	splits, err := b.Splits(ctx, f.Imbalance)
	require.NoError(t, err)
	require.Len(t, splits, 4)

	b.SetAccount(splits[0], f.Dining)
	require.Equal(t, 1, b.Flush())

	// Flush alone leaves the file untouched.
	before := reopen(t, path)
	imb, err := before.FindAccount("Imbalance-USD")
	require.NoError(t, err)
	onDisk, err := before.Splits(ctx, imb)
	require.NoError(t, err)
	require.Len(t, onDisk, 4)

	require.NoError(t, b.Save(ctx))

	after := reopen(t, path)
	imb, err = after.FindAccount("Imbalance-USD")
	require.NoError(t, err)
	onDisk, err = after.Splits(ctx, imb)
	require.NoError(t, err)
	require.Len(t, onDisk, 3)

	dining, err := after.FindAccount("Expenses:Dining")
	require.NoError(t, err)
	moved, err := after.Splits(ctx, dining)
	require.NoError(t, err)
	require.Len(t, moved, 1)
	require.Equal(t, splits[0].GUID, moved[0].GUID)
}

func TestCloseWithoutSaveDiscardsChanges(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b, f, path := newBook(t)

	splits, err := b.Splits(ctx, f.Imbalance)
	require.NoError(t, err)
	b.SetAccount(splits[0], f.Dining)
	b.Flush()
	require.NoError(t, b.Close())

	after := reopen(t, path)
	imb, err := after.FindAccount("Imbalance-USD")
	require.NoError(t, err)
	onDisk, err := after.Splits(ctx, imb)
	require.NoError(t, err)
	require.Len(t, onDisk, 4)
}

func TestSplitsViewTracksReassignments(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b, f, _ := newBook(t)

	splits, err := b.Splits(ctx, f.Imbalance)
	require.NoError(t, err)
	require.Len(t, splits, 4)

	b.SetAccount(splits[0], f.Groceries)

	view, err := b.Splits(ctx, f.Imbalance)
	require.NoError(t, err)
	require.Len(t, view, 3)

	under, err := b.Splits(ctx, f.Groceries)
	require.NoError(t, err)
	require.Len(t, under, 1)
	require.Equal(t, splits[0], under[0])
}

func TestSessionLock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	_, _, path := newBook(t)

	// The fixture book is still open, so its lock row is present.
	log, _ := logtest.NewNullLogger()
	_, err := book.Open(ctx, path, book.Options{}, log)
	var lockErr *book.LockError
	require.ErrorAs(t, err, &lockErr)
	require.NotEmpty(t, lockErr.Hostname)

	b2, err := book.Open(ctx, path, book.Options{IgnoreLock: true}, log)
	require.NoError(t, err)
	require.NoError(t, b2.Close())
}

func TestLockReleasedOnClose(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.gnucash")
	log, _ := logtest.NewNullLogger()

	b, err := book.Create(ctx, path, log)
	require.NoError(t, err)
	require.NoError(t, b.Close())

	b2, err := book.Open(ctx, path, book.Options{}, log)
	require.NoError(t, err)
	require.NoError(t, b2.Close())
}

func TestBackupCopiesBookFile(t *testing.T) {
	t.Parallel()
	b, _, path := newBook(t)

	at := time.Date(2026, time.March, 14, 9, 26, 53, 589793000, time.UTC)
	dst, err := b.Backup("", at)
	require.NoError(t, err)
	require.Equal(t, path+".20260314092653589793fix_bck.gnucash", dst)

	want, err := os.ReadFile(path)
	require.NoError(t, err)
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestBackupHonorsDirectory(t *testing.T) {
	t.Parallel()
	b, _, _ := newBook(t)

	dir := t.TempDir()
	dst, err := b.Backup(dir, time.Now())
	require.NoError(t, err)
	require.Equal(t, dir, filepath.Dir(dst))
	_, err = os.Stat(dst)
	require.NoError(t, err)
}

func TestSplitValueRendering(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b, f, _ := newBook(t)

	splits, err := b.Splits(ctx, f.Imbalance)
	require.NoError(t, err)
	values := make(map[string]string)
	for _, s := range splits {
		values[s.Transaction.Description] = s.Value()
	}
	require.Equal(t, "32.50", values["Pizza Hut order"])
	require.Equal(t, "150.00", values["Opera ticket"])
}

func TestOtherFindsCounterpart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b, f, _ := newBook(t)

	splits, err := b.Splits(ctx, f.Imbalance)
	require.NoError(t, err)
	for _, s := range splits {
		other, ok := s.Other()
		require.True(t, ok)
		require.NotEqual(t, s, other)
		require.Equal(t, s.Transaction, other.Transaction)
		require.NotEqual(t, f.Imbalance, other.Account)
	}
}
