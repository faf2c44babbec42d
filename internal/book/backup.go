package book

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// Backup copies the book file to <book>.<timestamp>fix_bck.gnucash before a
// save. The run timestamp is computed once by the caller; dir overrides the
// book's own directory when non-empty. Returns the backup path.
func (b *Book) Backup(dir string, at time.Time) (string, error) {
	ts := at.Format("20060102150405") + fmt.Sprintf("%06d", at.Nanosecond()/1000)
	name := fmt.Sprintf("%s.%sfix_bck.gnucash", filepath.Base(b.path), ts)
	if dir == "" {
		dir = filepath.Dir(b.path)
	}
	dst := filepath.Join(dir, name)

	if err := copyFile(b.path, dst); err != nil {
		return "", errors.Wrapf(err, "back up book to %s", dst)
	}
	b.log.Debugf("backed up book to %s", dst)
	return dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
