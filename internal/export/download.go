// Package export saves server-produced artifacts and local delimited exports
// to disk.
package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FileDownloader writes artifacts into a directory, sanitizing the server
//-provided filename so a hostile Content-Disposition cannot escape Dir.
type FileDownloader struct {
	Dir string
}

// Save writes r to Dir under the given filename and returns nil on success.
func (d *FileDownloader) Save(filename string, r io.Reader) error {
	name := filepath.Base(strings.TrimSpace(filename))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return fmt.Errorf("invalid artifact filename %q", filename)
	}
	dir := d.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create artifact file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	return nil
}
