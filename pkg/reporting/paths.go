package reporting

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultBlotterPath returns reports/blotter_<date>.xlsx for the UTC day of now
func DefaultBlotterPath(now time.Time) string {
	return filepath.Join("reports", fmt.Sprintf("blotter_%s.xlsx", now.UTC().Format("20060102")))
}

// EnsureDirectoryExists creates the parent directory of path
func EnsureDirectoryExists(path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}
