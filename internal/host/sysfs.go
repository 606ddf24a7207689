package host

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// sysfs reads pseudo-files below a root directory. The root is "/" in
// production and a temporary tree in tests.
type sysfs struct {
	root string
}

func (s sysfs) path(elem ...string) string {
	return filepath.Join(append([]string{s.root}, elem...)...)
}

func (s sysfs) readString(elem ...string) (string, bool) {
	data, err := os.ReadFile(s.path(elem...))
	if err != nil {
		return "", false
	}

	return strings.TrimSpace(string(data)), true
}

func (s sysfs) readInt(elem ...string) (int64, bool) {
	v, ok := s.readString(elem...)
	if !ok {
		return 0, false
	}

	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}

	return n, true
}

func (s sysfs) exists(elem ...string) bool {
	_, err := os.Stat(s.path(elem...))
	return err == nil
}

func (s sysfs) glob(pattern ...string) []string {
	matches, err := filepath.Glob(s.path(pattern...))
	if err != nil {
		return nil
	}

	return matches
}
