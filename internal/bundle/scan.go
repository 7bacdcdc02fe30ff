package bundle

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/costwise/aitrace/internal/record"
)

// Scan recovers a bundle directory whose stored path is stale or absent.
// It walks <root>/<step>/<date>/ matching directory names by their
// fingerprint-prefix suffix. createdAt is a hint: its date directory is
// tried first, then the rest newest-first, so a record written just
// before midnight still resolves.
func Scan(root string, step record.Step, fpPrefix string, createdAt time.Time) (string, bool) {
	if fpPrefix == "" {
		return "", false
	}
	want := record.FingerprintPrefix(fpPrefix)
	stepDir := filepath.Join(root, string(step))

	entries, err := os.ReadDir(stepDir)
	if err != nil {
		return "", false
	}
	dates := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			dates = append(dates, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))

	hint := createdAt.Format(dirDate)
	for i, d := range dates {
		if d == hint && i > 0 {
			dates[0], dates[i] = dates[i], dates[0]
			break
		}
	}

	for _, date := range dates {
		if dir, ok := scanDate(filepath.Join(stepDir, date), want); ok {
			return dir, true
		}
	}
	return "", false
}

func scanDate(dateDir, want string) (string, bool) {
	entries, err := os.ReadDir(dateDir)
	if err != nil {
		return "", false
	}
	// Newest time-of-day stamp wins when a fingerprint repeats in a day.
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	for _, name := range names {
		_, suffix, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		if strings.HasPrefix(suffix, want) || strings.HasPrefix(want, suffix) {
			return filepath.Join(dateDir, name), true
		}
	}
	return "", false
}
