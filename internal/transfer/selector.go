package transfer

import (
	"strings"
	"time"

	"github.com/andresuchdata/batchsync/internal/datetoken"
)

// Selection is the subset of the source listing that falls inside a window.
type Selection struct {
	Files []string
	// Undated counts compressed files whose name holds no valid date token.
	Undated int
}

// SelectFiles keeps every name ending in ext that contains the YYYYMMDD token of
// some day in w as a plain substring. Any 8-digit run that happens to spell a
// date in range matches, even if it is not the file's real date. Results are in
// date order and each name appears once.
func SelectFiles(listing []string, w Window, ext string) Selection {
	var sel Selection

	candidates := make([]string, 0, len(listing))
	for _, name := range listing {
		if !strings.HasSuffix(name, ext) {
			continue
		}
		candidates = append(candidates, name)
		if _, err := datetoken.Extract(name, time.UTC); err != nil {
			sel.Undated++
		}
	}

	seen := make(map[string]struct{}, len(candidates))
	for _, day := range w.Days() {
		token := datetoken.Format(day)
		for _, name := range candidates {
			if _, ok := seen[name]; ok {
				continue
			}
			if strings.Contains(name, token) {
				seen[name] = struct{}{}
				sel.Files = append(sel.Files, name)
			}
		}
	}

	return sel
}
