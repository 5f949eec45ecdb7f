package core

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hbollon/go-edlib"

	"github.com/standardbeagle/fsindex/internal/alloc"
	"github.com/standardbeagle/fsindex/internal/cancel"
	"github.com/standardbeagle/fsindex/internal/debug"
	fserrors "github.com/standardbeagle/fsindex/internal/errors"
	"github.com/standardbeagle/fsindex/internal/searchtypes"
	"github.com/standardbeagle/fsindex/internal/types"
)

// matchFunc reports whether target matches and, for fuzzy queries, how well.
type matchFunc func(target string) (bool, float32)

// fileMatcher is a compiled Query.
type fileMatcher struct {
	match      matchFunc
	usePath    bool // match against the root-relative path instead of the name
	foldCase   bool
	kinds      map[types.FileType]bool
	extensions map[string]bool
}

func compileQuery(q searchtypes.Query) (*fileMatcher, error) {
	m := &fileMatcher{
		usePath:  strings.Contains(q.Pattern, "/"),
		foldCase: q.CaseInsensitive,
	}
	pattern := q.Pattern
	if m.foldCase && q.Type != searchtypes.MatchRegex {
		pattern = strings.ToLower(pattern)
	}

	switch q.Type {
	case searchtypes.MatchSubstring:
		m.match = func(target string) (bool, float32) {
			return strings.Contains(target, pattern), 0
		}
	case searchtypes.MatchExact:
		m.match = func(target string) (bool, float32) {
			return target == pattern, 0
		}
	case searchtypes.MatchGlob:
		if !doublestar.ValidatePattern(pattern) {
			return nil, fserrors.NewSearchError(q.Pattern, doublestar.ErrBadPattern)
		}
		m.match = func(target string) (bool, float32) {
			ok, _ := doublestar.Match(pattern, target)
			return ok, 0
		}
	case searchtypes.MatchRegex:
		if m.foldCase {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fserrors.NewSearchError(q.Pattern, err)
		}
		m.foldCase = false
		m.match = func(target string) (bool, float32) {
			return re.MatchString(target), 0
		}
	case searchtypes.MatchFuzzy:
		threshold := q.FuzzyThreshold
		if threshold <= 0 {
			threshold = searchtypes.DefaultFuzzyThreshold
		}
		m.match = func(target string) (bool, float32) {
			score, err := edlib.StringsSimilarity(pattern, target, edlib.Levenshtein)
			if err != nil {
				return false, 0
			}
			return score >= threshold, score
		}
	default:
		return nil, fserrors.NewSearchError(q.Pattern, fmt.Errorf("unsupported search type: %s", q.Type))
	}

	if len(q.Kinds) > 0 {
		m.kinds = make(map[types.FileType]bool, len(q.Kinds))
		for _, k := range q.Kinds {
			m.kinds[k] = true
		}
	}
	if len(q.Extensions) > 0 {
		m.extensions = make(map[string]bool, len(q.Extensions))
		for _, ext := range q.Extensions {
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			m.extensions[strings.ToLower(ext)] = true
		}
	}
	return m, nil
}

// accepts applies the kind and extension filters.
func (m *fileMatcher) accepts(n *Node) bool {
	if m.kinds != nil && !m.kinds[n.Type] {
		return false
	}
	if m.extensions != nil && !m.extensions[strings.ToLower(filepath.Ext(n.Name))] {
		return false
	}
	return true
}

// Search scans every node for matches to q. It polls token every
// types.CancellationPollInterval nodes; once the token is superseded the scan
// stops and returns cancel.ErrCancelled with no results. Matches are sorted
// by path and cut to q.MaxResults.
//
// Callers must hold off writers for the duration of the call.
func (s *NodeStore) Search(q searchtypes.Query, token cancel.Token) ([]searchtypes.Match, error) {
	startTime := time.Now()

	if q.MaxResults <= 0 {
		q.MaxResults = types.DefaultMaxResults
	}
	matchType, err := searchtypes.ParseMatchType(string(q.Type))
	if err != nil {
		return nil, fserrors.NewSearchError(q.Pattern, err)
	}
	q.Type = matchType

	matcher, err := compileQuery(q)
	if err != nil {
		return nil, err
	}

	var (
		results   []searchtypes.Match
		visited   int
		cancelled bool
	)
	s.Range(func(h alloc.Handle, n *Node) bool {
		visited++
		if visited%types.CancellationPollInterval == 0 && token.IsCancelled() {
			cancelled = true
			return false
		}
		if h.Index == s.root || !matcher.accepts(n) {
			return true
		}

		target := n.Name
		if matcher.usePath {
			target = s.RelPath(h.Index)
		}
		if matcher.foldCase {
			target = strings.ToLower(target)
		}
		ok, score := matcher.match(target)
		if !ok {
			return true
		}

		m := searchtypes.Match{
			Handle: h,
			Path:   s.Path(h.Index),
			Name:   n.Name,
			Type:   n.Type,
			Score:  score,
		}
		m.Metadata, m.HasMetadata = s.meta.Get(h.Index)
		results = append(results, m)
		return true
	})
	if cancelled || token.IsCancelled() {
		debug.LogSearch("query %q cancelled after %d nodes\n", q.Pattern, visited)
		return nil, cancel.ErrCancelled
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Path < results[j].Path
	})
	if len(results) > q.MaxResults {
		results = results[:q.MaxResults]
	}

	debug.LogSearch("query %q (%s) matched %d of %d nodes in %v\n", q.Pattern, q.Type, len(results), visited, time.Since(startTime))
	return results, nil
}
