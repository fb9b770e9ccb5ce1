package search

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/estrateji/satchel/internal/domain"
	lfuzzy "github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/sahilm/fuzzy"
)

// SnapshotSource lists cached course snapshots (implemented by snapshot.Queries)
type SnapshotSource interface {
	All() []*domain.CourseSnapshot
}

// Item is a searchable cached resource
type Item struct {
	Resource    domain.Resource
	CourseTitle string
}

// Result is a search hit with match metadata for highlighting
type Result struct {
	Item
	MatchedIndexes []int
	Score          int // higher is better
}

// Options narrows a search
type Options struct {
	Types  []domain.ResourceType // nil = all types
	Course string                // course id, or a fuzzy course title
}

// Index implements fuzzy.Source over pre-lowered titles
type Index struct {
	items       []Item
	lowerTitles []string
}

func (idx *Index) String(i int) string { return idx.lowerTitles[i] }

func (idx *Index) Len() int { return len(idx.items) }

// Service searches resources across cached course snapshots. It never touches the network.
type Service struct {
	snapshots SnapshotSource
	logger    *slog.Logger
}

func NewService(snapshots SnapshotSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{snapshots: snapshots, logger: logger}
}

// Search fuzzy-matches query against resource titles, best match first
func (s *Service) Search(query string, opts Options) []Result {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}

	idx := s.buildIndex(opts)
	if idx.Len() == 0 {
		return nil
	}

	matches := fuzzy.FindFrom(strings.ToLower(query), idx)
	results := make([]Result, len(matches))
	for i, m := range matches {
		results[i] = Result{
			Item:           idx.items[m.Index],
			MatchedIndexes: m.MatchedIndexes,
			Score:          m.Score,
		}
	}

	s.logger.Debug("search complete", "query", query, "candidates", idx.Len(), "results", len(results))
	return results
}

// Courses ranks cached courses by title distance to query
func (s *Service) Courses(query string) []*domain.CourseSnapshot {
	snaps := s.snapshots.All()
	if query == "" {
		return snaps
	}

	titles := make([]string, len(snaps))
	for i, snap := range snaps {
		titles[i] = snap.Title
	}

	ranks := lfuzzy.RankFindFold(query, titles)
	sort.Stable(ranks)

	out := make([]*domain.CourseSnapshot, 0, len(ranks))
	for _, r := range ranks {
		out = append(out, snaps[r.OriginalIndex])
	}
	return out
}

func (s *Service) buildIndex(opts Options) *Index {
	types := makeTypeSet(opts.Types)
	idx := &Index{}

	for _, snap := range s.snapshots.All() {
		if opts.Course != "" && !courseMatches(opts.Course, snap) {
			continue
		}
		for _, r := range snap.Resources {
			if len(types) > 0 && !types[r.Type] {
				continue
			}
			idx.items = append(idx.items, Item{Resource: r, CourseTitle: snap.Title})
			idx.lowerTitles = append(idx.lowerTitles, strings.ToLower(r.Title))
		}
	}
	return idx
}

func courseMatches(filter string, snap *domain.CourseSnapshot) bool {
	return filter == snap.CourseID || lfuzzy.MatchFold(filter, snap.Title)
}

func makeTypeSet(types []domain.ResourceType) map[domain.ResourceType]bool {
	if len(types) == 0 {
		return nil
	}
	set := make(map[domain.ResourceType]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return set
}
