package flow

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/sifxtreme/jarvis-sub000/internal/models"
)

// Default resolver tunables. Empirically chosen; overridable via ResolverOpts.
const (
	DefaultAutoPickMin     = 6
	DefaultAutoPickGap     = 3
	DefaultFuzzyCutoff     = 0.2
	DefaultWindowBackDays  = 30
	DefaultWindowAheadDays = 90
	DefaultWindowCacheSize = 256
	DefaultWindowCacheTTL  = 30 * time.Second
)

// TargetQuery is a partial reference to an event: any combination of title,
// ISO date, and HH:MM start time.
type TargetQuery struct {
	Title     string
	Date      string
	StartTime string
}

// IsEmpty reports whether the query carries no identifying detail.
func (q TargetQuery) IsEmpty() bool {
	return q.Title == "" && q.Date == "" && q.StartTime == ""
}

// eventLister is the resolver's view of the calendar.
type eventLister interface {
	ListEvents(ctx context.Context, userID string, from, to time.Time) ([]models.CalendarEvent, error)
}

// ResolverOpts holds the resolver's tunable constants.
type ResolverOpts struct {
	AutoPickMin int     // minimum top score for auto-pick
	AutoPickGap int     // minimum lead over the runner-up
	FuzzyCutoff float64 // similarity threshold for the fuzzy fallback
	WindowBack  time.Duration
	WindowAhead time.Duration
	CacheTTL    time.Duration
}

func (o *ResolverOpts) applyDefaults() {
	if o.AutoPickMin == 0 {
		o.AutoPickMin = DefaultAutoPickMin
	}
	if o.AutoPickGap == 0 {
		o.AutoPickGap = DefaultAutoPickGap
	}
	if o.FuzzyCutoff == 0 {
		o.FuzzyCutoff = DefaultFuzzyCutoff
	}
	if o.WindowBack == 0 {
		o.WindowBack = DefaultWindowBackDays * 24 * time.Hour
	}
	if o.WindowAhead == 0 {
		o.WindowAhead = DefaultWindowAheadDays * 24 * time.Hour
	}
	if o.CacheTTL == 0 {
		o.CacheTTL = DefaultWindowCacheTTL
	}
}

type cachedWindow struct {
	events    []models.CalendarEvent
	fetchedAt time.Time
}

// Resolver scores calendar events against a partial query, with a fallback
// relaxation ladder and a fuzzy-similarity last resort.
type Resolver struct {
	events eventLister
	cache  *lru.Cache[string, cachedWindow]
	opts   ResolverOpts
}

// NewResolver creates a resolver over the given calendar view.
func NewResolver(events eventLister, opts ResolverOpts) *Resolver {
	opts.applyDefaults()
	cache, err := lru.New[string, cachedWindow](DefaultWindowCacheSize)
	if err != nil {
		// Only reachable with a non-positive size constant.
		panic(fmt.Sprintf("flow.NewResolver: cache init failed: %v", err))
	}
	return &Resolver{events: events, cache: cache, opts: opts}
}

// Resolve returns scored candidates for the query, best first. The ladder
// never fails into an error for an empty result: it relaxes date/time, then
// falls back to fuzzy title similarity, then returns an empty slice.
func (r *Resolver) Resolve(ctx context.Context, userID string, q TargetQuery, now time.Time, loc *time.Location) ([]models.Candidate, error) {
	window, err := r.windowEvents(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	slog.Debug("Resolver.Resolve scoring window", "userID", userID, "windowSize", len(window),
		"title", q.Title, "date", q.Date, "startTime", q.StartTime)

	candidates := r.scoreAll(window, q, now, loc)
	if len(candidates) > 0 {
		return candidates, nil
	}

	// Ladder step one: drop date/time constraints, retry on title alone.
	if q.Title != "" && (q.Date != "" || q.StartTime != "") {
		relaxed := TargetQuery{Title: q.Title}
		candidates = r.scoreAll(window, relaxed, now, loc)
		if len(candidates) > 0 {
			slog.Debug("Resolver.Resolve matched on relaxed query", "userID", userID, "count", len(candidates))
			return candidates, nil
		}
	}

	// Ladder step two: fuzzy title similarity.
	if q.Title != "" {
		candidates = r.fuzzyMatch(window, q.Title, now)
		if len(candidates) > 0 {
			slog.Debug("Resolver.Resolve matched on fuzzy similarity", "userID", userID, "count", len(candidates))
		}
	}
	return candidates, nil
}

// AutoPick decides whether the top candidate is unambiguous enough to select
// without asking. A single candidate is always picked; with two or more the
// top must clear the minimum score and lead the runner-up by the gap.
func (r *Resolver) AutoPick(candidates []models.Candidate) (*models.Candidate, bool) {
	switch {
	case len(candidates) == 0:
		return nil, false
	case len(candidates) == 1:
		return &candidates[0], true
	}
	top, second := candidates[0], candidates[1]
	if top.Score >= r.opts.AutoPickMin && top.Score >= second.Score+r.opts.AutoPickGap {
		slog.Debug("Resolver.AutoPick selecting top candidate", "topScore", top.Score, "secondScore", second.Score)
		return &top, true
	}
	return nil, false
}

// windowEvents fetches the bounded entity window, serving a recent cached
// copy when available.
func (r *Resolver) windowEvents(ctx context.Context, userID string, now time.Time) ([]models.CalendarEvent, error) {
	if cached, ok := r.cache.Get(userID); ok && now.Sub(cached.fetchedAt) < r.opts.CacheTTL {
		return cached.events, nil
	}
	from := now.Add(-r.opts.WindowBack)
	to := now.Add(r.opts.WindowAhead)
	events, err := r.events.ListEvents(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate window: %w", err)
	}
	r.cache.Add(userID, cachedWindow{events: events, fetchedAt: now})
	return events, nil
}

// FindByID looks an event up in the candidate window by id.
func (r *Resolver) FindByID(ctx context.Context, userID, eventID string, now time.Time) (*models.CalendarEvent, error) {
	window, err := r.windowEvents(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	for _, e := range window {
		if e.ID == eventID {
			return &e, nil
		}
	}
	return nil, nil
}

// Invalidate drops the cached window for a user after a mutation.
func (r *Resolver) Invalidate(userID string) {
	r.cache.Remove(userID)
}

func (r *Resolver) scoreAll(window []models.CalendarEvent, q TargetQuery, now time.Time, loc *time.Location) []models.Candidate {
	var candidates []models.Candidate
	for _, e := range window {
		score := scoreEvent(e, q, loc)
		if score <= 0 {
			continue
		}
		candidates = append(candidates, models.Candidate{
			Event:    e,
			Score:    score,
			Distance: absDuration(e.StartAt.Sub(now)),
		})
	}
	sortCandidates(candidates)
	return candidates
}

// scoreEvent implements the scoring rubric: exact title +5 or substring +3,
// token overlap with a coverage bonus, same date +3, start time within 60
// minutes +2 and within 15 minutes +1 more.
func scoreEvent(e models.CalendarEvent, q TargetQuery, loc *time.Location) int {
	score := 0

	if q.Title != "" {
		title := normalizeTitle(e.Title)
		query := normalizeTitle(q.Title)
		switch {
		case title == query:
			score += 5
		case strings.Contains(title, query) || strings.Contains(query, title):
			score += 3
		}
		queryTokens := strings.Fields(query)
		titleTokens := make(map[string]bool)
		for _, tok := range strings.Fields(title) {
			titleTokens[tok] = true
		}
		overlap := 0
		for _, tok := range queryTokens {
			if titleTokens[tok] {
				overlap++
			}
		}
		if overlap > 0 && len(queryTokens) > 0 {
			score += overlap
			score += int(math.Round(3 * float64(overlap) / float64(len(queryTokens))))
		}
	}

	if loc == nil {
		loc = time.UTC
	}
	start := e.StartAt.In(loc)
	if q.Date != "" && start.Format("2006-01-02") == q.Date {
		score += 3
	}
	if q.StartTime != "" {
		if t, err := time.ParseInLocation("15:04", q.StartTime, loc); err == nil {
			queryMinutes := t.Hour()*60 + t.Minute()
			eventMinutes := start.Hour()*60 + start.Minute()
			diff := queryMinutes - eventMinutes
			if diff < 0 {
				diff = -diff
			}
			if diff <= 60 {
				score += 2
			}
			if diff <= 15 {
				score++
			}
		}
	}
	return score
}

// fuzzyMatch scores window titles by edit-distance similarity against the
// query title; similarity below the cutoff is discarded.
func (r *Resolver) fuzzyMatch(window []models.CalendarEvent, title string, now time.Time) []models.Candidate {
	query := normalizeTitle(title)
	var candidates []models.Candidate
	for _, e := range window {
		sim := similarity(normalizeTitle(e.Title), query)
		if sim < r.opts.FuzzyCutoff {
			continue
		}
		score := int(math.Round(sim * 10))
		if score <= 0 {
			continue
		}
		candidates = append(candidates, models.Candidate{
			Event:    e,
			Score:    score,
			Distance: absDuration(e.StartAt.Sub(now)),
		})
	}
	sortCandidates(candidates)
	return candidates
}

// similarity maps edit distance into [0, 1]; 1 means identical strings.
func similarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(maxLen)
}

func sortCandidates(candidates []models.Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Distance < candidates[j].Distance
	})
}

func normalizeTitle(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
