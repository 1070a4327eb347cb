package catalog

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"go.skia.org/cif/go/cif/types"
	"go.skia.org/cif/go/now"
)

// InMemoryCatalog implements the Catalog interface using in-memory maps. It
// mirrors the query semantics of the Spanner implementation closely enough
// for tests, including pagination, promotion and the sentinel handling of
// deferred rows. Text search is approximated with case-insensitive token
// matching.
type InMemoryCatalog struct {
	mu           sync.RWMutex
	sources      map[string]*types.Source
	stage        []*types.StageRow
	artifacts    map[string]*types.Artifact
	generations  []generationRow
	fragments    map[fragmentPK]*types.Fragment
	fragmentKeys map[fragmentKeyPK]*types.FragmentKey
	deferred     map[deferredPK]*types.DeferredDisaggregation
}

type generationRow struct {
	sourceID     string
	generationID int64
	artifactID   string
	createdOn    time.Time
}

type fragmentPK struct {
	artifactID string
	fragmentID string
	seqNo      int64
}

type fragmentKeyPK struct {
	artifactID string
	fragmentID string
	seqNo      int64
	key        string
	value      string
}

type deferredPK struct {
	sourceID      string
	generationID  int64
	artifactID    string
	extractorType string
	fragmentID    string
	startByte     int64
	endByte       int64
}

// NewInMemoryCatalog returns a new empty InMemoryCatalog.
func NewInMemoryCatalog() *InMemoryCatalog {
	return &InMemoryCatalog{
		sources:      map[string]*types.Source{},
		artifacts:    map[string]*types.Artifact{},
		fragments:    map[fragmentPK]*types.Fragment{},
		fragmentKeys: map[fragmentKeyPK]*types.FragmentKey{},
		deferred:     map[deferredPK]*types.DeferredDisaggregation{},
	}
}

// page returns the [offset, offset+limit) window of items and the offset of
// the next page, mirroring the pagination of the Spanner implementation.
func page[T any](items []T, limit, offset int) ([]T, int, error) {
	if limit < 1 {
		return nil, 0, types.Validationf("limit must be positive, got %d", limit)
	}
	if offset < 0 {
		return nil, 0, types.Validationf("offset may not be negative, got %d", offset)
	}
	start := offset
	if start > len(items) {
		start = len(items)
	}
	end := start + limit
	if end > len(items) {
		end = len(items)
	}
	out := append([]T{}, items[start:end]...)
	if end-start == limit {
		return out, offset + limit, nil
	}
	return out, NoMoreResults, nil
}

// Sources implements Catalog.
func (c *InMemoryCatalog) Sources(ctx context.Context, limit, offset int) ([]*types.Source, int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	all := make([]*types.Source, 0, len(c.sources))
	for _, s := range c.sources {
		all = append(all, s)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].SourceID < all[j].SourceID })
	return page(all, limit, offset)
}

// Source implements Catalog.
func (c *InMemoryCatalog) Source(ctx context.Context, sourceID string) (*types.Source, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sources[sourceID]
	if !ok {
		return nil, errors.Wrapf(types.ErrNotFound, "source %q", sourceID)
	}
	return s, nil
}

// PutSource implements Catalog.
func (c *InMemoryCatalog) PutSource(ctx context.Context, source *types.Source) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources[source.SourceID] = source
	return nil
}

// likeToRegexp converts a SQL LIKE pattern into an equivalent regexp.
func likeToRegexp(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}

// SearchSources implements Catalog.
func (c *InMemoryCatalog) SearchSources(ctx context.Context, externalIDLike string, limit, offset int) ([]*types.Source, int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	re := likeToRegexp(externalIDLike)
	matches := []*types.Source{}
	for _, s := range c.sources {
		if re.MatchString(s.ExternalID) {
			matches = append(matches, s)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].SourceID < matches[j].SourceID })
	return page(matches, limit, offset)
}

// InsertStageRows implements Catalog.
func (c *InMemoryCatalog) InsertStageRows(ctx context.Context, rows []*types.StageRow) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stage = append(c.stage, rows...)
	return nil
}

// identity is the (external_id, version) pair artifacts are deduplicated on
// within a source.
type identity struct {
	externalID string
	version    string
}

// generationIdentities returns the (external_id, version) pairs of every
// artifact in the given generation. Callers hold the lock.
func (c *InMemoryCatalog) generationIdentities(sourceID string, generationID int64) map[identity]bool {
	ret := map[identity]bool{}
	for _, g := range c.generations {
		if g.sourceID != sourceID || g.generationID != generationID {
			continue
		}
		if a, ok := c.artifacts[g.artifactID]; ok {
			ret[identity{a.ExternalID, a.Version}] = true
		}
	}
	return ret
}

// CountInsertedUpdated implements Catalog.
func (c *InMemoryCatalog) CountInsertedUpdated(ctx context.Context, stageID, sourceID string, generationID int64) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	existing := c.generationIdentities(sourceID, generationID)
	var count int64
	for _, row := range c.stage {
		if row.StageID != stageID || row.SourceID != sourceID {
			continue
		}
		if !existing[identity{row.ExternalID, row.Version}] {
			count++
		}
	}
	return count, nil
}

// CountDeleted implements Catalog.
func (c *InMemoryCatalog) CountDeleted(ctx context.Context, stageID, sourceID string, generationID int64) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	staged := map[identity]bool{}
	for _, row := range c.stage {
		if row.StageID == stageID && row.SourceID == sourceID {
			staged[identity{row.ExternalID, row.Version}] = true
		}
	}
	var count int64
	for id := range c.generationIdentities(sourceID, generationID) {
		if !staged[id] {
			count++
		}
	}
	return count, nil
}

// Promote implements Catalog.
func (c *InMemoryCatalog) Promote(ctx context.Context, stageID string, batchID int64, sourceID string) (PromoteCounts, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Index existing artifacts of the source by identity.
	existing := map[identity]string{}
	for _, a := range c.artifacts {
		if a.SourceID == sourceID {
			existing[identity{a.ExternalID, a.Version}] = a.ArtifactID
		}
	}

	var counts PromoteCounts
	for _, row := range c.stage {
		if row.StageID != stageID || row.BatchID != batchID || row.SourceID != sourceID {
			continue
		}
		if artifactID, ok := existing[identity{row.ExternalID, row.Version}]; ok {
			row.ArtifactID = artifactID
			counts.Matched++
		} else {
			c.artifacts[row.ArtifactID] = &types.Artifact{
				SourceID:      row.SourceID,
				ArtifactID:    row.ArtifactID,
				CreatedOn:     row.CreatedOn,
				ExternalID:    row.ExternalID,
				Version:       row.Version,
				ContentLength: row.ContentLength,
				ContentType:   row.ContentType,
			}
			counts.Inserted++
		}
		c.generations = append(c.generations, generationRow{
			sourceID:     row.SourceID,
			generationID: types.GenerationIDFromTime(row.CreatedOn),
			artifactID:   row.ArtifactID,
			createdOn:    row.CreatedOn,
		})
		counts.Total++
	}
	return counts, nil
}

// Generations implements Catalog.
func (c *InMemoryCatalog) Generations(ctx context.Context, sourceID string, limit, offset int) ([]*types.Generation, int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := map[int64]time.Time{}
	for _, g := range c.generations {
		if g.sourceID == sourceID {
			seen[g.generationID] = g.createdOn
		}
	}
	all := make([]*types.Generation, 0, len(seen))
	for id, createdOn := range seen {
		all = append(all, &types.Generation{SourceID: sourceID, GenerationID: id, CreatedOn: createdOn})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].GenerationID > all[j].GenerationID })
	return page(all, limit, offset)
}

// LatestGeneration implements Catalog.
func (c *InMemoryCatalog) LatestGeneration(ctx context.Context, sourceID string) (*types.Generation, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var latest *types.Generation
	for _, g := range c.generations {
		if g.sourceID != sourceID {
			continue
		}
		if latest == nil || g.generationID > latest.GenerationID {
			latest = &types.Generation{SourceID: sourceID, GenerationID: g.generationID, CreatedOn: g.createdOn}
		}
	}
	if latest == nil {
		return nil, errors.Wrapf(types.ErrNotFound, "latest generation of source %q", sourceID)
	}
	return latest, nil
}

// Generation implements Catalog.
func (c *InMemoryCatalog) Generation(ctx context.Context, sourceID string, generationID int64) (*types.Generation, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, g := range c.generations {
		if g.sourceID == sourceID && g.generationID == generationID {
			return &types.Generation{SourceID: sourceID, GenerationID: g.generationID, CreatedOn: g.createdOn}, nil
		}
	}
	return nil, errors.Wrapf(types.ErrNotFound, "generation %d of source %q", generationID, sourceID)
}

// GenerationArtifacts implements Catalog.
func (c *InMemoryCatalog) GenerationArtifacts(ctx context.Context, sourceID string, generationID int64, limit, offset int) ([]*types.Artifact, int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	all := []*types.Artifact{}
	for _, g := range c.generations {
		if g.sourceID != sourceID || g.generationID != generationID {
			continue
		}
		if a, ok := c.artifacts[g.artifactID]; ok {
			all = append(all, a)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ArtifactID < all[j].ArtifactID })
	return page(all, limit, offset)
}

// NewArtifacts implements Catalog.
func (c *InMemoryCatalog) NewArtifacts(ctx context.Context, sourceID string, generationID int64, limit, offset int) ([]*types.Artifact, int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	all := []*types.Artifact{}
	for _, g := range c.generations {
		if g.sourceID != sourceID || g.generationID != generationID {
			continue
		}
		// An artifact is new in the generation that first observed it,
		// identified by matching creation times.
		if a, ok := c.artifacts[g.artifactID]; ok && a.CreatedOn.Equal(g.createdOn) {
			all = append(all, a)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ArtifactID < all[j].ArtifactID })
	return page(all, limit, offset)
}

// Artifact implements Catalog.
func (c *InMemoryCatalog) Artifact(ctx context.Context, artifactID string) (*types.Artifact, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.artifacts[artifactID]
	if !ok {
		return nil, errors.Wrapf(types.ErrNotFound, "artifact %q", artifactID)
	}
	return a, nil
}

// DiffGenerations implements Catalog.
func (c *InMemoryCatalog) DiffGenerations(ctx context.Context, sourceID string, generationIDA, generationIDB int64, limit, offset int) ([]*types.ArtifactChange, int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	byExternal := func(generationID int64) map[string]string {
		ret := map[string]string{}
		for _, g := range c.generations {
			if g.sourceID != sourceID || g.generationID != generationID {
				continue
			}
			if a, ok := c.artifacts[g.artifactID]; ok {
				ret[a.ExternalID] = a.ArtifactID
			}
		}
		return ret
	}
	sideA := byExternal(generationIDA)
	sideB := byExternal(generationIDB)
	externals := map[string]bool{}
	for e := range sideA {
		externals[e] = true
	}
	for e := range sideB {
		externals[e] = true
	}
	all := make([]*types.ArtifactChange, 0, len(externals))
	for e := range externals {
		change := &types.ArtifactChange{ExternalID: e}
		idA, inA := sideA[e]
		idB, inB := sideB[e]
		if inA {
			change.ArtifactIDA = &idA
		}
		if inB {
			change.ArtifactIDB = &idB
		}
		switch {
		case !inA:
			change.Change = types.ChangeInserted
		case !inB:
			change.Change = types.ChangeDeleted
		case idA != idB:
			change.Change = types.ChangeUpdated
		default:
			change.Change = types.ChangeNone
		}
		all = append(all, change)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ExternalID < all[j].ExternalID })
	return page(all, limit, offset)
}

// InsertFragments implements Catalog.
func (c *InMemoryCatalog) InsertFragments(ctx context.Context, fragments []*types.Fragment) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range fragments {
		c.fragments[fragmentPK{f.ArtifactID, f.FragmentID, f.SeqNo}] = f
	}
	return nil
}

// InsertFragmentKeys implements Catalog.
func (c *InMemoryCatalog) InsertFragmentKeys(ctx context.Context, keys []*types.FragmentKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		c.fragmentKeys[fragmentKeyPK{k.ArtifactID, k.FragmentID, k.SeqNo, k.Key, k.Value}] = k
	}
	return nil
}

// searchScope resolves the common fragment search filters into the set of
// candidate fragments with their generation membership. Callers hold the
// lock.
func (c *InMemoryCatalog) searchScope(sourceID string, opts SearchOptions) []*types.FragmentMatch {
	generationID := opts.GenerationID
	if generationID == 0 {
		for _, g := range c.generations {
			if g.sourceID == sourceID && g.generationID > generationID {
				generationID = g.generationID
			}
		}
	}
	inGeneration := map[string]bool{}
	for _, g := range c.generations {
		if g.sourceID == sourceID && g.generationID == generationID {
			inGeneration[g.artifactID] = true
		}
	}
	ret := []*types.FragmentMatch{}
	for _, f := range c.fragments {
		if f.SourceID != sourceID || !inGeneration[f.ArtifactID] {
			continue
		}
		if opts.AggregationLevel != "" && f.AggregationLevel != opts.AggregationLevel {
			continue
		}
		a := c.artifacts[f.ArtifactID]
		if a == nil {
			continue
		}
		if opts.ExternalID != "" && a.ExternalID != opts.ExternalID {
			continue
		}
		ret = append(ret, &types.FragmentMatch{
			Fragment:     *f,
			GenerationID: generationID,
			ExternalID:   a.ExternalID,
		})
	}
	sort.Slice(ret, func(i, j int) bool {
		if ret[i].ArtifactID != ret[j].ArtifactID {
			return ret[i].ArtifactID < ret[j].ArtifactID
		}
		if ret[i].FragmentID != ret[j].FragmentID {
			return ret[i].FragmentID < ret[j].FragmentID
		}
		return ret[i].SeqNo < ret[j].SeqNo
	})
	return ret
}

// score counts case-insensitive occurrences of the query tokens, standing in
// for Spanner's SCORE functions.
func score(text, query string) float64 {
	text = strings.ToLower(text)
	var total float64
	for _, token := range strings.Fields(strings.ToLower(query)) {
		total += float64(strings.Count(text, token))
	}
	return total
}

// matchesQuery reports whether every token of the query occurs in the text,
// case-insensitively, standing in for Spanner's SEARCH functions.
func matchesQuery(text, query string) bool {
	text = strings.ToLower(text)
	for _, token := range strings.Fields(strings.ToLower(query)) {
		if !strings.Contains(text, token) {
			return false
		}
	}
	return true
}

// SearchFragments implements Catalog.
func (c *InMemoryCatalog) SearchFragments(ctx context.Context, sourceID, query, scoreQuery string, ngram bool, opts SearchOptions, limit, offset int) ([]*types.FragmentMatch, int, error) {
	if ngram {
		if query == "" && scoreQuery == "" {
			return nil, 0, types.Validationf("at least one of query or score_query must be supplied for ngram searches")
		}
	} else if query == "" {
		return nil, 0, types.Validationf("a query is required for text searches")
	}
	if scoreQuery == "" {
		scoreQuery = query
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	scope := c.searchScope(sourceID, opts)
	matches := []*types.FragmentMatch{}
	for _, m := range scope {
		if query != "" && !matchesQuery(m.TextContent, query) {
			continue
		}
		relevance := score(m.TextContent, scoreQuery)
		m.Relevance = &relevance
		matches = append(matches, m)
	}
	sort.SliceStable(matches, func(i, j int) bool { return *matches[i].Relevance > *matches[j].Relevance })
	return page(matches, limit, offset)
}

// jsonPathValue resolves a "$.field" JSON path against a fragment's
// json_content.
func jsonPathValue(content map[string]string, path string) (string, bool) {
	field := strings.TrimPrefix(path, "$.")
	v, ok := content[field]
	return v, ok
}

// SearchFragmentsJSON implements Catalog.
func (c *InMemoryCatalog) SearchFragmentsJSON(ctx context.Context, sourceID string, terms []types.JSONSearchTerm, opts SearchOptions, limit, offset int) ([]*types.FragmentMatch, int, error) {
	if len(terms) == 0 {
		return nil, 0, types.Validationf("at least one search term is required")
	}
	for _, term := range terms {
		if term.JSONPath == "" || len(term.Values) == 0 {
			return nil, 0, types.Validationf("each search term requires a json_path and at least one value")
		}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	scope := c.searchScope(sourceID, opts)
	matches := []*types.FragmentMatch{}
	for _, m := range scope {
		matched := true
		for _, term := range terms {
			v, ok := jsonPathValue(m.JSONContent, term.JSONPath)
			if !ok || !contains(term.Values, v) {
				matched = false
				break
			}
		}
		if matched {
			matches = append(matches, m)
		}
	}
	return page(matches, limit, offset)
}

// SearchFragmentsKey implements Catalog.
func (c *InMemoryCatalog) SearchFragmentsKey(ctx context.Context, sourceID string, terms []types.KeySearchTerm, opts SearchOptions, limit, offset int) ([]*types.FragmentMatch, int, error) {
	if err := types.ValidateID(sourceID); err != nil {
		return nil, 0, err
	}
	if len(terms) == 0 {
		return nil, 0, types.Validationf("at least one search term is required")
	}
	for _, term := range terms {
		if term.Key == "" || len(term.Values) == 0 {
			return nil, 0, types.Validationf("each search term requires a key and at least one value")
		}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	scope := c.searchScope(sourceID, opts)
	matches := []*types.FragmentMatch{}
	for _, m := range scope {
		// A fragment matches when the keys satisfying any term cover as
		// many distinct key names as there are terms, the same rule as the
		// HAVING COUNT(DISTINCT key) clause in the Spanner implementation.
		matchedKeys := map[string]bool{}
		for _, k := range c.fragmentKeys {
			if k.ArtifactID != m.ArtifactID || k.FragmentID != m.FragmentID || k.SeqNo != m.SeqNo {
				continue
			}
			for _, term := range terms {
				if k.Key == term.Key && contains(term.Values, k.Value) {
					matchedKeys[k.Key] = true
				}
			}
		}
		if len(matchedKeys) == len(terms) {
			matches = append(matches, m)
		}
	}
	return page(matches, limit, offset)
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func deferredKey(row *types.DeferredDisaggregation) deferredPK {
	pk := deferredPK{
		sourceID:      row.SourceID,
		generationID:  row.GenerationID,
		artifactID:    row.ArtifactID,
		extractorType: row.ExtractorType,
		startByte:     -1,
		endByte:       -1,
	}
	if row.FragmentID != nil {
		pk.fragmentID = *row.FragmentID
	}
	if row.StartByte != nil {
		pk.startByte = *row.StartByte
	}
	if row.EndByte != nil {
		pk.endByte = *row.EndByte
	}
	return pk
}

// UpsertDeferredDisaggregations implements Catalog.
func (c *InMemoryCatalog) UpsertDeferredDisaggregations(ctx context.Context, rows []*types.DeferredDisaggregation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, row := range rows {
		cp := *row
		c.deferred[deferredKey(row)] = &cp
	}
	return nil
}

// UpdateDeferredStatus implements Catalog.
func (c *InMemoryCatalog) UpdateDeferredStatus(ctx context.Context, row *types.DeferredDisaggregation, status types.DeferredStatus, deliveryAttempt int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *row
	cp.Status = status
	cp.DeliveryAttempt = deliveryAttempt
	c.deferred[deferredKey(row)] = &cp
	return nil
}

// deferredInRange returns the deferred rows selected by q, unsorted. Callers
// hold the lock.
func (c *InMemoryCatalog) deferredInRange(ctx context.Context, q DeferredQuery) []*types.DeferredDisaggregation {
	start := q.CreatedOnStart
	if start.IsZero() {
		start = now.Now(ctx).UTC().Truncate(24 * time.Hour)
	}
	ret := []*types.DeferredDisaggregation{}
	for _, row := range c.deferred {
		if row.CreatedOn.Before(start) {
			continue
		}
		if !q.CreatedOnEnd.IsZero() && row.CreatedOn.After(q.CreatedOnEnd) {
			continue
		}
		if q.SourceID != "" && row.SourceID != q.SourceID {
			continue
		}
		ret = append(ret, row)
	}
	return ret
}

// DeferredDisaggregations implements Catalog.
func (c *InMemoryCatalog) DeferredDisaggregations(ctx context.Context, q DeferredQuery) ([]*types.DeferredDisaggregation, int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	all := c.deferredInRange(ctx, q)
	sort.Slice(all, func(i, j int) bool {
		if all[i].SourceID != all[j].SourceID {
			return all[i].SourceID < all[j].SourceID
		}
		if !all[i].CreatedOn.Equal(all[j].CreatedOn) {
			return all[i].CreatedOn.Before(all[j].CreatedOn)
		}
		return all[i].Status > all[j].Status
	})
	return page(all, q.Limit, q.Offset)
}

// DeferredDisaggregationSummaries implements Catalog.
func (c *InMemoryCatalog) DeferredDisaggregationSummaries(ctx context.Context, q DeferredQuery) ([]*types.DeferredDisaggregationSummary, int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	type groupKey struct {
		sourceID     string
		generationID int64
		status       types.DeferredStatus
	}
	groups := map[groupKey]*types.DeferredDisaggregationSummary{}
	artifactSets := map[groupKey]map[string]bool{}
	attempts := map[groupKey]int64{}
	for _, row := range c.deferredInRange(ctx, q) {
		key := groupKey{row.SourceID, row.GenerationID, row.Status}
		s, ok := groups[key]
		if !ok {
			s = &types.DeferredDisaggregationSummary{
				SourceID:     row.SourceID,
				GenerationID: row.GenerationID,
				Status:       row.Status,
				MinCreatedOn: row.CreatedOn,
				MaxCreatedOn: row.CreatedOn,
			}
			groups[key] = s
			artifactSets[key] = map[string]bool{}
		}
		s.DisaggregationCount++
		artifactSets[key][row.ArtifactID] = true
		attempts[key] += row.DeliveryAttempt
		if row.CreatedOn.Before(s.MinCreatedOn) {
			s.MinCreatedOn = row.CreatedOn
		}
		if row.CreatedOn.After(s.MaxCreatedOn) {
			s.MaxCreatedOn = row.CreatedOn
		}
	}
	all := make([]*types.DeferredDisaggregationSummary, 0, len(groups))
	for key, s := range groups {
		s.ArtifactCount = int64(len(artifactSets[key]))
		s.AvgDeliveryAttempt = float64(attempts[key]) / float64(s.DisaggregationCount)
		all = append(all, s)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].SourceID != all[j].SourceID {
			return all[i].SourceID < all[j].SourceID
		}
		if all[i].GenerationID != all[j].GenerationID {
			return all[i].GenerationID < all[j].GenerationID
		}
		if !all[i].MinCreatedOn.Equal(all[j].MinCreatedOn) {
			return all[i].MinCreatedOn.Before(all[j].MinCreatedOn)
		}
		return all[i].Status < all[j].Status
	})
	return page(all, q.Limit, q.Offset)
}

var _ Catalog = (*InMemoryCatalog)(nil)
