package scenecache

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/storyloom/storyloom/internal/models"
	"github.com/storyloom/storyloom/internal/observability"
	"github.com/storyloom/storyloom/internal/repository"
	"github.com/storyloom/storyloom/internal/storage"
)

// Shortlist and pool sizes for the two lookup modes.
const (
	strictShortlistSize = 5
	lenientShortlist    = 20
	lenientRefPoolSize  = 200
	recentPoolSize      = 200
)

// DefaultMaxEntries caps the cache when configuration does not.
const DefaultMaxEntries = 3000

// Cache is the scene-image reuse store. One mutex serializes every lookup
// and mutation: the index is small and correctness of the prune/insert and
// binding maintenance matters more than read concurrency here.
type Cache struct {
	repo       repository.SceneCacheRepository
	imagesDir  string
	maxEntries int
	selector   Selector
	logger     *slog.Logger

	mu sync.Mutex
}

// New creates a cache over the given repository, storing image files under
// imagesDir.
func New(repo repository.SceneCacheRepository, imagesDir string, maxEntries int, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	if maxEntries < 1 {
		maxEntries = DefaultMaxEntries
	}
	return &Cache{
		repo:       repo,
		imagesDir:  imagesDir,
		maxEntries: maxEntries,
		logger:     observability.WithComponent(logger, "scenecache"),
	}
}

// WithSelector wires the LLM reuse selector. Without one, lookups stop at
// the exact-match and conservative rules.
func (c *Cache) WithSelector(selector Selector) *Cache {
	c.selector = selector
	return c
}

// EnsureBindings backfills the reference-binding index from stored profiles
// when the binding table is empty but entries exist. Called once at open.
func (c *Cache) EnsureBindings(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	bindingCount, err := c.repo.CountBindings(ctx)
	if err != nil {
		return err
	}
	entryCount, err := c.repo.Count(ctx)
	if err != nil {
		return err
	}
	if bindingCount > 0 || entryCount == 0 {
		return nil
	}

	entries, err := c.repo.ListRecent(ctx, 0)
	if err != nil {
		return err
	}
	var bindings []models.SceneRefBinding
	for _, entry := range entries {
		profile, err := entry.MatchProfile()
		if err != nil {
			continue
		}
		bindings = append(bindings, bindingsFor(entry.ID, profile.ReferenceImageIDs, profile.ReferenceImagePaths)...)
	}
	if len(bindings) == 0 {
		return nil
	}
	if err := c.repo.InsertBindings(ctx, bindings); err != nil {
		return fmt.Errorf("backfilling scene ref bindings: %w", err)
	}
	c.logger.Info("backfilled scene ref bindings", "entries", len(entries), "bindings", len(bindings))
	return nil
}

// ImageFile resolves an entry's image path against the cache directory.
func (c *Cache) ImageFile(entry *models.SceneEntry) string {
	if filepath.IsAbs(entry.ImagePath) {
		return entry.ImagePath
	}
	return filepath.Join(c.imagesDir, entry.ImagePath)
}

// Count returns the number of index entries.
func (c *Cache) Count(ctx context.Context) (int64, error) {
	return c.repo.Count(ctx)
}

// FindReusableSceneImage runs the strict lookup: candidate prefilter,
// admissibility verdict, ranking, exact-text short circuits, selector
// precheck, LLM selection with cross-checks, and finally the conservative
// byte-equal fallback. A nil match with nil error means "generate fresh".
func (c *Cache) FindReusableSceneImage(ctx context.Context, desc *models.SceneDescriptor, modelID string, disallow []int64) (*models.SceneMatch, error) {
	if desc == nil {
		return nil, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	target := BuildMatchProfile(desc)
	candidates, err := c.admissibleCandidates(ctx, target, disallow, false)
	if err != nil || len(candidates) == 0 {
		return nil, err
	}

	rankCandidates(candidates, false)
	shortlist := candidates
	if len(shortlist) > strictShortlistSize {
		shortlist = shortlist[:strictShortlistSize]
	}

	// Byte-equal action and location beat any model opinion. The shortlist
	// is rank-ordered, so the first exact candidate is also the best one.
	for _, cand := range shortlist {
		if cand.Details.TextExact() {
			matchType := models.SceneMatchTextExact
			if len(shortlist) == 1 {
				matchType = models.SceneMatchSingleExact
			}
			return &models.SceneMatch{Entry: cand.Entry, MatchType: matchType, Confidence: 1.0}, nil
		}
	}

	// The precheck gates on the best candidate alone. When the leader is
	// weak nothing reaches the selector.
	if !shortlist[0].Details.PassesPrecheck() {
		return nil, nil
	}

	if c.selector != nil {
		match, err := c.selectWithLLM(ctx, target, shortlist, true, modelID)
		if err == nil {
			return match, nil
		}
		c.logger.Warn("reuse selector failed, trying conservative fallback", "error", err)
	}

	// Selector unavailable or broken: only a byte-equal candidate is safe.
	if shortlist[0].Details.TextExact() {
		return &models.SceneMatch{Entry: shortlist[0].Entry, MatchType: models.SceneMatchConservative, Confidence: 1.0}, nil
	}
	return nil, nil
}

// ForceLLMSelectSceneImage runs the lenient lookup used when generation has
// already failed: admissibility is dropped, same-character candidates get a
// ranking bonus, and the selector is asked in lenient mode. Reference
// overlap is still cross-checked so a wrong face never slips through.
func (c *Cache) ForceLLMSelectSceneImage(ctx context.Context, desc *models.SceneDescriptor, modelID string, disallow []int64) (*models.SceneMatch, error) {
	if desc == nil || c.selector == nil {
		return nil, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	target := BuildMatchProfile(desc)
	candidates, err := c.admissibleCandidates(ctx, target, disallow, true)
	if err != nil || len(candidates) == 0 {
		return nil, err
	}

	rankCandidates(candidates, true)
	if len(candidates) > lenientShortlist {
		candidates = candidates[:lenientShortlist]
	}

	match, err := c.selectWithLLM(ctx, target, candidates, false, modelID)
	if err != nil {
		c.logger.Warn("lenient reuse selection failed", "error", err)
		return nil, nil
	}
	if match != nil {
		match.MatchType = models.SceneMatchLLMFallback
	}
	return match, nil
}

// selectWithLLM asks the selector about a shortlist and cross-checks its
// answer before trusting it.
func (c *Cache) selectWithLLM(ctx context.Context, target *models.SceneMatchProfile, shortlist []scoredCandidate, strict bool, modelID string) (*models.SceneMatch, error) {
	wire := make([]SelectorCandidate, 0, len(shortlist))
	for _, cand := range shortlist {
		wire = append(wire, SelectorCandidate{EntryID: cand.Entry.ID, Profile: cand.Profile})
	}

	decision, err := c.selector.Select(ctx, target, wire, strict, modelID)
	if err != nil {
		return nil, err
	}
	if decision == nil || !decision.ShouldReuse {
		return nil, nil
	}

	var selected *scoredCandidate
	for i := range shortlist {
		if shortlist[i].Entry.ID == decision.SelectedID {
			selected = &shortlist[i]
			break
		}
	}
	if selected == nil {
		c.logger.Warn("selector picked an entry outside the shortlist", "selected_id", decision.SelectedID)
		return nil, nil
	}

	// Cross-check the model's pick against hard identity facts.
	if len(target.ReferenceImageIDs) > 0 && len(selected.Profile.ReferenceImageIDs) > 0 &&
		!overlaps(target.ReferenceImageIDs, selected.Profile.ReferenceImageIDs) {
		return nil, nil
	}
	if len(target.ReferenceImagePaths) > 0 && len(selected.Profile.ReferenceImagePaths) > 0 &&
		len(selected.Profile.ReferenceImageIDs) == 0 &&
		!overlaps(target.ReferenceImagePaths, selected.Profile.ReferenceImagePaths) {
		return nil, nil
	}
	if strict && !selected.Details.CharacterMatch {
		return nil, nil
	}

	return &models.SceneMatch{
		Entry:      selected.Entry,
		MatchType:  models.SceneMatchLLMSelect,
		Confidence: decision.Confidence,
	}, nil
}

// admissibleCandidates loads the candidate pool for a target, filters dead
// files and blocklisted ids, decodes profiles and, in strict mode, applies
// the admissibility verdict. Dead entries found along the way are removed.
func (c *Cache) admissibleCandidates(ctx context.Context, target *models.SceneMatchProfile, disallow []int64, lenient bool) ([]scoredCandidate, error) {
	entries, err := c.candidatePool(ctx, target, lenient)
	if err != nil {
		return nil, err
	}

	blocked := make(map[int64]bool, len(disallow))
	for _, id := range disallow {
		blocked[id] = true
	}

	var dead []int64
	var out []scoredCandidate
	seen := make(map[int64]bool, len(entries))
	for _, entry := range entries {
		if seen[entry.ID] || blocked[entry.ID] {
			continue
		}
		seen[entry.ID] = true

		if _, err := os.Stat(c.ImageFile(entry)); err != nil {
			dead = append(dead, entry.ID)
			continue
		}
		profile, err := entry.MatchProfile()
		if err != nil {
			continue
		}
		details := compareProfiles(target, profile)
		if !lenient && !details.Verdict() {
			continue
		}
		out = append(out, scoredCandidate{Entry: entry, Profile: profile, Details: details})
	}

	if len(dead) > 0 {
		if _, err := c.repo.DeleteByIDs(ctx, dead); err != nil {
			c.logger.Warn("removing dead cache entries failed", "count", len(dead), "error", err)
		} else {
			c.logger.Debug("removed dead cache entries", "count", len(dead))
		}
	}
	return out, nil
}

// candidatePool fetches candidate entries, preferring the indexed reference
// bindings when the target carries reference images.
func (c *Cache) candidatePool(ctx context.Context, target *models.SceneMatchProfile, lenient bool) ([]*models.SceneEntry, error) {
	var entries []*models.SceneEntry

	if len(target.ReferenceImageIDs) > 0 {
		byID, err := c.repo.ListByRefImageIDs(ctx, target.ReferenceImageIDs)
		if err != nil {
			return nil, err
		}
		entries = append(entries, byID...)
	}
	if len(target.ReferenceImagePaths) > 0 {
		byPath, err := c.repo.ListByRefPaths(ctx, target.ReferenceImagePaths)
		if err != nil {
			return nil, err
		}
		entries = append(entries, byPath...)
	}

	limit := recentPoolSize
	if lenient && len(entries) > 0 {
		// Reference-scoped lenient lookups may inspect a deeper pool.
		if len(entries) > lenientRefPoolSize {
			entries = entries[:lenientRefPoolSize]
		}
		return entries, nil
	}
	if len(entries) > 0 {
		return entries, nil
	}

	recent, err := c.repo.ListRecent(ctx, limit)
	if err != nil {
		return nil, err
	}
	return recent, nil
}

// Save copies a freshly generated image into the cache directory and indexes
// it under the descriptor. The entry id is returned for blocklist tracking.
func (c *Cache) Save(ctx context.Context, desc *models.SceneDescriptor, srcImagePath, prompt string) (*models.SceneEntry, error) {
	if desc == nil {
		return nil, fmt.Errorf("nil scene descriptor")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.imagesDir, 0750); err != nil {
		return nil, fmt.Errorf("creating cache image directory: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(srcImagePath))
	if ext == "" {
		ext = ".png"
	}
	filename := cacheImageName(time.Now().UTC(), ext)
	if err := storage.CopyFile(srcImagePath, filepath.Join(c.imagesDir, filename)); err != nil {
		return nil, fmt.Errorf("copying image into cache: %w", err)
	}

	profile := BuildMatchProfile(desc)
	entry := &models.SceneEntry{
		CreatedAt:     time.Now().UTC(),
		ImagePath:     filename,
		Summary:       profile.SceneSummary,
		CharacterName: desc.CharacterName,
	}
	if len(desc.ReferenceImagePaths) > 0 {
		entry.ReferenceImagePath = desc.ReferenceImagePaths[0]
	}
	if err := entry.SetDescriptor(desc); err != nil {
		return nil, err
	}
	if err := entry.SetMatchProfile(profile); err != nil {
		return nil, err
	}
	_ = prompt // prompts are not persisted; the descriptor is the index

	bindings := bindingsFor(0, profile.ReferenceImageIDs, profile.ReferenceImagePaths)
	if err := c.repo.Insert(ctx, entry, bindings); err != nil {
		return nil, fmt.Errorf("indexing cache entry: %w", err)
	}

	if count, err := c.repo.Count(ctx); err == nil && count > int64(c.maxEntries) {
		if removed, err := c.pruneLocked(ctx); err != nil {
			c.logger.Warn("cache prune failed", "error", err)
		} else if removed > 0 {
			c.logger.Info("pruned scene cache", "removed", removed, "kept", c.maxEntries)
		}
	}
	return entry, nil
}

// Prune drops the oldest entries beyond the configured maximum and removes
// their image files.
func (c *Cache) Prune(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pruneLocked(ctx)
}

func (c *Cache) pruneLocked(ctx context.Context) (int64, error) {
	entries, err := c.repo.ListRecent(ctx, 0)
	if err != nil {
		return 0, err
	}
	if len(entries) <= c.maxEntries {
		return 0, nil
	}
	for _, entry := range entries[c.maxEntries:] {
		if err := os.Remove(c.ImageFile(entry)); err != nil && !os.IsNotExist(err) {
			c.logger.Debug("removing pruned cache image failed", "path", entry.ImagePath, "error", err)
		}
	}
	return c.repo.Prune(ctx, c.maxEntries)
}

// RandomByCharacter picks a random live entry for the given character name
// or reference path. Used by the fallback cascade.
func (c *Cache) RandomByCharacter(ctx context.Context, name, refPath string) (*models.SceneEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.repo.ListByCharacter(ctx, normalizeText(name, maxHintChars), NormalizeRefPath(refPath))
	if err != nil {
		return nil, err
	}
	return c.randomLive(entries, nil), nil
}

// RandomSceneOnly picks a random live entry without a character identity.
func (c *Cache) RandomSceneOnly(ctx context.Context) (*models.SceneEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.repo.ListRecent(ctx, 0)
	if err != nil {
		return nil, err
	}
	return c.randomLive(entries, func(entry *models.SceneEntry) bool {
		profile, err := entry.MatchProfile()
		return err == nil && profile.CharacterKey == ""
	}), nil
}

// RandomAny picks any random live entry, the last rung of the cascade.
func (c *Cache) RandomAny(ctx context.Context) (*models.SceneEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.repo.ListRecent(ctx, 0)
	if err != nil {
		return nil, err
	}
	return c.randomLive(entries, nil), nil
}

// randomLive filters entries down to those whose image file still exists and
// returns a uniform random pick, nil when none qualify.
func (c *Cache) randomLive(entries []*models.SceneEntry, accept func(*models.SceneEntry) bool) *models.SceneEntry {
	var live []*models.SceneEntry
	for _, entry := range entries {
		if accept != nil && !accept(entry) {
			continue
		}
		if _, err := os.Stat(c.ImageFile(entry)); err != nil {
			continue
		}
		live = append(live, entry)
	}
	if len(live) == 0 {
		return nil
	}
	return live[rand.Intn(len(live))]
}

// cacheImageName builds the stored filename for a cached image.
func cacheImageName(now time.Time, ext string) string {
	return fmt.Sprintf("scene_%s_%s%s", now.Format("20060102_150405"), storage.RandomHex(4), ext)
}

// bindingsFor expands reference ids and paths into binding rows.
func bindingsFor(entryID int64, refIDs, refPaths []string) []models.SceneRefBinding {
	var bindings []models.SceneRefBinding
	for _, id := range refIDs {
		if id != "" {
			bindings = append(bindings, models.SceneRefBinding{EntryID: entryID, RefImageID: id})
		}
	}
	for _, path := range refPaths {
		if path != "" {
			bindings = append(bindings, models.SceneRefBinding{EntryID: entryID, RefPath: path})
		}
	}
	return bindings
}
