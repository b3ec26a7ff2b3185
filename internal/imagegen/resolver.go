package imagegen

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/storyloom/storyloom/internal/models"
	"github.com/storyloom/storyloom/internal/observability"
	"github.com/storyloom/storyloom/internal/scenecache"
)

// Resolver source labels. Report keys use underscores; the models layer
// canonicalizes when tallying.
const (
	SourceCache                  = "cache"
	SourceGenerated              = "generated"
	SourceFallbackLLM            = "fallback-llm"
	SourceFallbackCharacterCache = "fallback-character-cache"
	SourceFallbackReference      = "fallback-reference"
	SourceFallbackSceneOnlyCache = "fallback-scene-only-cache"
	SourceFallbackRandomCache    = "fallback-random-cache"
)

// cachePersistTimeout bounds the background cache insert after a successful
// generation.
const cachePersistTimeout = 30 * time.Second

// ResolveRequest carries everything needed to produce one segment image.
type ResolveRequest struct {
	// Descriptor is the normalized scene description for cache matching.
	Descriptor *models.SceneDescriptor

	// Prompt is the production-ready image prompt.
	Prompt string

	// RefImagePaths are reference images for identity consistency, in
	// priority order.
	RefImagePaths []string

	// AspectRatio is the provider aspect-ratio hint, e.g. "9:16".
	AspectRatio string

	// SelectorModelID overrides the reuse-selector model.
	SelectorModelID string

	// Disallow lists cache entry ids blocked by the no-repeat window.
	Disallow []int64

	// ReuseEnabled gates both the cache-first lookup and cache persistence.
	ReuseEnabled bool

	// OutPath is where the resolved image must land.
	OutPath string
}

// Resolution reports where a segment image came from.
type Resolution struct {
	// Path is the resolved image file (always the request's OutPath).
	Path string

	// Source is one of the resolver source labels.
	Source string

	// CacheEntryID is set when the image came from a cache entry.
	CacheEntryID int64

	// MatchType and Confidence describe a cache hit, when applicable.
	MatchType  models.SceneMatchType
	Confidence float64
}

// Resolver turns a scene description into an image file: strict cache reuse
// first, then fresh generation, then a degrading fallback cascade so a
// segment always gets some image rather than failing the job outright.
type Resolver struct {
	cache  *scenecache.Cache
	client *Client
	logger *slog.Logger
}

// NewResolver creates a resolver. Either dependency may be nil; the cascade
// skips rungs it has no backend for.
func NewResolver(cache *scenecache.Cache, client *Client, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{cache: cache, client: client, logger: observability.WithComponent(logger, "image-resolver")}
}

// Resolve produces the segment image. The cascade order is fixed: strict
// cache match, fresh generation, lenient LLM cache pick, random
// same-character cache entry, raw reference image, random scene-only cache
// entry, any random cache entry. Only when every rung fails does it return
// models.ErrImageGenerationFailed.
func (r *Resolver) Resolve(ctx context.Context, req ResolveRequest) (*Resolution, error) {
	if req.OutPath == "" {
		return nil, fmt.Errorf("image resolve: empty output path")
	}

	if req.ReuseEnabled && r.cache != nil && req.Descriptor != nil {
		match, err := r.cache.FindReusableSceneImage(ctx, req.Descriptor, req.SelectorModelID, req.Disallow)
		if err != nil {
			r.logger.Warn("cache lookup failed, generating instead", "error", err)
		} else if match != nil {
			if err := RenderImageToOutput(r.cache.ImageFile(match.Entry), req.OutPath); err == nil {
				return &Resolution{
					Path:         req.OutPath,
					Source:       SourceCache,
					CacheEntryID: match.Entry.ID,
					MatchType:    match.MatchType,
					Confidence:   match.Confidence,
				}, nil
			}
		}
	}

	var genErr error
	if r.client != nil && r.client.Enabled() {
		genErr = r.client.Generate(ctx, req.Prompt, req.RefImagePaths, req.AspectRatio, req.OutPath)
		if genErr == nil {
			r.persistAsync(req)
			return &Resolution{Path: req.OutPath, Source: SourceGenerated}, nil
		}
		r.logger.Warn("image generation failed, entering fallback cascade", "error", genErr)
	} else {
		genErr = fmt.Errorf("image provider not configured")
	}

	if res := r.fallback(ctx, req); res != nil {
		return res, nil
	}
	return nil, fmt.Errorf("%w: %v", models.ErrImageGenerationFailed, genErr)
}

// fallback walks the degrading cascade after generation failed.
func (r *Resolver) fallback(ctx context.Context, req ResolveRequest) *Resolution {
	if r.cache != nil && req.Descriptor != nil {
		match, err := r.cache.ForceLLMSelectSceneImage(ctx, req.Descriptor, req.SelectorModelID, req.Disallow)
		if err == nil && match != nil {
			if err := RenderImageToOutput(r.cache.ImageFile(match.Entry), req.OutPath); err == nil {
				return &Resolution{
					Path:         req.OutPath,
					Source:       SourceFallbackLLM,
					CacheEntryID: match.Entry.ID,
					MatchType:    match.MatchType,
					Confidence:   match.Confidence,
				}
			}
		}
	}

	if r.cache != nil && req.Descriptor != nil && !req.Descriptor.IsSceneOnly {
		refPath := ""
		if len(req.Descriptor.ReferenceImagePaths) > 0 {
			refPath = req.Descriptor.ReferenceImagePaths[0]
		}
		entry, err := r.cache.RandomByCharacter(ctx, req.Descriptor.CharacterName, refPath)
		if err == nil && entry != nil {
			if err := RenderImageToOutput(r.cache.ImageFile(entry), req.OutPath); err == nil {
				return &Resolution{Path: req.OutPath, Source: SourceFallbackCharacterCache, CacheEntryID: entry.ID}
			}
		}
	}

	for _, ref := range req.RefImagePaths {
		if ref == "" {
			continue
		}
		if _, err := os.Stat(ref); err != nil {
			continue
		}
		if err := RenderImageToOutput(ref, req.OutPath); err == nil {
			return &Resolution{Path: req.OutPath, Source: SourceFallbackReference}
		}
	}

	if r.cache != nil {
		if entry, err := r.cache.RandomSceneOnly(ctx); err == nil && entry != nil {
			if err := RenderImageToOutput(r.cache.ImageFile(entry), req.OutPath); err == nil {
				return &Resolution{Path: req.OutPath, Source: SourceFallbackSceneOnlyCache, CacheEntryID: entry.ID}
			}
		}
		if entry, err := r.cache.RandomAny(ctx); err == nil && entry != nil {
			if err := RenderImageToOutput(r.cache.ImageFile(entry), req.OutPath); err == nil {
				return &Resolution{Path: req.OutPath, Source: SourceFallbackRandomCache, CacheEntryID: entry.ID}
			}
		}
	}
	return nil
}

// persistAsync indexes a freshly generated image into the cache without
// blocking the pipeline. Failures only lose a future reuse opportunity.
func (r *Resolver) persistAsync(req ResolveRequest) {
	if !req.ReuseEnabled || r.cache == nil || req.Descriptor == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), cachePersistTimeout)
		defer cancel()
		if _, err := r.cache.Save(ctx, req.Descriptor, req.OutPath, req.Prompt); err != nil {
			r.logger.Warn("caching generated image failed", "error", err)
		}
	}()
}
