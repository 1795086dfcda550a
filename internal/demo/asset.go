package demo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/sync/singleflight"
)

// LocationState is where an asset was found during resolution.
type LocationState string

const (
	StateUnresolved         LocationState = "unresolved"
	StateCachedLocally      LocationState = "cached_locally"
	StateFoundInRegistry    LocationState = "found_in_registry"
	StateFoundExternally    LocationState = "found_externally"
	StateUserSupplied       LocationState = "user_supplied"
	StateCommercialNoUpload LocationState = "commercial_no_upload"
	StateNeedsUpload        LocationState = "needs_upload"
)

// Resolved reports whether s is a terminal state of the cascade.
func (s LocationState) Resolved() bool {
	return s != StateUnresolved && s != ""
}

// Asset is the content package a recording is played against. Checksum is
// its identity and never changes for given content.
type Asset struct {
	Checksum   string        `json:"checksum"`
	Name       string        `json:"name"`
	State      LocationState `json:"state"`
	Location   string        `json:"location,omitempty"`
	Path       string        `json:"path,omitempty"`
	Registered bool          `json:"registered"`
	Commercial bool          `json:"commercial"`
}

// UploadRequired reports whether the asset must be uploaded before a demo
// referencing it can be submitted.
func (a Asset) UploadRequired() bool {
	if !a.State.Resolved() {
		return false
	}
	return !a.Registered && !a.Commercial
}

// CacheMetadata is stored alongside cached content.
type CacheMetadata struct {
	Name       string `json:"name"`
	Location   string `json:"location,omitempty"`
	Registered bool   `json:"registered"`
	Commercial bool   `json:"commercial"`
}

// CacheEntry describes cached content.
type CacheEntry struct {
	Checksum string
	Size     int64
	// Path is a local file holding the content, empty for remote caches.
	Path string
	CacheMetadata
}

// AssetCache is a checksum-keyed content store shared by all records.
type AssetCache interface {
	// Stat returns the entry for checksum, or nil, nil when absent.
	Stat(ctx context.Context, checksum string) (*CacheEntry, error)

	// Get writes the cached content to w.
	Get(ctx context.Context, checksum string, w io.Writer) error

	// Put stores content under checksum. It is an idempotent upsert: existing
	// content is kept and the metadata is replaced (last writer wins).
	Put(ctx context.Context, checksum string, r io.Reader, size int64, meta CacheMetadata) error
}

// AssetQuery identifies an asset to a locator.
type AssetQuery struct {
	Checksum string
	Name     string
}

// AssetLocation is where a locator found the asset.
type AssetLocation struct {
	URL        string
	Commercial bool
}

// AssetLocator looks up assets in a registry or external index.
type AssetLocator interface {
	// Lookup returns nil, nil when the asset is not known.
	Lookup(ctx context.Context, q AssetQuery) (*AssetLocation, error)
}

// DecisionKind is the user's answer when the cascade finds nothing.
type DecisionKind string

const (
	DecisionSupplyPath DecisionKind = "supply_path"
	DecisionCommercial DecisionKind = "commercial"
	DecisionNewUpload  DecisionKind = "new_upload"
)

// AssetDecision is an explicit user classification of an unresolved asset.
type AssetDecision struct {
	Kind DecisionKind
	// Path is the user supplied file for DecisionSupplyPath.
	Path string
}

// AssetPrompter asks the user what to do with an asset nobody knows.
type AssetPrompter interface {
	// DecideAsset returns nil, nil when the user declines to decide now.
	DecideAsset(ctx context.Context, a Asset) (*AssetDecision, error)
}

// AssetRequest names the asset file to resolve. Checksum may be supplied when
// it is already known; otherwise it is computed from Path.
type AssetRequest struct {
	Name     string
	Path     string
	Checksum string
}

// AssetResolver runs the cache -> registry -> external index -> user cascade.
type AssetResolver struct {
	cache    AssetCache
	registry AssetLocator
	index    AssetLocator
	prompter AssetPrompter
	logger   Logger
	group    singleflight.Group

	mu      sync.Mutex
	flights map[string]*flight
}

// flight is the context shared by every caller waiting on one cascade. It is
// cancelled only once all of them have returned.
type flight struct {
	ctx    context.Context
	cancel context.CancelFunc
	refs   int
}

// NewAssetResolver creates a resolver. registry, index and prompter may be nil
// to skip those steps.
func NewAssetResolver(cache AssetCache, registry, index AssetLocator, prompter AssetPrompter, logger Logger) *AssetResolver {
	if logger == nil {
		logger = NewNopLogger()
	}
	return &AssetResolver{
		cache:    cache,
		registry: registry,
		index:    index,
		prompter: prompter,
		logger:   logger,
		flights:  make(map[string]*flight),
	}
}

// Resolve computes the asset's checksum and walks the cascade. Each step runs
// only if the previous one found nothing. Cancellation at any point returns an
// Unresolved asset together with the context error. When nothing finds the
// asset and no decision is available, ErrUserDecisionRequired is returned.
//
// Concurrent resolutions of identical content share one cascade.
func (r *AssetResolver) Resolve(ctx context.Context, req AssetRequest) (Asset, error) {
	if req.Path == "" {
		return Asset{State: StateUnresolved, Name: req.Name}, fmt.Errorf("asset path is required")
	}

	checksum := req.Checksum
	if checksum == "" {
		var err error
		checksum, err = ChecksumFile(req.Path)
		if err != nil {
			return Asset{State: StateUnresolved, Name: req.Name}, fmt.Errorf("computing asset checksum: %w", err)
		}
	}
	unresolved := Asset{State: StateUnresolved, Checksum: checksum, Name: req.Name, Path: req.Path}

	f := r.join(ctx, checksum)
	defer r.leave(checksum, f)

	for {
		ch := r.group.DoChan(checksum, func() (any, error) {
			return r.cascade(f.ctx, checksum, req)
		})

		select {
		case <-ctx.Done():
			return unresolved, ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				// A cascade started by callers that have all gone away was
				// cancelled on their behalf; run it again for this caller.
				if errors.Is(res.Err, context.Canceled) && ctx.Err() == nil && f.ctx.Err() == nil {
					continue
				}
				return unresolved, res.Err
			}
			a := res.Val.(Asset)
			if a.Path == "" {
				a.Path = req.Path
			}
			return a, nil
		}
	}
}

// join registers a caller on the shared context for checksum.
func (r *AssetResolver) join(ctx context.Context, checksum string) *flight {
	r.mu.Lock()
	defer r.mu.Unlock()
	f := r.flights[checksum]
	if f == nil {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		r.flights[checksum] = f
	}
	f.refs++
	return f
}

// leave drops a caller and cancels the shared context after the last one.
func (r *AssetResolver) leave(checksum string, f *flight) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f.refs--
	if f.refs > 0 {
		return
	}
	f.cancel()
	if r.flights[checksum] == f {
		delete(r.flights, checksum)
	}
}

func (r *AssetResolver) cascade(ctx context.Context, checksum string, req AssetRequest) (Asset, error) {
	base := Asset{State: StateUnresolved, Checksum: checksum, Name: req.Name, Path: req.Path}

	entry, err := r.cache.Stat(ctx, checksum)
	if err != nil {
		if ctx.Err() != nil {
			return Asset{}, ctx.Err()
		}
		r.logger.Warn("cache lookup failed", "checksum", checksum, "error", err)
	}
	if entry != nil {
		a := base
		a.State = StateCachedLocally
		if entry.Name != "" {
			a.Name = entry.Name
		}
		a.Location = entry.Location
		a.Registered = entry.Registered
		a.Commercial = entry.Commercial
		if entry.Commercial {
			a.State = StateCommercialNoUpload
		}
		if entry.Path != "" {
			a.Path = entry.Path
		}
		r.logger.Info("asset found in cache", "checksum", checksum, "name", a.Name)
		return a, nil
	}

	q := AssetQuery{Checksum: checksum, Name: req.Name}

	if loc, err := r.lookup(ctx, "registry", r.registry, q); err != nil {
		return Asset{}, err
	} else if loc != nil {
		a := base
		a.State = StateFoundInRegistry
		a.Location = loc.URL
		a.Registered = true
		a.Commercial = loc.Commercial
		return r.store(ctx, a)
	}

	if loc, err := r.lookup(ctx, "external index", r.index, q); err != nil {
		return Asset{}, err
	} else if loc != nil {
		a := base
		a.State = StateFoundExternally
		a.Location = loc.URL
		a.Commercial = loc.Commercial
		return r.store(ctx, a)
	}

	if r.prompter == nil {
		return Asset{}, ErrUserDecisionRequired
	}
	d, err := r.prompter.DecideAsset(ctx, base)
	if err != nil {
		if ctx.Err() != nil {
			return Asset{}, ctx.Err()
		}
		return Asset{}, fmt.Errorf("asking for asset decision: %w", err)
	}
	if d == nil {
		return Asset{}, ErrUserDecisionRequired
	}
	return r.decide(ctx, base, *d)
}

// lookup queries one locator. Locator errors other than cancellation count as
// "not found" so the cascade can continue.
func (r *AssetResolver) lookup(ctx context.Context, step string, l AssetLocator, q AssetQuery) (*AssetLocation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l == nil {
		return nil, nil
	}
	loc, err := l.Lookup(ctx, q)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return nil, ctx.Err()
		}
		r.logger.Warn("asset lookup failed", "step", step, "name", q.Name, "error", err)
		return nil, nil
	}
	if loc != nil {
		r.logger.Info("asset located", "step", step, "name", q.Name, "url", loc.URL)
	}
	return loc, nil
}

// ApplyDecision resolves an Unresolved asset from an explicit user decision.
func (r *AssetResolver) ApplyDecision(ctx context.Context, a Asset, d AssetDecision) (Asset, error) {
	if a.State.Resolved() {
		return a, fmt.Errorf("asset %s is already resolved (%s)", a.Name, a.State)
	}
	return r.decide(ctx, a, d)
}

func (r *AssetResolver) decide(ctx context.Context, a Asset, d AssetDecision) (Asset, error) {
	switch d.Kind {
	case DecisionSupplyPath:
		if d.Path == "" {
			return Asset{}, fmt.Errorf("supplied asset path is empty")
		}
		checksum, err := ChecksumFile(d.Path)
		if err != nil {
			return Asset{}, fmt.Errorf("computing supplied asset checksum: %w", err)
		}
		a.Checksum = checksum
		a.Path = d.Path
		a.Location = d.Path
		a.State = StateUserSupplied
	case DecisionCommercial:
		a.State = StateCommercialNoUpload
		a.Commercial = true
	case DecisionNewUpload:
		a.State = StateNeedsUpload
	default:
		return Asset{}, fmt.Errorf("unknown asset decision %q", d.Kind)
	}
	return r.store(ctx, a)
}

// MarkUploaded records a completed first-time upload: the asset becomes
// registered and the cache metadata is updated.
func (r *AssetResolver) MarkUploaded(ctx context.Context, a Asset, location string) (Asset, error) {
	a.Registered = true
	a.Location = location
	if a.State == StateNeedsUpload {
		a.State = StateFoundInRegistry
	}
	return r.store(ctx, a)
}

// store upserts the asset content and metadata into the cache.
func (r *AssetResolver) store(ctx context.Context, a Asset) (Asset, error) {
	if err := ctx.Err(); err != nil {
		return Asset{}, err
	}
	if a.Path == "" {
		return a, nil
	}

	f, err := os.Open(a.Path)
	if err != nil {
		return Asset{}, fmt.Errorf("opening asset for cache: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Asset{}, fmt.Errorf("stat asset: %w", err)
	}

	meta := CacheMetadata{Name: a.Name, Location: a.Location, Registered: a.Registered, Commercial: a.Commercial}
	if err := r.cache.Put(ctx, a.Checksum, f, info.Size(), meta); err != nil {
		if ctx.Err() != nil {
			return Asset{}, ctx.Err()
		}
		r.logger.Warn("caching asset failed", "checksum", a.Checksum, "error", err)
		return a, nil
	}
	r.logger.Debug("asset cached", "checksum", a.Checksum, "state", a.State)
	return a, nil
}

// ChecksumFile returns the hex SHA-256 of the file at path.
func ChecksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
