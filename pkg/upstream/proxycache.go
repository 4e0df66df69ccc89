package upstream

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/repub/registry/pkg/activity"
	"github.com/repub/registry/pkg/apierr"
	"github.com/repub/registry/pkg/blobstore"
	"github.com/repub/registry/pkg/metastore"
)

// DefaultListingTTL is the stale-while-revalidate window for cached
// upstream listings.
const DefaultListingTTL = 5 * time.Minute

// fetchTimeout bounds the detached background fetch singleflight
// coordinates, independent of any one waiter's request context, so a
// canceling originator never aborts work other waiters depend on.
const fetchTimeout = 30 * time.Second

type cachedListing struct {
	info      *metastore.PackageInfo
	fetchedAt time.Time
}

// ProxyCache implements the read-through upstream cache: on a miss
// for package P it fetches from upstream, persists metadata lazily,
// and materializes the blob on first download.
type ProxyCache struct {
	store    metastore.Store
	blobs    blobstore.Store
	client   *Client
	activity *activity.Log
	enabled  bool

	listingGroup singleflight.Group
	blobGroup    singleflight.Group

	mu              sync.Mutex
	cache           *lru.Cache[string, cachedListing]
	ttl             time.Duration
	inFlightRefresh map[string]bool
}

// NewProxyCache builds a ProxyCache. enabled mirrors
// REPUB_ENABLE_UPSTREAM_PROXY; when false every call is a pass-through
// that only serves packages already hosted locally.
func NewProxyCache(store metastore.Store, blobs blobstore.Store, client *Client, log *activity.Log, enabled bool) *ProxyCache {
	cache, _ := lru.New[string, cachedListing](1024)
	return &ProxyCache{
		store:           store,
		blobs:           blobs,
		client:          client,
		activity:        log,
		enabled:         enabled,
		cache:           cache,
		ttl:             DefaultListingTTL,
		inFlightRefresh: make(map[string]bool),
	}
}

// GetVersionListing returns the merged, persisted listing for
// pkgName, fetching from upstream on a miss or stale entry.
func (p *ProxyCache) GetVersionListing(ctx context.Context, pkgName string) (*metastore.PackageInfo, error) {
	existing, err := p.store.GetPackageInfo(ctx, pkgName)
	if err != nil && !apierr.Is(err, apierr.NotFound) {
		return nil, err
	}
	if existing != nil && !existing.Package.IsUpstreamCache {
		return existing, nil
	}
	if !p.enabled {
		if existing != nil {
			return existing, nil
		}
		return nil, apierr.New(apierr.NotFound, "package not found")
	}

	key := "listing:" + pkgName
	if cached, ok := p.cache.Get(key); ok {
		if time.Since(cached.fetchedAt) < p.ttl {
			return cached.info, nil
		}
		p.maybeBackgroundRefresh(key, pkgName)
		return cached.info, nil
	}

	info, err := p.refreshListing(ctx, pkgName)
	if err != nil {
		if existing != nil {
			return existing, nil
		}
		return nil, err
	}
	return info, nil
}

// maybeBackgroundRefresh starts at most one background refresh per
// key at a time, serving the stale copy to the caller in the meantime.
func (p *ProxyCache) maybeBackgroundRefresh(key, pkgName string) {
	p.mu.Lock()
	if p.inFlightRefresh[key] {
		p.mu.Unlock()
		return
	}
	p.inFlightRefresh[key] = true
	p.mu.Unlock()

	go func() {
		defer func() {
			p.mu.Lock()
			delete(p.inFlightRefresh, key)
			p.mu.Unlock()
		}()
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		p.refreshListing(ctx, pkgName)
	}()
}

// refreshListing performs the single-flighted upstream fetch and
// metadata persistence, then repopulates the listing cache.
func (p *ProxyCache) refreshListing(ctx context.Context, pkgName string) (*metastore.PackageInfo, error) {
	key := "listing:" + pkgName
	result, err, _ := p.listingGroup.Do(key, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		doc, err := p.client.FetchListing(fetchCtx, pkgName)
		if err != nil {
			return nil, err
		}

		pkg := metastore.Package{
			Name:            pkgName,
			IsUpstreamCache: true,
			IsDiscontinued:  doc.IsDiscontinued,
			ReplacedBy:      doc.ReplacedBy,
		}
		for _, v := range doc.Versions {
			exists, err := p.store.VersionExists(fetchCtx, pkgName, v.Version)
			if err != nil {
				return nil, fmt.Errorf("failed to check existing version %s@%s: %w", pkgName, v.Version, err)
			}
			if exists {
				continue
			}
			archiveKey := blobstore.ArchiveKey(blobstore.NamespaceCached, pkgName, v.Version, v.ArchiveSHA256)
			pv := metastore.PackageVersion{
				PackageName:        pkgName,
				Version:            v.Version,
				Pubspec:            v.Pubspec,
				ArchiveKey:         archiveKey,
				UpstreamArchiveURL: v.ArchiveURL,
				ArchiveSHA256:      v.ArchiveSHA256,
				PublishedAt:        time.Now().UTC(),
				IsRetracted:        v.Retracted,
			}
			if _, _, err := p.store.UpsertPackageVersion(fetchCtx, pkg, pv); err != nil {
				return nil, fmt.Errorf("failed to persist upstream version %s@%s: %w", pkgName, v.Version, err)
			}
		}

		info, err := p.store.GetPackageInfo(fetchCtx, pkgName)
		if err != nil {
			return nil, err
		}
		return info, nil
	})
	if err != nil {
		return nil, err
	}

	info := result.(*metastore.PackageInfo)
	p.cache.Add(key, cachedListing{info: info, fetchedAt: time.Now()})
	return info, nil
}

// GetArchive returns the archive bytes for pkgName@version, fetching
// and persisting them from upstream on first download.
func (p *ProxyCache) GetArchive(ctx context.Context, pkgName, version string) ([]byte, error) {
	pv, err := p.store.GetPackageVersion(ctx, pkgName, version)
	if err != nil {
		return nil, err
	}

	exists, err := p.blobs.Exists(ctx, pv.ArchiveKey)
	if err != nil {
		return nil, err
	}
	if exists {
		return p.blobs.GetArchive(ctx, pv.ArchiveKey)
	}
	if !p.enabled {
		return nil, apierr.New(apierr.NotFound, "archive not found")
	}

	key := "blob:" + pkgName + ":" + version
	result, err, _ := p.blobGroup.Do(key, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		url := pv.UpstreamArchiveURL
		if url == "" {
			url = p.client.ArchiveURL(pkgName, version)
		}
		data, err := p.client.FetchArchive(fetchCtx, url)
		if err != nil {
			return nil, err
		}

		sum := sha256.Sum256(data)
		if hex.EncodeToString(sum[:]) != pv.ArchiveSHA256 {
			if p.activity != nil {
				_ = p.activity.Record(fetchCtx, activity.Entry{
					Type:       activity.TypeUpstreamHashMismatch,
					ActorType:  activity.ActorSystem,
					TargetType: "package_version",
					TargetID:   pkgName + "@" + version,
					Metadata:   map[string]interface{}{"upstream_url": url},
				})
			}
			return nil, apierr.New(apierr.UpstreamHashMismatch, "upstream archive does not match recorded sha256")
		}
		if err := p.blobs.PutArchive(fetchCtx, pv.ArchiveKey, data); err != nil {
			return nil, fmt.Errorf("failed to persist upstream archive: %w", err)
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}
