package api

import (
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/repub/registry/pkg/metastore"
)

// versionDoc is one entry of the version-listing document. Field names
// and presence match the upstream Hosted Pub Repository Specification
// v2 byte-for-byte.
type versionDoc struct {
	Version           string                 `json:"version"`
	ArchiveURL        string                 `json:"archive_url"`
	ArchiveSHA256     string                 `json:"archive_sha256"`
	Pubspec           map[string]interface{} `json:"pubspec"`
	Retracted         bool                   `json:"retracted,omitempty"`
	RetractionMessage string                 `json:"retractionMessage,omitempty"`
}

// listingDoc is the `{name, latest, versions[]}` document served at
// GET /api/packages/<name>. latestNonRetracted is additive beyond the
// upstream wire shape: latest may itself be retracted in the
// all-versions-retracted edge case, and callers that need a
// definitely-installable version want a field that is never retracted.
type listingDoc struct {
	Name               string       `json:"name"`
	Latest             *versionDoc  `json:"latest"`
	LatestNonRetracted *versionDoc  `json:"latestNonRetracted,omitempty"`
	Versions           []versionDoc `json:"versions"`
	IsDiscontinued     bool         `json:"isDiscontinued,omitempty"`
	ReplacedBy         *string      `json:"replacedBy,omitempty"`
}

// archiveURL builds the canonical download URL this registry serves
// its own archive bytes under, for both hosted and upstream-cached
// packages alike — clients always fetch through us.
func archiveURL(baseURL, pkgName, version string) string {
	return baseURL + "/api/packages/" + pkgName + "/versions/" + version + "/archive.tar.gz"
}

func toVersionDoc(baseURL string, pv metastore.PackageVersion) versionDoc {
	doc := versionDoc{
		Version:       pv.Version,
		ArchiveURL:    archiveURL(baseURL, pv.PackageName, pv.Version),
		ArchiveSHA256: pv.ArchiveSHA256,
		Pubspec:       pv.Pubspec,
		Retracted:     pv.IsRetracted,
	}
	if pv.RetractionMessage != nil {
		doc.RetractionMessage = *pv.RetractionMessage
	}
	return doc
}

// buildListingDoc assembles the wire document for info, selecting
// `latest`: the greatest non-retracted, non-prerelease
// version by semver precedence; if none, the greatest non-retracted
// including prereleases; if still none, any greatest version.
func buildListingDoc(baseURL string, info *metastore.PackageInfo) listingDoc {
	doc := listingDoc{
		Name:           info.Package.Name,
		IsDiscontinued: info.Package.IsDiscontinued,
		ReplacedBy:     info.Package.ReplacedBy,
		Versions:       make([]versionDoc, 0, len(info.Versions)),
	}
	for _, pv := range info.Versions {
		doc.Versions = append(doc.Versions, toVersionDoc(baseURL, pv))
	}

	nonRetracted := pickLatestExcludingRetracted(info.Versions)
	latest := nonRetracted
	if latest == nil {
		// Every version is retracted (or unparsable): `latest` falls back
		// to the greatest version regardless, by raw semver sort, while
		// latestNonRetracted stays nil.
		latest = pickGreatestRegardlessOfRetraction(info.Versions)
	}
	if latest != nil {
		d := toVersionDoc(baseURL, *latest)
		doc.Latest = &d
	}
	if nonRetracted != nil {
		d := toVersionDoc(baseURL, *nonRetracted)
		doc.LatestNonRetracted = &d
	}
	return doc
}

// pickLatestExcludingRetracted returns the greatest non-prerelease,
// non-retracted version by semver precedence; if none, the greatest
// non-retracted version including prereleases; nil if every version is
// retracted or unparsable.
func pickLatestExcludingRetracted(versions []metastore.PackageVersion) *metastore.PackageVersion {
	var bestStable, bestAny *metastore.PackageVersion
	var bestStableVer, bestAnyVer *semver.Version

	for i := range versions {
		pv := &versions[i]
		if pv.IsRetracted {
			continue
		}
		v, err := semver.NewVersion(pv.Version)
		if err != nil {
			continue
		}
		if v.Prerelease() == "" {
			if bestStableVer == nil || v.GreaterThan(bestStableVer) {
				bestStableVer = v
				bestStable = pv
			}
		}
		if bestAnyVer == nil || v.GreaterThan(bestAnyVer) {
			bestAnyVer = v
			bestAny = pv
		}
	}
	if bestStable != nil {
		return bestStable
	}
	return bestAny
}

// pickGreatestRegardlessOfRetraction is the `latest` fallback used only
// when every version is retracted or unparsable: the greatest version
// by raw semver sort, retracted or not.
func pickGreatestRegardlessOfRetraction(versions []metastore.PackageVersion) *metastore.PackageVersion {
	if len(versions) == 0 {
		return nil
	}
	sorted := make([]metastore.PackageVersion, len(versions))
	copy(sorted, versions)
	sort.Slice(sorted, func(i, j int) bool {
		vi, ei := semver.NewVersion(sorted[i].Version)
		vj, ej := semver.NewVersion(sorted[j].Version)
		if ei != nil || ej != nil {
			return sorted[i].Version > sorted[j].Version
		}
		return vi.GreaterThan(vj)
	})
	return &sorted[0]
}
