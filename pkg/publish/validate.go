package publish

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/repub/registry/pkg/apierr"
)

// maxManifestSize bounds how much of pubspec.yaml we'll read into
// memory; the upload buffer itself is already bounded by site config.
const maxManifestSize = 1 << 20 // 1 MiB

// ValidatedArchive is the result of walking an uploaded tarball: its
// sha256 and the parsed manifest found at its root.
type ValidatedArchive struct {
	SHA256   string
	Manifest *Manifest
}

// ValidateArchive gzip-decodes then walks data as a tar stream,
// rejecting any entry whose name escapes the archive root, is
// absolute, or is a symlink/device node. It
// requires a pubspec.yaml at the archive root and parses it.
func ValidateArchive(data []byte) (*ValidatedArchive, error) {
	sum := sha256.Sum256(data)

	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, apierr.Wrap(apierr.UnsupportedMedia, "archive is not gzip-compressed", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)

	var manifestData []byte
	sawManifest := false

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apierr.Wrap(apierr.UnsupportedMedia, "archive is not a valid tar stream", err)
		}

		if err := validateEntry(hdr); err != nil {
			return nil, err
		}

		if isManifestEntry(hdr.Name) {
			if hdr.Size > maxManifestSize {
				return nil, apierr.New(apierr.UnprocessableEntity, "pubspec.yaml exceeds the maximum manifest size")
			}
			manifestData, err = io.ReadAll(io.LimitReader(tr, maxManifestSize+1))
			if err != nil {
				return nil, apierr.Wrap(apierr.BadRequest, "failed to read pubspec.yaml from archive", err)
			}
			sawManifest = true
		}
	}

	if !sawManifest {
		return nil, apierr.New(apierr.UnprocessableEntity, "archive is missing pubspec.yaml at its root")
	}

	manifest, err := ParseManifest(manifestData)
	if err != nil {
		return nil, err
	}

	return &ValidatedArchive{
		SHA256:   hex.EncodeToString(sum[:]),
		Manifest: manifest,
	}, nil
}

// isManifestEntry reports whether name is pubspec.yaml at the archive
// root, tolerating a single common wrapping directory the way tarballs
// produced by `tar czf pkg.tar.gz pkg/` commonly do.
func isManifestEntry(name string) bool {
	clean := path.Clean(name)
	if clean == "pubspec.yaml" {
		return true
	}
	parts := strings.Split(clean, "/")
	return len(parts) == 2 && parts[1] == "pubspec.yaml"
}

// validateEntry rejects path traversal, absolute paths, symlinks, and
// device/fifo/socket entries.
func validateEntry(hdr *tar.Header) error {
	name := hdr.Name
	if path.IsAbs(name) {
		return apierr.New(apierr.UnsupportedMedia, fmt.Sprintf("archive entry %q has an absolute path", name))
	}
	clean := path.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return apierr.New(apierr.UnsupportedMedia, fmt.Sprintf("archive entry %q escapes the archive root", name))
	}

	switch hdr.Typeflag {
	case tar.TypeSymlink, tar.TypeLink:
		return apierr.New(apierr.UnsupportedMedia, fmt.Sprintf("archive entry %q is a symlink", name))
	case tar.TypeChar, tar.TypeBlock, tar.TypeFifo:
		return apierr.New(apierr.UnsupportedMedia, fmt.Sprintf("archive entry %q is a device entry", name))
	}
	return nil
}
