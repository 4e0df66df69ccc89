package publish

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateArchiveAcceptsRootManifest(t *testing.T) {
	data := buildArchive(map[string]string{
		"pubspec.yaml": validPubspec("foo", "1.0.0"),
		"lib/foo.dart": "class Foo {}\n",
	})
	result, err := ValidateArchive(data)
	require.NoError(t, err)
	assert.Equal(t, "foo", result.Manifest.Name)
	assert.NotEmpty(t, result.SHA256)
}

func TestValidateArchiveAcceptsWrappedDirectory(t *testing.T) {
	data := buildArchive(map[string]string{
		"foo-1.0.0/pubspec.yaml": validPubspec("foo", "1.0.0"),
		"foo-1.0.0/lib/foo.dart": "class Foo {}\n",
	})
	result, err := ValidateArchive(data)
	require.NoError(t, err)
	assert.Equal(t, "foo", result.Manifest.Name)
}

func TestValidateArchiveRejectsMissingManifest(t *testing.T) {
	data := buildArchive(map[string]string{"lib/foo.dart": "class Foo {}\n"})
	_, err := ValidateArchive(data)
	require.Error(t, err)
}

func TestValidateArchiveRejectsPathTraversal(t *testing.T) {
	data := buildArchive(map[string]string{
		"pubspec.yaml":     validPubspec("foo", "1.0.0"),
		"../../etc/passwd": "root:x:0:0::/root:/bin/sh\n",
	})
	_, err := ValidateArchive(data)
	require.Error(t, err)
}

func TestValidateArchiveRejectsAbsolutePath(t *testing.T) {
	data := buildArchive(map[string]string{
		"pubspec.yaml": validPubspec("foo", "1.0.0"),
		"/etc/passwd":  "root:x:0:0::/root:/bin/sh\n",
	})
	_, err := ValidateArchive(data)
	require.Error(t, err)
}

func TestValidateArchiveRejectsSymlink(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	manifest := validPubspec("foo", "1.0.0")
	_ = tw.WriteHeader(&tar.Header{Name: "pubspec.yaml", Mode: 0644, Size: int64(len(manifest))})
	_, _ = tw.Write([]byte(manifest))
	_ = tw.WriteHeader(&tar.Header{Name: "evil", Typeflag: tar.TypeSymlink, Linkname: "/etc/passwd"})
	_ = tw.Close()
	_ = gz.Close()

	_, err := ValidateArchive(buf.Bytes())
	require.Error(t, err)
}

func TestValidateArchiveRejectsNonGzip(t *testing.T) {
	_, err := ValidateArchive([]byte("not a gzip stream"))
	require.Error(t, err)
}
