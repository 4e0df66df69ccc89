// Package publish implements the two-step upload protocol:
// an UploadSession is opened, the client streams a tar.gz archive to it,
// the archive and its pubspec.yaml manifest are validated, and the result
// is persisted through metastore and blobstore.
package publish
