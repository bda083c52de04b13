// Package archive mirrors downloaded products into a blob bucket.
//
// Any gocloud.dev bucket URL works ("file:///srv/scenes", "gs://bucket",
// "s3://bucket?region=eu-west-1", "mem://"); the caller blank-imports the
// drivers it needs. Objects already present in the bucket are left alone,
// and a JSON manifest of everything mirrored is kept next to them.
package archive
