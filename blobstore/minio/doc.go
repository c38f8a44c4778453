// Package minio is the MinIO-backed blobstore.Store implementation.
//
// It targets self-hosted MinIO clusters as well as any S3-compatible
// endpoint the minio-go client can talk to. Credentials and endpoint
// configuration are the caller's concern; the store only needs a ready
// *minio.Client.
package minio
