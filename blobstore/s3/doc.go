// Package s3 holds the AWS-backed blobstore.Store implementations: a plain
// S3 store for dictionary artifacts and a CommitStore that adds a DynamoDB
// commit log for the CURRENT pointer, giving concurrent trainers
// compare-and-swap semantics that S3 alone cannot provide.
package s3
