package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hupe1980/dictgo/blobstore"
	minioblob "github.com/hupe1980/dictgo/blobstore/minio"
	s3blob "github.com/hupe1980/dictgo/blobstore/s3"
	"github.com/hupe1980/dictgo/manifest"
)

type Publish struct {
	dictDir

	Target   string `arg:"" help:"destination, e.g. s3://bucket/prefix or a local path"`
	Endpoint string `help:"S3-compatible endpoint for non-AWS targets (switches to the MinIO client)"`
	Insecure bool   `help:"plain HTTP for --endpoint targets"`
}

func (p *Publish) Run(ctx *Context) error {
	dest, err := p.store(ctx)
	if err != nil {
		return err
	}

	store := manifest.NewStore(p.Dir, nil)
	entries, err := store.Scan(func(path string, err error) {
		fmt.Fprintf(os.Stderr, "skipping %s: %v\n", path, err)
	})
	if err != nil {
		return err
	}

	published := 0
	for _, e := range entries {
		if !e.Manifest.Active() {
			continue
		}
		for _, path := range []string{e.DictPath, e.MFPath} {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			if err := dest.Put(ctx, filepath.Base(path), data); err != nil {
				return fmt.Errorf("uploading %s: %w", filepath.Base(path), err)
			}
		}
		published++
	}

	fmt.Printf("published %d dictionaries to %s\n", published, p.Target)
	return nil
}

func (p *Publish) store(ctx *Context) (blobstore.Store, error) {
	if !strings.HasPrefix(p.Target, "s3://") {
		return blobstore.NewLocalStore(p.Target, nil), nil
	}

	u, err := url.Parse(p.Target)
	if err != nil {
		return nil, err
	}
	bucket := u.Host
	prefix := strings.TrimPrefix(u.Path, "/")

	if p.Endpoint != "" {
		client, err := minio.New(p.Endpoint, &minio.Options{
			Creds:  credentials.NewEnvMinio(),
			Secure: !p.Insecure,
		})
		if err != nil {
			return nil, err
		}
		return minioblob.NewStore(client, bucket, prefix), nil
	}

	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return s3blob.NewStore(awss3.NewFromConfig(awsCfg), bucket, prefix), nil
}
