package main

import (
	"context"
	"fmt"

	"github.com/always-cache/shellcache/cache"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// newProvider opens the storage provider selected in the config.
func newProvider(ctx context.Context, cfg Config) (cache.Provider, error) {
	switch cfg.Provider {
	case "memory":
		return cache.NewMemoryProvider(), nil
	case "sqlite":
		dbFilename := cfg.SQLite.File
		if dbFilename == "memory" {
			dbFilename = ""
		}
		p, err := cache.NewSQLiteProvider(dbFilename)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return p, nil
	case "leveldb":
		p, err := cache.NewLevelDBProvider(cfg.LevelDB.Dir)
		if err != nil {
			return nil, fmt.Errorf("open leveldb: %w", err)
		}
		return p, nil
	case "redis":
		client := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		return cache.NewRedisProvider(client, cfg.Redis.Prefix), nil
	case "s3":
		client, err := newS3Client(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return cache.NewS3Provider(cfg.S3.Bucket, cfg.S3.Prefix, client), nil
	}
	return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
}

func newS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	// fall back to the default credential chain without static keys
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.UsePathStyle = true
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}
