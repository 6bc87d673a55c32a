package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const s3IndexObject = "index.json"

// s3Index lists the committed entries of one cache.
// Entries are uploaded before the index, so a reader never sees a key
// whose response is not stored yet.
type s3Index struct {
	Name    string    `json:"name"`
	Created time.Time `json:"created"`
	Keys    []string  `json:"keys"`
}

// S3Provider stores caches in an S3 bucket:
//
//	<prefix><escaped name>/index.json
//	<prefix><escaped name>/entries/<sha256 of key>
type S3Provider struct {
	bucket   string
	prefix   string
	client   *s3.Client
	uploader *manager.Uploader
	// serializes index updates from this process
	mu *sync.Mutex
}

func NewS3Provider(bucket, prefix string, client *s3.Client) S3Provider {
	return S3Provider{
		bucket:   bucket,
		prefix:   prefix,
		client:   client,
		uploader: manager.NewUploader(client),
		mu:       &sync.Mutex{},
	}
}

func (s S3Provider) cachePrefix(name string) string {
	return s.prefix + url.PathEscape(name) + "/"
}

func (s S3Provider) indexKey(name string) string {
	return s.cachePrefix(name) + s3IndexObject
}

func (s S3Provider) entryKey(name, key string) string {
	sum := sha256.Sum256([]byte(key))
	return s.cachePrefix(name) + "entries/" + hex.EncodeToString(sum[:])
}

func (s S3Provider) Create(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.getIndex(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return s.putIndex(ctx, s3Index{Name: name, Created: time.Now().UTC(), Keys: []string{}})
	}
	return err
}

func (s S3Provider) PutAll(ctx context.Context, name string, entries []Entry) error {
	for _, e := range entries {
		if _, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(s.entryKey(name, e.Key)),
			Body:        bytes.NewReader(e.Bytes),
			ContentType: aws.String("message/http"),
		}); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.getIndex(ctx, name)
	if errors.Is(err, ErrNotFound) {
		idx = s3Index{Name: name, Created: time.Now().UTC()}
	} else if err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(idx.Keys))
	for _, k := range idx.Keys {
		seen[k] = struct{}{}
	}
	for _, e := range entries {
		if _, ok := seen[e.Key]; !ok {
			seen[e.Key] = struct{}{}
			idx.Keys = append(idx.Keys, e.Key)
		}
	}
	return s.putIndex(ctx, idx)
}

func (s S3Provider) Get(ctx context.Context, name, key string) ([]byte, error) {
	idx, err := s.getIndex(ctx, name)
	if err != nil {
		return nil, err
	}
	if !idx.has(key) {
		return nil, ErrNotFound
	}
	return s.getObject(ctx, s.entryKey(name, key))
}

func (s S3Provider) Keys(ctx context.Context, name string) ([]string, error) {
	idx, err := s.getIndex(ctx, name)
	if err != nil {
		return nil, err
	}
	return idx.Keys, nil
}

func (s S3Provider) Names(ctx context.Context, prefix string) ([]string, error) {
	indexes := make([]s3Index, 0)
	// one common prefix per cache, entry objects are not listed
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(s.prefix + url.PathEscape(prefix)),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, cp := range page.CommonPrefixes {
			escaped := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), s.prefix), "/")
			name, err := url.PathUnescape(escaped)
			if err != nil || !strings.HasPrefix(name, prefix) {
				continue
			}
			idx, err := s.getIndex(ctx, name)
			if errors.Is(err, ErrNotFound) {
				// deleted while listing
				continue
			} else if err != nil {
				return nil, err
			}
			indexes = append(indexes, idx)
		}
	}
	sort.SliceStable(indexes, func(i, j int) bool {
		return indexes[i].Created.Before(indexes[j].Created)
	})
	names := make([]string, len(indexes))
	for i, idx := range indexes {
		names[i] = idx.Name
	}
	return names, nil
}

func (s S3Provider) Delete(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.getIndex(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	// removing the index is the commit point, entries are garbage afterwards
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.indexKey(name)),
	}); err != nil {
		return false, err
	}
	if len(idx.Keys) == 0 {
		return true, nil
	}
	objects := make([]types.ObjectIdentifier, 0, len(idx.Keys))
	for _, key := range idx.Keys {
		objects = append(objects, types.ObjectIdentifier{Key: aws.String(s.entryKey(name, key))})
	}
	_, err = s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s.bucket),
		Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
	})
	return true, err
}

func (s S3Provider) Close() error {
	return nil
}

func (s S3Provider) getIndex(ctx context.Context, name string) (s3Index, error) {
	b, err := s.getObject(ctx, s.indexKey(name))
	if err != nil {
		return s3Index{}, err
	}
	var idx s3Index
	if err := json.Unmarshal(b, &idx); err != nil {
		return s3Index{}, err
	}
	return idx, nil
}

func (s S3Provider) putIndex(ctx context.Context, idx s3Index) error {
	b, err := json.Marshal(idx)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.indexKey(idx.Name)),
		Body:        bytes.NewReader(b),
		ContentType: aws.String("application/json"),
	})
	return err
}

func (s S3Provider) getObject(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (idx s3Index) has(key string) bool {
	for _, k := range idx.Keys {
		if k == key {
			return true
		}
	}
	return false
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	return errors.As(err, &nf)
}
