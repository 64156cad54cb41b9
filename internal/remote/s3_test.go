package remote

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func quotedETag(data []byte) *string {
	sum := md5.Sum(data)
	return aws.String(`"` + hex.EncodeToString(sum[:]) + `"`)
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{}
	now := time.Now()
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k), ETag: quotedETag(f.objects[k]), LastModified: &now})
	}
	return out, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ETag: quotedETag(data)}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data)), ETag: quotedETag(data)}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{ETag: quotedETag(data)}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3MirrorRevisions(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{"other/x": []byte("x")}}
	m := newS3WithClient(fake, "bucket", "/share/")
	ctx := context.Background()

	rev, err := m.Put(ctx, "content/music/a.md", []byte("song"), "")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if strings.Contains(rev, `"`) || rev == "" {
		t.Fatalf("revision should be an unquoted etag, got %q", rev)
	}
	if _, ok := fake.objects["share/content/music/a.md"]; !ok {
		t.Fatalf("object not stored under prefix: %v", fake.objects)
	}

	list, err := m.List(ctx, "content/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Key != "content/music/a.md" || list[0].Revision != rev {
		t.Fatalf("list: %+v", list)
	}

	obj, err := m.Get(ctx, "content/music/a.md")
	if err != nil || string(obj.Data) != "song" || obj.Revision != rev {
		t.Fatalf("get: %+v %v", obj, err)
	}

	if _, err := m.Put(ctx, "content/music/a.md", []byte("other"), "bogus"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := m.Delete(ctx, "content/music/a.md", "bogus"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected delete conflict, got %v", err)
	}
	if err := m.Delete(ctx, "content/music/a.md", rev); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := m.Get(ctx, "content/music/a.md"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := m.Delete(ctx, "content/music/a.md", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}
