package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soundvault/server/bot/domain"
)

type fakeObjectAPI struct {
	mu      sync.Mutex
	objects map[string][]byte
	modTime map[string]time.Time

	putErr    error
	statErr   error
	getErr    error
	removeErr error
	copyErr   error
	listErr   error
}

func newFakeObjectAPI() *fakeObjectAPI {
	return &fakeObjectAPI{
		objects: map[string][]byte{},
		modTime: map[string]time.Time{},
	}
}

func (f *fakeObjectAPI) PutObject(_ context.Context, _, key string, r io.Reader, _ int64, _ minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.putErr != nil {
		return minio.UploadInfo{}, f.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	f.modTime[key] = time.Now()
	return minio.UploadInfo{Key: key, Size: int64(len(data))}, nil
}

func (f *fakeObjectAPI) CopyObject(_ context.Context, dst minio.CopyDestOptions, src minio.CopySrcOptions) (minio.UploadInfo, error) {
	if f.copyErr != nil {
		return minio.UploadInfo{}, f.copyErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[src.Object]
	if !ok {
		return minio.UploadInfo{}, minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404}
	}
	f.objects[dst.Object] = append([]byte(nil), data...)
	f.modTime[dst.Object] = time.Now()
	return minio.UploadInfo{Key: dst.Object}, nil
}

func (f *fakeObjectAPI) RemoveObject(_ context.Context, _, key string, _ minio.RemoveObjectOptions) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	delete(f.modTime, key)
	return nil
}

func (f *fakeObjectAPI) StatObject(_ context.Context, _, key string, _ minio.StatObjectOptions) (minio.ObjectInfo, error) {
	if f.statErr != nil {
		return minio.ObjectInfo{}, f.statErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return minio.ObjectInfo{}, minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404}
	}
	return minio.ObjectInfo{Key: key, Size: int64(len(data)), LastModified: f.modTime[key]}, nil
}

func (f *fakeObjectAPI) GetObject(_ context.Context, _, key string, _ minio.GetObjectOptions) (io.ReadCloser, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeObjectAPI) ListObjects(ctx context.Context, _ string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	ch := make(chan minio.ObjectInfo)
	send := func(info minio.ObjectInfo) bool {
		select {
		case ch <- info:
			return true
		case <-ctx.Done():
			return false
		}
	}
	go func() {
		defer close(ch)
		if f.listErr != nil {
			send(minio.ObjectInfo{Err: f.listErr})
			return
		}

		f.mu.Lock()
		keys := make([]string, 0, len(f.objects))
		for key := range f.objects {
			if strings.HasPrefix(key, opts.Prefix) {
				keys = append(keys, key)
			}
		}
		f.mu.Unlock()
		sort.Strings(keys)

		if opts.Recursive {
			for _, key := range keys {
				f.mu.Lock()
				info := minio.ObjectInfo{Key: key, Size: int64(len(f.objects[key])), LastModified: f.modTime[key]}
				f.mu.Unlock()
				if !send(info) {
					return
				}
			}
			return
		}

		seen := map[string]bool{}
		for _, key := range keys {
			rest := strings.TrimPrefix(key, opts.Prefix)
			if i := strings.Index(rest, "/"); i >= 0 {
				dir := opts.Prefix + rest[:i+1]
				if !seen[dir] {
					seen[dir] = true
					if !send(minio.ObjectInfo{Key: dir}) {
						return
					}
				}
				continue
			}
			if !send(minio.ObjectInfo{Key: key}) {
				return
			}
		}
	}()
	return ch
}

func (f *fakeObjectAPI) EndpointURL() *url.URL {
	u, _ := url.Parse("http://localhost:9000")
	return u
}

func newTestGateway() (*Gateway, *fakeObjectAPI) {
	api := newFakeObjectAPI()
	return NewGateway(api, "soundvault", NewKeyScheme("audio")), api
}

func upload(t *testing.T, g *Gateway, guildID, name string, size int) {
	t.Helper()
	_, err := g.Upload(context.Background(), guildID, name, bytes.NewReader(make([]byte, size)), int64(size), "audio/mpeg")
	require.NoError(t, err)
}

func TestUploadListDeleteRoundTrip(t *testing.T) {
	g, _ := newTestGateway()
	ctx := context.Background()

	upload(t, g, "g1", "test.mp3", 2000)

	files, err := g.ListFiles(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "test.mp3", files[0].Name)
	assert.Equal(t, int64(2000), files[0].SizeBytes)
	assert.Equal(t, "audio/g1/test.mp3", files[0].Key)
	assert.Equal(t, "http://localhost:9000/soundvault/audio/g1/test.mp3", files[0].URL)

	require.NoError(t, g.Delete(ctx, "g1", "test.mp3"))

	files, err = g.ListFiles(ctx, "g1")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestListFilesSortedAndFiltered(t *testing.T) {
	g, api := newTestGateway()
	ctx := context.Background()

	upload(t, g, "g1", "zebra.mp3", 10)
	upload(t, g, "g1", "alpha.mp3", 10)
	upload(t, g, "g1", "mango.mp3", 10)
	api.objects["audio/g1/notes.txt"] = []byte("not audio")

	files, err := g.ListFiles(ctx, "g1")
	require.NoError(t, err)
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"alpha.mp3", "mango.mp3", "zebra.mp3"}, names)
}

func TestListFilesCappedAtPageSize(t *testing.T) {
	g, api := newTestGateway()
	ctx := context.Background()

	now := time.Now()
	for i := 0; i < maxListKeys+5; i++ {
		key := fmt.Sprintf("audio/g1/%05d.mp3", i)
		api.objects[key] = []byte("x")
		api.modTime[key] = now
	}

	files, err := g.ListFiles(ctx, "g1")
	require.NoError(t, err)
	assert.Len(t, files, maxListKeys)
}

func TestTenantIsolation(t *testing.T) {
	g, _ := newTestGateway()
	ctx := context.Background()

	upload(t, g, "g1", "mine.mp3", 10)
	upload(t, g, "g2", "theirs.mp3", 10)

	files, err := g.ListFiles(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "mine.mp3", files[0].Name)

	// Deleting a hostile name from g1 never touches g2's object.
	require.NoError(t, g.Delete(ctx, "g1", "../g2/theirs.mp3"))
	exists, err := g.Exists(ctx, "g2", "theirs.mp3")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestExistsAndGetInfo(t *testing.T) {
	g, api := newTestGateway()
	ctx := context.Background()

	upload(t, g, "g1", "test.mp3", 128)

	exists, err := g.Exists(ctx, "g1", "test.mp3")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = g.Exists(ctx, "g1", "missing.mp3")
	require.NoError(t, err)
	assert.False(t, exists)

	info, err := g.GetInfo(ctx, "g1", "test.mp3")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, int64(128), info.SizeBytes)

	info, err = g.GetInfo(ctx, "g1", "missing.mp3")
	require.NoError(t, err)
	assert.Nil(t, info)

	api.statErr = errors.New("connection refused")
	_, err = g.Exists(ctx, "g1", "test.mp3")
	require.Error(t, err)
	assert.Equal(t, domain.KindStorageRead, domain.KindOf(err))
}

func TestGetStream(t *testing.T) {
	g, _ := newTestGateway()
	ctx := context.Background()

	upload(t, g, "g1", "test.mp3", 64)

	rc, err := g.GetStream(ctx, "g1", "test.mp3")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Len(t, data, 64)

	_, err = g.GetStream(ctx, "g1", "missing.mp3")
	require.Error(t, err)
	assert.Equal(t, domain.KindStorageRead, domain.KindOf(err))
}

func TestRenameRoundTrip(t *testing.T) {
	g, _ := newTestGateway()
	ctx := context.Background()

	upload(t, g, "g1", "old.mp3", 321)
	before, err := g.GetInfo(ctx, "g1", "old.mp3")
	require.NoError(t, err)

	url, err := g.Rename(ctx, "g1", "old.mp3", "new.mp3")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000/soundvault/audio/g1/new.mp3", url)

	exists, err := g.Exists(ctx, "g1", "old.mp3")
	require.NoError(t, err)
	assert.False(t, exists)

	after, err := g.GetInfo(ctx, "g1", "new.mp3")
	require.NoError(t, err)
	require.NotNil(t, after)
	assert.Equal(t, before.SizeBytes, after.SizeBytes)
}

func TestRenamePartialFailureLeavesBothObjects(t *testing.T) {
	g, api := newTestGateway()
	ctx := context.Background()

	upload(t, g, "g1", "old.mp3", 100)
	api.removeErr = errors.New("access denied")

	_, err := g.Rename(ctx, "g1", "old.mp3", "new.mp3")
	require.Error(t, err)
	assert.Equal(t, domain.KindStorageWrite, domain.KindOf(err))

	api.removeErr = nil
	for _, name := range []string{"old.mp3", "new.mp3"} {
		exists, err := g.Exists(ctx, "g1", name)
		require.NoError(t, err)
		assert.True(t, exists, "expected %s to remain", name)
	}
}

func TestCleanupThreshold(t *testing.T) {
	g, _ := newTestGateway()
	ctx := context.Background()

	sizes := map[string]int{
		"empty.mp3": 0,
		"tiny.mp3":  512,
		"edge.mp3":  1023,
		"ok.mp3":    1024,
		"big.mp3":   2048,
	}
	for name, size := range sizes {
		upload(t, g, "g1", name, size)
	}

	removed, err := g.Cleanup(ctx, "g1")
	require.NoError(t, err)
	sort.Strings(removed)
	assert.Equal(t, []string{"edge.mp3", "empty.mp3", "tiny.mp3"}, removed)

	files, err := g.ListFiles(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "big.mp3", files[0].Name)
	assert.Equal(t, "ok.mp3", files[1].Name)
}

func TestBucketStats(t *testing.T) {
	g, _ := newTestGateway()
	ctx := context.Background()

	upload(t, g, "g1", "a.mp3", 1000)
	upload(t, g, "g1", "b.mp3", 2500)

	stats, err := g.BucketStats(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, domain.BucketStats{FileCount: 2, TotalSizeBytes: 3500}, stats)
}

func TestUploadError(t *testing.T) {
	g, api := newTestGateway()
	api.putErr = minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403}

	_, err := g.Upload(context.Background(), "g1", "test.mp3", bytes.NewReader(nil), 0, "audio/mpeg")
	require.Error(t, err)
	assert.Equal(t, domain.KindStorageWrite, domain.KindOf(err))
	assert.Contains(t, domain.UserMessage(err), "credentials")
}

func TestTestConnection(t *testing.T) {
	g, api := newTestGateway()
	ctx := context.Background()

	assert.True(t, g.TestConnection(ctx))

	upload(t, g, "g1", "a.mp3", 10)
	assert.True(t, g.TestConnection(ctx))

	api.listErr = errors.New("unreachable")
	assert.False(t, g.TestConnection(ctx))
}

func TestDirectory(t *testing.T) {
	g, _ := newTestGateway()
	d := NewDirectory(g)
	ctx := context.Background()

	upload(t, g, "g1", "a.mp3", 100)
	upload(t, g, "g1", "b.mp3", 200)
	upload(t, g, "g2", "c.mp3", 300)

	tenants, err := d.ListTenants(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"g1", "g2"}, tenants)

	stats, err := d.TotalStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.GlobalStats{TenantCount: 2, FileCount: 3, TotalSizeBytes: 600}, stats)
}
