package storage

import (
	"context"
	"io"
	"net/url"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"

	"soundvault/server/bot/domain"
	commonlog "soundvault/server/common/log"
)

const (
	maxListKeys = 1000

	// Objects below this size are treated as corrupt or truncated
	// uploads and are eligible for cleanup.
	minPlayableSizeBytes = 1024
)

// ObjectAPI is the slice of the object-store client the gateway needs.
// *minio.Client is adapted to it by NewObjectAPI; tests use a fake.
type ObjectAPI interface {
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	CopyObject(ctx context.Context, dst minio.CopyDestOptions, src minio.CopySrcOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucket, key string, opts minio.RemoveObjectOptions) error
	StatObject(ctx context.Context, bucket, key string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	GetObject(ctx context.Context, bucket, key string, opts minio.GetObjectOptions) (io.ReadCloser, error)
	ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	EndpointURL() *url.URL
}

type minioAPI struct {
	c *minio.Client
}

func NewObjectAPI(c *minio.Client) ObjectAPI {
	return &minioAPI{c: c}
}

func (a *minioAPI) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	return a.c.PutObject(ctx, bucket, key, r, size, opts)
}

func (a *minioAPI) CopyObject(ctx context.Context, dst minio.CopyDestOptions, src minio.CopySrcOptions) (minio.UploadInfo, error) {
	return a.c.CopyObject(ctx, dst, src)
}

func (a *minioAPI) RemoveObject(ctx context.Context, bucket, key string, opts minio.RemoveObjectOptions) error {
	return a.c.RemoveObject(ctx, bucket, key, opts)
}

func (a *minioAPI) StatObject(ctx context.Context, bucket, key string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	return a.c.StatObject(ctx, bucket, key, opts)
}

func (a *minioAPI) GetObject(ctx context.Context, bucket, key string, opts minio.GetObjectOptions) (io.ReadCloser, error) {
	return a.c.GetObject(ctx, bucket, key, opts)
}

func (a *minioAPI) ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	return a.c.ListObjects(ctx, bucket, opts)
}

func (a *minioAPI) EndpointURL() *url.URL {
	return a.c.EndpointURL()
}

// Gateway is the guild-scoped interface to the remote object store. It
// provides no read-after-write guarantee beyond what the store itself
// offers; upload-then-list callers must tolerate eventual consistency.
type Gateway struct {
	api    ObjectAPI
	bucket string
	keys   KeyScheme
}

func NewGateway(api ObjectAPI, bucket string, keys KeyScheme) *Gateway {
	return &Gateway{api: api, bucket: bucket, keys: keys}
}

func (g *Gateway) Keys() KeyScheme {
	return g.keys
}

func (g *Gateway) Upload(ctx context.Context, guildID, name string, r io.Reader, size int64, contentType string) (string, error) {
	key := g.keys.ObjectKey(guildID, name)
	_, err := g.api.PutObject(ctx, g.bucket, key, r, size, minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: "max-age=86400",
	})
	if err != nil {
		return "", g.wrap(domain.KindStorageWrite, "upload", guildID, name, err)
	}
	return g.publicURL(key), nil
}

func (g *Gateway) Delete(ctx context.Context, guildID, name string) error {
	key := g.keys.ObjectKey(guildID, name)
	if err := g.api.RemoveObject(ctx, g.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return g.wrap(domain.KindStorageWrite, "delete", guildID, name, err)
	}
	return nil
}

func (g *Gateway) Exists(ctx context.Context, guildID, name string) (bool, error) {
	key := g.keys.ObjectKey(guildID, name)
	_, err := g.api.StatObject(ctx, g.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, g.wrap(domain.KindStorageRead, "stat", guildID, name, err)
	}
	return true, nil
}

func (g *Gateway) GetInfo(ctx context.Context, guildID, name string) (*domain.ObjectInfo, error) {
	key := g.keys.ObjectKey(guildID, name)
	info, err := g.api.StatObject(ctx, g.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, g.wrap(domain.KindStorageRead, "stat", guildID, name, err)
	}
	return &domain.ObjectInfo{SizeBytes: info.Size, LastModified: info.LastModified}, nil
}

// GetStream opens the object bytes for playback without local buffering.
// A missing object is a read error here, unlike GetInfo.
func (g *Gateway) GetStream(ctx context.Context, guildID, name string) (io.ReadCloser, error) {
	key := g.keys.ObjectKey(guildID, name)
	if _, err := g.api.StatObject(ctx, g.bucket, key, minio.StatObjectOptions{}); err != nil {
		return nil, g.wrap(domain.KindStorageRead, "stream", guildID, name, err)
	}
	rc, err := g.api.GetObject(ctx, g.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, g.wrap(domain.KindStorageRead, "stream", guildID, name, err)
	}
	return rc, nil
}

func (g *Gateway) PublicURL(guildID, name string) string {
	return g.publicURL(g.keys.ObjectKey(guildID, name))
}

// ListFiles returns the guild's audio objects sorted by name. The
// result is capped at maxListKeys entries; the client pages through
// larger listings internally, so the cap is enforced here and the
// listing is cancelled once it is reached.
func (g *Gateway) ListFiles(ctx context.Context, guildID string) ([]domain.AudioObject, error) {
	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	prefix := g.keys.TenantPrefix(guildID)
	items := make([]domain.AudioObject, 0)
	for info := range g.api.ListObjects(listCtx, g.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
		MaxKeys:   maxListKeys,
	}) {
		if info.Err != nil {
			return nil, g.wrap(domain.KindStorageRead, "list", guildID, "", info.Err)
		}
		if !strings.HasSuffix(strings.ToLower(info.Key), AudioExt) {
			continue
		}
		items = append(items, domain.AudioObject{
			GuildID:      guildID,
			Key:          info.Key,
			Name:         g.keys.NameFromKey(guildID, info.Key),
			SizeBytes:    info.Size,
			LastModified: info.LastModified,
			URL:          g.publicURL(info.Key),
		})
		if len(items) == maxListKeys {
			break
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

// Rename is copy-then-delete; there is no atomic rename primitive. When
// the copy lands but the delete fails, both keys exist and the returned
// error says so rather than masking the partial state.
func (g *Gateway) Rename(ctx context.Context, guildID, oldName, newName string) (string, error) {
	oldKey := g.keys.ObjectKey(guildID, oldName)
	newKey := g.keys.ObjectKey(guildID, newName)

	_, err := g.api.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: g.bucket, Object: newKey},
		minio.CopySrcOptions{Bucket: g.bucket, Object: oldKey},
	)
	if err != nil {
		return "", g.wrap(domain.KindStorageWrite, "rename copy", guildID, oldName, err)
	}

	if err := g.api.RemoveObject(ctx, g.bucket, oldKey, minio.RemoveObjectOptions{}); err != nil {
		werr := g.wrap(domain.KindStorageWrite, "rename delete", guildID, oldName, err)
		commonlog.Errorf("rename left both objects in place, verify %q and %q manually: %v", oldKey, newKey, err)
		return "", werr
	}
	return g.publicURL(newKey), nil
}

// Cleanup deletes every object below the playable-size threshold. The
// listing is taken fresh so concurrently uploaded files are judged by
// their current state, never by a stale cache.
func (g *Gateway) Cleanup(ctx context.Context, guildID string) ([]string, error) {
	files, err := g.ListFiles(ctx, guildID)
	if err != nil {
		return nil, err
	}
	removed := make([]string, 0)
	for _, f := range files {
		if f.SizeBytes >= minPlayableSizeBytes {
			continue
		}
		if err := g.api.RemoveObject(ctx, g.bucket, f.Key, minio.RemoveObjectOptions{}); err != nil {
			return removed, g.wrap(domain.KindStorageWrite, "cleanup", guildID, f.Name, err)
		}
		removed = append(removed, f.Name)
	}
	return removed, nil
}

func (g *Gateway) BucketStats(ctx context.Context, guildID string) (domain.BucketStats, error) {
	files, err := g.ListFiles(ctx, guildID)
	if err != nil {
		return domain.BucketStats{}, err
	}
	stats := domain.BucketStats{FileCount: len(files)}
	for _, f := range files {
		stats.TotalSizeBytes += f.SizeBytes
	}
	return stats, nil
}

// TestConnection is a cheap health probe. It never returns an error;
// any failure reads as false.
func (g *Gateway) TestConnection(ctx context.Context) bool {
	probeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for info := range g.api.ListObjects(probeCtx, g.bucket, minio.ListObjectsOptions{
		Prefix:  g.keys.Base() + "/",
		MaxKeys: 1,
	}) {
		return info.Err == nil
	}
	return true
}

func (g *Gateway) publicURL(key string) string {
	endpoint := strings.TrimRight(g.api.EndpointURL().String(), "/")
	return endpoint + "/" + g.bucket + "/" + key
}

func (g *Gateway) wrap(kind domain.ErrorKind, op, guildID, name string, err error) *domain.Error {
	e := domain.E(kind, op, guildID, name, err)
	e.Code = minio.ToErrorResponse(err).Code
	return e
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}
