package storage

import (
	"context"
	"strings"

	"github.com/minio/minio-go/v7"

	"soundvault/server/bot/domain"
)

// Directory enumerates tenants by their common prefixes one level below
// the base folder, without listing every object.
type Directory struct {
	g *Gateway
}

func NewDirectory(g *Gateway) *Directory {
	return &Directory{g: g}
}

func (d *Directory) ListTenants(ctx context.Context) ([]string, error) {
	base := d.g.keys.Base() + "/"
	tenants := make([]string, 0)
	for info := range d.g.api.ListObjects(ctx, d.g.bucket, minio.ListObjectsOptions{
		Prefix:    base,
		Recursive: false,
		MaxKeys:   maxListKeys,
	}) {
		if info.Err != nil {
			return nil, d.g.wrap(domain.KindStorageRead, "list tenants", "", "", info.Err)
		}
		if !strings.HasSuffix(info.Key, "/") {
			continue
		}
		tenant := strings.TrimSuffix(strings.TrimPrefix(info.Key, base), "/")
		if tenant != "" {
			tenants = append(tenants, tenant)
		}
	}
	return tenants, nil
}

// TotalStats rolls up per-tenant bucket stats. This costs one listing
// per tenant, so latency grows with tenant count.
func (d *Directory) TotalStats(ctx context.Context) (domain.GlobalStats, error) {
	tenants, err := d.ListTenants(ctx)
	if err != nil {
		return domain.GlobalStats{}, err
	}
	stats := domain.GlobalStats{TenantCount: len(tenants)}
	for _, tenant := range tenants {
		bucket, err := d.g.BucketStats(ctx, tenant)
		if err != nil {
			return domain.GlobalStats{}, err
		}
		stats.FileCount += bucket.FileCount
		stats.TotalSizeBytes += bucket.TotalSizeBytes
	}
	return stats, nil
}
