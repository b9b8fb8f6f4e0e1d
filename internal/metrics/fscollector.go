package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/slatefs/slatefs/pkg/vfs"
)

var (
	fsListingFetchesDesc = prometheus.NewDesc(
		"slatefs_fs_listing_fetches_total",
		"Directory listings fetched from the backend",
		nil, nil,
	)
	fsContentFetchesDesc = prometheus.NewDesc(
		"slatefs_fs_content_fetches_total",
		"File contents fetched from the backend",
		nil, nil,
	)
	fsStatFetchesDesc = prometheus.NewDesc(
		"slatefs_fs_stat_fetches_total",
		"Stat calls issued to the backend",
		nil, nil,
	)
	fsCacheHitsDesc = prometheus.NewDesc(
		"slatefs_fs_cache_hits_total",
		"File opens served from the content cache",
		nil, nil,
	)
)

// FSCollector exports a filesystem's fetch counters to Prometheus.
type FSCollector struct {
	fs *vfs.FS
}

// NewFSCollector returns a collector reading counters from fs.
func NewFSCollector(fs *vfs.FS) *FSCollector {
	return &FSCollector{fs: fs}
}

func (c *FSCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- fsListingFetchesDesc
	ch <- fsContentFetchesDesc
	ch <- fsStatFetchesDesc
	ch <- fsCacheHitsDesc
}

func (c *FSCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.fs.Counters()
	ch <- prometheus.MustNewConstMetric(fsListingFetchesDesc, prometheus.CounterValue, float64(s.ListingFetches))
	ch <- prometheus.MustNewConstMetric(fsContentFetchesDesc, prometheus.CounterValue, float64(s.ContentFetches))
	ch <- prometheus.MustNewConstMetric(fsStatFetchesDesc, prometheus.CounterValue, float64(s.StatFetches))
	ch <- prometheus.MustNewConstMetric(fsCacheHitsDesc, prometheus.CounterValue, float64(s.CacheHits))
}
