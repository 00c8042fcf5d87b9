package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus implements Recorder on top of a prometheus registry. The
// registry is injected so tests and multiple instances do not collide on the
// default registerer.
type Prometheus struct {
	cacheLookups    *prometheus.CounterVec
	urlsCreated     prometheus.Counter
	redirectsServed *prometheus.CounterVec
	clicksSynced    prometheus.Counter
	titleFetches    *prometheus.CounterVec
}

// NewPrometheus registers the service's counters with reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	factory := promauto.With(reg)

	return &Prometheus{
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shorturl_cache_lookups_total",
			Help: "Resolution cache lookups by outcome.",
		}, []string{"outcome"}),
		urlsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "shorturl_created_total",
			Help: "Short URLs created.",
		}),
		redirectsServed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shorturl_redirects_total",
			Help: "Redirect requests by outcome.",
		}, []string{"outcome"}),
		clicksSynced: factory.NewCounter(prometheus.CounterOpts{
			Name: "shorturl_click_syncs_total",
			Help: "Fast-counter reconciliations into durable storage.",
		}),
		titleFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shorturl_title_fetches_total",
			Help: "Title enrichment attempts by outcome.",
		}, []string{"outcome"}),
	}
}

func (p *Prometheus) CacheLookup(outcome string) {
	p.cacheLookups.WithLabelValues(outcome).Inc()
}

func (p *Prometheus) URLCreated() {
	p.urlsCreated.Inc()
}

func (p *Prometheus) RedirectServed(outcome string) {
	p.redirectsServed.WithLabelValues(outcome).Inc()
}

func (p *Prometheus) ClickSynced() {
	p.clicksSynced.Inc()
}

func (p *Prometheus) TitleFetch(outcome string) {
	p.titleFetches.WithLabelValues(outcome).Inc()
}
