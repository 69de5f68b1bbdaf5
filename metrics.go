package chatsync

import "github.com/prometheus/client_golang/prometheus"

const (
	resourceConversations = "conversations"
	resourceMessages      = "messages"
)

// Metrics holds the sync core's collectors. Each Session owns its own set so
// several sessions (or tests) never collide on a shared registry.
type Metrics struct {
	fetches   *prometheus.CounterVec
	coalesced *prometheus.CounterVec
	inFlight  *prometheus.GaugeVec
	sends     *prometheus.CounterVec
}

func newMetrics() *Metrics {
	return &Metrics{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatsync_fetch_total",
			Help: "Completed fetches by resource and outcome (ok, error, discarded).",
		}, []string{"resource", "outcome"}),
		coalesced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatsync_fetch_coalesced_total",
			Help: "Fetch triggers dropped because a fetch for the same resource was in flight.",
		}, []string{"resource"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chatsync_fetch_in_flight",
			Help: "Fetches currently in flight by resource.",
		}, []string{"resource"}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatsync_send_total",
			Help: "Message sends by outcome (ok, error, rejected).",
		}, []string{"outcome"}),
	}
}

// Register adds the collectors to r.
func (m *Metrics) Register(r prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.fetches, m.coalesced, m.inFlight, m.sends} {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// resourceLabel folds per-conversation resource keys into a bounded label.
func resourceLabel(resource string) string {
	if resource == resourceConversations {
		return resourceConversations
	}
	return resourceMessages
}
