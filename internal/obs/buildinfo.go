package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "idcard_build_info",
			Help: "Constant 1, labelled with the running build and its validation log backend.",
		},
		[]string{"version", "commit", "store"},
	)
)

// InitBuildInfo publishes idcard_build_info for the running process. Calling it
// again replaces the previous label set.
func InitBuildInfo(version, commit, store string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildInfo.Reset()
	buildInfo.WithLabelValues(version, commit, store).Set(1)
}
