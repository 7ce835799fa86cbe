package health

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/abossard/vjuniverse/component"
)

// Source supplies the current per-component health map. component.Manager
// implements it.
type Source interface {
	Health() map[string]component.HealthStatus
}

// Handler serves the aggregated system health as JSON. A healthy or degraded
// system answers 200 so probes tolerate a missing broker; only an unhealthy
// component yields 503.
func Handler(systemName string, source Source) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		statuses := source.Health()

		names := make([]string, 0, len(statuses))
		for name := range statuses {
			names = append(names, name)
		}
		sort.Strings(names)

		subs := make([]Status, 0, len(names))
		for _, name := range names {
			subs = append(subs, FromComponent(name, statuses[name]))
		}
		aggregate := Aggregate(systemName, subs)

		code := http.StatusOK
		if aggregate.IsUnhealthy() {
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(aggregate)
	})
}
