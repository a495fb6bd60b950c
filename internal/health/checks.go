package health

import (
	"fmt"

	"github.com/vyrodovalexey/avaserve/internal/server"
)

// DefaultCapacityThreshold is the connection usage ratio above which the
// capacity check reports degraded.
const DefaultCapacityThreshold = 0.9

// ListenerCheck reports healthy while srv is accepting connections.
func ListenerCheck(srv interface{ State() server.State }) CheckFunc {
	return func() Check {
		st := srv.State()
		if st == server.StateListening {
			return Check{Status: StatusHealthy}
		}
		return Check{Status: StatusUnhealthy, Message: "server is " + st.String()}
	}
}

// CapacityCheck reports degraded when the tracker holds more than
// threshold of its connection limit.
func CapacityCheck(tracker *server.ConnectionTracker, threshold float64) CheckFunc {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultCapacityThreshold
	}
	return func() Check {
		used, limit := tracker.Count(), tracker.Max()
		if float64(used) > threshold*float64(limit) {
			return Check{
				Status:  StatusDegraded,
				Message: fmt.Sprintf("%d of %d connections in use", used, limit),
			}
		}
		return Check{Status: StatusHealthy}
	}
}
