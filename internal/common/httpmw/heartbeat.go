package httpmw

import "github.com/gin-gonic/gin"

// SessionHeader carries the calling agent's session name on tool requests.
const SessionHeader = "X-Crewly-Session"

// HeartbeatFunc refreshes the heartbeat of a tracked session.
type HeartbeatFunc func(sessionName string)

// SessionHeartbeat refreshes the caller's heartbeat on every request that
// identifies its session. Abandonment recovery keys off this signal, so the
// middleware runs before the handler and ignores handler outcome.
func SessionHeartbeat(fn HeartbeatFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if name := c.GetHeader(SessionHeader); name != "" && fn != nil {
			fn(name)
		}
		c.Next()
	}
}
