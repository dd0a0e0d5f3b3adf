// audit.go provides Gin middleware that records administrative writes to the
// audit trail.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orgdirectory/orgdirectory/internal/audit"
	"github.com/orgdirectory/orgdirectory/internal/safego"
)

// auditShipTimeout bounds delivery of one record
const auditShipTimeout = 5 * time.Second

// AuditMiddleware ships a record for every completed write routed through it.
// Reads, preflight requests and requests rejected before reaching a handler
// (401, 403, 429) are not recorded. Shipping happens in the background so a
// slow destination never delays the response.
func AuditMiddleware(shipper audit.Shipper, now func() time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if shipper == nil {
			return
		}
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			return
		}
		switch c.Writer.Status() {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
			return
		}

		entry := &audit.LogEntry{
			Timestamp:  now().UTC(),
			Action:     auditAction(c),
			UserID:     CallerID(c),
			IPAddress:  c.ClientIP(),
			RequestID:  RequestID(c),
			StatusCode: c.Writer.Status(),
		}

		safego.Go("audit-ship", func() {
			ctx, cancel := context.WithTimeout(context.Background(), auditShipTimeout)
			defer cancel()
			if err := shipper.Ship(ctx, entry); err != nil {
				slog.Error("failed to ship audit record",
					"action", entry.Action, "request_id", entry.RequestID, "error", err)
			}
		})
	}
}

// auditAction names the operation after its route, "/api/organizations/create"
// becoming "organizations.create"
func auditAction(c *gin.Context) string {
	path := c.FullPath()
	if path == "" {
		path = c.Request.URL.Path
	}
	path = strings.TrimPrefix(strings.TrimPrefix(path, "/api"), "/")
	return strings.ReplaceAll(path, "/", ".")
}
