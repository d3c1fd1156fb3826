package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Health reports liveness plus database reachability.  It always answers
// 200 so probes can tell "degraded" from "down".
func Health(db Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		dbOK := false
		if db != nil {
			ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
			dbOK = db.PingContext(ctx) == nil
			cancel()
		}
		status, database := "healthy", "connected"
		if !dbOK {
			status, database = "degraded", "unreachable"
		}
		return c.JSON(http.StatusOK, echo.Map{
			"status":    status,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"database":  database,
		})
	}
}
