package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/presence/internal/app"
	"github.com/dkeye/presence/internal/core"
)

// secretHeader is the header external callers pass for the admin
// endpoints. Kept lowercase for compatibility with existing callers.
const secretHeader = "secretheaderkey"

type adminAPI struct {
	secret   string
	gateway  *app.Gateway
	registry *core.Registry
}

// authorized applies the coarse shared-secret check. No configured
// secret means every request passes.
func (a *adminAPI) authorized(c *gin.Context) bool {
	if a.secret == "" {
		return true
	}
	return c.GetHeader(secretHeader) == a.secret
}

// broadcast relays the posted body, verbatim, to the room named in its
// room_name field. The response is 200 no matter what; an unauthorized
// or malformed request just relays nothing.
func (a *adminAPI) broadcast(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		log.Warn().Err(err).Str("module", "adapters.httpapi").Msg("broadcast body read")
		c.Status(http.StatusOK)
		return
	}
	if a.authorized(c) {
		if err := a.gateway.Relay(body); err != nil {
			log.Warn().Err(err).Str("module", "adapters.httpapi").Msg("broadcast not relayed")
		}
	}
	c.Status(http.StatusOK)
}

// multibroadcast relays an ordered array of items, each independently.
func (a *adminAPI) multibroadcast(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		log.Warn().Err(err).Str("module", "adapters.httpapi").Msg("multibroadcast body read")
		c.Status(http.StatusOK)
		return
	}
	if a.authorized(c) {
		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil {
			log.Warn().Err(err).Str("module", "adapters.httpapi").Msg("multibroadcast not an array")
		} else {
			a.gateway.RelayAll(items)
		}
	}
	c.Status(http.StatusOK)
}

// liveRooms dumps the registry for diagnostics. Authorization failures
// still answer 200; the payload shape is the only failure signal.
func (a *adminAPI) liveRooms(c *gin.Context) {
	if !a.authorized(c) {
		c.JSON(http.StatusOK, []gin.H{{
			"status":  "fail",
			"message": "No data for you!",
		}})
		return
	}
	c.JSON(http.StatusOK, a.registry.Snapshot())
}
