package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires the exact /api route list of spec §6 onto core.
func registerRoutes(r *gin.Engine, core Core) {
	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	api := r.Group("/api")

	api.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, core.Stats())
	})

	api.GET("/clients", func(c *gin.Context) {
		c.JSON(http.StatusOK, core.Clients())
	})

	api.POST("/disconnect", func(c *gin.Context) {
		id, err := strconv.ParseInt(c.PostForm("client_id"), 10, 64)
		if err != nil {
			c.String(http.StatusBadRequest, "invalid client_id")
			return
		}
		if !core.Disconnect(id) {
			c.String(http.StatusNotFound, "no such client")
			return
		}
		c.String(http.StatusOK, "disconnected")
	})

	api.GET("/routerinfo", func(c *gin.Context) {
		c.JSON(http.StatusOK, core.RouterInfos())
	})

	api.GET("/sharedinfo", func(c *gin.Context) {
		c.JSON(http.StatusOK, core.SharedInfos())
	})

	api.GET("/upstream", func(c *gin.Context) {
		c.JSON(http.StatusOK, core.Upstream())
	})

	api.POST("/upstream", func(c *gin.Context) {
		var req SetUpstreamRequest
		if err := c.ShouldBind(&req); err != nil {
			c.String(http.StatusBadRequest, err.Error())
			return
		}
		if err := core.SetUpstream(req); err != nil {
			c.String(http.StatusBadRequest, err.Error())
			return
		}
		c.JSON(http.StatusOK, core.Upstream())
	})

	api.GET("/filter/:name/:action", func(c *gin.Context) {
		name := c.Param("name")
		action := c.Param("action")
		if action != "enable" && action != "disable" {
			c.String(http.StatusBadRequest, "action must be enable or disable")
			return
		}
		if err := core.SetFilter(name, action == "enable"); err != nil {
			c.String(http.StatusBadRequest, err.Error())
			return
		}
		c.String(http.StatusOK, "ok")
	})

	api.GET("/blocklist", func(c *gin.Context) {
		c.JSON(http.StatusOK, core.Blocklist())
	})

	api.POST("/blocklist/add", func(c *gin.Context) {
		var entry BlocklistEntry
		if err := c.ShouldBind(&entry); err != nil {
			c.String(http.StatusBadRequest, err.Error())
			return
		}
		if err := core.AddBlock(entry); err != nil {
			c.String(http.StatusBadRequest, err.Error())
			return
		}
		c.JSON(http.StatusOK, core.Blocklist())
	})

	api.POST("/blocklist/remove", func(c *gin.Context) {
		displayName := c.PostForm("display_name")
		if err := core.RemoveBlock(displayName); err != nil {
			c.String(http.StatusBadRequest, err.Error())
			return
		}
		c.JSON(http.StatusOK, core.Blocklist())
	})

	api.POST("/vpilotprint/message", func(c *gin.Context) {
		msg := c.PostForm("message")
		if err := core.VPilotPrint(msg); err != nil {
			c.String(http.StatusBadRequest, err.Error())
			return
		}
		c.String(http.StatusOK, "ok")
	})
}
