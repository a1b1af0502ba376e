package relay

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

type runRequest struct {
	Items          []map[string]any `json:"items"`
	ContinueOnFail bool             `json:"continueOnFail"`
}

// NewHTTPHandler registers the node run endpoint on the gin engine.
// POST /nodes/:id/run takes the input item batch and returns the output
// records produced by the relay executor.
func NewHTTPHandler(app *App, executor *Executor, g *gin.Engine) {
	g.POST("/nodes/:id/run", handleRun(app, executor))
	g.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
}

func handleRun(app *App, executor *Executor) gin.HandlerFunc {
	return func(c *gin.Context) {
		node, ok := app.Nodes[c.Param("id")]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"message": "Unknown node: " + c.Param("id")})
			return
		}

		var req runRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "Wrong request body format"})
			return
		}

		exec := NewExecution(&node, req.Items, req.ContinueOnFail).WithContext(c.Request.Context())

		params, err := exec.ResolvedParameters()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "Error resolving parameters: " + err.Error()})
			return
		}

		var cfg Config
		if err := PrepareConfig(&cfg, params); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid node configuration: " + err.Error()})
			return
		}

		records, err := executor.Execute(exec, cfg)
		if err != nil {
			slog.Error("Relay execution failed",
				"node", node.ID,
				"operation", cfg.Operation,
				"error", err.Error())

			body := gin.H{"message": "Error in node execution: " + err.Error()}
			var opErr *OpError
			if errors.As(err, &opErr) && opErr.ItemIndex >= 0 {
				body["itemIndex"] = opErr.ItemIndex
			}
			c.JSON(http.StatusInternalServerError, body)
			return
		}

		c.JSON(http.StatusOK, gin.H{"records": records})
	}
}
