package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/danmuck/muxctl/internal/observability"
	"github.com/danmuck/muxctl/internal/ops"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"service": "muxctl",
		})
	})

	observability.RegisterMetrics()
	protected := s.router.Group("/", s.requireToken())
	protected.GET("/metrics", gin.WrapH(promhttp.Handler()))
	protected.GET("/devices", s.listDevices)
	protected.POST("/apps/:bundleID/jit", s.enableJIT)
	protected.PUT("/apps/:bundleID/package", s.stagePackage)
	protected.POST("/apps/:bundleID/install", s.installPackage)
}

func (s *Server) listDevices(c *gin.Context) {
	devices, err := s.devices.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	out := make([]gin.H, 0, len(devices))
	for _, d := range devices {
		out = append(out, gin.H{
			"udid":            d.UDID,
			"device_id":       d.DeviceID,
			"connection_type": d.ConnectionType,
			"product_id":      d.ProductID,
		})
	}
	c.JSON(http.StatusOK, gin.H{"devices": out})
}

func (s *Server) enableJIT(c *gin.Context) {
	respond(c, s.ops.EnableJITOutcome(c.Request.Context(), c.Param("bundleID")))
}

func (s *Server) installPackage(c *gin.Context) {
	respond(c, s.ops.InstallPackageOutcome(c.Request.Context(), c.Param("bundleID")))
}

func (s *Server) stagePackage(c *gin.Context) {
	body := http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxPackageBytes)
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "package exceeds server.max_package_bytes"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	respond(c, s.ops.StagePackageOutcome(c.Request.Context(), c.Param("bundleID"), data))
}

func respond(c *gin.Context, out ops.Outcome) {
	body := gin.H{
		"op":          string(out.Op),
		"bundle_id":   out.BundleID,
		"status":      int(out.Status),
		"status_name": out.Status.String(),
		"elapsed":     out.Duration.String(),
	}
	if out.Err != nil {
		body["error"] = out.Err.Error()
	}
	c.JSON(httpStatus(out.Status), body)
}

func httpStatus(status ops.Status) int {
	switch status {
	case ops.StatusOK:
		return http.StatusOK
	case ops.StatusInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}
