package http

import (
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/emberworks/emberos/internal/fault"
	"github.com/emberworks/emberos/internal/infrastructure/monitoring"
	"github.com/emberworks/emberos/internal/kernel"
	"github.com/emberworks/emberos/internal/loader"
	"github.com/emberworks/emberos/internal/logging"
)

// maxImageUpload caps the request body on the install endpoint.
const maxImageUpload = 32 << 20

// Handlers contains all console HTTP handlers.
type Handlers struct {
	kernel    *kernel.Kernel
	metrics   *monitoring.Metrics
	boardName string
	imageDirs []string
	log       *logging.Logger
	started   time.Time
}

// NewHandlers creates a handler set over the kernel.
func NewHandlers(k *kernel.Kernel, metrics *monitoring.Metrics, boardName string, imageDirs []string, log *logging.Logger) *Handlers {
	if log == nil {
		log = logging.Nop()
	}
	return &Handlers{
		kernel:    k,
		metrics:   metrics,
		boardName: boardName,
		imageDirs: imageDirs,
		log:       log,
		started:   time.Now(),
	}
}

// Root handles the identity check.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "emberos",
		"board":   h.boardName,
	})
}

// Health handles detailed health check.
func (h *Handlers) Health(c *gin.Context) {
	snap := h.kernel.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"uptime": time.Since(h.started).String(),
		"board":  h.boardName,
		"kernel": gin.H{
			"clock":  snap.Kernel.Clock,
			"loaded": snap.Kernel.Loaded,
			"active": snap.Kernel.Active,
		},
		"console": h.metrics.ConsoleSnapshot(),
	})
}

// KernelInfo returns the board-wide view: clock, scheduler, counters,
// and registered drivers.
func (h *Handlers) KernelInfo(c *gin.Context) {
	snap := h.kernel.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"kernel":  snap.Kernel,
		"drivers": snap.Drivers,
	})
}

// ListProcesses lists every loaded process.
func (h *Handlers) ListProcesses(c *gin.Context) {
	snap := h.kernel.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"processes": snap.Processes,
		"loaded":    snap.Kernel.Loaded,
		"active":    snap.Kernel.Active,
	})
}

// GetProcess returns one process by pid.
func (h *Handlers) GetProcess(c *gin.Context) {
	id, ok := pidParam(c)
	if !ok {
		return
	}
	for _, pi := range h.kernel.Snapshot().Processes {
		if pi.Pid == id.String() {
			c.JSON(http.StatusOK, pi)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "no such process"})
}

// StartProcess makes a stopped process runnable under a fresh
// generation.
func (h *Handlers) StartProcess(c *gin.Context) {
	id, ok := pidParam(c)
	if !ok {
		return
	}
	started, err := h.kernel.StartProcess(id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pid": started.String()})
}

// StopProcess takes a process off the schedulable set.
func (h *Handlers) StopProcess(c *gin.Context) {
	id, ok := pidParam(c)
	if !ok {
		return
	}
	if err := h.kernel.StopProcess(id); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pid": id.String()})
}

// RestartProcess reloads a process from its image. The old pid goes
// stale; the response carries the new one.
func (h *Handlers) RestartProcess(c *gin.Context) {
	id, ok := pidParam(c)
	if !ok {
		return
	}
	restarted, err := h.kernel.RestartProcess(id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pid": restarted.String()})
}

// UninstallProcess vacates the process's slot.
func (h *Handlers) UninstallProcess(c *gin.Context) {
	id, ok := pidParam(c)
	if !ok {
		return
	}
	if err := h.kernel.UninstallProcess(id); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pid": id.String()})
}

type installRequest struct {
	// Ref is a path or a bare name looked up in the image directories.
	Ref string `json:"ref" binding:"required"`
	// Policy overrides the bundle manifest: stop, restart, or panic.
	Policy   string `json:"policy"`
	Priority int    `json:"priority"`
}

// InstallImage loads an application into the lowest free slot. The
// request is either a JSON reference into the image directories or a
// raw image/bundle upload (application/octet-stream).
func (h *Handlers) InstallImage(c *gin.Context) {
	var (
		raw []byte
		req installRequest
		err error
	)
	if c.ContentType() == "application/octet-stream" {
		raw, err = io.ReadAll(io.LimitReader(c.Request.Body, maxImageUpload))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	} else {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		path, err := loader.Resolve(req.Ref, h.imageDirs)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if raw, err = os.ReadFile(path); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}

	bundle, err := loader.Open(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	opts, err := installOptions(req, bundle.Manifest)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := h.kernel.Install(bundle.Image, opts)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"pid":  id.String(),
		"name": bundle.Manifest.Name,
	})
}

// ListImages lists installable images found in the image directories.
func (h *Handlers) ListImages(c *gin.Context) {
	paths, err := loader.Discover(h.imageDirs, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"images": paths})
}

// installOptions merges the request over the bundle manifest.
func installOptions(req installRequest, m loader.Manifest) (kernel.InstallOptions, error) {
	policyName := req.Policy
	if policyName == "" {
		policyName = m.Policy
	}
	policy := fault.PolicyStop
	if policyName != "" {
		var err error
		if policy, err = fault.ParsePolicy(policyName); err != nil {
			return kernel.InstallOptions{}, err
		}
	}
	priority := req.Priority
	if priority == 0 {
		priority = m.Priority
	}
	return kernel.InstallOptions{Policy: policy, Priority: priority}, nil
}
