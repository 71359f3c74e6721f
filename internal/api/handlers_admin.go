package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/pronouncex/ttsjobs/internal/response"
)

func (s *Server) handleListModels(c *gin.Context) {
	response.JSON(c, http.StatusOK, gin.H{"models": []gin.H{}})
}

// handleAdminStatus answers spec §6's GET /v1/admin/status: operational
// counters only, no request text or other PII. The detailed Prometheus
// exposition lives at GET /v1/metrics (see router.go).
func (s *Server) handleAdminStatus(c *gin.Context) {
	snap := s.Metrics.Snapshot()
	storeSnap, _ := s.Manager.StatusSnapshot(c.Request.Context())
	queueLen, _ := s.Manager.QueueLength(c.Request.Context())
	workers, _ := s.Manager.WorkersOnline(c.Request.Context())

	cpuPercent, _ := cpu.Percent(0, false)
	vmem, _ := mem.VirtualMemory()

	var cpuPct float64
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	response.JSON(c, http.StatusOK, gin.H{
		"uptime_seconds": time.Since(s.StartedAt).Seconds(),
		"workers_online": workers,
		"queue_len":      queueLen,
		"active_jobs":    storeSnap.ActiveJobs,
		"retry_counts": gin.H{
			"segment_retries":    snap.SegmentRetries,
			"segment_retry_caps": snap.SegmentRetryCaps,
		},
		"fallback_model_usage":  snap.FallbackModelUsage,
		"merge_lock_contention":  snap.MergeLockWaits,
		"host": gin.H{
			"cpu_percent":     cpuPct,
			"mem_used_bytes":  memUsed(vmem),
			"mem_total_bytes": memTotal(vmem),
		},
	})
}

func memUsed(v *mem.VirtualMemoryStat) uint64 {
	if v == nil {
		return 0
	}
	return v.Used
}

func memTotal(v *mem.VirtualMemoryStat) uint64 {
	if v == nil {
		return 0
	}
	return v.Total
}
