package api

import (
	"fmt"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/pronouncex/ttsjobs/internal/apperr"
	"github.com/pronouncex/ttsjobs/internal/jobs"
	"github.com/pronouncex/ttsjobs/internal/jobstore"
	"github.com/pronouncex/ttsjobs/internal/response"
)

type submitJobRequest struct {
	Text           string         `json:"text" binding:"required"`
	Model          string         `json:"model"`
	ModelID        string         `json:"model_id"`
	VoiceID        string         `json:"voice_id"`
	PreferPhonemes bool           `json:"prefer_phonemes"`
	ReadingProfile map[string]any `json:"reading_profile"`
}

func (s *Server) handleSubmitJob(c *gin.Context) {
	var req submitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperr.New(apperr.CodeInvalidText, http.StatusBadRequest, "invalid request body"))
		return
	}

	modelID := resolveModelID(req.Model, req.ModelID)
	job, err := s.Manager.Submit(c.Request.Context(), jobs.Request{
		Text:           req.Text,
		ModelID:        modelID,
		VoiceID:        req.VoiceID,
		PreferPhonemes: req.PreferPhonemes,
		ReadingProfile: req.ReadingProfile,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, jobView(job))
}

// resolveModelID mirrors the original _builders.build_job_request: a
// "default"/"quality" shorthand wins over an explicit model_id, which
// wins over nothing at all.
func resolveModelID(model, modelID string) string {
	switch model {
	case "default", "quality":
		return model
	case "":
		return modelID
	default:
		return model
	}
}

func (s *Server) handleGetJob(c *gin.Context) {
	job, err := s.Manager.Get(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, jobView(job))
}

func (s *Server) handleCancelJob(c *gin.Context) {
	job, err := s.Manager.Cancel(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, jobView(job))
}

type segmentView struct {
	ID                  string         `json:"id"`
	Index               int            `json:"index"`
	Status              string         `json:"status"`
	ErrorCode           string         `json:"error_code,omitempty"`
	Retries             int            `json:"retries"`
	ResolvedPhonemes    string         `json:"resolved_phonemes,omitempty"`
	UsedPhonemes        bool           `json:"used_phonemes"`
	ResolveSourceCounts map[string]int `json:"resolve_source_counts,omitempty"`
}

type jobViewBody struct {
	ID                 string        `json:"id"`
	Status             string        `json:"status"`
	Segments           []segmentView `json:"segments"`
	FallbackModelUsage int           `json:"fallback_model_usage"`
	Error              string        `json:"error,omitempty"`
	SegmentsTotal      int           `json:"segments_total"`
	SegmentsReady      int           `json:"segments_ready"`
	SegmentsError      int           `json:"segments_error"`
	ProgressPct        float64       `json:"progress_pct"`
}

func jobView(job *jobstore.Job) jobViewBody {
	v := jobViewBody{
		ID:                 job.ID,
		Status:             string(job.Status),
		FallbackModelUsage: job.FallbackModelUsage,
		Error:              job.Error,
		SegmentsTotal:      job.SegmentsTotal,
		SegmentsReady:      job.SegmentsReady,
		SegmentsError:      job.SegmentsError,
		ProgressPct:        job.ProgressPct,
	}
	for _, seg := range job.Segments {
		v.Segments = append(v.Segments, segmentView{
			ID:                  seg.ID,
			Index:               seg.Index,
			Status:              string(seg.Status),
			ErrorCode:           seg.ErrorCode,
			Retries:             seg.Retries,
			ResolvedPhonemes:    seg.ResolvedPhonemes,
			UsedPhonemes:        seg.UsedPhonemes,
			ResolveSourceCounts: seg.ResolveSourceCounts,
		})
	}
	return v
}

type playlistEntry struct {
	Index      int    `json:"index"`
	SegmentID  string `json:"segment_id"`
	Status     string `json:"status"`
	URLBackend string `json:"url_backend,omitempty"`
	URLProxy   string `json:"url_proxy,omitempty"`
	URLBest    string `json:"url_best,omitempty"`
}

func (s *Server) handlePlaylist(c *gin.Context) {
	job, err := s.Manager.Get(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	preferProxy := preferProxyFromHeaders(c.Request.Header)
	entries := make([]playlistEntry, 0, len(job.Segments))
	for _, seg := range job.Segments {
		backend := fmt.Sprintf("/v1/tts/jobs/%s/segments/%s", job.ID, seg.ID)
		proxy := c.Request.Header.Get("X-Forwarded-Prefix") + backend
		entries = append(entries, playlistEntry{
			Index:      seg.Index,
			SegmentID:  seg.ID,
			Status:     string(seg.Status),
			URLBackend: backend,
			URLProxy:   proxy,
			URLBest:    selectBestURL(proxy, backend, preferProxy),
		})
	}
	response.JSON(c, http.StatusOK, gin.H{"job_id": job.ID, "status": job.Status, "segments": entries})
}

// preferProxyFromHeaders mirrors the original's header-sniffing
// heuristic for deciding whether a client is coming through a reverse
// proxy (and should therefore receive the proxy URL) or hitting the
// backend directly.
func preferProxyFromHeaders(h http.Header) bool {
	if h.Get("X-Forwarded-Host") != "" || h.Get("X-Forwarded-Proto") != "" {
		return true
	}
	origin := h.Get("Origin")
	if origin != "" && !containsPort8000(origin) {
		return true
	}
	return false
}

func containsPort8000(s string) bool {
	for i := 0; i+5 <= len(s); i++ {
		if s[i:i+5] == ":8000" {
			return true
		}
	}
	return false
}

func selectBestURL(proxy, backend string, preferProxy bool) string {
	if preferProxy {
		if proxy != "" {
			return proxy
		}
		return backend
	}
	if backend != "" {
		return backend
	}
	return proxy
}

func (s *Server) handleGetSegment(c *gin.Context) {
	seg, data, found := s.findSegmentAudio(c)
	if !found {
		return
	}
	if seg.Status != jobstore.SegReady {
		response.JSON(c, http.StatusAccepted, gin.H{"status": seg.Status})
		return
	}
	c.Header("ETag", `"`+seg.CacheKey+`"`)
	c.Header("Cache-Control", "public, max-age=31536000, immutable")
	c.Data(http.StatusOK, "audio/ogg", data)
}

func (s *Server) handleHeadSegment(c *gin.Context) {
	seg, _, found := s.findSegmentAudio(c)
	if !found {
		return
	}
	if seg.Status != jobstore.SegReady {
		c.Status(http.StatusAccepted)
		return
	}
	c.Header("ETag", `"`+seg.CacheKey+`"`)
	c.Header("Cache-Control", "public, max-age=31536000, immutable")
	c.Status(http.StatusOK)
}

func (s *Server) findSegmentAudio(c *gin.Context) (*jobstore.Segment, []byte, bool) {
	job, err := s.Manager.Get(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		response.Error(c, err)
		return nil, nil, false
	}
	segID := c.Param("segment_id")
	var seg *jobstore.Segment
	for i := range job.Segments {
		if job.Segments[i].ID == segID {
			seg = &job.Segments[i]
			break
		}
	}
	if seg == nil {
		response.NotFound(c, "segment not found")
		return nil, nil, false
	}
	if seg.Status != jobstore.SegReady {
		return seg, nil, true
	}
	data, _, ok := s.Cache.Get(seg.CacheKey)
	if !ok {
		response.NotFound(c, "segment audio expired from cache")
		return nil, nil, false
	}
	return seg, data, true
}

func (s *Server) handleGetMergedAudio(c *gin.Context) {
	job, err := s.Manager.Get(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if job.Status != jobstore.JobComplete && job.Status != jobstore.JobCompleteWithErrors {
		response.JSON(c, http.StatusAccepted, gin.H{"status": job.Status})
		return
	}
	path, err := s.Merge.Merge(c.Request.Context(), job)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Cache-Control", "public, max-age=86400")
	c.File(path)
}

// handleStream serves the merged audio with a forced octet range to
// support progressive playback; the heavy lifting of range handling is
// left to net/http's ServeFile-equivalent via gin's File, which already
// honors Range requests.
func (s *Server) handleStream(c *gin.Context) {
	job, err := s.Manager.Get(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if job.Status != jobstore.JobComplete && job.Status != jobstore.JobCompleteWithErrors {
		response.JSON(c, http.StatusAccepted, gin.H{"status": job.Status})
		return
	}
	path, err := s.Merge.Merge(c.Request.Context(), job)
	if err != nil {
		response.Error(c, err)
		return
	}
	if _, err := os.Stat(path); err != nil {
		response.NotFound(c, "merged audio not found")
		return
	}
	c.Header("Accept-Ranges", "bytes")
	c.File(path)
}
