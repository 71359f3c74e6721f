package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pronouncex/ttsjobs/internal/apperr"
	"github.com/pronouncex/ttsjobs/internal/dict"
	"github.com/pronouncex/ttsjobs/internal/response"
)

func (s *Server) handleListPacks(c *gin.Context) {
	names := s.Dicts.Names()
	packs := make([]gin.H, 0, len(names))
	for _, name := range names {
		p := s.Dicts.Get(name)
		if p == nil {
			continue
		}
		packs = append(packs, gin.H{"name": p.Name, "version": p.Version, "entry_count": p.EntryCount()})
	}
	response.JSON(c, http.StatusOK, packs)
}

func (s *Server) handleGetPack(c *gin.Context) {
	pack := s.Dicts.Get(c.Param("name"))
	if pack == nil {
		response.NotFound(c, "pack not found")
		return
	}
	response.JSON(c, http.StatusOK, pack)
}

type uploadPackRequest struct {
	Name    string                 `json:"name" binding:"required"`
	Entries map[string]interface{} `json:"entries" binding:"required"`
}

// handleUploadPack adds or updates an overrides pack from a full
// {name,entries} body, per spec §6's POST /v1/dicts/upload.
func (s *Server) handleUploadPack(c *gin.Context) {
	var req uploadPackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperr.New(apperr.CodeInvalidText, http.StatusBadRequest, "invalid pack body"))
		return
	}
	pack := dict.NewPack(req.Name, req.Entries)
	if err := s.Dicts.Put(pack); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, pack)
}

// handleCompilePacks reloads every pack from disk, picking up any files
// dropped or edited out of band, per spec §6's POST /v1/dicts/compile.
func (s *Server) handleCompilePacks(c *gin.Context) {
	if err := s.Dicts.LoadAll(); err != nil {
		response.Error(c, apperr.Wrap(apperr.CodeInternal, http.StatusInternalServerError, "compile failed", err))
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"compiled": true, "packs": s.Dicts.Names()})
}

type overrideRequest struct {
	Pack     string `json:"pack" binding:"required"`
	Key      string `json:"key" binding:"required"`
	Phonemes string `json:"phonemes" binding:"required"`
}

// handleOverride upserts one key into the named pack, per spec §6's
// POST /v1/dicts/override body {pack,key,phonemes}.
func (s *Server) handleOverride(c *gin.Context) {
	var req overrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperr.New(apperr.CodeInvalidText, http.StatusBadRequest, "invalid override body"))
		return
	}
	pack := s.Dicts.Get(req.Pack)
	if pack == nil {
		pack = dict.NewPack(req.Pack, map[string]interface{}{})
	}
	dict.SetEntry(pack, req.Key, req.Phonemes)
	if err := s.Dicts.Put(pack); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, pack)
}

func (s *Server) handleFlushLearn(c *gin.Context) {
	if s.Learner == nil {
		response.Error(c, apperr.New(apperr.CodeInvalidText, http.StatusBadRequest, "auto-learn is disabled"))
		return
	}
	if err := s.Learner.Flush(); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"flushed": true})
}

// handleLookup looks up a single key across the priority stack without
// resolving the fallback phonemizer, per spec §6's
// GET /v1/dicts/lookup?key=... → {key,phonemes,source_pack} or 404.
func (s *Server) handleLookup(c *gin.Context) {
	key := c.Query("key")
	if key == "" {
		response.Error(c, apperr.New(apperr.CodeInvalidText, http.StatusBadRequest, "key query param is required"))
		return
	}
	phonemes, sourcePack, ok := s.Resolver.Lookup(key)
	if !ok {
		response.NotFound(c, "key not found in any pack")
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"key": key, "phonemes": phonemes, "source_pack": sourcePack})
}

type learnRequest struct {
	Key string `json:"key" binding:"required"`
}

// handleLearn resolves a key through the fallback phonemizer and stores
// it directly into auto_learn, per spec §6's POST /v1/dicts/learn body
// {key} → resolves, stores in auto_learn, returns phonemes.
func (s *Server) handleLearn(c *gin.Context) {
	var req learnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperr.New(apperr.CodeInvalidText, http.StatusBadRequest, "invalid learn body"))
		return
	}
	phonemes, _, err := s.Resolver.Resolve(req.Key)
	if err != nil {
		response.Error(c, err)
		return
	}
	pack := s.Dicts.Get("auto_learn")
	if pack == nil {
		pack = dict.NewPack("auto_learn", map[string]interface{}{})
	}
	dict.SetEntry(pack, req.Key, phonemes)
	if err := s.Dicts.Put(pack); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"key": req.Key, "phonemes": phonemes})
}

type promoteRequest struct {
	Key        string `json:"key" binding:"required"`
	TargetPack string `json:"target_pack" binding:"required"`
	Overwrite  bool   `json:"overwrite"`
}

// handlePromote moves a single key out of auto_learn into the named
// target pack, per spec §6's POST /v1/dicts/promote body
// {key,target_pack,overwrite?}.
func (s *Server) handlePromote(c *gin.Context) {
	var req promoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperr.New(apperr.CodeInvalidText, http.StatusBadRequest, "invalid promote body"))
		return
	}
	src := s.Dicts.Get("auto_learn")
	if src == nil {
		response.NotFound(c, "auto_learn pack not found")
		return
	}
	phonemes, ok := dict.GetEntry(src, req.Key)
	if !ok {
		response.NotFound(c, "key not found in auto_learn")
		return
	}
	dst := s.Dicts.Get(req.TargetPack)
	if dst == nil {
		dst = dict.NewPack(req.TargetPack, map[string]interface{}{})
	}
	if _, exists := dict.GetEntry(dst, req.Key); exists && !req.Overwrite {
		response.Error(c, apperr.New(apperr.CodeDictConflict, http.StatusConflict, "key already exists in target pack, overwrite not set"))
		return
	}
	dict.SetEntry(dst, req.Key, phonemes)
	if err := s.Dicts.Put(dst); err != nil {
		response.Error(c, err)
		return
	}
	dict.DeleteEntry(src, req.Key)
	if err := s.Dicts.Put(src); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dst)
}

type phonemizeRequest struct {
	Text string `json:"text" binding:"required"`
}

func (s *Server) handlePhonemize(c *gin.Context) {
	var req phonemizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperr.New(apperr.CodeInvalidText, http.StatusBadRequest, "invalid phonemize body"))
		return
	}
	phonemes, results, err := s.Resolver.Resolve(req.Text)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"phonemes": phonemes, "resolutions": results})
}
