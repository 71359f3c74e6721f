// Package config assembles the service's runtime settings from environment
// variables, with production/development profile defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"

	"github.com/pronouncex/ttsjobs/internal/logging"
)

// Role selects which loops a process runs.
type Role string

const (
	RoleAll    Role = "all"
	RoleAPI    Role = "api"
	RoleWorker Role = "worker"
)

// ReadingProfile carries the default rate/pause/style knobs applied to a
// job unless the request overrides them. All five fields participate in
// a segment's cache key, so two jobs differing only in, say, number_mode
// must never collide on the same cached audio.
type ReadingProfile struct {
	Rate        float64
	PauseScale  float64
	QuoteMode   string
	AcronymMode string
	NumberMode  string
}

// Config is the fully resolved, validated configuration for one process.
type Config struct {
	Profile string
	Role    Role

	HTTPAddr string
	APIKey   string

	RedisURL string

	ModelID           string
	ModelIDDefault    string
	ModelIDQuality    string
	ModelAllowlist    []string
	PhonemeMode       string
	SynthesizerURL    string
	PhonemizerURL     string

	EnableAutolearn       bool
	AutolearnOnMiss       bool
	AutolearnPath         string
	AutolearnFlushSeconds int
	AutolearnMinLen       int

	DictDir      string
	CompiledDir  string
	CacheDir     string
	JobsDir      string
	SegmentsDir  string
	TmpDir       string

	ReadingProfile         ReadingProfile
	CompilerVersion        string
	PublicSegmentBaseURL   string
	ParallelEncode         bool

	MaxWorkers            int
	PerJobWorkers         int
	MaxTextChars          int
	MaxSegments           int
	MaxActiveJobs         int
	MaxConcurrentSegments int
	MinSegmentChars       int
	RequireWorkers        bool

	JobsTTLSeconds               int
	SegmentMaxRetries            int
	SegmentStaleSeconds          int
	StaleQueuedSeconds           int
	StaleQueuedRequireWorkers    bool
	StaleQueuedAbandonedSeconds  int

	ChunkTargetChars int
	ChunkMaxChars    int

	RateLimitPerClientRPS   int
	RateLimitPerClientBurst int

	DictPriority    []string
	EspeakBinary    string
	EspeakLanguage  string
	FFmpegBinary    string
	OpusBitrateBps  int

	CacheMaxBytes   int64
	CacheMaxEntries int

	SynthTimeout  time.Duration
	PhonemeModels []string
	SpeakerModels []string

	MergedAudioDir     string
	RedisKeyPrefix     string
	LocalQueueCapacity int
	AutoLearnFlushCron string

	SynthBackend         string
	FishAudioAPIKey      string
	FishAudioReferenceID string
	FishAudioModel       string

	Log logging.Config
}

// Load reads .env (if present) then environment variables into a Config,
// applying the same defaults and clamps as the reference service.
func Load() (Config, error) {
	_ = godotenv.Load()

	profile := strings.ToLower(getEnv("TTSJOBS_PROFILE", "production"))

	role := Role(strings.ToLower(getEnv("TTSJOBS_ROLE", "api")))
	if role != RoleAll && role != RoleAPI && role != RoleWorker {
		role = RoleAll
	}

	modelID := getEnv("TTSJOBS_MODEL_ID", "tts_models/en/ljspeech/tacotron2-DDC_ph")
	modelIDDefault := getEnv("TTSJOBS_MODEL_ID_DEFAULT", modelID)
	modelIDQuality := getEnv("TTSJOBS_MODEL_ID_QUALITY", "tts_models/en/ljspeech/vits")
	defaultAllowlist := []string{
		modelID, modelIDDefault, modelIDQuality,
		"tts_models/en/ljspeech/vits",
		"tts_models/en/ljspeech/glow-tts",
		"tts_models/en/ljspeech/speedy-speech",
		"tts_models/en/ljspeech/fast_pitch",
	}
	modelAllowlist := parseAllowlist(getEnv("TTSJOBS_MODEL_ALLOWLIST", ""), defaultAllowlist)
	if !contains(modelAllowlist, modelIDQuality) {
		return Config{}, fmt.Errorf("TTSJOBS_MODEL_ID_QUALITY must be in TTSJOBS_MODEL_ALLOWLIST")
	}
	if !contains(modelAllowlist, modelIDDefault) {
		modelIDDefault = modelIDQuality
	}

	cacheDir := getEnv("TTSJOBS_CACHE_DIR", "./data/cache")
	cfg := Config{
		Profile: profile,
		Role:    role,

		HTTPAddr: getEnv("TTSJOBS_HTTP_ADDR", ":8080"),
		APIKey:   getEnv("TTSJOBS_API_KEY", ""),

		RedisURL: getEnv("TTSJOBS_REDIS_URL", ""),

		ModelID:        modelID,
		ModelIDDefault: modelIDDefault,
		ModelIDQuality: modelIDQuality,
		ModelAllowlist: modelAllowlist,
		PhonemeMode:    getEnv("TTSJOBS_PHONEME_MODE", "espeak"),
		SynthesizerURL: getEnv("TTSJOBS_SYNTH_URL", ""),
		PhonemizerURL:  getEnv("TTSJOBS_PHONEMIZER_URL", ""),

		EnableAutolearn:       cast.ToBool(getEnv("TTSJOBS_AUTOLEARN", "1")),
		AutolearnOnMiss:       cast.ToBool(getEnv("TTSJOBS_AUTOLEARN_ON_MISS", "0")),
		AutolearnPath:         getEnv("TTSJOBS_AUTOLEARN_PATH", filepath.Join(cacheDir, "dicts", "auto_learn.json")),
		AutolearnFlushSeconds: cast.ToInt(getEnv("TTSJOBS_AUTOLEARN_FLUSH_SECONDS", "5")),
		AutolearnMinLen:       cast.ToInt(getEnv("TTSJOBS_AUTOLEARN_MIN_LEN", "3")),

		DictDir:     getEnv("TTSJOBS_DICT_DIR", "./dicts/packs"),
		CompiledDir: getEnv("TTSJOBS_COMPILED_DIR", "./dicts/compiled"),
		CacheDir:    cacheDir,
		JobsDir:     getEnv("TTSJOBS_JOBS_DIR", filepath.Join(cacheDir, "jobs")),
		SegmentsDir: getEnv("TTSJOBS_SEGMENTS_DIR", filepath.Join(cacheDir, "segments")),
		TmpDir:      getEnv("TTSJOBS_TMP_DIR", filepath.Join(cacheDir, "tmp")),

		ReadingProfile: ReadingProfile{
			Rate:        cast.ToFloat64(getEnv("TTSJOBS_RATE", "1.0")),
			PauseScale:  cast.ToFloat64(getEnv("TTSJOBS_PAUSE_SCALE", "1.0")),
			QuoteMode:   strings.ToLower(getEnv("TTSJOBS_QUOTE_MODE", "normal")),
			AcronymMode: strings.ToLower(getEnv("TTSJOBS_ACRONYM_MODE", "off")),
			NumberMode:  strings.ToLower(getEnv("TTSJOBS_NUMBER_MODE", "cardinal")),
		},
		CompilerVersion:      getEnv("TTSJOBS_COMPILER_VERSION", "1.0.0"),
		PublicSegmentBaseURL: normalizeBaseURL(getEnv("TTSJOBS_PUBLIC_SEGMENT_BASE_URL", "/v1/tts")),
		ParallelEncode:       cast.ToBool(getEnv("TTSJOBS_PARALLEL_ENCODE", "1")),

		MaxWorkers:            cast.ToInt(getEnv("TTSJOBS_WORKERS", "4")),
		PerJobWorkers:         cast.ToInt(getEnv("TTSJOBS_JOB_WORKERS", "1")),
		MaxTextChars:          cast.ToInt(getEnv("TTSJOBS_MAX_TEXT_CHARS", "20000")),
		MaxSegments:           cast.ToInt(getEnv("TTSJOBS_MAX_SEGMENTS", "120")),
		MaxActiveJobs:         cast.ToInt(getEnv("TTSJOBS_MAX_ACTIVE_JOBS", "20")),
		MaxConcurrentSegments: cast.ToInt(getEnv("TTSJOBS_MAX_CONCURRENT_SEGMENTS", "1")),
		MinSegmentChars:       cast.ToInt(getEnv("TTSJOBS_MIN_SEGMENT_CHARS", "60")),
		RequireWorkers:        cast.ToBool(getEnv("TTSJOBS_REQUIRE_WORKERS", "0")),

		JobsTTLSeconds:              cast.ToInt(getEnv("TTSJOBS_JOBS_TTL_SECONDS", "86400")),
		SegmentMaxRetries:           cast.ToInt(getEnv("TTSJOBS_SEGMENT_MAX_RETRIES", "2")),
		SegmentStaleSeconds:         cast.ToInt(getEnv("TTSJOBS_SEGMENT_STALE_SECONDS", "300")),
		StaleQueuedSeconds:          cast.ToInt(getEnv("TTSJOBS_STALE_QUEUED_SECONDS", "3600")),
		StaleQueuedRequireWorkers:   cast.ToBool(getEnv("TTSJOBS_STALE_QUEUED_REQUIRE_WORKERS", "1")),
		StaleQueuedAbandonedSeconds: cast.ToInt(getEnv("TTSJOBS_STALE_QUEUED_ABANDONED_SECONDS", "86400")),

		ChunkTargetChars: cast.ToInt(getEnv("TTSJOBS_CHUNK_TARGET_CHARS", "300")),
		ChunkMaxChars:    cast.ToInt(getEnv("TTSJOBS_CHUNK_MAX_CHARS", "500")),

		RateLimitPerClientRPS:   cast.ToInt(getEnv("TTSJOBS_RATE_LIMIT_RPS", "20")),
		RateLimitPerClientBurst: cast.ToInt(getEnv("TTSJOBS_RATE_LIMIT_BURST", "40")),

		DictPriority:   parseAllowlist(getEnv("TTSJOBS_DICT_PRIORITY", ""), []string{"local_overrides", "auto_learn", "anime_en", "en_core"}),
		EspeakBinary:   getEnv("TTSJOBS_ESPEAK_BINARY", "espeak-ng"),
		EspeakLanguage: getEnv("TTSJOBS_ESPEAK_LANGUAGE", "en-us"),
		FFmpegBinary:   getEnv("TTSJOBS_FFMPEG_BINARY", "ffmpeg"),
		OpusBitrateBps: cast.ToInt(getEnv("TTSJOBS_OPUS_BITRATE_BPS", "48000")),

		CacheMaxBytes:   cast.ToInt64(getEnv("TTSJOBS_CACHE_MAX_BYTES", "5368709120")),
		CacheMaxEntries: cast.ToInt(getEnv("TTSJOBS_CACHE_MAX_ENTRIES", "200000")),

		SynthTimeout:  time.Duration(cast.ToInt(getEnv("TTSJOBS_SYNTH_TIMEOUT_SECONDS", "30"))) * time.Second,
		PhonemeModels: parseAllowlist(getEnv("TTSJOBS_PHONEME_MODELS", ""), []string{modelIDDefault}),
		SpeakerModels: parseAllowlist(getEnv("TTSJOBS_SPEAKER_MODELS", ""), []string{modelIDQuality}),

		MergedAudioDir:     getEnv("TTSJOBS_MERGED_AUDIO_DIR", filepath.Join(cacheDir, "merged")),
		RedisKeyPrefix:     getEnv("TTSJOBS_REDIS_KEY_PREFIX", "px"),
		LocalQueueCapacity: cast.ToInt(getEnv("TTSJOBS_LOCAL_QUEUE_CAPACITY", "4096")),
		AutoLearnFlushCron: getEnv("TTSJOBS_AUTOLEARN_FLUSH_CRON", "@every 5s"),

		SynthBackend:         strings.ToLower(getEnv("TTSJOBS_SYNTH_BACKEND", "http")),
		FishAudioAPIKey:      getEnv("TTSJOBS_FISHAUDIO_API_KEY", ""),
		FishAudioReferenceID: getEnv("TTSJOBS_FISHAUDIO_REFERENCE_ID", ""),
		FishAudioModel:       getEnv("TTSJOBS_FISHAUDIO_MODEL", "s1"),

		Log: logging.Config{
			Level:      getEnv("TTSJOBS_LOG_LEVEL", "info"),
			Filename:   getEnv("TTSJOBS_LOG_FILE", ""),
			MaxSizeMB:  cast.ToInt(getEnv("TTSJOBS_LOG_MAX_SIZE_MB", "100")),
			MaxAgeDays: cast.ToInt(getEnv("TTSJOBS_LOG_MAX_AGE_DAYS", "14")),
			MaxBackups: cast.ToInt(getEnv("TTSJOBS_LOG_MAX_BACKUPS", "7")),
			Daily:      cast.ToBool(getEnv("TTSJOBS_LOG_DAILY", "0")),
			Profile:    profile,
		},
	}

	clamp(&cfg)
	if err := ensureDirs(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func clamp(cfg *Config) {
	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = 1
	}
	if cfg.PerJobWorkers < 1 {
		cfg.PerJobWorkers = 1
	}
	if cfg.PerJobWorkers > cfg.MaxWorkers {
		cfg.PerJobWorkers = cfg.MaxWorkers
	}
	if cfg.MaxConcurrentSegments < 1 {
		cfg.MaxConcurrentSegments = 1
	}
	if cfg.PerJobWorkers > cfg.MaxConcurrentSegments {
		cfg.PerJobWorkers = cfg.MaxConcurrentSegments
	}
	if cfg.MaxTextChars < 1 {
		cfg.MaxTextChars = 1
	}
	if cfg.MaxSegments < 1 {
		cfg.MaxSegments = 1
	}
	if cfg.MaxActiveJobs < 1 {
		cfg.MaxActiveJobs = 1
	}
	if cfg.MinSegmentChars < 1 {
		cfg.MinSegmentChars = 1
	}
	if cfg.SegmentMaxRetries < 0 {
		cfg.SegmentMaxRetries = 0
	}
	if cfg.SegmentStaleSeconds < 1 {
		cfg.SegmentStaleSeconds = 1
	}
	if cfg.ChunkTargetChars < 1 {
		cfg.ChunkTargetChars = 1
	}
	if cfg.ChunkMaxChars < cfg.ChunkTargetChars {
		cfg.ChunkMaxChars = cfg.ChunkTargetChars
	}
	clampReadingProfile(&cfg.ReadingProfile)
}

func clampReadingProfile(rp *ReadingProfile) {
	if rp.Rate < 0.8 || rp.Rate > 1.2 {
		rp.Rate = 1.0
	}
	if rp.PauseScale < 0.8 || rp.PauseScale > 1.3 {
		rp.PauseScale = 1.0
	}
	if rp.QuoteMode != "normal" && rp.QuoteMode != "tight" {
		rp.QuoteMode = "normal"
	}
	if rp.AcronymMode != "off" && rp.AcronymMode != "spell" {
		rp.AcronymMode = "off"
	}
	switch rp.NumberMode {
	case "cardinal", "ordinal", "year":
	default:
		rp.NumberMode = "cardinal"
	}
}

func ensureDirs(cfg Config) error {
	dirs := []string{
		filepath.Dir(cfg.AutolearnPath),
		cfg.DictDir, cfg.CompiledDir, cfg.CacheDir, cfg.JobsDir, cfg.SegmentsDir, cfg.TmpDir,
		cfg.MergedAudioDir,
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dir %s: %w", dir, err)
		}
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseAllowlist(raw string, def []string) []string {
	var items []string
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return def
	}
	return items
}

func contains(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}

func normalizeBaseURL(raw string) string {
	base := strings.TrimSpace(raw)
	if base == "" {
		base = "/v1/tts"
	}
	base = strings.TrimRight(base, "/")
	if strings.HasPrefix(base, "http://") || strings.HasPrefix(base, "https://") {
		return base
	}
	return "/" + strings.TrimLeft(base, "/")
}

// Redact returns a copy of the config safe to log: secrets blanked out.
func (c Config) Redact() map[string]any {
	apiKey := c.APIKey
	if apiKey != "" {
		apiKey = "***"
	}
	return map[string]any{
		"profile":           c.Profile,
		"role":              c.Role,
		"http_addr":         c.HTTPAddr,
		"api_key_set":       apiKey != "",
		"redis_url_set":     c.RedisURL != "",
		"model_id":          c.ModelID,
		"model_allowlist":   c.ModelAllowlist,
		"max_workers":       c.MaxWorkers,
		"max_active_jobs":   c.MaxActiveJobs,
		"cache_dir":         c.CacheDir,
		"jobs_dir":          c.JobsDir,
		"require_workers":   c.RequireWorkers,
		"autolearn_enabled": c.EnableAutolearn,
	}
}
