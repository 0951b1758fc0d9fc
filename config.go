package llama2

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/llama2core/llama2core/internal/apierr"
	"github.com/llama2core/llama2core/weights"
)

// APIVersion is the magic cookie construction callers must echo in
// EngineConfig.APIVersion; it changes whenever EngineConfig's layout
// changes in a way old callers can't safely ignore.
const APIVersion = 0xabcd0101

// ModelType selects whether queries get chat-template wrapping.
type ModelType int

const (
	ModelGen ModelType = iota
	ModelChat
)

// EngineConfig groups the transformer-construction fields of spec §6's
// configuration struct. Fields relevant only to session construction and
// query live in QueryConfig.
type EngineConfig struct {
	APIVersion uint

	CheckpointPath string
	TokenizerPath  string // "" means "./tokenizer.bin"

	ModelAccess weights.AccessMode
	ModelBase   []byte // required iff ModelAccess == AccessAbsolute
	CacheLimit  int64  // required iff ModelAccess == AccessPagedCache

	Threads int // 0 = default (8)

	ModelType   ModelType
	MaxSessions int // 0 = unlimited

	Name string

	Logger *logrus.Logger // nil = logrus.StandardLogger()
}

// defaultThreads matches spec §4.4: "default 8 if multithreading is
// enabled, 1 otherwise." Multithreading is considered enabled whenever the
// caller didn't explicitly ask for a single thread.
const defaultThreads = 8

func (c *EngineConfig) applyDefaults() {
	if c.TokenizerPath == "" {
		c.TokenizerPath = "./tokenizer.bin"
	}
	if c.Threads == 0 {
		c.Threads = defaultThreads
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
}

func (c EngineConfig) validate() error {
	if c.APIVersion != APIVersion {
		return fmt.Errorf("llama2: api_version 0x%x does not match compiled 0x%x: %w", c.APIVersion, APIVersion, apierr.ErrVersionMismatch)
	}
	switch c.ModelAccess {
	case weights.AccessAbsolute:
		if c.ModelBase == nil {
			return fmt.Errorf("llama2: absolute access requires model_base: %w", apierr.ErrBadConfig)
		}
	case weights.AccessPagedCache:
		if c.CacheLimit <= 0 {
			return fmt.Errorf("llama2: malloc-cache access requires a positive cache_limit: %w", apierr.ErrBadConfig)
		}
	case weights.AccessMmap:
		if c.CheckpointPath == "" {
			return fmt.Errorf("llama2: mmap access requires checkpoint_path: %w", apierr.ErrBadConfig)
		}
	default:
		return fmt.Errorf("llama2: unknown model_access %d: %w", c.ModelAccess, apierr.ErrBadConfig)
	}
	if c.MaxSessions < 0 {
		return fmt.Errorf("llama2: max_sessions must be >= 0: %w", apierr.ErrBadConfig)
	}
	return nil
}

// QueryConfig groups the session-construction and per-query fields of
// spec §6's configuration struct: sampler parameters, prompt, limits and
// the issue callback.
type QueryConfig struct {
	System string
	Prompt string

	Limit       int // 0 = model maximum (seq_len)
	Temperature float32
	TopP        float32
	RNGSeed     uint64

	IssueCallback IssueCallback
	Opaque        any

	// NullOnDestroy is a weak observer: the session nils it out during
	// teardown rather than ever taking ownership of it (spec §9).
	NullOnDestroy **Session
}

// IssueCallback delivers one decoded piece of output. A nonzero return is
// reserved (spec §9 open question); this engine treats it as a
// cancellation signal, equivalent to calling Session.Cancel.
type IssueCallback func(opaque any, piece string) int

const (
	defaultTemperature = 1.0
	defaultTopP        = 0.9
)

func (q *QueryConfig) applyDefaults() {
	if q.Temperature == 0 {
		q.Temperature = defaultTemperature
	}
	if q.TopP == 0 {
		q.TopP = defaultTopP
	}
	if q.IssueCallback == nil {
		q.IssueCallback = stderrCallback
	}
}

func stderrCallback(_ any, piece string) int {
	fmt.Fprint(os.Stderr, piece)
	return 0
}

// fileConfig is the YAML-shaped configuration file format for
// cmd/llama2core, loaded with gopkg.in/yaml.v3 the same way the teacher
// loads its simulation parameters.
type fileConfig struct {
	APIVersion     uint    `yaml:"api_version"`
	CheckpointPath string  `yaml:"checkpoint_path"`
	TokenizerPath  string  `yaml:"tokenizer_path"`
	ModelAccess    string  `yaml:"model_access"`
	CacheLimit     int64   `yaml:"cache_limit"`
	Threads        int     `yaml:"threads"`
	ModelType      string  `yaml:"model_type"`
	MaxSessions    int     `yaml:"max_sessions"`
	Name           string  `yaml:"name"`
	System         string  `yaml:"system"`
	Prompt         string  `yaml:"prompt"`
	Limit          int     `yaml:"limit"`
	Temperature    float32 `yaml:"temperature"`
	TopP           float32 `yaml:"topp"`
	RNGSeed        uint64  `yaml:"rng_seed"`
}

// LoadConfig reads a YAML configuration file and returns the EngineConfig
// and QueryConfig it describes, applying the same defaulting rules
// construction does directly.
func LoadConfig(path string) (EngineConfig, QueryConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return EngineConfig{}, QueryConfig{}, fmt.Errorf("llama2: read config %q: %w: %v", path, apierr.ErrBadPath, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return EngineConfig{}, QueryConfig{}, fmt.Errorf("llama2: parse config %q: %w: %v", path, apierr.ErrBadFormat, err)
	}

	ec := EngineConfig{
		APIVersion:     fc.APIVersion,
		CheckpointPath: fc.CheckpointPath,
		TokenizerPath:  fc.TokenizerPath,
		CacheLimit:     fc.CacheLimit,
		Threads:        fc.Threads,
		MaxSessions:    fc.MaxSessions,
		Name:           fc.Name,
	}
	switch fc.ModelAccess {
	case "", "mmap":
		ec.ModelAccess = weights.AccessMmap
	case "malloc-cache":
		ec.ModelAccess = weights.AccessPagedCache
	case "absolute":
		ec.ModelAccess = weights.AccessAbsolute
	default:
		return EngineConfig{}, QueryConfig{}, fmt.Errorf("llama2: unknown model_access %q: %w", fc.ModelAccess, apierr.ErrBadConfig)
	}
	if fc.ModelType == "chat" {
		ec.ModelType = ModelChat
	}
	ec.applyDefaults()

	qc := QueryConfig{
		System:      fc.System,
		Prompt:      fc.Prompt,
		Limit:       fc.Limit,
		Temperature: fc.Temperature,
		TopP:        fc.TopP,
		RNGSeed:     fc.RNGSeed,
	}
	qc.applyDefaults()

	return ec, qc, nil
}
