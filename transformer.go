package llama2

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/llama2core/llama2core/internal/apierr"
	"github.com/llama2core/llama2core/kernels"
	"github.com/llama2core/llama2core/tokenizer"
	"github.com/llama2core/llama2core/weights"
)

// Transformer is the constructed-once-per-process handle over a
// checkpoint's weights and tokenizer (spec §2 dataflow A→B→D). Sessions
// borrow it and must not outlive it.
type Transformer struct {
	cfg    EngineConfig
	log    *logrus.Logger
	weights *weights.WeightSet
	tok    *tokenizer.Tokenizer
	pool   *kernels.Pool

	// scratch is the Transformer-owned activation buffer the forward pass
	// mutates. Because sessions are stepped strictly one at a time (spec
	// §4.5 "serialized-forward approach"), a single shared scratch space
	// is correct and avoids a per-session allocation.
	scratch forwardScratch

	scheduler *Scheduler

	mu          sync.Mutex
	liveSessions int
}

// Description returns the human-readable model summary spec §6 calls
// "desc": name, shapes and weight precision.
func (t *Transformer) Description() string {
	name := t.cfg.Name
	if name == "" {
		name = "llama2"
	}
	return t.weights.Summary(name)
}

// New constructs a Transformer from cfg: it parses the checkpoint header,
// opens the Weight Store in the requested access mode, loads the
// tokenizer, and starts the math kernel worker pool. On any failure all
// partially acquired resources (open files, mmaps, pool) are released
// before the error is returned.
func New(cfg EngineConfig) (*Transformer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	log := cfg.Logger

	ws, err := weights.Load(weights.LoadOptions{
		Mode:           cfg.ModelAccess,
		CheckpointPath: cfg.CheckpointPath,
		Base:           cfg.ModelBase,
		CacheLimit:     cfg.CacheLimit,
	})
	if err != nil {
		log.WithError(err).Error("llama2: failed to load checkpoint")
		return nil, err
	}

	tok, err := tokenizer.Load(cfg.TokenizerPath, ws.Config().VocabSize)
	if err != nil {
		ws.Close()
		log.WithError(err).Error("llama2: failed to load tokenizer")
		return nil, err
	}

	pool := kernels.NewPool(cfg.Threads)

	t := &Transformer{
		cfg:       cfg,
		log:       log,
		weights:   ws,
		tok:       tok,
		pool:      pool,
		scratch:   newForwardScratch(ws.Config()),
		scheduler: newScheduler(),
	}
	log.WithFields(logrus.Fields{
		"name":    cfg.Name,
		"threads": cfg.Threads,
	}).Info(t.Description())
	return t, nil
}

// Close tears down the Transformer: closes the worker pool and the
// underlying Weight Store. Any sessions still registered with the
// scheduler are abandoned; callers must destroy sessions before closing
// their Transformer.
func (t *Transformer) Close() error {
	t.pool.Close()
	return t.weights.Close()
}

// NewSession constructs a Session bound to t, failing with
// ErrResourceLimit if t.cfg.MaxSessions sessions are already live (spec §5
// resource budget).
func (t *Transformer) NewSession() (*Session, error) {
	t.mu.Lock()
	if t.cfg.MaxSessions > 0 && t.liveSessions >= t.cfg.MaxSessions {
		t.mu.Unlock()
		return nil, fmt.Errorf("llama2: max_sessions %d reached: %w", t.cfg.MaxSessions, apierr.ErrResourceLimit)
	}
	t.liveSessions++
	t.mu.Unlock()

	s := newSession(t)
	return s, nil
}

// releaseSession decrements the live-session count; called once, from
// Session.destroy.
func (t *Transformer) releaseSession() {
	t.mu.Lock()
	t.liveSessions--
	t.mu.Unlock()
}

// Scheduler returns the Transformer's round-robin session scheduler.
func (t *Transformer) Scheduler() *Scheduler { return t.scheduler }
