package llama2

import (
	"fmt"

	"github.com/llama2core/llama2core/internal/apierr"
	"github.com/llama2core/llama2core/sampler"
	"github.com/llama2core/llama2core/tokenizer"
)

// SessionState is the state machine spec §4.7 drives every session
// through: Queued until Query is called, Running while the Scheduler is
// stepping it, and one of the two terminal states afterward.
type SessionState int

const (
	SessionQueued SessionState = iota
	SessionRunning
	SessionCancelled
	SessionFinished
)

func (s SessionState) String() string {
	switch s {
	case SessionQueued:
		return "queued"
	case SessionRunning:
		return "running"
	case SessionCancelled:
		return "cancelled"
	case SessionFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Session is one in-flight generation request: its own KV cache, position
// counter and sampler, stepped one token at a time by the Scheduler.
// Sessions never touch each other's state, so many can be registered with
// one Transformer at once; only the Scheduler decides which runs next.
type Session struct {
	t     *Transformer
	state SessionState

	kCache, vCache []float32 // n_layers * seq_len * kv_dim, owned for this session's lifetime

	promptIDs []int // encoded prompt, BOS-prefixed
	pos       int   // next position to decode into
	curToken  int // token fed into the next forward step
	limit     int // maximum pos this session may reach

	sampler *sampler.Sampler

	issueCB       IssueCallback
	opaque        any
	nullOnDestroy **Session

	released bool // guards destroy() against double-release
}

func newSession(t *Transformer) *Session {
	cfg := t.weights.Config()
	size := cfg.NLayers * cfg.SeqLen * cfg.KVDim
	return &Session{
		t:      t,
		state:  SessionQueued,
		kCache: make([]float32, size),
		vCache: make([]float32, size),
	}
}

// State returns the session's current position in the spec §4.7 state
// machine.
func (s *Session) State() SessionState { return s.state }

// Pos returns the number of tokens decoded so far.
func (s *Session) Pos() int { return s.pos }

// Query starts a generation request on s, per spec §4.7: the prompt
// (chat-wrapped first if the Transformer is configured as a chat model)
// is encoded, the sampler is seeded, and s is registered with the
// Transformer's Scheduler for round-robin stepping. Query may be called
// only once per Session, on a freshly-constructed, Queued session.
func (s *Session) Query(qc QueryConfig) error {
	if s.state != SessionQueued {
		return fmt.Errorf("llama2: session already queried (state=%s): %w", s.state, apierr.ErrBadState)
	}
	qc.applyDefaults()

	prompt := qc.Prompt
	if s.t.cfg.ModelType == ModelChat {
		prompt = tokenizer.WrapChat(qc.System, prompt)
	}
	ids := s.t.tok.Encode(prompt, true)
	if len(ids) == 0 {
		return fmt.Errorf("llama2: prompt encoded to zero tokens: %w", apierr.ErrBadConfig)
	}

	seqLen := s.t.weights.Config().SeqLen
	limit := qc.Limit
	if limit <= 0 || limit > seqLen {
		limit = seqLen
	}

	s.promptIDs = ids
	s.curToken = ids[0]
	s.pos = 0
	s.limit = limit
	s.sampler = sampler.New(qc.Temperature, qc.TopP, qc.RNGSeed)
	s.issueCB = qc.IssueCallback
	s.opaque = qc.Opaque
	s.nullOnDestroy = qc.NullOnDestroy
	s.state = SessionRunning

	s.t.scheduler.register(s)
	return nil
}

// Cancel marks s Cancelled; the Scheduler destroys it the next time it
// would otherwise have stepped it. Cancelling a session that has already
// reached a terminal state is a no-op.
func (s *Session) Cancel() {
	if s.state == SessionRunning || s.state == SessionQueued {
		s.state = SessionCancelled
	}
}

// Destroy releases s's resources immediately, deregistering it from the
// Scheduler if still registered. Safe to call multiple times.
func (s *Session) Destroy() {
	s.t.scheduler.unregister(s)
	s.destroy()
}

// destroy performs the teardown bookkeeping shared by explicit Destroy
// and scheduler-driven terminal-state teardown: releasing the session
// slot and nil-ing the caller's weak observer pointer, if any. Idempotent,
// since both the Scheduler (on a session reaching a terminal state) and
// an explicit Session.Destroy call can each reach this.
func (s *Session) destroy() {
	if s.released {
		return
	}
	s.released = true

	if s.state != SessionFinished && s.state != SessionCancelled {
		s.state = SessionFinished
	}
	if s.nullOnDestroy != nil && *s.nullOnDestroy == s {
		*s.nullOnDestroy = nil
	}
	s.t.releaseSession()
}

// step runs one forward pass for s and advances its state by exactly one
// token, per spec §4.7:
//  1. while the prompt has unconsumed tokens, the next one is fed
//     (teacher forcing) instead of sampling, so the whole prompt is
//     always read before any token is generated;
//  2. once the prompt is exhausted, the next token is drawn from the
//     sampler;
//  3. an emitted EOS, or reaching pos == limit or pos == seq_len, ends
//     the session.
//
// step assumes the caller (the Scheduler) has already confirmed s is
// Running.
func (s *Session) step() error {
	logits, err := s.t.forward(s.curToken, s.pos, s)
	if err != nil {
		s.state = SessionFinished
		return err
	}

	var next int
	if s.pos+1 < len(s.promptIDs) {
		next = s.promptIDs[s.pos+1]
	} else {
		next = s.sampler.Sample(logits)
	}

	if next == tokenizer.EOS {
		s.state = SessionFinished
		return nil
	}

	piece := s.t.tok.Decode(s.curToken, next)
	if len(piece) > 0 {
		if ret := s.issueCB(s.opaque, string(piece)); ret != 0 {
			s.state = SessionCancelled
			return nil
		}
	}

	s.curToken = next
	s.pos++

	if s.pos >= s.limit || s.pos >= s.t.weights.Config().SeqLen {
		s.state = SessionFinished
	}
	return nil
}
