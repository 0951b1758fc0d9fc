package llama2

import (
	"math"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llama2core/llama2core/internal/apierr"
	"github.com/llama2core/llama2core/weights"
)

func newTestTransformer(t *testing.T, maxSessions int) *Transformer {
	t.Helper()
	shapes := smallShapes()
	ckpt := buildCheckpoint(t, shapes)
	tokPath := writeTestTokenizer(t)

	cfg := testEngineConfig(ckpt, tokPath)
	cfg.MaxSessions = maxSessions

	tr, err := New(cfg)
	require.NoError(t, err)
	return tr
}

func collect(t *testing.T, tr *Transformer, qc QueryConfig) string {
	t.Helper()
	var out strings.Builder
	qc.IssueCallback = func(_ any, piece string) int {
		out.WriteString(piece)
		return 0
	}

	sess, err := tr.NewSession()
	require.NoError(t, err)
	defer sess.Destroy()

	require.NoError(t, sess.Query(qc))
	require.NoError(t, tr.Scheduler().Run())
	return out.String()
}

func TestNewSessionEnforcesMaxSessions(t *testing.T) {
	tr := newTestTransformer(t, 1)
	defer tr.Close()

	s1, err := tr.NewSession()
	require.NoError(t, err)

	_, err = tr.NewSession()
	assert.ErrorIs(t, err, apierr.ErrResourceLimit)

	s1.Destroy()

	s2, err := tr.NewSession()
	require.NoError(t, err)
	s2.Destroy()
}

func TestGenerationTerminatesWithinLimit(t *testing.T) {
	tr := newTestTransformer(t, 2)
	defer tr.Close()

	sess, err := tr.NewSession()
	require.NoError(t, err)
	defer sess.Destroy()

	require.NoError(t, sess.Query(QueryConfig{
		Prompt:      "hi",
		Limit:       4,
		Temperature: 0,
		IssueCallback: func(_ any, _ string) int {
			return 0
		},
	}))

	lastPos := -1
	for {
		more, err := tr.Scheduler().StepNext()
		require.NoError(t, err)
		if sess.state == SessionRunning {
			assert.Greater(t, sess.pos, lastPos, "pos must strictly increase until termination")
		}
		lastPos = sess.pos
		if !more {
			break
		}
	}
	assert.True(t, sess.state == SessionFinished || sess.state == SessionCancelled)
	assert.LessOrEqual(t, sess.pos, 4)
}

func TestGenerationDeterministicGivenSameSeed(t *testing.T) {
	tr := newTestTransformer(t, 2)
	defer tr.Close()

	qc := QueryConfig{Prompt: "hi", Limit: 5, Temperature: 0.8, TopP: 0.9, RNGSeed: 42}
	out1 := collect(t, tr, qc)
	out2 := collect(t, tr, qc)
	assert.Equal(t, out1, out2)
}

func TestCancelAfterFinishIsNoOp(t *testing.T) {
	tr := newTestTransformer(t, 1)
	defer tr.Close()

	sess, err := tr.NewSession()
	require.NoError(t, err)
	defer sess.Destroy()

	require.NoError(t, sess.Query(QueryConfig{
		Prompt: "hi", Limit: 2, Temperature: 0,
		IssueCallback: func(_ any, _ string) int { return 0 },
	}))
	require.NoError(t, tr.Scheduler().Run())
	require.Equal(t, SessionFinished, sess.state)

	sess.Cancel()
	assert.Equal(t, SessionFinished, sess.state, "cancelling a finished session must be a no-op")
}

func TestCallbackNonzeroReturnCancelsSession(t *testing.T) {
	tr := newTestTransformer(t, 1)
	defer tr.Close()

	sess, err := tr.NewSession()
	require.NoError(t, err)
	defer sess.Destroy()

	calls := 0
	require.NoError(t, sess.Query(QueryConfig{
		Prompt: "hi", Limit: 8, Temperature: 0,
		IssueCallback: func(_ any, _ string) int {
			calls++
			return 1
		},
	}))
	require.NoError(t, tr.Scheduler().Run())
	assert.LessOrEqual(t, calls, 1)
	assert.Equal(t, SessionCancelled, sess.state)
}

func TestPagedCacheSmallerThanLargestTensorFailsConstruction(t *testing.T) {
	shapes := smallShapes()
	ckpt := buildCheckpoint(t, shapes)
	tokPath := writeTestTokenizer(t)

	dir := t.TempDir()
	ckptPath := dir + "/model.bin"
	require.NoError(t, os.WriteFile(ckptPath, ckpt, 0o644))

	cfg := testEngineConfig(ckpt, tokPath)
	cfg.ModelAccess = weights.AccessPagedCache
	cfg.CheckpointPath = ckptPath
	cfg.CacheLimit = 1 // far smaller than any tensor in the test checkpoint

	_, err := New(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, apierr.ErrResourceLimit)
}

func TestForwardProducesFiniteLogits(t *testing.T) {
	tr := newTestTransformer(t, 1)
	defer tr.Close()

	sess, err := tr.NewSession()
	require.NoError(t, err)
	defer sess.Destroy()

	logits, err := tr.forward(1 /* BOS */, 0, sess)
	require.NoError(t, err)
	for _, v := range logits {
		assert.False(t, math.IsNaN(float64(v)))
		assert.False(t, math.IsInf(float64(v), 0))
	}
}
