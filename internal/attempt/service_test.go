package attempt

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-training/internal/apperr"
	"github.com/mind-engage/mindengage-training/internal/assessment"
	"github.com/mind-engage/mindengage-training/internal/grading"
	"github.com/mind-engage/mindengage-training/internal/rbac"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR fake image body")

func pngDataURL() string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes)
}

type structures map[string]assessment.Structure

func (s structures) GetByID(_ context.Context, id string) (assessment.Structure, error) {
	st, ok := s[id]
	if !ok {
		return assessment.Structure{}, apperr.ErrNotFound
	}
	return st, nil
}

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: map[string][]byte{}} }

func (m *memBlobs) Put(key string, r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = b
	return key, nil
}

func (m *memBlobs) Get(key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key]
	if !ok {
		return nil, errors.New("missing")
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memBlobs) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// flakyStore fails the first n inserts with err.
type flakyStore struct {
	*MemoryStore
	failures int
	err      error
	inserts  int
}

func (f *flakyStore) Insert(ctx context.Context, a Attempt) error {
	f.inserts++
	if f.failures > 0 {
		f.failures--
		return f.err
	}
	return f.MemoryStore.Insert(ctx, a)
}

// safetyQuiz has three gradable questions and one free text question.
func safetyQuiz() assessment.Structure {
	return assessment.Structure{
		Header: assessment.Header{ID: "h1", FormID: "f1", Title: "Safety", State: assessment.StateActive},
		Questions: []assessment.Question{
			{ID: "q1", Type: assessment.TypeSingleChoice, Trigger: 10, Options: []assessment.Option{
				{ID: "q1a", Correct: true}, {ID: "q1b"}}},
			{ID: "q2", Type: assessment.TypeBoolean, Trigger: 20, Options: []assessment.Option{
				{ID: "q2t"}, {ID: "q2f", Correct: true}}},
			{ID: "q3", Type: assessment.TypeOrdering, Trigger: 30, Options: []assessment.Option{
				{ID: "q3x", Rank: 2}, {ID: "q3y", Rank: 1}}},
			{ID: "q4", Type: assessment.TypeFreeText, Trigger: 40},
		},
	}
}

func responses(kv ...string) []Response {
	var out []Response
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, Response{QuestionID: kv[i], Value: json.RawMessage(kv[i+1])})
	}
	return out
}

func allCorrect() []Response {
	return responses("q1", `"q1a"`, "q2", `"q2f"`, "q3", `["q3y","q3x"]`, "q4", `"checked the mast"`)
}

func oneCorrect() []Response {
	return responses("q1", `"q1a"`, "q2", `"q2t"`)
}

func newTestService(store Store, blobs *memBlobs) *Service {
	n := 0
	return NewService(store, structures{"h1": safetyQuiz()},
		WithBlobs(blobs),
		WithClock(func() time.Time { return time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC) }),
		WithIDs(func() string { n++; return fmt.Sprintf("att-%d", n) }),
	)
}

var attendee = Actor{ID: "p-1", Role: rbac.RoleAttendee}

func TestShouldPersist(t *testing.T) {
	assert.True(t, ShouldPersist(false, false), "failure is always stored")
	assert.True(t, ShouldPersist(false, true))
	assert.True(t, ShouldPersist(true, true))
	assert.False(t, ShouldPersist(true, false), "pass without proof is a preview")
}

func TestSubmit_PersistencePolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("failed attempt is stored with details", func(t *testing.T) {
		store := NewInMemoryStore()
		svc := newTestService(store, newMemBlobs())
		res, err := svc.Submit(ctx, attendee, "h1", SubmitInput{ParticipantID: "p-1", Responses: oneCorrect()})
		require.NoError(t, err)
		assert.Equal(t, Result{AttemptID: "att-1", Score: 33.33, Passed: false, AttemptNumber: 1, Persisted: true}, res)

		list, err := store.List(ctx, "h1", "p-1")
		require.NoError(t, err)
		require.Len(t, list, 1)
		require.Len(t, list[0].Details, 4)
		assert.True(t, list[0].Details[0].Correct)
		assert.False(t, list[0].Details[1].Correct)
		assert.JSONEq(t, `null`, string(list[0].Details[2].Value))
		assert.False(t, list[0].Details[3].NeedsReview, "unanswered free text is not queued for review")
		assert.True(t, list[0].Details[3].Correct, "free text counts toward completion")
	})

	t.Run("pass without proof is a preview", func(t *testing.T) {
		store := NewInMemoryStore()
		svc := newTestService(store, newMemBlobs())
		res, err := svc.Submit(ctx, attendee, "h1", SubmitInput{ParticipantID: "p-1", Responses: allCorrect()})
		require.NoError(t, err)
		assert.Equal(t, 100.0, res.Score)
		assert.True(t, res.Passed)
		assert.False(t, res.Persisted)
		assert.Equal(t, 1, res.AttemptNumber)

		list, err := store.List(ctx, "h1", "")
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("pass with proof is stored with the artifact", func(t *testing.T) {
		store := NewInMemoryStore()
		blobs := newMemBlobs()
		svc := newTestService(store, blobs)
		res, err := svc.Submit(ctx, attendee, "h1", SubmitInput{ParticipantID: "p-1", Responses: allCorrect(), Proof: pngDataURL()})
		require.NoError(t, err)
		assert.True(t, res.Persisted)

		list, err := store.List(ctx, "h1", "p-1")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "proofs/h1/p-1/att-1.png", list[0].ProofKey)
		assert.Len(t, list[0].ProofDigest, 64)
		assert.True(t, list[0].Details[3].NeedsReview)
		assert.Equal(t, pngBytes, blobs.objects["proofs/h1/p-1/att-1.png"])
	})
}

func TestSubmit_AttemptNumbering(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	svc := newTestService(store, newMemBlobs())

	r1, err := svc.Submit(ctx, attendee, "h1", SubmitInput{ParticipantID: "p-1", Responses: oneCorrect()})
	require.NoError(t, err)
	r2, err := svc.Submit(ctx, attendee, "h1", SubmitInput{ParticipantID: "p-1", Responses: oneCorrect()})
	require.NoError(t, err)
	preview, err := svc.Submit(ctx, attendee, "h1", SubmitInput{ParticipantID: "p-1", Responses: allCorrect()})
	require.NoError(t, err)
	r3, err := svc.Submit(ctx, attendee, "h1", SubmitInput{ParticipantID: "p-1", Responses: allCorrect(), Proof: pngDataURL()})
	require.NoError(t, err)

	assert.Equal(t, 1, r1.AttemptNumber)
	assert.Equal(t, 2, r2.AttemptNumber)
	assert.Equal(t, 3, preview.AttemptNumber)
	assert.Equal(t, 3, r3.AttemptNumber, "preview does not consume a number")

	other, err := svc.Submit(ctx, Actor{ID: "p-2", Role: rbac.RoleAttendee}, "h1", SubmitInput{ParticipantID: "p-2", Responses: oneCorrect()})
	require.NoError(t, err)
	assert.Equal(t, 1, other.AttemptNumber, "numbering is per participant")
}

func TestSubmit_ConcurrentSubmissionsGetDistinctNumbers(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	svc := NewService(store, structures{"h1": safetyQuiz()})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Submit(ctx, attendee, "h1", SubmitInput{ParticipantID: "p-1", Responses: oneCorrect()})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	list, err := store.List(ctx, "h1", "p-1")
	require.NoError(t, err)
	require.Len(t, list, 8)
	seen := map[int]bool{}
	for _, a := range list {
		seen[a.Number] = true
	}
	for n := 1; n <= 8; n++ {
		assert.True(t, seen[n], "attempt %d missing", n)
	}
}

func TestSubmit_RetriesOnConflictAndCleansUpProof(t *testing.T) {
	ctx := context.Background()

	t.Run("conflict then success", func(t *testing.T) {
		store := &flakyStore{MemoryStore: NewInMemoryStore(), failures: 1, err: apperr.ErrConflict}
		blobs := newMemBlobs()
		res, err := newTestService(store, blobs).Submit(ctx, attendee, "h1",
			SubmitInput{ParticipantID: "p-1", Responses: allCorrect(), Proof: pngDataURL()})
		require.NoError(t, err)
		assert.True(t, res.Persisted)
		assert.Equal(t, 2, store.inserts)
		assert.Equal(t, 1, blobs.len())
	})

	t.Run("gives up after three conflicts", func(t *testing.T) {
		store := &flakyStore{MemoryStore: NewInMemoryStore(), failures: 5, err: apperr.ErrConflict}
		_, err := newTestService(store, newMemBlobs()).Submit(ctx, attendee, "h1", SubmitInput{ParticipantID: "p-1", Responses: oneCorrect()})
		assert.ErrorIs(t, err, apperr.ErrConflict)
		assert.Equal(t, insertTries, store.inserts)
	})

	t.Run("persistence failure removes the proof", func(t *testing.T) {
		store := &flakyStore{MemoryStore: NewInMemoryStore(), failures: 1,
			err: fmt.Errorf("%w: disk full", apperr.ErrPersistence)}
		blobs := newMemBlobs()
		_, err := newTestService(store, blobs).Submit(ctx, attendee, "h1",
			SubmitInput{ParticipantID: "p-1", Responses: allCorrect(), Proof: pngDataURL()})
		assert.ErrorIs(t, err, apperr.ErrPersistence)
		assert.Equal(t, 1, store.inserts)
		assert.Zero(t, blobs.len())
	})
}

// laggingStore reports a next number one behind once, like a second
// process that read it before the first one committed.
type laggingStore struct {
	*MemoryStore
	lagged bool
}

func (l *laggingStore) NextNumber(ctx context.Context, headerID, participantID string) (int, error) {
	n, err := l.MemoryStore.NextNumber(ctx, headerID, participantID)
	if err == nil && !l.lagged && n > 1 {
		l.lagged = true
		n--
	}
	return n, err
}

func TestSubmit_StaleNumberKeepsEarlierProof(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	blobs := newMemBlobs()
	in := SubmitInput{ParticipantID: "p-1", Responses: allCorrect(), Proof: pngDataURL()}

	first, err := newTestService(store, blobs).Submit(ctx, attendee, "h1", in)
	require.NoError(t, err)
	require.True(t, first.Persisted)

	other := NewService(&laggingStore{MemoryStore: store}, structures{"h1": safetyQuiz()}, WithBlobs(blobs))
	second, err := other.Submit(ctx, attendee, "h1", in)
	require.NoError(t, err)
	assert.Equal(t, 2, second.AttemptNumber)

	list, err := store.List(ctx, "h1", "p-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	for _, a := range list {
		rc, err := blobs.Get(a.ProofKey)
		require.NoError(t, err, "proof of attempt %d", a.Number)
		_ = rc.Close()
	}
	assert.Equal(t, 2, blobs.len())
}

func TestSubmit_Rejections(t *testing.T) {
	ctx := context.Background()
	closed := safetyQuiz()
	closed.Header.ID = "h2"
	closed.Header.State = assessment.StateClosed
	future := safetyQuiz()
	future.Header.ID = "h3"
	from := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	future.Header.ActiveFrom = &from

	store := NewInMemoryStore()
	svc := NewService(store, structures{"h1": safetyQuiz(), "h2": closed, "h3": future},
		WithClock(func() time.Time { return time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC) }))

	_, err := svc.Submit(ctx, attendee, "h1", SubmitInput{Responses: oneCorrect()})
	var ve *apperr.ValidationError
	require.ErrorAs(t, err, &ve, "participant id is never inferred from the caller")
	require.Len(t, ve.Fields, 1)
	assert.Equal(t, "participant_id", ve.Fields[0].Field)
	_, err = svc.Submit(ctx, attendee, "h1", SubmitInput{ParticipantID: "  ", Responses: oneCorrect()})
	assert.True(t, apperr.IsValidation(err))

	_, err = svc.Submit(ctx, attendee, "missing", SubmitInput{ParticipantID: "p-1", Responses: oneCorrect()})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = svc.Submit(ctx, attendee, "h2", SubmitInput{ParticipantID: "p-1", Responses: oneCorrect()})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = svc.Submit(ctx, attendee, "h3", SubmitInput{ParticipantID: "p-1", Responses: oneCorrect()})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = svc.Submit(ctx, attendee, "h1", SubmitInput{ParticipantID: "p-9", Responses: oneCorrect()})
	assert.ErrorIs(t, err, apperr.ErrPermission)

	_, err = svc.Submit(ctx, attendee, "h1", SubmitInput{ParticipantID: "p-1", Responses: responses("q1", `"q1a"`, "q1", `"q1b"`)})
	assert.True(t, apperr.IsValidation(err))

	_, err = svc.Submit(ctx, attendee, "h1", SubmitInput{ParticipantID: "p-1", Responses: responses("q1", `42`)})
	assert.True(t, apperr.IsValidation(err))

	_, err = svc.Submit(ctx, attendee, "h1", SubmitInput{ParticipantID: "p-1", Responses: oneCorrect(), Proof: "data:text/plain;base64,aGVsbG8="})
	assert.True(t, apperr.IsValidation(err))

	_, err = svc.Submit(ctx, attendee, "h1", SubmitInput{ParticipantID: "p-1", Responses: []Response{{Value: json.RawMessage(`"x"`)}}})
	assert.True(t, apperr.IsValidation(err))

	list, err := store.List(ctx, "h1", "")
	require.NoError(t, err)
	assert.Empty(t, list, "rejected submissions write nothing")
}

func TestSubmit_TrainerOnBehalfAndUnknownQuestions(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	svc := newTestService(store, newMemBlobs())
	trainer := Actor{ID: "tr-1", Role: rbac.RoleTrainer}

	in := SubmitInput{ParticipantID: "p-5", Responses: append(oneCorrect(), responses("q-gone", `"x"`)...)}
	res, err := svc.Submit(ctx, trainer, "h1", in)
	require.NoError(t, err)
	assert.Equal(t, 33.33, res.Score)

	list, err := svc.List(ctx, trainer, "h1", "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "p-5", list[0].ParticipantID)

	_, err = svc.List(ctx, attendee, "h1", "p-5")
	assert.ErrorIs(t, err, apperr.ErrPermission)
	own, err := svc.List(ctx, attendee, "h1", "")
	require.NoError(t, err)
	assert.Empty(t, own)
}

func TestSubmit_CustomThreshold(t *testing.T) {
	svc := NewService(NewInMemoryStore(), structures{"h1": safetyQuiz()},
		WithEngine(grading.NewEngine(grading.WithPassThreshold(30))))
	res, err := svc.Submit(context.Background(), attendee, "h1", SubmitInput{ParticipantID: "p-1", Responses: oneCorrect()})
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.False(t, res.Persisted)
}

func TestDecodeProof(t *testing.T) {
	p, err := DecodeProof(pngDataURL())
	require.NoError(t, err)
	assert.Equal(t, "png", p.Ext)
	assert.Equal(t, pngBytes, p.Data)

	bare, err := DecodeProof(base64.StdEncoding.EncodeToString(pngBytes))
	require.NoError(t, err)
	assert.Equal(t, p.Digest, bare.Digest)
	assert.Equal(t, "proofs/h/p/att-2.png", p.Key("h", "p", "att-2"))
	assert.Equal(t, "proofs/h1/..%2Fh2%2Fp/a.png", p.Key("h1", "../h2/p", "a"))
	assert.Equal(t, "proofs/h1/_%2E%2E/a.png", p.Key("h1", "..", "a"))
	assert.Equal(t, "proofs/_/p/a.png", p.Key("", "p", "a"))

	_, err = DecodeProof("data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(pngBytes))
	assert.True(t, apperr.IsValidation(err), "declared type must match content")
	_, err = DecodeProof("!!!")
	assert.True(t, apperr.IsValidation(err))
	_, err = DecodeProof("data:image/png," + strings.Repeat("a", 8))
	assert.True(t, apperr.IsValidation(err))
}
