package assessment

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-training/internal/apperr"
	"github.com/mind-engage/mindengage-training/internal/db"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "training.db") + "?mode=rwc"
	dbh, err := db.Open(context.Background(), db.DriverSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbh.Close() })
	return dbh
}

func countRows(t *testing.T, dbh *sql.DB, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, dbh.QueryRow(query, args...).Scan(&n))
	return n
}

func TestSQLStore_RoundTrip(t *testing.T) {
	dbh := openTestDB(t)
	svc := NewService(NewSQLStore(dbh), nil, WithClock(fixedClock()), WithIDs(seqIDs()))
	ctx := context.Background()

	in := SaveInput{
		Title: "Lockout/tagout",
		Media: &MediaInput{Kind: "paged_document", Locator: "loto.pdf", Title: "LOTO manual"},
		Questions: []QuestionInput{
			{Type: "boolean", Prompt: "Is a tag enough?", Trigger: 2,
				Options: []OptionInput{{Text: "true"}, {Text: "false", Correct: true}}},
			{Type: "ordering", Prompt: "Order the steps", Trigger: 3,
				Options: []OptionInput{{Text: "isolate", Rank: 2}, {Text: "notify", Rank: 1}, {Text: "verify", Rank: 3}}},
			{Type: "free_text", Prompt: "Describe a near miss", Trigger: 5},
		},
	}
	_, err := svc.Save(ctx, Editor{ID: "sup-1", Role: "supervisor"}, "form-loto", in)
	require.NoError(t, err)

	st, err := svc.Get(ctx, "form-loto")
	require.NoError(t, err)
	require.NotNil(t, st.Media)
	assert.Equal(t, MediaPagedDocument, st.Media.Kind)
	assert.Equal(t, "LOTO manual", st.Media.Title)
	require.Len(t, st.Questions, 3)

	assert.Equal(t, TypeBoolean, st.Questions[0].Type)
	assert.Equal(t, 2.0, st.Questions[0].Trigger)
	require.Len(t, st.Questions[0].Options, 2)
	assert.Equal(t, "true", st.Questions[0].Options[0].Text)
	assert.Equal(t, st.Questions[0].Options[1].ID, st.Questions[0].CorrectOptionID())

	order := st.Questions[1].CanonicalOrder()
	texts := map[string]string{}
	for _, o := range st.Questions[1].Options {
		texts[o.ID] = o.Text
	}
	assert.Equal(t, []string{"notify", "isolate", "verify"}, []string{texts[order[0]], texts[order[1]], texts[order[2]]})

	assert.Equal(t, TypeFreeText, st.Questions[2].Type)
	assert.Empty(t, st.Questions[2].Options)
	assert.Equal(t, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), st.Header.CreatedAt)

	byID, err := svc.GetByID(ctx, st.Header.ID)
	require.NoError(t, err)
	assert.Equal(t, st, byID)
}

func TestSQLStore_ReplaceLeavesNoOrphans(t *testing.T) {
	dbh := openTestDB(t)
	svc := NewService(NewSQLStore(dbh), nil, WithClock(fixedClock()), WithIDs(seqIDs()))
	ctx := context.Background()
	ed := Editor{ID: "sup-1", Role: "supervisor"}

	id, err := svc.Save(ctx, ed, "form-5", videoInput(5))
	require.NoError(t, err)
	assert.Equal(t, 5, countRows(t, dbh, `SELECT COUNT(*) FROM assessment_questions WHERE header_id=$1`, id))
	assert.Equal(t, 10, countRows(t, dbh, `SELECT COUNT(*) FROM assessment_options`))

	_, err = svc.Save(ctx, ed, "form-5", videoInput(2))
	require.NoError(t, err)
	assert.Equal(t, 2, countRows(t, dbh, `SELECT COUNT(*) FROM assessment_questions WHERE header_id=$1`, id))
	assert.Equal(t, 4, countRows(t, dbh, `SELECT COUNT(*) FROM assessment_options`))

	in := videoInput(1)
	in.Media = nil
	_, err = svc.Save(ctx, ed, "form-5", in)
	require.NoError(t, err)
	assert.Equal(t, 0, countRows(t, dbh, `SELECT COUNT(*) FROM assessment_media`))
}

func TestSQLStore_StateDeleteAndConflicts(t *testing.T) {
	dbh := openTestDB(t)
	store := NewSQLStore(dbh)
	svc := NewService(store, nil, WithClock(fixedClock()), WithIDs(seqIDs()))
	ctx := context.Background()
	ed := Editor{ID: "sup-1", Role: "supervisor"}

	id, err := svc.Save(ctx, ed, "form-6", videoInput(1))
	require.NoError(t, err)

	until := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	h, err := svc.SetState(ctx, ed, id, StateInput{State: "closed", ActiveUntil: &until})
	require.NoError(t, err)
	assert.Equal(t, StateClosed, h.State)
	require.NotNil(t, h.ActiveUntil)
	assert.True(t, until.Equal(*h.ActiveUntil))

	_, err = store.SetState(ctx, "missing", StateChange{State: StateActive, At: time.Now()})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	// client ids are scoped to their structure, so a copy under another form keeps them
	st, err := svc.Get(ctx, "form-6")
	require.NoError(t, err)
	cp := videoInput(1)
	cp.Questions[0].ID = st.Questions[0].ID
	cp.Questions[0].Options[0].ID = st.Questions[0].Options[0].ID
	_, err = svc.Save(ctx, ed, "form-7", cp)
	require.NoError(t, err)
	copied, err := svc.Get(ctx, "form-7")
	require.NoError(t, err)
	assert.Equal(t, st.Questions[0].ID, copied.Questions[0].ID)
	assert.Equal(t, st.Questions[0].Options[0].ID, copied.Questions[0].Options[0].ID)
	again, err := svc.Get(ctx, "form-6")
	require.NoError(t, err)
	assert.Equal(t, st.Questions, again.Questions, "original untouched by the copy")

	// a repeated id inside one structure still conflicts and rolls back
	bad := Structure{
		Header: Header{ID: "h-bad", FormID: "form-bad", Title: "x", State: StateDraft,
			CreatedBy: "sup-1", UpdatedBy: "sup-1", CreatedAt: time.Now(), UpdatedAt: time.Now()},
		Questions: []Question{
			{ID: "dup", Type: TypeFreeText, Prompt: "a", Order: 0},
			{ID: "dup", Type: TypeFreeText, Prompt: "b", Order: 1},
		},
	}
	assert.ErrorIs(t, store.CreateStructure(ctx, bad), apperr.ErrConflict)
	_, err = svc.Get(ctx, "form-bad")
	assert.ErrorIs(t, err, apperr.ErrNotFound, "failed create is rolled back")

	_, err = dbh.Exec(`INSERT INTO response_attempts (id,header_id,participant_id,attempt_number,score,passed,completed_at)
		VALUES ('att-1',$1,'p-1',1,50,0,0)`, id)
	require.NoError(t, err)
	has, err := store.HasAttempts(ctx, id)
	require.NoError(t, err)
	assert.True(t, has)
	assert.ErrorIs(t, svc.Delete(ctx, ed, id), apperr.ErrConflict)

	id2, err := svc.Save(ctx, ed, "form-8", videoInput(3))
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, ed, id2))
	assert.Equal(t, 0, countRows(t, dbh, `SELECT COUNT(*) FROM assessment_questions WHERE header_id=$1`, id2))
	assert.ErrorIs(t, store.DeleteStructure(ctx, id2), apperr.ErrNotFound)
}
