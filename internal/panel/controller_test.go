package panel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tagcal/internal/models"
	"tagcal/internal/staging"
	"tagcal/internal/tags"
)

func selected(items []tags.Item) []string {
	var out []string
	for _, it := range items {
		if it.Selected {
			out = append(out, it.Tag)
		}
	}
	return out
}

func TestOpenExistingUsesPersistedTags(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.remote.events["cal/ev1"] = &models.Event{
		ID: "ev1", CalendarID: "cal", Title: "Weekly #Work",
		Private: map[string]string{tags.PrivateKey: `["#Acme","#Personal"]`},
	}

	state, err := h.ctl.Dispatch(ctx, h.sess, Open{CalendarID: "cal", EventID: "ev1"})
	require.NoError(t, err)
	assert.Equal(t, staging.EventKey("cal", "ev1"), state.Key)
	assert.Equal(t, "Weekly #Work", state.Title)

	want := []tags.Item{
		{Tag: "#Acme", Selected: true},
		{Tag: "#Personal", Selected: true},
		{Tag: "#Work"},
	}
	if diff := cmp.Diff(want, state.Tags); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}

	idx, err := h.cache.Index().Load(ctx, h.sess)
	require.NoError(t, err)
	assert.Empty(t, idx.DirtyKeys(), "opening does not mark the key dirty")
	assert.Equal(t, "cal", h.sess.Property(ctx, staging.PropLastCalendar))
}

func TestOpenExistingSeedsFromDerivation(t *testing.T) {
	h := newHarness(t)
	h.configureSheet(t)
	h.remote.events["cal/ev1"] = &models.Event{
		ID: "ev1", CalendarID: "cal", Title: "Sync #work with #bogus team",
		Attendees: []string{"a@example.com"},
	}

	state, err := h.ctl.Dispatch(context.Background(), h.sess, Open{CalendarID: "cal", EventID: "ev1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"#Work", "#Sales"}, selected(state.Tags))
	assert.Equal(t, "Sync #work with #bogus team", state.Title, "existing titles are never rewritten")
}

func TestOpenRemoteFailureActsLikeNewEvent(t *testing.T) {
	h := newHarness(t)
	h.remote.err = errors.New("403 forbidden")

	state, err := h.ctl.Dispatch(context.Background(), h.sess, Open{CalendarID: "cal", EventID: "ev1", Title: "Plan #Personal"})
	require.NoError(t, err)
	assert.Equal(t, staging.EventKey("cal", "ev1"), state.Key)
	assert.Equal(t, []string{"#Personal"}, selected(state.Tags))
}

func TestOpenDraftPrependsDomainTag(t *testing.T) {
	h := newHarness(t)
	h.configureSheet(t)

	state, err := h.ctl.Dispatch(context.Background(), h.sess, Open{
		CalendarID: "cal", Title: "Intro call", Attendees: []string{"bo@example.com"},
	})
	require.NoError(t, err)
	assert.True(t, state.Key.IsDraft())
	assert.Equal(t, "#Sales Intro call", state.Title)
	assert.Equal(t, []string{"#Sales"}, selected(state.Tags))
	assert.Zero(t, h.remote.gets, "drafts have no remote record")

	again, err := h.ctl.Dispatch(context.Background(), h.sess, Open{CalendarID: "cal", Title: "Intro call"})
	require.NoError(t, err)
	assert.NotEqual(t, state.Key, again.Key, "every draft open gets its own key")
}

func TestOpenResumesStagedEdits(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.remote.events["cal/ev1"] = &models.Event{ID: "ev1", CalendarID: "cal", Private: map[string]string{tags.PrivateKey: `["#Work"]`}}

	state, err := h.ctl.Dispatch(ctx, h.sess, Open{CalendarID: "cal", EventID: "ev1"})
	require.NoError(t, err)
	_, err = h.ctl.Dispatch(ctx, h.sess, Toggle{Key: state.Key, Tag: "Personal"})
	require.NoError(t, err)

	state, err = h.ctl.Dispatch(ctx, h.sess, Open{CalendarID: "cal", EventID: "ev1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"#Work", "#Personal"}, selected(state.Tags))
	assert.Equal(t, 1, h.remote.gets)
}

func TestOpenAfterTTLReinitializes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.remote.events["cal/ev1"] = &models.Event{ID: "ev1", CalendarID: "cal", Private: map[string]string{tags.PrivateKey: `["#Work"]`}}

	state, err := h.ctl.Dispatch(ctx, h.sess, Open{CalendarID: "cal", EventID: "ev1"})
	require.NoError(t, err)
	_, err = h.ctl.Dispatch(ctx, h.sess, Toggle{Key: state.Key, Tag: "#Personal"})
	require.NoError(t, err)

	h.clock.Advance(121 * time.Second)
	state, err = h.ctl.Dispatch(ctx, h.sess, Open{CalendarID: "cal", EventID: "ev1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"#Work"}, selected(state.Tags), "stale local edits are not resumed")
	assert.Equal(t, 2, h.remote.gets)
}

func TestToggleErrors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.ctl.Dispatch(ctx, h.sess, Toggle{Key: staging.EventKey("cal", "never"), Tag: "#Work"})
	assert.ErrorIs(t, err, ErrKeyMissing)

	_, err = h.ctl.Dispatch(ctx, h.sess, Toggle{Key: "bogus", Tag: "#Work"})
	assert.ErrorIs(t, err, ErrKeyMissing)

	state, err := h.ctl.Dispatch(ctx, h.sess, Open{CalendarID: "cal", Title: "x"})
	require.NoError(t, err)
	_, err = h.ctl.Dispatch(ctx, h.sess, Toggle{Key: state.Key, Tag: "  "})
	assert.ErrorIs(t, err, ErrInvalidTag)
}

func TestFreeTagsRenderOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	state, err := h.ctl.Dispatch(ctx, h.sess, Open{CalendarID: "cal", Title: "x"})
	require.NoError(t, err)
	_, err = h.ctl.Dispatch(ctx, h.sess, Toggle{Key: state.Key, Tag: "#Custom"})
	require.NoError(t, err)
	state, err = h.ctl.Dispatch(ctx, h.sess, Toggle{Key: state.Key, Tag: "#Work"})
	require.NoError(t, err)

	want := []tags.Item{
		{Tag: "#Custom", Selected: true},
		{Tag: "#Work", Selected: true},
		{Tag: "#Personal"},
	}
	assert.Equal(t, want, state.Tags)
}

func TestSaveConfig(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	state, err := h.ctl.Dispatch(ctx, h.sess, SaveConfig{SourceConfig: tags.SourceConfig{TagColumn: "1A"}})
	assert.ErrorIs(t, err, ErrConfigSave)
	assert.NotEmpty(t, state.Notice)

	state, err = h.ctl.Dispatch(ctx, h.sess, SaveConfig{SourceConfig: tags.SourceConfig{SheetID: "s1", SheetName: "Tags", TagColumn: "a"}})
	require.NoError(t, err)
	assert.Equal(t, []tags.Item{{Tag: "#Work"}, {Tag: "#Personal"}, {Tag: "#Sales"}}, state.Tags)
	assert.Equal(t, "A", h.sess.Property(ctx, tags.PropTagColumn))
}

func TestRefreshNotifiesOnSheetFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.configureSheet(t)

	state, err := h.ctl.Dispatch(ctx, h.sess, Refresh{})
	require.NoError(t, err)
	assert.Len(t, state.Tags, 3)

	h.sheet.err = errors.New("sheet deleted")
	state, err = h.ctl.Dispatch(ctx, h.sess, Refresh{})
	require.NoError(t, err)
	assert.Equal(t, []tags.Item{{Tag: "#Work"}, {Tag: "#Personal"}}, state.Tags)
	assert.Contains(t, state.Notice, "defaults")
}

func TestDispatchValidation(t *testing.T) {
	h := newHarness(t)
	_, err := h.ctl.Dispatch(context.Background(), h.sess, nil)
	assert.ErrorIs(t, err, ErrUnknownCommand)

	_, err = h.ctl.Dispatch(context.Background(), h.sess, Open{EventID: "ev1"})
	assert.ErrorIs(t, err, ErrContextMissing)
}
