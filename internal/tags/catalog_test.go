package tags

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveDefaultsWithoutConfig(t *testing.T) {
	sheet := &fakeSheet{}
	r := NewResolver(testLogger(), sheet, []string{"Work", "#Personal"})
	sess := newSession(t)

	assert.Equal(t, []string{"#Work", "#Personal"}, r.Resolve(context.Background(), sess))
	assert.Zero(t, sheet.reads)
}

func TestResolveUnionsAndMemoizes(t *testing.T) {
	ctx := context.Background()
	sheet := &fakeSheet{columns: map[string][]string{"A": {"Sales", "#Work", "", "Support", "Sales"}}}
	r := NewResolver(testLogger(), sheet, []string{"#Work", "#Personal"})
	sess := newSession(t)
	configure(t, sess, SourceConfig{SheetID: "s1", SheetName: "Tags", TagColumn: "a"})

	want := []string{"#Work", "#Personal", "#Sales", "#Support"}
	assert.Equal(t, want, r.Resolve(ctx, sess))
	assert.Equal(t, want, r.Resolve(ctx, sess))
	assert.Equal(t, 1, sheet.reads, "second resolve must be served from the memo")

	require.NoError(t, r.Invalidate(ctx, sess))
	sheet.columns["A"] = []string{"Ops"}
	assert.Equal(t, []string{"#Work", "#Personal", "#Ops"}, r.Resolve(ctx, sess))
	assert.Equal(t, 2, sheet.reads)
}

func TestResolveSourceErrorFallsBack(t *testing.T) {
	ctx := context.Background()
	sheet := &fakeSheet{err: errors.New("permission denied")}
	r := NewResolver(testLogger(), sheet, nil)
	sess := newSession(t)
	configure(t, sess, SourceConfig{SheetID: "s1", SheetName: "Tags", TagColumn: "A"})

	assert.Equal(t, DefaultTags, r.Resolve(ctx, sess))

	_, memoized, err := sess.GetProperty(ctx, PropCatalog)
	require.NoError(t, err)
	assert.False(t, memoized, "fallback result must not be memoized")
}

func TestResolveIgnoresMalformedMemo(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(testLogger(), &fakeSheet{}, []string{"#Work"})
	sess := newSession(t)
	require.NoError(t, sess.SetProperty(ctx, PropCatalog, "{not json"))

	assert.Equal(t, []string{"#Work"}, r.Resolve(ctx, sess))
}

func TestSaveSourceConfigRejectsBadColumn(t *testing.T) {
	err := SaveSourceConfig(context.Background(), newSession(t), SourceConfig{TagColumn: "A1"})
	assert.Error(t, err)
}

func TestCheckSourceNamesMissingFields(t *testing.T) {
	err := SourceConfig{SheetID: "s1"}.CheckTagSource()
	require.ErrorIs(t, err, ErrNotConfigured)
	assert.Contains(t, err.Error(), "sheetName, tagColumn")

	full := SourceConfig{SheetID: "s1", SheetName: "Tags", TagColumn: "A"}
	assert.NoError(t, full.CheckTagSource())
	err = full.CheckDomainSource()
	require.ErrorIs(t, err, ErrNotConfigured)
	assert.Contains(t, err.Error(), "domainColumn")

	full.DomainColumn = "B"
	assert.NoError(t, full.CheckDomainSource())
	assert.True(t, full.HasDomainSource())
}

func TestRefreshReportsSourceError(t *testing.T) {
	ctx := context.Background()
	sheet := &fakeSheet{columns: map[string][]string{"A": {"Sales"}}}
	r := NewResolver(testLogger(), sheet, []string{"#Work"})
	sess := newSession(t)
	configure(t, sess, SourceConfig{SheetID: "s1", SheetName: "Tags", TagColumn: "A"})

	catalog, err := r.Refresh(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, []string{"#Work", "#Sales"}, catalog)

	sheet.err = errors.New("quota exceeded")
	catalog, err = r.Refresh(ctx, sess)
	assert.Error(t, err)
	assert.Equal(t, []string{"#Work"}, catalog)
}
