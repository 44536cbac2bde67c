package tags

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromTitle(t *testing.T) {
	catalog := []string{"#Work", "#Personal"}

	assert.Equal(t, []string{"#Work"}, FromTitle("Sync #Work with #bogus team", catalog))
	assert.Equal(t, []string{"#Work", "#Personal"}, FromTitle("#personal then #WORK", catalog))
	assert.Empty(t, FromTitle("no tags here", catalog))
}

func TestEmailDomain(t *testing.T) {
	assert.Equal(t, "example.com", EmailDomain("a@Example.com"))
	assert.Equal(t, "", EmailDomain("nobody"))
	assert.Equal(t, "", EmailDomain("trailing@"))
}

func domainSheet() *fakeSheet {
	return &fakeSheet{columns: map[string][]string{
		"A": {"Sales", "#Partners", "Late"},
		"B": {"example.com", "@partner.io", "example.com"},
	}}
}

func TestFromAttendees(t *testing.T) {
	ctx := context.Background()
	sess := newSession(t)
	configure(t, sess, SourceConfig{SheetID: "s1", SheetName: "Tags", TagColumn: "A", DomainColumn: "B"})
	d := NewDeriver(testLogger(), domainSheet())

	tag, ok := d.FromAttendees(ctx, sess, []string{"a@example.com"})
	assert.True(t, ok)
	assert.Equal(t, "#Sales", tag, "first matching row wins and the sigil is prepended")

	tag, ok = d.FromAttendees(ctx, sess, []string{"x@nowhere.org", "b@PARTNER.io"})
	assert.True(t, ok)
	assert.Equal(t, "#Partners", tag)

	_, ok = d.FromAttendees(ctx, sess, []string{"x@nowhere.org"})
	assert.False(t, ok)
}

func TestFromAttendeesSoftFails(t *testing.T) {
	ctx := context.Background()

	sess := newSession(t)
	configure(t, sess, SourceConfig{SheetID: "s1", SheetName: "Tags", TagColumn: "A"})
	_, ok := NewDeriver(testLogger(), domainSheet()).FromAttendees(ctx, sess, []string{"a@example.com"})
	assert.False(t, ok, "no domain column configured")

	configure(t, sess, SourceConfig{SheetID: "s1", SheetName: "Tags", TagColumn: "A", DomainColumn: "B"})
	broken := &fakeSheet{err: errors.New("sheet gone")}
	_, ok = NewDeriver(testLogger(), broken).FromAttendees(ctx, sess, []string{"a@example.com"})
	assert.False(t, ok)
}

func TestSeedAndDisplayTitle(t *testing.T) {
	ctx := context.Background()
	sess := newSession(t)
	configure(t, sess, SourceConfig{SheetID: "s1", SheetName: "Tags", TagColumn: "A", DomainColumn: "B"})
	d := NewDeriver(testLogger(), domainSheet())

	seed := d.Seed(ctx, sess, "Kickoff #work", []string{"a@example.com"}, []string{"#Work", "#Sales"})
	assert.Equal(t, Set{"#Work", "#Sales"}, seed.Tags)
	assert.Equal(t, "#Sales Kickoff #work", seed.DisplayTitle("Kickoff #work"))
	assert.Equal(t, "Call #sales", seed.DisplayTitle("Call #sales"))
	assert.Equal(t, "Plain", Seed{}.DisplayTitle("Plain"))
}
