package prompt

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/soyeahso/concierge/internal/contextcache"
	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/session"
	"github.com/stretchr/testify/assert"
)

type staticContext struct {
	ctx   contextcache.Context
	calls int
}

func (s *staticContext) Get(context.Context, bool) contextcache.Context {
	s.calls++
	return s.ctx
}

var fixedNow = func() time.Time { return time.Date(2026, 7, 4, 9, 0, 0, 0, time.UTC) }

func TestBuildOrdersSections(t *testing.T) {
	store := session.New(session.Options{})
	store.Append("s", domain.RoleUser, "Do you have cruises?")
	store.Append("s", domain.RoleAssistant, "Yes, Ha Long Bay.")

	cs := &staticContext{ctx: contextcache.Context{Text: "CATALOG-TEXT"}}
	p := New(cs, store, Options{Now: fixedNow}).Build(context.Background(), "s", "How much?")

	text := p.Text
	iCat := strings.Index(text, "CATALOG-TEXT")
	iUser := strings.Index(text, "Customer: Do you have cruises?")
	iAsst := strings.Index(text, "Assistant: Yes, Ha Long Bay.")
	iNew := strings.Index(text, "Customer: How much?")
	iSuffix := strings.Index(text, "## Instructions")

	assert.True(t, iCat >= 0 && iCat < iUser, "context before history")
	assert.True(t, iUser < iAsst, "history is chronological")
	assert.True(t, iAsst < iNew, "history before new message")
	assert.True(t, iNew < iSuffix, "new message before instructions")
	assert.True(t, strings.HasSuffix(text, AssistantLabel))
	assert.Contains(t, text, "Current date: 2026-07-04")

	assert.Equal(t, 2, p.TurnsUsed)
	assert.Equal(t, 1, cs.calls)
}

func TestBuildUsesLastKTurns(t *testing.T) {
	store := session.New(session.Options{})
	for i := 0; i < 10; i++ {
		store.Append("s", domain.RoleUser, fmt.Sprintf("turn-%02d", i))
	}

	p := New(&staticContext{}, store, Options{RecentTurns: 6}).Build(context.Background(), "s", "next")

	assert.Equal(t, 6, p.TurnsUsed)
	assert.NotContains(t, p.Text, "turn-03")
	assert.Contains(t, p.Text, "turn-04")
	assert.Contains(t, p.Text, "turn-09")
}

func TestBuildTruncatesTurns(t *testing.T) {
	store := session.New(session.Options{MaxContentLength: 500})
	long := strings.Repeat("a", 450)
	store.Append("s", domain.RoleAssistant, long)

	p := New(&staticContext{}, store, Options{TurnMaxChars: 200}).Build(context.Background(), "s", "ok")

	assert.Contains(t, p.Text, "Assistant: "+strings.Repeat("a", 200)+domain.TruncationMarker+"\n")
	assert.NotContains(t, p.Text, strings.Repeat("a", 201))
}

func TestBuildGreetingSuffix(t *testing.T) {
	store := session.New(session.Options{})
	a := New(&staticContext{}, store, Options{})

	first := a.Build(context.Background(), "s", "hi")
	assert.False(t, first.Greeted)
	assert.Contains(t, first.Text, "Open with a short, warm greeting")

	store.MarkGreeted("s")
	second := a.Build(context.Background(), "s", "hi again")
	assert.True(t, second.Greeted)
	assert.Contains(t, second.Text, "Do not greet again")
	assert.NotContains(t, second.Text, "warm greeting")
}

func TestBuildPropagatesContextFlags(t *testing.T) {
	store := session.New(session.Options{})
	cs := &staticContext{ctx: contextcache.Context{Text: contextcache.DefaultText, Default: true}}

	p := New(cs, store, Options{}).Build(context.Background(), "s", "hi")
	assert.True(t, p.ContextDefault)
	assert.False(t, p.ContextStale)
	assert.Equal(t, 0, p.TurnsUsed)
	assert.NotContains(t, p.Text, "## Conversation so far")
}

func TestBuildDoesNotCreateSession(t *testing.T) {
	store := session.New(session.Options{})
	New(&staticContext{}, store, Options{}).Build(context.Background(), "ghost", "hi")
	assert.False(t, store.Exists("ghost"))
}

func TestBuildLengthBound(t *testing.T) {
	store := session.New(session.Options{})
	for i := 0; i < 30; i++ {
		store.Append("s", domain.RoleUser, strings.Repeat("x", 500))
	}
	ctxText := strings.Repeat("c", 3000)
	msg := strings.Repeat("m", 1000)

	opts := Options{RecentTurns: 6, TurnMaxChars: 200}
	p := New(&staticContext{ctx: contextcache.Context{Text: ctxText}}, store, opts).Build(context.Background(), "s", msg)

	perTurn := len(AssistantLabel) + 1 + opts.TurnMaxChars + len(domain.TruncationMarker) + 1
	headers := 512
	bound := len(ctxText) + opts.RecentTurns*perTurn + len(msg) + len(Suffix(true)) + headers
	assert.LessOrEqual(t, len(p.Text), bound)
}
