// Package prompt assembles the bounded text sent to the external generator.
package prompt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/concierge/internal/contextcache"
	"github.com/soyeahso/concierge/internal/domain"
)

// Defaults.
const (
	DefaultRecentTurns   = 6
	DefaultTurnMaxChars  = 200
	DefaultAssistantName = "Mia"
)

// Turn labels.
const (
	CustomerLabel  = "Customer:"
	AssistantLabel = "Assistant:"
)

// ContextSource supplies the grounding context.
type ContextSource interface {
	Get(ctx context.Context, force bool) contextcache.Context
}

// History supplies recent turns and greeting state.
type History interface {
	Recent(id string, k int) []domain.Turn
	HasGreeted(id string) bool
}

// Options configure an Assembler.
type Options struct {
	RecentTurns   int
	TurnMaxChars  int
	AssistantName string
	Now           func() time.Time
}

// Payload is an assembled prompt plus what went into it.
type Payload struct {
	Text           string
	Greeted        bool
	ContextStale   bool
	ContextDefault bool
	TurnsUsed      int
}

// Assembler reads the context cache and session history. It has no side
// effects of its own beyond whatever refresh the cache performs.
type Assembler struct {
	ctxSource ContextSource
	history   History
	opts      Options
}

// New creates an Assembler.
func New(cs ContextSource, h History, opts Options) *Assembler {
	if opts.RecentTurns <= 0 {
		opts.RecentTurns = DefaultRecentTurns
	}
	if opts.TurnMaxChars <= 0 {
		opts.TurnMaxChars = DefaultTurnMaxChars
	}
	if opts.AssistantName == "" {
		opts.AssistantName = DefaultAssistantName
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Assembler{ctxSource: cs, history: h, opts: opts}
}

// Build assembles context, the last RecentTurns turns (each cut to
// TurnMaxChars runes), the new message and the instruction suffix, in that
// order. message is expected to be validated by the caller.
func (a *Assembler) Build(ctx context.Context, sessionID, message string) Payload {
	grounding := a.ctxSource.Get(ctx, false)
	turns := a.history.Recent(sessionID, a.opts.RecentTurns)
	greeted := a.history.HasGreeted(sessionID)

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, the virtual travel concierge for our tour company.\n", a.opts.AssistantName)
	fmt.Fprintf(&b, "Current date: %s\n\n", a.opts.Now().Format("2006-01-02"))

	b.WriteString("## Catalog\n")
	b.WriteString(grounding.Text)
	b.WriteString("\n\n")

	if len(turns) > 0 {
		b.WriteString("## Conversation so far\n")
		for _, t := range turns {
			fmt.Fprintf(&b, "%s %s\n", label(t.Role), domain.Truncate(t.Content, a.opts.TurnMaxChars))
		}
		b.WriteString("\n")
	}

	b.WriteString("## New message\n")
	fmt.Fprintf(&b, "%s %s\n\n", CustomerLabel, message)

	b.WriteString(Suffix(greeted))

	return Payload{
		Text:           b.String(),
		Greeted:        greeted,
		ContextStale:   grounding.Stale,
		ContextDefault: grounding.Default,
		TurnsUsed:      len(turns),
	}
}

// Suffix returns the instruction block for the greeting state.
func Suffix(greeted bool) string {
	var b strings.Builder
	b.WriteString("## Instructions\n")
	b.WriteString("- Answer from the catalog above. If it does not cover the question, say so and offer to connect the customer with our staff.\n")
	b.WriteString("- Never invent tours, prices or availability.\n")
	b.WriteString("- Reply in the customer's language, in at most 150 words.\n")
	if greeted {
		b.WriteString("- You have already greeted this customer. Do not greet again; continue the conversation naturally.\n")
	} else {
		b.WriteString("- This is your first reply. Open with a short, warm greeting.\n")
	}
	b.WriteString(AssistantLabel)
	return b.String()
}

func label(r domain.Role) string {
	if r == domain.RoleAssistant {
		return AssistantLabel
	}
	return CustomerLabel
}
