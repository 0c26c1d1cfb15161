package history

import (
	"strings"

	"github.com/MuhammadShayanUmarX/vm-nebula-task/internal/domain"
)

type BuilderConfig struct {
	// MaxTurns caps how many prior turns accompany a query.
	MaxTurns int
	// MaxChars caps the total characters of included history; older turns
	// are dropped first.
	MaxChars int
}

// Builder shapes stored session history into the provider context window.
// How much history a request carries is configuration, not behavior.
type Builder struct {
	maxTurns int
	maxChars int
}

func NewBuilder(config BuilderConfig) *Builder {
	if config.MaxTurns <= 0 {
		config.MaxTurns = 10
	}
	if config.MaxChars <= 0 {
		config.MaxChars = 8000
	}
	return &Builder{maxTurns: config.MaxTurns, maxChars: config.MaxChars}
}

// MaxTurns is the window the builder expects callers to fetch.
func (b *Builder) MaxTurns() int {
	return b.maxTurns
}

// Window trims turns to the configured tail: newest turns win, and the
// character budget drops whole turns from the oldest end.
func (b *Builder) Window(turns []domain.Turn) []domain.Turn {
	if len(turns) > b.maxTurns {
		turns = turns[len(turns)-b.maxTurns:]
	}

	total := 0
	start := len(turns)
	for index := len(turns) - 1; index >= 0; index-- {
		length := len(turns[index].Content)
		if total+length > b.maxChars {
			break
		}
		total += length
		start = index
	}
	return append([]domain.Turn(nil), turns[start:]...)
}

// Transcript renders a window as plain text, used for cache signatures.
func (b *Builder) Transcript(turns []domain.Turn) string {
	if len(turns) == 0 {
		return ""
	}
	builder := strings.Builder{}
	for _, turn := range turns {
		builder.WriteString(string(turn.Role))
		builder.WriteString(": ")
		builder.WriteString(turn.Content)
		builder.WriteString("\n")
	}
	return strings.TrimSpace(builder.String())
}
