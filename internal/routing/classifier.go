package routing

import (
	"strings"

	"github.com/MuhammadShayanUmarX/vm-nebula-task/internal/domain"
)

// ClassifierConfig carries the keyword sets and complexity thresholds.
// Empty fields are filled with defaults so a zero value still classifies.
type ClassifierConfig struct {
	CodeKeywords     []string
	ResearchKeywords []string
	TaskHelpKeywords []string

	// ComplexWordCount escalates queries with at least this many words.
	ComplexWordCount int
	// ComplexConjunctions escalates queries with at least this many
	// coordinating "and" joints.
	ComplexConjunctions int
	// ComplexQuestionMarks escalates queries asking this many questions.
	ComplexQuestionMarks int
}

// Bare language names stay out of the code set on purpose: "What is Python?"
// is a general question, not a coding task.
var (
	defaultCodeKeywords = []string{
		"code", "function", "debug", "programming", "compile",
		"error", "bug", "syntax", "algorithm", "script", "refactor", "stack trace",
	}
	defaultResearchKeywords = []string{
		"research", "analyze", "analyse", "compare", "versus",
		"investigate", "study", "evidence", "summary", "analysis", "trade-off",
	}
	defaultTaskHelpKeywords = []string{
		"how to", "steps", "guide", "tutorial", "walkthrough",
		"instructions", "procedure", "setup", "checklist",
	}
)

type rule struct {
	agent    domain.AgentType
	keywords []string
}

// Classifier maps a raw query to an agent type and complexity tier.
// It is pure and total: unmatched input falls to General/Simple.
type Classifier struct {
	rules                []rule
	complexWordCount     int
	complexConjunctions  int
	complexQuestionMarks int
}

func NewClassifier(config ClassifierConfig) *Classifier {
	if len(config.CodeKeywords) == 0 {
		config.CodeKeywords = defaultCodeKeywords
	}
	if len(config.ResearchKeywords) == 0 {
		config.ResearchKeywords = defaultResearchKeywords
	}
	if len(config.TaskHelpKeywords) == 0 {
		config.TaskHelpKeywords = defaultTaskHelpKeywords
	}
	if config.ComplexWordCount <= 0 {
		config.ComplexWordCount = 40
	}
	if config.ComplexConjunctions <= 0 {
		config.ComplexConjunctions = 2
	}
	if config.ComplexQuestionMarks <= 0 {
		config.ComplexQuestionMarks = 2
	}

	// Priority order is fixed: code beats research beats task help.
	return &Classifier{
		rules: []rule{
			{agent: domain.AgentCode, keywords: lowercaseAll(config.CodeKeywords)},
			{agent: domain.AgentResearch, keywords: lowercaseAll(config.ResearchKeywords)},
			{agent: domain.AgentTaskHelp, keywords: lowercaseAll(config.TaskHelpKeywords)},
		},
		complexWordCount:     config.ComplexWordCount,
		complexConjunctions:  config.ComplexConjunctions,
		complexQuestionMarks: config.ComplexQuestionMarks,
	}
}

func (c *Classifier) Classify(query string) (domain.AgentType, domain.ComplexityTier) {
	return c.agentFor(query), c.tierFor(query)
}

func (c *Classifier) agentFor(query string) domain.AgentType {
	lowered := strings.ToLower(query)
	for _, candidate := range c.rules {
		for _, keyword := range candidate.keywords {
			if strings.Contains(lowered, keyword) {
				return candidate.agent
			}
		}
	}
	return domain.AgentGeneral
}

func (c *Classifier) tierFor(query string) domain.ComplexityTier {
	lowered := strings.ToLower(query)
	words := strings.Fields(lowered)

	if len(words) >= c.complexWordCount {
		return domain.TierComplex
	}
	if strings.Contains(lowered, "and also") {
		return domain.TierComplex
	}
	if countWord(words, "and") >= c.complexConjunctions {
		return domain.TierComplex
	}
	if strings.Count(lowered, "?") >= c.complexQuestionMarks {
		return domain.TierComplex
	}
	return domain.TierSimple
}

func countWord(words []string, target string) int {
	count := 0
	for _, word := range words {
		if strings.Trim(word, ".,;:!?") == target {
			count++
		}
	}
	return count
}

func lowercaseAll(values []string) []string {
	result := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.ToLower(strings.TrimSpace(value))
		if trimmed == "" {
			continue
		}
		result = append(result, trimmed)
	}
	return result
}
