package routing

import "github.com/MuhammadShayanUmarX/vm-nebula-task/internal/domain"

type planKey struct {
	agent domain.AgentType
	tier  domain.ComplexityTier
}

// Table maps (agent, tier) pairs to ordered candidate sequences. It is built
// once at startup and read-only afterwards; Select never returns an empty plan
// because General/Simple acts as the catch-all row.
type Table struct {
	entries map[planKey]domain.DispatchPlan
}

// TableConfig overrides individual rows. Nil rows keep the defaults.
type TableConfig struct {
	CodeSimple      []domain.ModelRef
	CodeComplex     []domain.ModelRef
	ResearchSimple  []domain.ModelRef
	ResearchComplex []domain.ModelRef
	TaskHelpSimple  []domain.ModelRef
	TaskHelpComplex []domain.ModelRef
	GeneralSimple   []domain.ModelRef
	GeneralComplex  []domain.ModelRef
}

const (
	ProviderGoogle = "google"
	ProviderZAI    = "zai"
)

var (
	fastDefault  = domain.ModelRef{Provider: ProviderGoogle, Model: "gemini-1.5-flash-8b", Streams: true}
	fastStandard = domain.ModelRef{Provider: ProviderGoogle, Model: "gemini-1.5-flash", Streams: true}
	premiumZAI   = domain.ModelRef{Provider: ProviderZAI, Model: "zai-large", Streams: true}
)

func NewTable(config TableConfig) *Table {
	entries := map[planKey]domain.DispatchPlan{
		{domain.AgentCode, domain.TierSimple}:      {fastStandard, fastDefault},
		{domain.AgentCode, domain.TierComplex}:     {fastStandard, premiumZAI},
		{domain.AgentResearch, domain.TierSimple}:  {fastDefault, fastStandard},
		{domain.AgentResearch, domain.TierComplex}: {premiumZAI, fastStandard},
		{domain.AgentTaskHelp, domain.TierSimple}:  {fastDefault, fastStandard},
		{domain.AgentTaskHelp, domain.TierComplex}: {fastStandard, premiumZAI},
		{domain.AgentGeneral, domain.TierSimple}:   {fastDefault, fastStandard},
		{domain.AgentGeneral, domain.TierComplex}:  {fastStandard, fastDefault},
	}

	overrides := map[planKey][]domain.ModelRef{
		{domain.AgentCode, domain.TierSimple}:      config.CodeSimple,
		{domain.AgentCode, domain.TierComplex}:     config.CodeComplex,
		{domain.AgentResearch, domain.TierSimple}:  config.ResearchSimple,
		{domain.AgentResearch, domain.TierComplex}: config.ResearchComplex,
		{domain.AgentTaskHelp, domain.TierSimple}:  config.TaskHelpSimple,
		{domain.AgentTaskHelp, domain.TierComplex}: config.TaskHelpComplex,
		{domain.AgentGeneral, domain.TierSimple}:   config.GeneralSimple,
		{domain.AgentGeneral, domain.TierComplex}:  config.GeneralComplex,
	}
	for key, plan := range overrides {
		if len(plan) > 0 {
			entries[key] = append(domain.DispatchPlan(nil), plan...)
		}
	}

	return &Table{entries: entries}
}

// Select resolves the plan for a classified query. Unknown pairs fall back to
// the General/Simple row, so the result is never empty.
func (t *Table) Select(agent domain.AgentType, tier domain.ComplexityTier) domain.DispatchPlan {
	if plan, ok := t.entries[planKey{agent, tier}]; ok && len(plan) > 0 {
		return append(domain.DispatchPlan(nil), plan...)
	}
	fallback := t.entries[planKey{domain.AgentGeneral, domain.TierSimple}]
	return append(domain.DispatchPlan(nil), fallback...)
}

// Models lists every distinct candidate in the table, used by the model
// status endpoint.
func (t *Table) Models() []domain.ModelRef {
	seen := make(map[string]struct{})
	result := make([]domain.ModelRef, 0, len(t.entries))
	for _, plan := range t.entries {
		for _, ref := range plan {
			if _, ok := seen[ref.String()]; ok {
				continue
			}
			seen[ref.String()] = struct{}{}
			result = append(result, ref)
		}
	}
	return result
}
