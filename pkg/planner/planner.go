// Package planner turns a user goal into an executable plan: ordered
// subtasks with role assignments, retrieval scopes, and search flags. The
// heuristics are deterministic keyword matches so the same query always
// yields the same plan; no model call happens at planning time.
package planner

import (
	"fmt"
	"strings"

	"quorum/pkg/config"
	"quorum/pkg/logx"
	"quorum/pkg/proto"
)

// FactReader is the slice of the ledger the planner consults so subtasks
// carry already-established constraints instead of re-deriving them.
type FactReader interface {
	AllFacts() ([]proto.Fact, error)
}

// AvailabilityProber reports whether a partition has a queryable index.
type AvailabilityProber interface {
	HasIndex(vaultName string) bool
}

// Planner produces plans from user queries.
type Planner struct {
	vocab  config.VocabularyConfig
	facts  FactReader
	prober AvailabilityProber
	logger *logx.Logger
}

// New creates a planner. facts and prober may be nil; empty vocabulary
// fields fall back to built-in keyword sets.
func New(vocab config.VocabularyConfig, facts FactReader, prober AvailabilityProber) *Planner {
	applyVocabDefaults(&vocab)
	return &Planner{
		vocab:  vocab,
		facts:  facts,
		prober: prober,
		logger: logx.NewLogger("planner"),
	}
}

// Built-in vocabularies used when the config does not override them.
func applyVocabDefaults(v *config.VocabularyConfig) {
	if len(v.PersonalKeywords) == 0 {
		v.PersonalKeywords = []string{"my", "notes", "journal", "personal", "diary"}
	}
	if len(v.ProjectKeywords) == 0 {
		v.ProjectKeywords = []string{"project", "repo", "repository", "codebase", "spec", "architecture", "design doc"}
	}
	if len(v.RoleKeywords) == 0 {
		v.RoleKeywords = map[string][]string{
			string(proto.RoleCode):         {"code", "function", "bug", "implement", "refactor", "patch", "diff", "fix", "compile"},
			string(proto.RoleQuantitative): {"calculate", "compute", "statistics", "average", "median", "sum", "estimate", "numbers", "metrics"},
			string(proto.RoleHumanities):   {"explain", "summarize", "write", "describe", "essay", "draft", "compare", "history"},
			string(proto.RoleTaskPlan):     {"plan", "schedule", "roadmap", "organize", "checklist", "milestones", "steps"},
		}
	}
	if len(v.FreshnessKeywords) == 0 {
		v.FreshnessKeywords = []string{"latest", "today", "current", "recent", "news", "this week", "this month", "release"}
	}
}

// roleOrder fixes subtask ordering so planning is deterministic.
var roleOrder = []proto.AgentRole{
	proto.RoleCode,
	proto.RoleQuantitative,
	proto.RoleHumanities,
	proto.RoleTaskPlan,
}

// Plan decomposes a user query into subtasks. The plan always contains at
// least one subtask; queries matching no role vocabulary get a single
// general-reasoning subtask.
func (p *Planner) Plan(userQuery string) (proto.Plan, error) {
	query := strings.TrimSpace(userQuery)
	if query == "" {
		return proto.Plan{}, fmt.Errorf("user query must be non-empty")
	}
	queryLower := strings.ToLower(query)

	scope := p.detectScope(queryLower)
	constraints := p.knownConstraints(queryLower)
	needsSearch := matchesAny(queryLower, p.vocab.FreshnessKeywords)

	var plan proto.Plan

	// Fresh-information needs run first so reasoning subtasks can consume
	// the findings.
	searchIndex := -1
	if needsSearch {
		plan.Subtasks = append(plan.Subtasks, proto.Subtask{
			AgentRole:       proto.RoleSearch,
			Goal:            fmt.Sprintf("Find current external information for: %s", query),
			RetrievalScope:  proto.ScopeNone,
			RequiresSearch:  true,
			UserConstraints: constraints,
		})
		searchIndex = 0
	}

	for _, role := range roleOrder {
		if !matchesAny(queryLower, p.vocab.RoleKeywords[string(role)]) {
			continue
		}
		subtask := proto.Subtask{
			AgentRole:       role,
			Goal:            query,
			RetrievalScope:  scope,
			RequiresSearch:  false,
			UserConstraints: constraints,
		}
		if searchIndex >= 0 {
			subtask.DependsOn = []int{searchIndex}
		}
		plan.Subtasks = append(plan.Subtasks, subtask)
	}

	// No role matched: one general reasoning subtask.
	if len(plan.Subtasks) == 0 || (needsSearch && len(plan.Subtasks) == 1) {
		subtask := proto.Subtask{
			AgentRole:       proto.RoleHumanities,
			Goal:            query,
			RetrievalScope:  scope,
			UserConstraints: constraints,
		}
		if searchIndex >= 0 {
			subtask.DependsOn = []int{searchIndex}
		}
		plan.Subtasks = append(plan.Subtasks, subtask)
	}

	p.degradeUnavailableScopes(&plan)

	if err := plan.Validate(); err != nil {
		return proto.Plan{}, err
	}
	p.logger.Debug("planned %d subtasks scope=%s search=%v", len(plan.Subtasks), scope, needsSearch)
	return plan, nil
}

// detectScope counts vocabulary hits per partition. Ties and no-match
// default to both.
func (p *Planner) detectScope(queryLower string) proto.RetrievalScope {
	personal := countMatches(queryLower, p.vocab.PersonalKeywords)
	project := countMatches(queryLower, p.vocab.ProjectKeywords)
	switch {
	case personal > project:
		return proto.ScopePersonal
	case project > personal:
		return proto.ScopeProject
	default:
		return proto.ScopeBoth
	}
}

// knownConstraints pulls facts whose key appears in the query so agents
// receive established limits instead of re-deriving them.
func (p *Planner) knownConstraints(queryLower string) []string {
	if p.facts == nil {
		return nil
	}
	facts, err := p.facts.AllFacts()
	if err != nil {
		p.logger.Warn("fact store unavailable at planning time: %v", err)
		return nil
	}
	var constraints []string
	for _, fact := range facts {
		if keywordInQuery(queryLower, strings.ToLower(fact.Key)) {
			constraints = append(constraints,
				fmt.Sprintf("known constraint %s=%s (per %s)", fact.Key, fact.Value, fact.SourceAgent))
		}
	}
	return constraints
}

// degradeUnavailableScopes narrows subtask scopes to the partitions that
// actually have an index, down to none when nothing is queryable.
func (p *Planner) degradeUnavailableScopes(plan *proto.Plan) {
	if p.prober == nil {
		return
	}
	for i := range plan.Subtasks {
		scope := plan.Subtasks[i].RetrievalScope
		var available []string
		for _, vaultName := range scope.Vaults() {
			if p.prober.HasIndex(vaultName) {
				available = append(available, vaultName)
			}
		}
		switch len(available) {
		case len(scope.Vaults()):
			// Unchanged.
		case 1:
			plan.Subtasks[i].RetrievalScope = proto.RetrievalScope(available[0])
			p.logger.Debug("subtask %d narrowed to scope %s", i, available[0])
		case 0:
			if len(scope.Vaults()) > 0 {
				plan.Subtasks[i].RetrievalScope = proto.ScopeNone
				p.logger.Debug("subtask %d degraded to no retrieval, no index available", i)
			}
		}
	}
}

func matchesAny(queryLower string, keywords []string) bool {
	return countMatches(queryLower, keywords) > 0
}

func countMatches(queryLower string, keywords []string) int {
	count := 0
	for _, keyword := range keywords {
		if keywordInQuery(queryLower, strings.ToLower(keyword)) {
			count++
		}
	}
	return count
}

// keywordInQuery matches whole words for single-word keywords and plain
// substrings for phrases, so "my" never fires inside "mystery".
func keywordInQuery(queryLower, keyword string) bool {
	if keyword == "" {
		return false
	}
	if strings.ContainsRune(keyword, ' ') {
		return strings.Contains(queryLower, keyword)
	}
	for _, word := range strings.FieldsFunc(queryLower, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	}) {
		if word == keyword {
			return true
		}
	}
	return false
}
