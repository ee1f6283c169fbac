// Package classifier assigns a priority and a routing list of agent names
// to an incoming filing. Tier 1 is a deterministic table; Tier 2 is an
// optional LLM-advised refinement that may only narrow Tier 1's agent
// list, never widen it.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/medxprts/spacmon/pkg/config"
	"github.com/medxprts/spacmon/pkg/llm"
)

// Input is everything the classifier needs to route a filing.
type Input struct {
	FilingType    string
	ItemNumber    string
	Title         string
	Summary       string
	Body          string // may be empty if the body was never fetched
	EntityContext string
}

// Result is the classifier's output: a priority, an ordered agent routing
// list, a short human-facing tag, and a summary.
type Result struct {
	Priority    config.Priority
	AgentsNeeded []string
	HumanTag    string
	SummaryText string
}

// rule is one Tier 1 table entry.
type rule struct {
	priority config.Priority
	agents   []string
	tag      string
}

// tier1Table is the authoritative, deterministic routing table. Keyed by
// (filingType, itemNumber); itemNumber "" matches any filing of that type
// without a more specific item-level entry.
var tier1Table = map[string]map[string]rule{
	"8-K": {
		"1.01": {priority: config.PriorityHigh, agents: []string{"DealDetector"}, tag: "deal-announcement"},
		"5.03": {priority: config.PriorityHigh, agents: []string{"ExtensionMonitor"}, tag: "charter-amendment"},
		"5.07": {priority: config.PriorityHigh, agents: []string{"RedemptionExtractor"}, tag: "shareholder-vote"},
		"2.01": {priority: config.PriorityCritical, agents: []string{"CompletionMonitor"}, tag: "completion"},
	},
	"425": {
		"": {priority: config.PriorityHigh, agents: []string{"DealDetector"}, tag: "deal-communication"},
	},
	"S-4": {
		"": {priority: config.PriorityHigh, agents: []string{"S4Processor"}, tag: "registration-statement"},
	},
	"S-4/A": {
		"": {priority: config.PriorityHigh, agents: []string{"S4Processor"}, tag: "registration-amendment"},
	},
	"DEFM14A": {
		"": {priority: config.PriorityHigh, agents: []string{"FilingProcessor", "RedemptionExtractor"}, tag: "merger-proxy"},
	},
	"DEFR14A": {
		"": {priority: config.PriorityHigh, agents: []string{"FilingProcessor", "RedemptionExtractor"}, tag: "merger-proxy"},
	},
	"PREM14A": {
		"": {priority: config.PriorityHigh, agents: []string{"FilingProcessor", "RedemptionExtractor"}, tag: "merger-proxy"},
	},
	"SC TO-T": {
		"": {priority: config.PriorityHigh, agents: []string{"FilingProcessor"}, tag: "tender-offer"},
	},
	"10-Q": {
		"": {priority: config.PriorityMedium, agents: []string{"TrustAccountProcessor"}, tag: "quarterly-report"},
	},
	"10-K": {
		"": {priority: config.PriorityMedium, agents: []string{"TrustAccountProcessor"}, tag: "annual-report"},
	},
	"424B4": {
		"": {priority: config.PriorityMedium, agents: []string{"IPODetector"}, tag: "ipo-pricing"},
	},
	"S-1": {
		"": {priority: config.PriorityMedium, agents: []string{"IPODetector"}, tag: "ipo-prospectus"},
	},
	"25-NSE": {
		"": {priority: config.PriorityCritical, agents: []string{"DelistingDetector", "CompletionMonitor"}, tag: "delisting-notice"},
	},
}

// Classify applies Tier 1, and Tier 2 when eligible, to input.
func Classify(ctx context.Context, client *llm.Client, in Input) Result {
	tier1 := classifyTier1(in)

	if client == nil || !tier2Eligible(in) {
		return tier1
	}

	refined, err := classifyTier2(ctx, client, in, tier1)
	if err != nil {
		slog.Warn("tier 2 classification failed, falling back to tier 1", "filing_type", in.FilingType, "error", err)
		return tier1
	}
	return refined
}

func classifyTier1(in Input) Result {
	byType, ok := tier1Table[strings.ToUpper(in.FilingType)]
	if !ok {
		return Result{Priority: config.PriorityLow, HumanTag: "unclassified", SummaryText: fallbackSummary(in)}
	}

	r, ok := byType[in.ItemNumber]
	if !ok {
		r, ok = byType[""]
	}
	if !ok {
		return Result{Priority: config.PriorityLow, HumanTag: "unclassified", SummaryText: fallbackSummary(in)}
	}

	return Result{
		Priority:     r.priority,
		AgentsNeeded: append([]string(nil), r.agents...),
		HumanTag:     r.tag,
		SummaryText:  fallbackSummary(in),
	}
}

func fallbackSummary(in Input) string {
	if in.Summary != "" {
		return truncateWords(in.Summary, 150)
	}
	return truncateWords(fmt.Sprintf("%s filing for %s", in.FilingType, in.EntityContext), 150)
}

func truncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "…"
}

// tier2Eligible mirrors spec's invocation conditions: a generic 8-K with no
// item number, or any filing whose body was fetched and could plausibly
// route to multiple agents.
func tier2Eligible(in Input) bool {
	if strings.EqualFold(in.FilingType, "8-K") && in.ItemNumber == "" {
		return true
	}
	return in.Body != ""
}

type tier2Response struct {
	ItemNumber      string          `json:"item_number"`
	Priority        config.Priority `json:"priority"`
	AgentsNeeded    []string        `json:"agents_needed"`
	Reason          string          `json:"reason"`
	DataTypes       map[string]bool `json:"data_types"`
	RelevanceScore  int             `json:"relevance_score"`
}

func classifyTier2(ctx context.Context, client *llm.Client, in Input, tier1 Result) (Result, error) {
	prompt := buildTier2Prompt(in)
	raw, err := client.CompleteJSON(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: "You classify SEC filings. Respond with strict JSON only."},
		{Role: llm.RoleUser, Content: prompt},
	})
	if err != nil {
		return Result{}, fmt.Errorf("classifier: tier 2 completion: %w", err)
	}

	var resp tier2Response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return Result{}, fmt.Errorf("classifier: tier 2 response parse: %w", err)
	}
	if resp.Priority == "" || len(resp.AgentsNeeded) == 0 {
		return Result{}, fmt.Errorf("classifier: tier 2 response missing required fields")
	}

	// Tier 2 may only subtract from Tier 1's agents_needed, never add.
	allowed := make(map[string]bool, len(tier1.AgentsNeeded))
	for _, a := range tier1.AgentsNeeded {
		allowed[a] = true
	}
	var narrowed []string
	for _, a := range tier1.AgentsNeeded {
		if containsFold(resp.AgentsNeeded, a) {
			narrowed = append(narrowed, a)
		}
	}
	if len(narrowed) == 0 {
		narrowed = tier1.AgentsNeeded
	}

	priority := tier1.Priority
	if resp.Priority.IsValid() {
		priority = resp.Priority
	}

	summary := tier1.SummaryText
	if resp.Reason != "" {
		summary = truncateWords(resp.Reason, 150)
	}

	return Result{
		Priority:     priority,
		AgentsNeeded: narrowed,
		HumanTag:     tier1.HumanTag,
		SummaryText:  summary,
	}, nil
}

func buildTier2Prompt(in Input) string {
	sample := in.Body
	if len(sample) > 2000 {
		sample = sample[:2000]
	}
	return fmt.Sprintf(
		"filing_type=%s item_number=%s title=%q context=%q content_sample=%q\n"+
			"Return JSON: {\"item_number\":string,\"priority\":\"critical|high|medium|low\",\"agents_needed\":[string],\"reason\":string,\"data_types\":{string:bool},\"relevance_score\":int}",
		in.FilingType, in.ItemNumber, in.Title, in.EntityContext, sample)
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}

