package contextfields

import (
	"hash/fnv"
	"slices"
	"sort"

	"grove/internal/logging"
)

// =========================================================================
// Hard filters
// =========================================================================

// ApplyHardFilters drops prompts that must never be offered in ctx: inactive
// prompts, prompts already selected, stage and lens mismatches, prompts
// waiting on more interactions and prompts whose required moment is absent.
func ApplyHardFilters(prompts []PromptObject, ctx ContextState) []PromptObject {
	out := make([]PromptObject, 0, len(prompts))
	for _, p := range prompts {
		if reason := disqualify(p, ctx); reason != "" {
			logging.RankerDebug("%s filtered: %s", p.ID, reason)
			continue
		}
		out = append(out, p)
	}
	return out
}

func disqualify(p PromptObject, ctx ContextState) string {
	t := p.Targeting
	switch {
	case p.Status != StatusActive:
		return "status " + string(p.Status)
	case slices.Contains(ctx.PromptsSelected, p.ID):
		return "already selected"
	case len(t.Stages) > 0 && !slices.Contains(t.Stages, ctx.Stage):
		return "stage " + string(ctx.Stage)
	case slices.Contains(t.ExcludeStages, ctx.Stage):
		return "stage excluded"
	case slices.Contains(t.ExcludeLenses, ctx.ActiveLensID):
		return "lens excluded"
	case len(t.LensIDs) > 0 && (ctx.ActiveLensID == "" || !slices.Contains(t.LensIDs, ctx.ActiveLensID)):
		return "lens not targeted"
	case t.MinInteractions > 0 && ctx.InteractionCount < t.MinInteractions:
		return "needs more interactions"
	case t.RequireMoment && len(t.MomentTriggers) > 0 && !slices.ContainsFunc(t.MomentTriggers, ctx.hasMoment):
		return "required moment inactive"
	}
	return ""
}

// =========================================================================
// Soft scoring
// =========================================================================

// Weights scale each scoring dimension.
type Weights struct {
	StageMatch      float64 `yaml:"stage_match" json:"stageMatch"`
	EntropyFit      float64 `yaml:"entropy_fit" json:"entropyFit"`
	LensPrecision   float64 `yaml:"lens_precision" json:"lensPrecision"`
	TopicRelevance  float64 `yaml:"topic_relevance" json:"topicRelevance"`
	MomentBoost     float64 `yaml:"moment_boost" json:"momentBoost"`
	BaseWeightScale float64 `yaml:"base_weight_scale" json:"baseWeightScale"`
	// Variety scales a per-session jitter in [0,1). Zero keeps scores
	// purely content-driven.
	Variety float64 `yaml:"variety" json:"variety"`
}

// DefaultWeights returns the stock scoring weights.
func DefaultWeights() Weights {
	return Weights{
		StageMatch:      2.0,
		EntropyFit:      1.5,
		LensPrecision:   3.0,
		TopicRelevance:  2.0,
		MomentBoost:     3.0,
		BaseWeightScale: 0.5,
	}
}

// MatchDetails explains a score.
type MatchDetails struct {
	StageMatch   bool    `json:"stageMatch"`
	EntropyFit   bool    `json:"entropyFit"`
	LensWeight   float64 `json:"lensWeight"`
	TopicWeight  float64 `json:"topicWeight"`
	MomentBoosts float64 `json:"momentBoosts"`
}

// ScoredPrompt is a prompt with its relevance score.
type ScoredPrompt struct {
	Prompt  PromptObject `json:"prompt"`
	Score   float64      `json:"score"`
	Details MatchDetails `json:"matchDetails"`
}

// Score computes p's relevance in ctx.
func Score(p PromptObject, ctx ContextState, w Weights) ScoredPrompt {
	t := p.Targeting
	var d MatchDetails
	score := 0.0

	d.StageMatch = len(t.Stages) == 0 || slices.Contains(t.Stages, ctx.Stage)
	if d.StageMatch {
		score += w.StageMatch
	}

	d.EntropyFit = t.EntropyWindow.Contains(ctx.Entropy)
	if d.EntropyFit {
		score += w.EntropyFit
	}

	if ctx.ActiveLensID != "" {
		if aff, ok := p.lensAffinity(ctx.ActiveLensID); ok {
			d.LensWeight = aff
			score += aff * w.LensPrecision
		}
	}

	for _, a := range p.TopicAffinities {
		if ctx.explored(a.TopicID) && a.Weight > d.TopicWeight {
			d.TopicWeight = a.Weight
		}
	}
	score += d.TopicWeight * w.TopicRelevance

	for _, m := range t.MomentTriggers {
		if ctx.hasMoment(m) {
			d.MomentBoosts += w.MomentBoost
		}
	}
	score += d.MomentBoosts

	score += p.Weight() / 100 * w.BaseWeightScale

	if w.Variety != 0 {
		score += w.Variety * jitter(ctx.SessionID+":"+p.ID)
	}
	return ScoredPrompt{Prompt: p, Score: score, Details: d}
}

// jitter maps seed to a stable value in [0,1). The FNV sum goes through the
// murmur3 fmix64 finalizer so IDs differing only in their last bytes spread.
func jitter(seed string) float64 {
	h := fnv.New64a()
	h.Write([]byte(seed))
	k := h.Sum64()
	k ^= k >> 33
	k *= 0xff51afd7ed558ccd
	k ^= k >> 33
	k *= 0xc4ceb9fe1a85ec53
	k ^= k >> 33
	return float64(k>>11) / float64(1<<53)
}

// Rank scores prompts and orders them by score, highest first. Equal scores
// keep input order.
func Rank(prompts []PromptObject, ctx ContextState, w Weights) []ScoredPrompt {
	scored := make([]ScoredPrompt, len(prompts))
	for i, p := range prompts {
		scored[i] = Score(p, ctx, w)
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	return scored
}

// =========================================================================
// Selection
// =========================================================================

// SelectOptions tunes SelectPrompts. Zero MaxPrompts means 3 and nil Weights
// means DefaultWeights. An empty Surface skips surface filtering.
type SelectOptions struct {
	MaxPrompts int
	MinScore   float64
	Weights    *Weights
	Surface    Surface
}

// DefaultMaxPrompts is how many prompts SelectPrompts returns by default.
const DefaultMaxPrompts = 3

// SelectScored runs filter, score and rank, returning at most MaxPrompts
// prompts scoring at least MinScore.
func SelectScored(prompts []PromptObject, ctx ContextState, opts SelectOptions) []ScoredPrompt {
	limit := opts.MaxPrompts
	if limit <= 0 {
		limit = DefaultMaxPrompts
	}
	w := DefaultWeights()
	if opts.Weights != nil {
		w = *opts.Weights
	}

	pool := prompts
	if opts.Surface != "" {
		pool = make([]PromptObject, 0, len(prompts))
		for _, p := range prompts {
			if p.RendersOn(opts.Surface) {
				pool = append(pool, p)
			}
		}
	}

	ranked := Rank(ApplyHardFilters(pool, ctx), ctx, w)
	out := make([]ScoredPrompt, 0, limit)
	for _, sp := range ranked {
		if len(out) == limit {
			break
		}
		if sp.Score < opts.MinScore {
			continue
		}
		out = append(out, sp)
	}
	logging.RankerDebug("selected %d of %d prompts (stage=%s lens=%q interactions=%d)",
		len(out), len(prompts), ctx.Stage, ctx.ActiveLensID, ctx.InteractionCount)
	return out
}

// SelectPrompts is SelectScored without the scores.
func SelectPrompts(prompts []PromptObject, ctx ContextState, opts SelectOptions) []PromptObject {
	scored := SelectScored(prompts, ctx, opts)
	out := make([]PromptObject, len(scored))
	for i, sp := range scored {
		out[i] = sp.Prompt
	}
	return out
}

// Welcome phase tuning.
const (
	WelcomeMaxInteractions = 5
	WelcomeMaxPrompts      = 1
	WelcomeMinScore        = 1.0
)

// InWelcomePhase reports whether ctx is early enough for welcome prompts.
func InWelcomePhase(ctx ContextState) bool {
	return ctx.InteractionCount <= WelcomeMaxInteractions
}

// SelectWelcome picks the navigation prompt shown under a response. During
// the welcome phase only prompts tagged TagWelcome compete, unless none
// exist. One prompt at a time is offered and it must score at least
// WelcomeMinScore.
func SelectWelcome(prompts []PromptObject, ctx ContextState, w *Weights) []ScoredPrompt {
	pool := prompts
	if InWelcomePhase(ctx) {
		var tagged []PromptObject
		for _, p := range prompts {
			if p.HasTag(TagWelcome) {
				tagged = append(tagged, p)
			}
		}
		if len(tagged) > 0 {
			pool = tagged
		} else {
			logging.Get(logging.CategoryRanker).Warn("no %s prompts, using the full pool", TagWelcome)
		}
	}
	return SelectScored(pool, ctx, SelectOptions{
		MaxPrompts: WelcomeMaxPrompts,
		MinScore:   WelcomeMinScore,
		Weights:    w,
	})
}
