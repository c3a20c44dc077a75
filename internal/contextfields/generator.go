package contextfields

import (
	"fmt"
	"slices"
	"time"

	cache "github.com/patrickmn/go-cache"

	"grove/internal/logging"
)

// Topic is a subject the generator can point the visitor at.
type Topic struct {
	ID    string
	Label string
}

// DefaultTopics are the stock topics in suggestion order.
func DefaultTopics() []Topic {
	return []Topic{
		{"ratchet-effect", "the Ratchet Effect"},
		{"infrastructure-bet", "the $380 billion infrastructure bet"},
		{"distributed-systems", "distributed AI systems"},
		{"governance", "community governance"},
		{"technical-arch", "Grove's technical architecture"},
		{"cognitive-split", "the cognitive split between local and cloud AI"},
		{"observer-dynamic", "the observer dynamic"},
		{"meta-philosophy", "Grove's meta-philosophy"},
	}
}

// StabilizeEntropy is the entropy above which the generator offers a
// synthesis prompt.
const StabilizeEntropy = 0.6

// DefaultGeneratorTTL is how long generated prompts stay cached.
const DefaultGeneratorTTL = 10 * time.Minute

type rule struct {
	id       string
	applies  func(g *Generator, ctx ContextState) bool
	generate func(g *Generator, ctx ContextState) PromptObject
}

// Generator derives prompts from the visitor's context with fixed rules.
// Results are cached per stage, lens and interaction count.
type Generator struct {
	topics []Topic
	labels map[string]string
	rules  []rule
	cache  *cache.Cache
	now    func() time.Time
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithTopics replaces the default topics.
func WithTopics(topics []Topic) GeneratorOption {
	return func(g *Generator) { g.topics = slices.Clone(topics) }
}

// WithGeneratorClock sets the clock stamped into generated prompts.
func WithGeneratorClock(now func() time.Time) GeneratorOption {
	return func(g *Generator) { g.now = now }
}

// NewGenerator returns a generator whose cache entries live for ttl. A zero
// ttl uses DefaultGeneratorTTL.
func NewGenerator(ttl time.Duration, opts ...GeneratorOption) *Generator {
	if ttl <= 0 {
		ttl = DefaultGeneratorTTL
	}
	g := &Generator{
		topics: DefaultTopics(),
		cache:  cache.New(ttl, 2*ttl),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.labels = make(map[string]string, len(g.topics))
	for _, t := range g.topics {
		g.labels[t.ID] = t.Label
	}
	g.rules = defaultRules()
	return g
}

// CacheKey is the key Generate caches ctx's prompts under.
func CacheKey(ctx ContextState) string {
	lens := ctx.ActiveLensID
	if lens == "" {
		lens = "none"
	}
	return fmt.Sprintf("%s-%s-%d", ctx.Stage, lens, ctx.InteractionCount)
}

// Generate returns the prompts every applicable rule produces for ctx,
// serving repeat requests for the same key from cache.
func (g *Generator) Generate(ctx ContextState) []PromptObject {
	key := CacheKey(ctx)
	if cached, ok := g.Cached(ctx); ok {
		logging.RankerDebug("generator cache hit %s", key)
		return cached
	}

	var out []PromptObject
	for _, r := range g.rules {
		if !r.applies(g, ctx) {
			continue
		}
		p := r.generate(g, ctx)
		logging.RankerDebug("rule %s generated %s", r.id, p.ID)
		out = append(out, p)
	}
	g.cache.SetDefault(key, out)
	logging.RankerDebug("generated %d prompts for %s", len(out), key)
	return slices.Clone(out)
}

// Cached returns the prompts cached for ctx's key.
func (g *Generator) Cached(ctx ContextState) ([]PromptObject, bool) {
	v, ok := g.cache.Get(CacheKey(ctx))
	if !ok {
		return nil, false
	}
	return slices.Clone(v.([]PromptObject)), true
}

// Invalidate drops every cached result.
func (g *Generator) Invalidate() {
	g.cache.Flush()
}

func (g *Generator) label(topic string) string {
	if l, ok := g.labels[topic]; ok {
		return l
	}
	return topic
}

func (g *Generator) unexplored(ctx ContextState) []string {
	var out []string
	for _, t := range g.topics {
		if !ctx.explored(t.ID) {
			out = append(out, t.ID)
		}
	}
	return out
}

func (g *Generator) prompt(ctx ContextState, ruleID string, p PromptObject) PromptObject {
	p.Status = StatusActive
	p.Source = SourceGenerated
	p.GeneratedFrom = &GenerationContext{
		SessionID:   ctx.SessionID,
		Rule:        ruleID,
		Stage:       ctx.Stage,
		Entropy:     ctx.Entropy,
		Exchanges:   ctx.InteractionCount,
		GeneratedAt: g.now(),
	}
	return p
}

func defaultRules() []rule {
	return []rule{
		{
			id: "unexplored-topic",
			applies: func(g *Generator, ctx ContextState) bool {
				return len(g.unexplored(ctx)) > 0
			},
			generate: func(g *Generator, ctx ContextState) PromptObject {
				topic := g.unexplored(ctx)[0]
				label := g.label(topic)
				return g.prompt(ctx, "unexplored-topic", PromptObject{
					ID:              "gen-explore-" + topic,
					Label:           fmt.Sprintf("What about %s?", label),
					Description:     fmt.Sprintf("You haven't explored %s yet", label),
					ExecutionPrompt: fmt.Sprintf("Explain %s and how it connects to what we've discussed so far about Grove.", label),
					Tags:            []string{"generated", "exploration", topic},
					TopicAffinities: []TopicAffinity{{TopicID: topic, Weight: 0.9}},
					Targeting:       Targeting{Stages: []Stage{ctx.Stage}, MinInteractions: 2},
					BaseWeight:      floatPtr(70),
				})
			},
		},
		{
			id: "deepen-topic",
			applies: func(_ *Generator, ctx ContextState) bool {
				return len(ctx.TopicsExplored) > 0 && ctx.InteractionCount >= 3
			},
			generate: func(g *Generator, ctx ContextState) PromptObject {
				topic := ctx.TopicsExplored[len(ctx.TopicsExplored)-1]
				label := g.label(topic)
				return g.prompt(ctx, "deepen-topic", PromptObject{
					ID:              "gen-deepen-" + topic,
					Label:           "Go deeper on " + label,
					Description:     "Explore the nuances and implications",
					ExecutionPrompt: fmt.Sprintf("Take me deeper into %s. What are the subtle implications and edge cases I should understand?", label),
					Tags:            []string{"generated", "depth", topic},
					TopicAffinities: []TopicAffinity{{TopicID: topic, Weight: 1.0}},
					Targeting:       Targeting{Stages: []Stage{StageExploration, StageSynthesis}, MinInteractions: 3},
					BaseWeight:      floatPtr(65),
				})
			},
		},
		{
			id: "connect-topics",
			applies: func(_ *Generator, ctx ContextState) bool {
				return len(ctx.TopicsExplored) >= 2
			},
			generate: func(g *Generator, ctx ContextState) PromptObject {
				n := len(ctx.TopicsExplored)
				a, b := ctx.TopicsExplored[n-2], ctx.TopicsExplored[n-1]
				la, lb := g.label(a), g.label(b)
				return g.prompt(ctx, "connect-topics", PromptObject{
					ID:              "gen-connect-" + a + "-" + b,
					Label:           fmt.Sprintf("How do %s and %s connect?", la, lb),
					Description:     "Synthesize the relationship between topics",
					ExecutionPrompt: fmt.Sprintf("Explain how %s connects to %s in Grove's architecture. What's the deeper relationship?", la, lb),
					Tags:            []string{"generated", "synthesis", a, b},
					TopicAffinities: []TopicAffinity{{TopicID: a, Weight: 0.8}, {TopicID: b, Weight: 0.8}},
					Targeting:       Targeting{Stages: []Stage{StageExploration, StageSynthesis}, MinInteractions: 4},
					BaseWeight:      floatPtr(75),
				})
			},
		},
		{
			id: "stabilize-entropy",
			applies: func(_ *Generator, ctx ContextState) bool {
				return ctx.Entropy > StabilizeEntropy
			},
			generate: func(g *Generator, ctx ContextState) PromptObject {
				return g.prompt(ctx, "stabilize-entropy", PromptObject{
					ID:              "gen-stabilize",
					Label:           "What's the key insight so far?",
					Description:     "Synthesize the conversation",
					ExecutionPrompt: "Help me synthesize what we've discussed. What's the most important insight I should take away?",
					Variant:         "subtle",
					Tags:            []string{"generated", "stabilization"},
					Targeting: Targeting{
						Stages:        []Stage{StageExploration, StageSynthesis},
						EntropyWindow: &Window{Min: floatPtr(StabilizeEntropy)},
					},
					BaseWeight: floatPtr(80),
				})
			},
		},
	}
}
