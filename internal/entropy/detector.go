// Package entropy measures conversational drift: how far the latest message
// strays from the dominant topic cluster of the recent conversation, and
// whether the conversation is thrashing between clusters. A high score is the
// cue to offer a structured journey.
//
// All tunables live in Thresholds and Limits.
package entropy

import (
	"math"
	"strings"

	"grove/internal/logging"
)

// Classification buckets a score.
type Classification string

const (
	ClassLow    Classification = "low"
	ClassMedium Classification = "medium"
	ClassHigh   Classification = "high"
)

// Thresholds are score cut-offs in [0,1].
type Thresholds struct {
	// Low is the upper bound of the low class.
	Low float64 `yaml:"low" json:"low"`
	// OffTopic is the score above which a message is off-topic.
	OffTopic float64 `yaml:"off_topic" json:"offTopic"`
	// Inject is the score above which a journey suggestion may be injected.
	Inject float64 `yaml:"inject" json:"inject"`
}

// Limits throttle injection and bound the matching window.
type Limits struct {
	CooldownExchanges        int `yaml:"cooldown_exchanges" json:"cooldownExchanges"`
	DismissCooldownExchanges int `yaml:"dismiss_cooldown_exchanges" json:"dismissCooldownExchanges"`
	DismissCap               int `yaml:"dismiss_cap" json:"dismissCap"`
	MaxInjectionsPerSession  int `yaml:"max_injections_per_session" json:"maxInjectionsPerSession"`
	MinExchangesForJourney   int `yaml:"min_exchanges_for_journey" json:"minExchangesForJourney"`
	WindowSize               int `yaml:"window_size" json:"windowSize"`
	MaxTagMatches            int `yaml:"max_tag_matches" json:"maxTagMatches"`
}

// DefaultThresholds returns the stock cut-offs.
func DefaultThresholds() Thresholds {
	return Thresholds{Low: 0.3, OffTopic: 0.7, Inject: 0.7}
}

// DefaultLimits returns the stock throttles.
func DefaultLimits() Limits {
	return Limits{
		CooldownExchanges:        5,
		DismissCooldownExchanges: 2,
		DismissCap:               2,
		MaxInjectionsPerSession:  2,
		MinExchangesForJourney:   3,
		WindowSize:               6,
		MaxTagMatches:            3,
	}
}

// Score weights: drift of the current message away from the dominant
// cluster, and cluster switching across the window.
const (
	driftWeight  = 0.6
	thrashWeight = 0.4
)

// Message is one chat turn.
type Message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// IsUser reports whether m was written by the visitor. Messages without a
// role count as visitor messages.
func (m Message) IsUser() bool {
	switch strings.ToLower(m.Role) {
	case "model", "assistant", "system":
		return false
	}
	return true
}

// Result is the drift assessment of one message.
type Result struct {
	Score            float64        `json:"score"`
	Classification   Classification `json:"classification"`
	DominantCluster  *string        `json:"dominantCluster"`
	IsOffTopic       bool           `json:"isOffTopic"`
	SuggestedJourney *string        `json:"suggestedJourney"`
	MatchedTags      []string       `json:"matchedTags"`
}

// Dominant returns the dominant cluster or "".
func (r Result) Dominant() string {
	if r.DominantCluster == nil {
		return ""
	}
	return *r.DominantCluster
}

// Neutral is the result for input that cannot be scored.
func Neutral() Result {
	return Result{Score: 0, Classification: ClassLow, MatchedTags: []string{}}
}

// Detector scores messages. The zero value is not usable; use NewDetector.
type Detector struct {
	clusters   []Cluster
	hubs       []Hub
	journeys   map[string]string
	matcher    Matcher
	thresholds Thresholds
	limits     Limits
}

// Option configures a Detector.
type Option func(*Detector)

// WithClusters replaces the built-in clusters.
func WithClusters(clusters []Cluster) Option {
	return func(d *Detector) { d.clusters = clusters }
}

// WithHubs adds topic hubs.
func WithHubs(hubs []Hub) Option {
	return func(d *Detector) { d.hubs = hubs }
}

// WithJourneys adds cluster-to-journey mappings on top of the defaults.
func WithJourneys(m map[string]string) Option {
	return func(d *Detector) {
		for k, v := range m {
			d.journeys[k] = v
		}
	}
}

// WithMatcher swaps the keyword matcher, e.g. for an embedding matcher.
func WithMatcher(m Matcher) Option {
	return func(d *Detector) {
		if m != nil {
			d.matcher = m
		}
	}
}

// WithThresholds overrides the score cut-offs.
func WithThresholds(t Thresholds) Option {
	return func(d *Detector) { d.thresholds = t }
}

// WithLimits overrides the throttles.
func WithLimits(l Limits) Option {
	return func(d *Detector) { d.limits = l }
}

// NewDetector returns a detector with the built-in clusters and journey map.
func NewDetector(opts ...Option) *Detector {
	d := &Detector{
		clusters:   DefaultClusters(),
		journeys:   DefaultJourneyMap(),
		matcher:    KeywordMatcher{},
		thresholds: DefaultThresholds(),
		limits:     DefaultLimits(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Thresholds returns the detector's cut-offs.
func (d *Detector) Thresholds() Thresholds { return d.thresholds }

// Limits returns the detector's throttles.
func (d *Detector) Limits() Limits { return d.limits }

// Calculate scores message with the default detector.
func Calculate(message string, history []Message, hubs []Hub, exchangeCount int) Result {
	return NewDetector(WithHubs(hubs)).Calculate(message, history, exchangeCount)
}

// JourneyForCluster returns the journey mapped to a cluster.
func (d *Detector) JourneyForCluster(cluster string) (string, bool) {
	j, ok := d.journeys[cluster]
	return j, ok && j != ""
}

func (d *Detector) allClusters() []Cluster {
	out := make([]Cluster, 0, len(d.clusters)+len(d.hubs))
	out = append(out, d.clusters...)
	for _, h := range d.hubs {
		if h.Enabled && h.ID != "" {
			out = append(out, Cluster{ID: h.ID, Keywords: h.Tags})
		}
	}
	return out
}

// Calculate scores message against the window formed by the last
// WindowSize visitor messages of history plus message itself.
func (d *Detector) Calculate(message string, history []Message, exchangeCount int) Result {
	if strings.TrimSpace(message) == "" {
		return Neutral()
	}

	clusters := d.allClusters()
	order := make(map[string]int, len(clusters))
	for i, c := range clusters {
		if _, ok := order[c.ID]; !ok {
			order[c.ID] = i
		}
	}

	window := d.window(history)
	window = append(window, message)

	totals := make(map[string]float64)
	lastSeen := make(map[string]int)
	var tops []string
	var current map[string]float64

	for i, text := range window {
		weights := d.matcher.Match(text, clusters)
		if i == len(window)-1 {
			current = weights
		}
		if len(weights) == 0 {
			continue
		}
		for id, w := range weights {
			if w <= 0 {
				continue
			}
			totals[id] += w
			lastSeen[id] = i
		}
		tops = append(tops, topCluster(weights, order))
	}

	res := Result{MatchedTags: d.matchedTags(message)}

	dominant := pickDominant(totals, lastSeen, order)
	if dominant != "" {
		res.DominantCluster = &dominant
	}

	currentTotal := 0.0
	for _, w := range current {
		if w > 0 {
			currentTotal += w
		}
	}
	if currentTotal == 0 {
		res.Score = 1
	} else {
		drift := 1 - current[dominant]/currentTotal
		res.Score = driftWeight*drift + thrashWeight*thrashRate(tops)
	}
	res.Score = clamp01(res.Score)
	res.Classification = d.classify(res.Score)
	res.IsOffTopic = res.Score > d.thresholds.OffTopic

	if dominant != "" && exchangeCount >= d.limits.MinExchangesForJourney {
		if j, ok := d.JourneyForCluster(dominant); ok {
			res.SuggestedJourney = &j
		}
	}

	logging.EntropyDebug("score=%.2f class=%s dominant=%q offTopic=%v tags=%v",
		res.Score, res.Classification, dominant, res.IsOffTopic, res.MatchedTags)
	return res
}

func (d *Detector) window(history []Message) []string {
	var texts []string
	for _, m := range history {
		if m.IsUser() && strings.TrimSpace(m.Text) != "" {
			texts = append(texts, m.Text)
		}
	}
	if n := d.limits.WindowSize; n >= 0 && len(texts) > n {
		texts = texts[len(texts)-n:]
	}
	return texts
}

func (d *Detector) matchedTags(message string) []string {
	lower := strings.ToLower(message)
	tags := []string{}
	seen := make(map[string]bool)
	for _, h := range d.hubs {
		if !h.Enabled {
			continue
		}
		for _, tag := range h.Tags {
			if len(tags) >= d.limits.MaxTagMatches {
				return tags
			}
			key := strings.ToLower(tag)
			if key == "" || seen[key] {
				continue
			}
			if strings.Contains(lower, key) {
				seen[key] = true
				tags = append(tags, tag)
			}
		}
	}
	return tags
}

func (d *Detector) classify(score float64) Classification {
	switch {
	case score < d.thresholds.Low:
		return ClassLow
	case score < d.thresholds.OffTopic:
		return ClassMedium
	default:
		return ClassHigh
	}
}

// pickDominant returns the cluster with the highest cumulative weight. Ties go
// to the most recently matched cluster, then to definition order.
func pickDominant(totals map[string]float64, lastSeen map[string]int, order map[string]int) string {
	best := ""
	for id, w := range totals {
		if best == "" {
			best = id
			continue
		}
		switch {
		case w > totals[best]:
			best = id
		case w == totals[best] && lastSeen[id] > lastSeen[best]:
			best = id
		case w == totals[best] && lastSeen[id] == lastSeen[best] && order[id] < order[best]:
			best = id
		}
	}
	return best
}

func topCluster(weights map[string]float64, order map[string]int) string {
	best := ""
	for id, w := range weights {
		if w <= 0 {
			continue
		}
		if best == "" || w > weights[best] || (w == weights[best] && order[id] < order[best]) {
			best = id
		}
	}
	return best
}

// thrashRate is the fraction of consecutive matched messages whose top
// cluster differs from the previous one.
func thrashRate(tops []string) float64 {
	if len(tops) < 2 {
		return 0
	}
	switches := 0
	for i := 1; i < len(tops); i++ {
		if tops[i] != tops[i-1] {
			switches++
		}
	}
	return float64(switches) / float64(len(tops)-1)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
