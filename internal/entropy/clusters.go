package entropy

import "strings"

// Cluster is a named topic vocabulary.
type Cluster struct {
	ID       string   `json:"id" yaml:"id"`
	Keywords []string `json:"keywords" yaml:"keywords"`
}

// Hub is an admin-configured topic hub. Enabled hubs take part in matching as
// extra clusters keyed by hub ID, and their tags feed MatchedTags.
type Hub struct {
	ID      string   `json:"id" yaml:"id"`
	Tags    []string `json:"tags" yaml:"tags"`
	Enabled bool     `json:"enabled" yaml:"enabled"`
}

// DefaultClusters returns the built-in topic vocabularies.
func DefaultClusters() []Cluster {
	return []Cluster{
		{ID: "ratchet", Keywords: []string{
			"doubling", "ratchet", "frontier", "21 months", "7 months", "capability",
			"metr", "propagation", "edge", "local model", "catching up", "lag",
		}},
		{ID: "economics", Keywords: []string{
			"$380", "billion", "capex", "rent", "ownership", "efficiency tax",
			"credits", "enlightenment", "incentives", "cloud costs", "sink",
			"genesis", "maturity", "floor", "tax rate", "hyperscaler", "datacenter",
		}},
		{ID: "architecture", Keywords: []string{
			"hybrid", "split", "local model", "cloud", "pivotal", "routine", "cognitive",
			"hum", "breakthrough", "routing", "tier", "village", "crdt", "nats", "distributed",
		}},
		{ID: "knowledge-commons", Keywords: []string{
			"publishing", "attribution", "validation", "innovation", "propagation",
			"commons", "network", "sharing", "collective", "civilization", "governance",
		}},
		{ID: "observer", Keywords: []string{
			"meta", "architecture", "simulation", "observer", "terminal", "cosmology",
			"diary", "agents", "village", "gardener", "watching", "asymmetric",
			"theology", "recursive", "already here", "inside",
		}},
	}
}

// DefaultJourneyMap maps built-in clusters to guided journeys.
func DefaultJourneyMap() map[string]string {
	return map[string]string{
		"ratchet":           "ratchet",
		"economics":         "stakes",
		"architecture":      "stakes",
		"knowledge-commons": "stakes",
		"observer":          "simulation",
	}
}

// Matcher scores text against clusters. The returned map holds a positive
// weight for every cluster the text matches; absent clusters did not match.
// Implementations must be deterministic.
type Matcher interface {
	Match(text string, clusters []Cluster) map[string]float64
}

// MatcherFunc adapts a function to Matcher.
type MatcherFunc func(text string, clusters []Cluster) map[string]float64

func (f MatcherFunc) Match(text string, clusters []Cluster) map[string]float64 {
	return f(text, clusters)
}

// KeywordMatcher weights a cluster by how many of its distinct keywords occur
// in the text as case-insensitive substrings.
type KeywordMatcher struct{}

func (KeywordMatcher) Match(text string, clusters []Cluster) map[string]float64 {
	lower := strings.ToLower(text)
	out := make(map[string]float64)
	for _, c := range clusters {
		seen := make(map[string]bool, len(c.Keywords))
		n := 0
		for _, kw := range c.Keywords {
			k := strings.ToLower(strings.TrimSpace(kw))
			if k == "" || seen[k] {
				continue
			}
			seen[k] = true
			if strings.Contains(lower, k) {
				n++
			}
		}
		if n > 0 {
			out[c.ID] += float64(n)
		}
	}
	return out
}
