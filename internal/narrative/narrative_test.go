package narrative

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicHubs_LegacyFallbackAndOrder(t *testing.T) {
	n := New(DefaultSchema())
	hubs := n.TopicHubs()
	require.Len(t, hubs, 8)
	assert.Equal(t, "infrastructure-bet", hubs[0].ID, "priority 8, then by id")
	assert.Equal(t, "ratchet-effect", hubs[1].ID)
	assert.Equal(t, "technical-arch", hubs[len(hubs)-1].ID)

	s := DefaultSchema()
	s.Hubs = map[string]TopicHub{"only": {ID: "only", Tags: []string{"x"}, Enabled: true}}
	n.Replace(s)
	hubs = n.TopicHubs()
	require.Len(t, hubs, 1, "hubs map wins over globalSettings")
	assert.Equal(t, "only", hubs[0].ID)
}

func TestJourneyMapping(t *testing.T) {
	n := New(DefaultSchema())

	j, ok := n.JourneyForHub("infrastructure-bet")
	require.True(t, ok)
	assert.Equal(t, "stakes", j.ID)

	_, ok = n.JourneyForHub("diary-system")
	assert.False(t, ok)

	assert.Equal(t, map[string]string{
		"ratchet-effect":     "ratchet",
		"infrastructure-bet": "stakes",
		"meta-philosophy":    "simulation",
	}, n.JourneyMap())
}

func TestMatchHub(t *testing.T) {
	n := New(DefaultSchema())

	h, ok := n.MatchHub("Who pays for the HYPERSCALER build-out?")
	require.True(t, ok)
	assert.Equal(t, "infrastructure-bet", h.ID)

	_, ok = n.MatchHub("what's for lunch")
	assert.False(t, ok)
}

func TestEntropyHubs(t *testing.T) {
	s := DefaultSchema()
	s.GlobalSettings.TopicHubs[0].Enabled = false
	hubs := New(s).EntropyHubs()
	require.Len(t, hubs, 8)
	for _, h := range hubs {
		if h.ID == "ratchet-effect" {
			assert.False(t, h.Enabled)
		}
	}
}

func TestActiveLens(t *testing.T) {
	s := DefaultSchema()
	p := s.Personas["academic"]
	p.Enabled = false
	s.Personas["academic"] = p
	n := New(s)

	assert.Equal(t, "", n.ActiveLens())
	require.NoError(t, n.SetActiveLens("engineer"))
	assert.Equal(t, "engineer", n.ActiveLens())
	assert.Error(t, n.SetActiveLens("academic"))
	assert.Equal(t, "engineer", n.ActiveLens())

	assert.False(t, n.IsCustomLens("engineer"))
	assert.True(t, n.IsCustomLens("my-own-lens"))
	assert.False(t, n.IsCustomLens(""))

	require.NoError(t, n.SetActiveLens(""))
	assert.Equal(t, "", n.ActiveLens())
	assert.Len(t, n.Personas(), 6)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "narrative.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
version: "2.1"
journeys:
  ratchet:
    title: The Ratchet
    linkedHubId: ratchet-effect
hubs:
  ratchet-effect:
    title: The Ratchet Effect
    tags: [ratchet]
    priority: 8
    enabled: true
`), 0644))

	n, err := Load(yamlPath)
	require.NoError(t, err)
	j, ok := n.Journey("ratchet")
	require.True(t, ok)
	assert.Equal(t, "ratchet", j.ID, "map keys fill missing ids")
	assert.Equal(t, map[string]string{"ratchet-effect": "ratchet"}, n.JourneyMap())

	jsonPath := filepath.Join(dir, "narrative.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{
		"version": "2.0",
		"globalSettings": {"topicHubs": [{"id": "legacy", "tags": ["old"], "priority": 1, "enabled": true}]}
	}`), 0644))
	n, err = Load(jsonPath)
	require.NoError(t, err)
	require.Len(t, n.TopicHubs(), 1)
	assert.Equal(t, "legacy", n.TopicHubs()[0].ID)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
