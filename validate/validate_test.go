package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robodata/rdm/dataset"
)

func buildEpisode(t *testing.T, ds *dataset.Dataset, name string, steps int64, obsDtype dataset.Dtype) {
	t.Helper()
	ep, err := ds.Root.AddGroup(name)
	require.NoError(t, err)
	sg, err := ep.AddGroup(dataset.StepsChild)
	require.NoError(t, err)
	require.NoError(t, sg.AddArray(dataset.NewArray("action", dataset.Float32, []int64{steps, 2})))
	require.NoError(t, sg.AddArray(dataset.NewArray("observation", obsDtype, []int64{steps, 3})))
}

func TestValidateCleanDataset(t *testing.T) {
	ds := dataset.New()
	ds.Metadata["format_version"] = "1.0"
	buildEpisode(t, ds, "episode_0", 10, dataset.Float32)
	buildEpisode(t, ds, "episode_1", 12, dataset.Float32)

	res := Validate(ds, Config{RequiredMetadataKeys: []string{"format_version"}})
	assert.True(t, res.OK)
	assert.Empty(t, res.Issues)
}

func TestValidateMissingMetadata(t *testing.T) {
	ds := dataset.New()
	res := Validate(ds, Config{RequiredMetadataKeys: []string{"format_version", "created_at"}})

	assert.False(t, res.OK)
	assert.Equal(t, 2, res.ErrorCount())
	assert.Equal(t, "metadata", res.Issues[0].Code)
}

func TestValidateArrayInvariants(t *testing.T) {
	ds := dataset.New()
	a := dataset.NewArray("broken", dataset.Float32, []int64{10, 3})
	a.ChunkShape = []int64{4} // rank mismatch
	require.NoError(t, ds.Root.AddArray(a))

	res := Validate(ds, Config{})
	assert.False(t, res.OK)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, "array_invariant", res.Issues[0].Code)
	assert.Equal(t, "/broken", res.Issues[0].Path)
}

func TestValidateEpisodeHomogeneity(t *testing.T) {
	ds := dataset.New()
	buildEpisode(t, ds, "episode_0", 10, dataset.Float32)
	buildEpisode(t, ds, "episode_1", 8, dataset.Float64) // differing dtype

	res := Validate(ds, Config{})
	assert.False(t, res.OK)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, "episode_schema", res.Issues[0].Code)
	assert.Equal(t, "/episode_1", res.Issues[0].Path)

	// Identical schemas pass even with differing episode lengths.
	ds2 := dataset.New()
	buildEpisode(t, ds2, "episode_0", 10, dataset.Float32)
	buildEpisode(t, ds2, "episode_1", 8, dataset.Float32)
	assert.True(t, Validate(ds2, Config{}).OK)
}

func TestValidateSharedSubtreeIsCorruption(t *testing.T) {
	ds := dataset.New()
	shared := dataset.NewArray("x", dataset.Int32, []int64{4})
	g1, err := ds.Root.AddGroup("a")
	require.NoError(t, err)
	g2, err := ds.Root.AddGroup("b")
	require.NoError(t, err)
	require.NoError(t, g1.AddArray(shared))
	require.NoError(t, g2.AddArray(shared))

	res := Validate(ds, Config{})
	assert.False(t, res.OK)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, "structure", res.Issues[0].Code)
}

func TestCrossFieldRulesPerEpisode(t *testing.T) {
	ds := dataset.New()
	buildEpisode(t, ds, "episode_0", 10, dataset.Float32)

	// Break the leading-dimension agreement in one episode.
	ep, err := ds.Root.AddGroup("episode_1")
	require.NoError(t, err)
	sg, err := ep.AddGroup(dataset.StepsChild)
	require.NoError(t, err)
	require.NoError(t, sg.AddArray(dataset.NewArray("action", dataset.Float32, []int64{12, 2})))
	require.NoError(t, sg.AddArray(dataset.NewArray("observation", dataset.Float32, []int64{11, 3})))

	cfg := Config{
		CheckSchema: true,
		Rules:       []Rule{{Left: "steps/action", Right: "steps/observation"}},
	}
	res := Validate(ds, cfg)
	assert.False(t, res.OK)

	found := false
	for _, issue := range res.Issues {
		if issue.Code == "cross_field" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestCrossFieldRulesSkippedWhenDisabled(t *testing.T) {
	ds := dataset.New()
	require.NoError(t, ds.Root.AddArray(dataset.NewArray("action", dataset.Float32, []int64{12, 2})))
	require.NoError(t, ds.Root.AddArray(dataset.NewArray("observation", dataset.Float32, []int64{11, 3})))

	cfg := Config{Rules: []Rule{{Left: "action", Right: "observation"}}}
	res := Validate(ds, cfg)
	assert.True(t, res.OK, "rules must not run without strict or check_schema")
}

func TestCrossFieldMissingArrayIsWarning(t *testing.T) {
	ds := dataset.New()
	cfg := Config{
		Strict: true,
		Rules:  []Rule{{Left: "nope", Right: "also_nope"}},
	}
	res := Validate(ds, cfg)
	assert.True(t, res.OK)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, SeverityWarning, res.Issues[0].Severity)
}

func TestIssueString(t *testing.T) {
	i := Issue{Severity: SeverityError, Code: "metadata", Message: "missing key"}
	assert.Contains(t, i.String(), "[error]")
	assert.Contains(t, i.String(), "metadata")
}

func TestValidateNonSemverVersionWarns(t *testing.T) {
	ds := dataset.New()
	ds.Metadata["format_version"] = "latest"
	buildEpisode(t, ds, "episode_0", 10, dataset.Float32)

	res := Validate(ds, Config{RequiredMetadataKeys: []string{"format_version"}})
	assert.True(t, res.OK, "a malformed version is advisory only")
	require.Len(t, res.Issues, 1)
	assert.Equal(t, SeverityWarning, res.Issues[0].Severity)
	assert.Equal(t, "metadata", res.Issues[0].Code)
}
