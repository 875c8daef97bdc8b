package dataset

import (
	"sort"
)

// Episode convention: record-oriented formats store one recorded
// trajectory per group. A group follows the convention when its children
// include a "steps" node; "episode_metadata" is optional. All episodes in
// one dataset must share the same step-field schema.

// StepsChild is the reserved child name identifying an episode group.
const StepsChild = "steps"

// EpisodeMetadataChild is the optional per-episode metadata group name.
const EpisodeMetadataChild = "episode_metadata"

// StepField describes one field of an episode's step schema. Only the
// dtype and the per-field shape rank take part in homogeneity checks;
// episode lengths naturally differ.
type StepField struct {
	Name  string
	Dtype Dtype
	Rank  int
}

// EpisodeSchema is the ordered step-field schema of one episode.
type EpisodeSchema struct {
	Fields []StepField
}

// IsEpisode reports whether the group follows the episode convention.
func IsEpisode(g *Group) bool {
	return g.Child(StepsChild) != nil
}

// Episodes returns the episode-convention groups directly under the root,
// in child order.
func Episodes(d *Dataset) []*Group {
	var out []*Group
	for _, child := range d.Root.Children() {
		if g, ok := child.(*Group); ok && IsEpisode(g) {
			out = append(out, g)
		}
	}
	return out
}

// SchemaOf extracts the step-field schema of an episode group. Fields are
// sorted by name so schemas compare independently of insertion order.
func SchemaOf(g *Group) EpisodeSchema {
	var fields []StepField
	switch steps := g.Child(StepsChild).(type) {
	case *Array:
		fields = append(fields, StepField{
			Name:  steps.Name(),
			Dtype: steps.Dtype,
			Rank:  len(steps.Shape),
		})
	case *Group:
		for _, child := range steps.Children() {
			if a, ok := child.(*Array); ok {
				fields = append(fields, StepField{
					Name:  a.Name(),
					Dtype: a.Dtype,
					Rank:  len(a.Shape),
				})
			}
		}
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
	return EpisodeSchema{Fields: fields}
}

// Equal reports whether two schemas match on field names, dtypes and
// per-field shape rank.
func (s EpisodeSchema) Equal(other EpisodeSchema) bool {
	if len(s.Fields) != len(other.Fields) {
		return false
	}
	for i, f := range s.Fields {
		if f != other.Fields[i] {
			return false
		}
	}
	return true
}
