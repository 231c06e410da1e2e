package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
)

// Tag is a scenario label from a fixed vocabulary.
type Tag string

const (
	TagDay   Tag = "day"
	TagDusk  Tag = "dusk"
	TagNight Tag = "night"

	TagClear Tag = "clear"
	TagRain  Tag = "rain"
	TagFog   Tag = "fog"
	TagSnow  Tag = "snow"

	TagUrban              Tag = "urban"
	TagHighway            Tag = "highway"
	TagRural              Tag = "rural"
	TagRoadwork           Tag = "roadwork"
	TagLowSpeed           Tag = "low_speed"
	TagVulnerableRoadUser Tag = "vulnerable_road_user"
	TagEdgeCase           Tag = "edge_case"
)

var vocabulary = map[Tag]struct{}{
	TagDay: {}, TagDusk: {}, TagNight: {},
	TagClear: {}, TagRain: {}, TagFog: {}, TagSnow: {},
	TagUrban: {}, TagHighway: {}, TagRural: {}, TagRoadwork: {},
	TagLowSpeed: {}, TagVulnerableRoadUser: {}, TagEdgeCase: {},
}

func (t Tag) Valid() bool {
	_, ok := vocabulary[t]
	return ok
}

// Adverse reports weather that earns a conditions bonus.
func (t Tag) Adverse() bool {
	return t == TagRain || t == TagFog || t == TagSnow
}

// TagSet is a sorted, duplicate-free set of tags. It is stored as a JSON
// array and never handled as raw text elsewhere.
type TagSet []Tag

// NewTagSet normalizes tags into a set.
func NewTagSet(tags ...Tag) TagSet {
	seen := make(map[Tag]struct{}, len(tags))
	out := make(TagSet, 0, len(tags))
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s TagSet) Has(tag Tag) bool {
	for _, t := range s {
		if t == tag {
			return true
		}
	}
	return false
}

// Night reports low-light footage.
func (s TagSet) Night() bool {
	return s.Has(TagNight)
}

// AdverseWeather reports rain, fog or snow.
func (s TagSet) AdverseWeather() bool {
	for _, t := range s {
		if t.Adverse() {
			return true
		}
	}
	return false
}

func (s TagSet) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]Tag(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *TagSet) Scan(value any) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*s = TagSet{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("tagset: unsupported source %T", value)
	}

	var tags []Tag
	if err := json.Unmarshal(raw, &tags); err != nil {
		return fmt.Errorf("tagset: %w", err)
	}
	*s = NewTagSet(tags...)
	return nil
}

// GormDataType keeps AutoMigrate and the SQL migrations in agreement.
func (TagSet) GormDataType() string {
	return "json"
}
