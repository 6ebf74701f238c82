package models

import (
	"sort"
	"strings"
)

// Tag is a single key/value pair from the tag set of a line.
type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Field is a single typed key/value pair from the field set of a line.
type Field struct {
	Key   string `json:"key"`
	Value Value  `json:"value"`
}

// Record represents one parsed line of line protocol.
//
// Tags and Fields keep the order in which keys first appeared on the line.
// HasTags is false when the line had no tag section at all, which is not the
// same thing as an empty tag set. HasTimestamp is false when the line carried
// no timestamp.
type Record struct {
	Series       string
	Tags         []Tag
	HasTags      bool
	Fields       []Field
	Timestamp    int64
	HasTimestamp bool
}

// SetTag stores a tag. Repeated keys overwrite the earlier value in place.
func (r *Record) SetTag(key, value string) {
	r.HasTags = true
	for i := range r.Tags {
		if r.Tags[i].Key == key {
			r.Tags[i].Value = value
			return
		}
	}
	r.Tags = append(r.Tags, Tag{Key: key, Value: value})
}

// SetField stores a field. Repeated keys overwrite the earlier value in place.
func (r *Record) SetField(key string, value Value) {
	for i := range r.Fields {
		if r.Fields[i].Key == key {
			r.Fields[i].Value = value
			return
		}
	}
	r.Fields = append(r.Fields, Field{Key: key, Value: value})
}

// SetTimestamp stores the line timestamp.
func (r *Record) SetTimestamp(ts int64) {
	r.Timestamp = ts
	r.HasTimestamp = true
}

// Tag returns the value of the tag with the given key.
func (r *Record) Tag(key string) (string, bool) {
	for _, t := range r.Tags {
		if t.Key == key {
			return t.Value, true
		}
	}
	return "", false
}

// Field returns the value of the field with the given key.
func (r *Record) Field(key string) (Value, bool) {
	for _, f := range r.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return Value{}, false
}

// TagMap returns the tags as a map, or nil when the line had no tag section.
func (r *Record) TagMap() map[string]string {
	if !r.HasTags {
		return nil
	}
	m := make(map[string]string, len(r.Tags))
	for _, t := range r.Tags {
		m[t.Key] = t.Value
	}
	return m
}

// FieldMap returns the fields as a map of native Go values
// (bool, int64, float64 or string).
func (r *Record) FieldMap() map[string]interface{} {
	m := make(map[string]interface{}, len(r.Fields))
	for _, f := range r.Fields {
		m[f.Key] = f.Value.Interface()
	}
	return m
}

// SeriesKey returns the series identity of the record: the series name
// followed by its tags sorted by key. Two records with the same SeriesKey
// belong to the same time series.
func (r *Record) SeriesKey() string {
	if len(r.Tags) == 0 {
		return r.Series
	}

	tags := make([]Tag, len(r.Tags))
	copy(tags, r.Tags)
	sort.Slice(tags, func(i, j int) bool { return tags[i].Key < tags[j].Key })

	var b strings.Builder
	b.WriteString(r.Series)
	for _, t := range tags {
		b.WriteByte(',')
		b.WriteString(t.Key)
		b.WriteByte('=')
		b.WriteString(t.Value)
	}
	return b.String()
}
