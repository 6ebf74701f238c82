// Package output serialises parsed records as newline-delimited JSON,
// MessagePack or normalised line protocol.
package output

import (
	"github.com/basekick-labs/lpstream/pkg/models"
)

// Document is the JSON and MessagePack shape of a record.
//
// Tags is null when the line had no tag section and {} when it had an empty
// one. Timestamp is omitted when the line carried none.
type Document struct {
	Measurement string                 `json:"measurement" msgpack:"measurement"`
	Tags        map[string]string      `json:"tags" msgpack:"tags"`
	Fields      map[string]interface{} `json:"fields" msgpack:"fields"`
	Timestamp   *int64                 `json:"timestamp,omitempty" msgpack:"timestamp,omitempty"`
}

// NewDocument converts rec. Strings that are not valid UTF-8 have the bad
// bytes replaced; the second result counts how many strings were changed.
func NewDocument(rec *models.Record) (Document, int) {
	sanitized := 0
	clean := func(s string) string {
		out, modified := SanitizeUTF8(s)
		if modified {
			sanitized++
		}
		return out
	}

	doc := Document{
		Measurement: clean(rec.Series),
		Fields:      make(map[string]interface{}, len(rec.Fields)),
	}
	if rec.HasTags {
		doc.Tags = make(map[string]string, len(rec.Tags))
		for _, t := range rec.Tags {
			doc.Tags[clean(t.Key)] = clean(t.Value)
		}
	}
	for _, f := range rec.Fields {
		v := f.Value.Interface()
		if s, ok := v.(string); ok {
			v = clean(s)
		}
		doc.Fields[clean(f.Key)] = v
	}
	if rec.HasTimestamp {
		ts := rec.Timestamp
		doc.Timestamp = &ts
	}
	return doc, sanitized
}

// NewDocuments converts a batch of records.
func NewDocuments(records []*models.Record) ([]Document, int) {
	docs := make([]Document, len(records))
	sanitized := 0
	for i, rec := range records {
		var n int
		docs[i], n = NewDocument(rec)
		sanitized += n
	}
	return docs, sanitized
}
