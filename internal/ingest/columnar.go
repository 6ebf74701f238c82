package ingest

import (
	"github.com/basekick-labs/lpstream/pkg/models"
)

// ToFlatRecord converts a parsed record to a flat map.
// Tags and fields are flattened into top-level keys.
// Field names that conflict with tag names get "_value" suffix.
// "time" is nil when the line carried no timestamp.
func ToFlatRecord(record *models.Record) map[string]interface{} {
	flat := make(map[string]interface{}, 2+len(record.Tags)+len(record.Fields))

	flat["time"] = timeValue(record)
	flat["measurement"] = record.Series

	for _, tag := range record.Tags {
		flat[tag.Key] = tag.Value
	}

	for _, field := range record.Fields {
		flat[columnName(record, field.Key)] = field.Value.Interface()
	}

	return flat
}

// BatchToColumnar converts a batch of records to columnar format
// Groups records by measurement and converts to column-oriented data.
// A record that lacks a column has nil in that row.
func BatchToColumnar(records []*models.Record) map[string]map[string][]interface{} {
	byMeasurement := make(map[string][]*models.Record)
	for _, record := range records {
		byMeasurement[record.Series] = append(byMeasurement[record.Series], record)
	}

	result := make(map[string]map[string][]interface{}, len(byMeasurement))

	for measurement, measurementRecords := range byMeasurement {
		n := len(measurementRecords)
		columnarData := map[string][]interface{}{
			"time": make([]interface{}, n),
		}
		column := func(name string) []interface{} {
			col, ok := columnarData[name]
			if !ok {
				col = make([]interface{}, n)
				columnarData[name] = col
			}
			return col
		}

		for i, record := range measurementRecords {
			columnarData["time"][i] = timeValue(record)

			for _, tag := range record.Tags {
				column(tag.Key)[i] = tag.Value
			}
			for _, field := range record.Fields {
				column(columnName(record, field.Key))[i] = field.Value.Interface()
			}
		}

		result[measurement] = columnarData
	}

	return result
}

func columnName(record *models.Record, fieldKey string) string {
	if _, hasTag := record.Tag(fieldKey); hasTag || fieldKey == "time" || fieldKey == "measurement" {
		return fieldKey + "_value"
	}
	return fieldKey
}

func timeValue(record *models.Record) interface{} {
	if !record.HasTimestamp {
		return nil
	}
	return record.Timestamp
}
