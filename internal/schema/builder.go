// Package schema converts parsed metrics into Timestream records.
package schema

import (
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/timestreamwrite/types"

	"github.com/tsbridge-io/tsbridge/pkg/models"
)

// Type selects the record schema. It is a closed enum: new schema layouts
// (single-table, single-measure) get new constants here rather than
// open-ended Builder implementations.
type Type int

const (
	// MultiTableMultiMeasure writes one multi-measure record per metric,
	// grouped into one destination table per measurement name.
	MultiTableMultiMeasure Type = iota
)

// Builder converts metrics into Timestream records grouped by destination
// table name.
type Builder interface {
	// BuildRecords builds one record per metric, keyed by the metric's
	// measurement name. The precision is the time unit of every metric
	// timestamp in the batch.
	BuildRecords(metrics []models.Metric, precision types.TimeUnit) (map[string][]types.Record, error)
}

// NewBuilder returns the Builder for the given schema type. measureName is
// the constant measure name stamped on every multi-measure record.
func NewBuilder(schemaType Type, measureName string) (Builder, error) {
	switch schemaType {
	case MultiTableMultiMeasure:
		return &multiTableMultiMeasureBuilder{measureName: measureName}, nil
	default:
		return nil, fmt.Errorf("unsupported schema type %d", schemaType)
	}
}

type multiTableMultiMeasureBuilder struct {
	measureName string
}

func (b *multiTableMultiMeasureBuilder) BuildRecords(metrics []models.Metric, precision types.TimeUnit) (map[string][]types.Record, error) {
	if b.measureName == "" {
		return nil, fmt.Errorf("measure name for multi-measure records is not configured")
	}

	batch := make(map[string][]types.Record)
	for i := range metrics {
		record := b.metricToRecord(&metrics[i], precision)
		batch[metrics[i].Name] = append(batch[metrics[i].Name], record)
	}

	return batch, nil
}

// metricToRecord converts one metric to a multi-measure record. Tag and
// field order is preserved; no store-side limits (dimension count, measure
// count, value length) are validated locally.
func (b *multiTableMultiMeasureBuilder) metricToRecord(metric *models.Metric, precision types.TimeUnit) types.Record {
	var dimensions []types.Dimension
	for _, tag := range metric.Tags {
		dimensions = append(dimensions, types.Dimension{
			Name:  aws.String(tag.Key),
			Value: aws.String(tag.Value),
		})
	}

	measureValues := make([]types.MeasureValue, 0, len(metric.Fields))
	for _, field := range metric.Fields {
		measureValues = append(measureValues, types.MeasureValue{
			Name:  aws.String(field.Key),
			Value: aws.String(field.Value.Render()),
			Type:  measureValueType(field.Value),
		})
	}

	return types.Record{
		MeasureName:      aws.String(b.measureName),
		MeasureValues:    measureValues,
		MeasureValueType: types.MeasureValueTypeMulti,
		Time:             aws.String(strconv.FormatInt(metric.Timestamp, 10)),
		TimeUnit:         precision,
		Dimensions:       dimensions,
	}
}

// measureValueType maps a field value type to its Timestream measure value
// type. Unsigned integers share BIGINT with signed ones.
func measureValueType(value models.FieldValue) types.MeasureValueType {
	switch value.Type {
	case models.FieldTypeBool:
		return types.MeasureValueTypeBoolean
	case models.FieldTypeInt, models.FieldTypeUint:
		return types.MeasureValueTypeBigint
	case models.FieldTypeFloat:
		return types.MeasureValueTypeDouble
	default:
		return types.MeasureValueTypeVarchar
	}
}
