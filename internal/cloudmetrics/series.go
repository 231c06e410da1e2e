package cloudmetrics

import (
	"sort"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/prometheus/prompb"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
)

// sample is one gathered counter or gauge value with its labels.
type sample struct {
	name    string
	help    string
	counter bool
	labels  []*dto.LabelPair
	value   float64
}

// flatten keeps counters and gauges; histograms stay on /metrics.
func flatten(families []*dto.MetricFamily) []sample {
	out := make([]sample, 0, len(families))
	for _, family := range families {
		kind := family.GetType()
		if kind != dto.MetricType_COUNTER && kind != dto.MetricType_GAUGE {
			continue
		}
		for _, metric := range family.GetMetric() {
			if metric == nil {
				continue
			}
			s := sample{
				name:    family.GetName(),
				help:    family.GetHelp(),
				counter: kind == dto.MetricType_COUNTER,
				labels:  metric.GetLabel(),
			}
			switch {
			case s.counter && metric.GetCounter() != nil:
				s.value = metric.GetCounter().GetValue()
			case !s.counter && metric.GetGauge() != nil:
				s.value = metric.GetGauge().GetValue()
			default:
				continue
			}
			out = append(out, s)
		}
	}
	return out
}

func remoteWriteSeries(samples []sample, timestampMs int64) []prompb.TimeSeries {
	series := make([]prompb.TimeSeries, 0, len(samples))
	for _, s := range samples {
		labels := make([]prompb.Label, 0, len(s.labels)+1)
		labels = append(labels, prompb.Label{Name: "__name__", Value: s.name})
		for _, l := range s.labels {
			labels = append(labels, prompb.Label{Name: l.GetName(), Value: l.GetValue()})
		}
		// Remote write requires lexicographically sorted label names.
		sort.Slice(labels, func(i, j int) bool { return labels[i].Name < labels[j].Name })
		series = append(series, prompb.TimeSeries{
			Labels:  labels,
			Samples: []prompb.Sample{{Value: s.value, Timestamp: timestampMs}},
		})
	}
	return series
}

func otlpMetrics(samples []sample, nowNano uint64) []*metricspb.Metric {
	byName := map[string]*metricspb.Metric{}
	order := make([]string, 0, len(samples))
	for _, s := range samples {
		point := &metricspb.NumberDataPoint{
			Attributes:   otlpAttributes(s.labels),
			TimeUnixNano: nowNano,
			Value:        &metricspb.NumberDataPoint_AsDouble{AsDouble: s.value},
		}
		m, ok := byName[s.name]
		if !ok {
			m = &metricspb.Metric{Name: s.name, Description: s.help}
			if s.counter {
				m.Data = &metricspb.Metric_Sum{Sum: &metricspb.Sum{
					IsMonotonic:            true,
					AggregationTemporality: metricspb.AggregationTemporality_AGGREGATION_TEMPORALITY_CUMULATIVE,
				}}
			} else {
				m.Data = &metricspb.Metric_Gauge{Gauge: &metricspb.Gauge{}}
			}
			byName[s.name] = m
			order = append(order, s.name)
		}
		switch data := m.Data.(type) {
		case *metricspb.Metric_Sum:
			data.Sum.DataPoints = append(data.Sum.DataPoints, point)
		case *metricspb.Metric_Gauge:
			data.Gauge.DataPoints = append(data.Gauge.DataPoints, point)
		}
	}

	out := make([]*metricspb.Metric, 0, len(order))
	for _, name := range order {
		out = append(out, byName[name])
	}
	return out
}

func otlpAttributes(labels []*dto.LabelPair) []*commonpb.KeyValue {
	if len(labels) == 0 {
		return nil
	}
	attrs := make([]*commonpb.KeyValue, 0, len(labels))
	for _, l := range labels {
		if l == nil {
			continue
		}
		attrs = append(attrs, stringAttr(l.GetName(), l.GetValue()))
	}
	return attrs
}

func stringAttr(key, value string) *commonpb.KeyValue {
	return &commonpb.KeyValue{
		Key:   key,
		Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: value}},
	}
}
