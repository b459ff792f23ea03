package metrics

import (
	dto "github.com/prometheus/client_model/go"
)

func family(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func metricWithLabel(mf *dto.MetricFamily, name, value string) *dto.Metric {
	for _, metric := range mf.GetMetric() {
		for _, pair := range metric.GetLabel() {
			if pair.GetName() == name && pair.GetValue() == value {
				return metric
			}
		}
	}
	return nil
}
