// Copyright 2024 The Parca Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package poison

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultSuccess = "success"
	resultFailure = "failure"
)

type metrics struct {
	rewrites       *prometheus.CounterVec
	rewrittenBytes prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		rewrites: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gdpoise_rewrites_total",
				Help: "Number of executables rewritten, by result",
			},
			[]string{"result"},
		),
		rewrittenBytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "gdpoise_rewritten_bytes_total",
				Help: "Number of bytes written to poisoned executables",
			},
		),
	}
	m.rewrites.WithLabelValues(resultSuccess)
	m.rewrites.WithLabelValues(resultFailure)
	return m
}
