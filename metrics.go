// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package digitizer

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// moduleMetrics publishes a module's FIFO statistics, pool and queue
// occupancy as observable instruments.
type moduleMetrics struct {
	reg metric.Registration
}

func registerMetrics(meter metric.Meter, m *Module) (*moduleMetrics, error) {
	counter := func(name, desc string) (metric.Int64ObservableCounter, error) {
		return meter.Int64ObservableCounter(name,
			metric.WithDescription(desc), metric.WithUnit("{word}"))
	}
	in, err := counter("digitizer.fifo.in", "Words queued for the host.")
	if err != nil {
		return nil, err
	}
	out, err := counter("digitizer.fifo.out", "Words delivered to the host.")
	if err != nil {
		return nil, err
	}
	dmaIn, err := counter("digitizer.fifo.dma_in", "Words read from the hardware FIFO.")
	if err != nil {
		return nil, err
	}
	dropped, err := counter("digitizer.fifo.dropped", "Words read and discarded for lack of buffers.")
	if err != nil {
		return nil, err
	}
	overflows, err := meter.Int64ObservableCounter("digitizer.fifo.overflows",
		metric.WithDescription("Polls that found no free buffer."))
	if err != nil {
		return nil, err
	}
	hwOverflows, err := meter.Int64ObservableCounter("digitizer.fifo.hw_overflows",
		metric.WithDescription("Polls that found the hardware FIFO full."))
	if err != nil {
		return nil, err
	}
	bandwidth, err := meter.Float64ObservableGauge("digitizer.fifo.bandwidth",
		metric.WithDescription("Input bandwidth."), metric.WithUnit("MBy/s"))
	if err != nil {
		return nil, err
	}
	poolFree, err := meter.Int64ObservableGauge("digitizer.pool.free",
		metric.WithDescription("Free pool buffers."), metric.WithUnit("{buffer}"))
	if err != nil {
		return nil, err
	}
	queueWords, err := meter.Int64ObservableGauge("digitizer.queue.words",
		metric.WithDescription("Words queued for the host."), metric.WithUnit("{word}"))
	if err != nil {
		return nil, err
	}
	queueBuffers, err := meter.Int64ObservableGauge("digitizer.queue.buffers",
		metric.WithDescription("Buffers queued for the host."), metric.WithUnit("{buffer}"))
	if err != nil {
		return nil, err
	}

	attrs := metric.WithAttributeSet(attribute.NewSet(
		attribute.Int("module", m.number),
		attribute.Int("slot", m.slot),
	))
	reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := m.stats.Snapshot()
		o.ObserveInt64(in, s.In, attrs)
		o.ObserveInt64(out, s.Out, attrs)
		o.ObserveInt64(dmaIn, s.DMAIn, attrs)
		o.ObserveInt64(dropped, s.Dropped, attrs)
		o.ObserveInt64(overflows, s.Overflows, attrs)
		o.ObserveInt64(hwOverflows, s.HWOverflows, attrs)
		o.ObserveFloat64(bandwidth, s.Bandwidth, attrs)
		o.ObserveInt64(poolFree, int64(m.pool.Count()), attrs)
		o.ObserveInt64(queueWords, int64(m.data.Size()), attrs)
		o.ObserveInt64(queueBuffers, int64(m.data.Count()), attrs)
		return nil
	}, in, out, dmaIn, dropped, overflows, hwOverflows, bandwidth, poolFree, queueWords, queueBuffers)
	if err != nil {
		return nil, err
	}
	return &moduleMetrics{reg: reg}, nil
}

func (mm *moduleMetrics) close() error {
	return mm.reg.Unregister()
}
