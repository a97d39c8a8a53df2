package assets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Observer captures telemetry for uploads.
type Observer interface {
	RecordUpload(duration time.Duration, sizeBytes int, err error)
}

// PrometheusObserver exports upload metrics.
type PrometheusObserver struct {
	duration *prometheus.HistogramVec
	failures prometheus.Counter
	bytes    prometheus.Counter
}

// NewPrometheusObserver registers the upload metrics on reg, reusing
// collectors that are already registered.
func NewPrometheusObserver(namespace string, reg prometheus.Registerer) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = "docpub_assets"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	o := &PrometheusObserver{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_duration_seconds",
			Help:      "Latency of asset uploads.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_failures_total",
			Help:      "Count of failed asset uploads.",
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_bytes_total",
			Help:      "Cumulative size of successfully uploaded assets.",
		}),
	}

	var err error
	if o.duration, err = register(reg, o.duration); err != nil {
		return nil, err
	}
	if o.failures, err = register(reg, o.failures); err != nil {
		return nil, err
	}
	if o.bytes, err = register(reg, o.bytes); err != nil {
		return nil, err
	}
	return o, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register asset metric: %w", err)
	}
	return c, nil
}

func (o *PrometheusObserver) RecordUpload(duration time.Duration, sizeBytes int, err error) {
	if o == nil {
		return
	}
	if err != nil {
		o.duration.WithLabelValues("error").Observe(duration.Seconds())
		o.failures.Inc()
		return
	}
	o.duration.WithLabelValues("ok").Observe(duration.Seconds())
	o.bytes.Add(float64(sizeBytes))
}

// ObservedUploader reports every Upload of the wrapped Uploader to an
// Observer.
type ObservedUploader struct {
	next     Uploader
	observer Observer
}

// Observe wraps next. A nil observer returns next unchanged.
func Observe(next Uploader, observer Observer) Uploader {
	if observer == nil {
		return next
	}
	return &ObservedUploader{next: next, observer: observer}
}

func (u *ObservedUploader) Upload(ctx context.Context, obj Object) (string, error) {
	start := time.Now()
	url, err := u.next.Upload(ctx, obj)
	u.observer.RecordUpload(time.Since(start), len(obj.Data), err)
	return url, err
}

// Unwrap returns the wrapped Uploader.
func (u *ObservedUploader) Unwrap() Uploader { return u.next }

// Unwrap strips every wrapper from u and returns the backend underneath.
func Unwrap(u Uploader) Uploader {
	for {
		w, ok := u.(interface{ Unwrap() Uploader })
		if !ok {
			return u
		}
		u = w.Unwrap()
	}
}
