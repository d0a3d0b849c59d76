package prom

import (
	"fmt"
	"sync"

	xhttp "github.com/nimasrn/credit-topup/pkg/http"
	"github.com/nimasrn/credit-topup/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

const (
	SystemTopup    = "topup"
	SystemWebhook  = "webhook"
	SystemGateway  = "gateway"
	SystemReverify = "reverify"
)

const (
	MetricTopupInitiated        = "initiated_total"
	MetricTopupCredited         = "credited_total"
	MetricTopupDuplicate        = "duplicate_total"
	MetricTopupFailed           = "failed_total"
	MetricWebhookSignatureFail  = "signature_failures_total"
	MetricWebhookReceived       = "received_total"
	MetricGatewayRequestSeconds = "request_duration_seconds"
	MetricReverifyJobs          = "jobs_total"
)

const (
	TypeCounter      = "counter"
	TypeCounterVec   = "counterVec"
	TypeHistogramVec = "histogramVec"
	TypeGaugeVec     = "gaugeVec"
)

var lockCreateMetricLock = &sync.Mutex{}
var namespace = "none"

var MetricSystemEnabled = false

var MetricCollectionCounters = make(map[string]prometheus.Counter)
var MetricCollectionCounterVec = make(map[string]*prometheus.CounterVec)
var MetricCollectionGaugeVec = make(map[string]*prometheus.GaugeVec)
var MetricCollectionHistogramVec = make(map[string]*prometheus.HistogramVec)

var defaultLabels prometheus.Labels

// Create registers every metric the service reports. Until it is called the
// Add*/Inc* helpers are no-ops.
func Create(host string, env string, nameSpace string) error {
	defaultLabels = make(prometheus.Labels)
	defaultLabels["env"] = env
	defaultLabels["instance"] = host
	namespace = nameSpace

	var err error
	hasError := func(e error) {
		if err == nil && e != nil {
			err = e
		}
	}

	hasError(createCounterVec(SystemTopup, MetricTopupInitiated, []string{"channel"}))
	hasError(createCounterVec(SystemTopup, MetricTopupCredited, []string{"channel"}))
	hasError(createCounterVec(SystemTopup, MetricTopupDuplicate, []string{"source"}))
	hasError(createCounterVec(SystemTopup, MetricTopupFailed, []string{"channel"}))
	hasError(createCounter(SystemWebhook, MetricWebhookSignatureFail))
	hasError(createCounterVec(SystemWebhook, MetricWebhookReceived, []string{"event"}))
	hasError(createHistogramVec(SystemGateway, MetricGatewayRequestSeconds, []string{"operation", "outcome"}))
	hasError(createCounterVec(SystemReverify, MetricReverifyJobs, []string{"result"}))

	MetricSystemEnabled = err == nil
	return err
}

func CreateMetric(metricType, metricSubsystem, metricName string, labelsValues ...string) error {
	switch metricType {
	case TypeCounter:
		return createCounter(metricSubsystem, metricName)
	case TypeCounterVec:
		return createCounterVec(metricSubsystem, metricName, labelsValues)
	case TypeHistogramVec:
		return createHistogramVec(metricSubsystem, metricName, labelsValues)
	case TypeGaugeVec:
		return createGaugeVec(metricSubsystem, metricName, labelsValues)
	}
	return fmt.Errorf("metric type %s is not defined", metricType)
}

// ListenAndServer exposes the default registry on addr. It blocks.
func ListenAndServer(addr string, url string) {
	hh := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	s := xhttp.CreateServer()
	s.GET(url, hh)
	logger.Info("[metrics-server] listening...", "addr", addr, "url", url)
	if err := s.ListenAndServe(addr); err != nil {
		logger.Error("[metrics-server] http listen error", "error", err)
	}
}

func createCounter(subsystem, name string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()
	MetricCollectionCounters[subsystem+name] = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		ConstLabels: defaultLabels,
	})
	return prometheus.Register(MetricCollectionCounters[subsystem+name])
}

func createCounterVec(subsystem, name string, labels []string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()
	MetricCollectionCounterVec[subsystem+name] = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		ConstLabels: defaultLabels,
	}, labels)
	return prometheus.Register(MetricCollectionCounterVec[subsystem+name])
}

func createHistogramVec(subsystem, name string, labels []string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()
	MetricCollectionHistogramVec[subsystem+name] = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		ConstLabels: defaultLabels,
		Buckets:     prometheus.DefBuckets,
	}, labels)
	return prometheus.Register(MetricCollectionHistogramVec[subsystem+name])
}

func createGaugeVec(subsystem, name string, labels []string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()
	MetricCollectionGaugeVec[subsystem+name] = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		ConstLabels: defaultLabels,
	}, labels)
	return prometheus.Register(MetricCollectionGaugeVec[subsystem+name])
}

func IncCounter(subsystem, name string) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := MetricCollectionCounters[subsystem+name]; ok {
		v.Inc()
		return
	}
	logger.Warn("[metrics-server] counter not found", "subsystem", subsystem, "name", name)
}

func AddGaugeVec(subsystem, name string, num float64, labelValues ...string) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := MetricCollectionGaugeVec[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Add(num)
		return
	}
	logger.Warn("[metrics-server] gauge not found", "subsystem", subsystem, "name", name)
}

func AddCounterVec(subsystem, name string, num float64, labelValues ...string) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := MetricCollectionCounterVec[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Add(num)
		return
	}
	logger.Warn("[metrics-server] counter vec not found", "subsystem", subsystem, "name", name)
}

func IncCounterVec(subsystem, name string, labelValues ...string) {
	AddCounterVec(subsystem, name, 1, labelValues...)
}

func AddHistogramVec(subsystem, name string, number float64, labelValues ...string) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := MetricCollectionHistogramVec[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Observe(number)
		return
	}
	logger.Warn("[metrics-server] histogram vec not found", "subsystem", subsystem, "name", name)
}

func TopupInitiated(channel string) {
	IncCounterVec(SystemTopup, MetricTopupInitiated, channel)
}

func TopupCredited(channel string) {
	IncCounterVec(SystemTopup, MetricTopupCredited, channel)
}

// TopupDuplicate counts settlement attempts that found the record already
// credited. source is "webhook", "verify" or "reverify".
func TopupDuplicate(source string) {
	IncCounterVec(SystemTopup, MetricTopupDuplicate, source)
}

func TopupFailed(channel string) {
	IncCounterVec(SystemTopup, MetricTopupFailed, channel)
}

func WebhookSignatureFailure() {
	IncCounter(SystemWebhook, MetricWebhookSignatureFail)
}

func WebhookReceived(event string) {
	IncCounterVec(SystemWebhook, MetricWebhookReceived, event)
}

func GatewayRequestDuration(seconds float64, operation, outcome string) {
	AddHistogramVec(SystemGateway, MetricGatewayRequestSeconds, seconds, operation, outcome)
}

// ReverifyJob counts sweeper deliveries by result: "done", "pending" or "failed".
func ReverifyJob(result string) {
	IncCounterVec(SystemReverify, MetricReverifyJobs, result)
}
