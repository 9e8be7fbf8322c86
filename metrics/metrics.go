package metrics

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ethereum-optimism/infra/op-regress/types"
)

const (
	MetricsNamespace = "regress"
)

var (
	Debug                bool = true
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	verificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "verifications_total",
		Help:      "Count of driver verifications",
	}, []string{
		"driver",
		"result",
		"kind",
	})

	provisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "provisions_total",
		Help:      "Count of environment provisions",
	}, []string{
		"env",
		"result",
	})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Duration of the command under test",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	}, []string{
		"driver",
	})

	fingerprintSimilarity = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "fingerprint_similarity",
		Help:      "Similarity of the last observed log fingerprint to the reference",
	}, []string{
		"driver",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

// RecordProvision counts one Provision call as created, reused or failed
func RecordProvision(env string, reused bool, err error) {
	result := "created"
	switch {
	case err != nil:
		result = "failed"
	case reused:
		result = "reused"
	}
	if Debug {
		log.Debug("metric inc",
			"m", "provisions_total",
			"env", env,
			"result", result)
	}
	provisionsTotal.WithLabelValues(env, result).Inc()
}

// RecordVerification counts a verdict by driver, status and failure kind
func RecordVerification(v *types.Verdict) {
	if v == nil {
		log.Error("RecordVerification - nil verdict")
		return
	}
	if Debug {
		log.Debug("metric inc",
			"m", "verifications_total",
			"driver", v.Driver,
			"result", v.Status(),
			"kind", v.Kind)
	}
	verificationsTotal.WithLabelValues(v.Driver, v.Status(), v.Kind.String()).Inc()
	if v.Fingerprint.Checked {
		RecordSimilarity(v.Driver, v.Fingerprint.Similarity)
	}
}

func RecordRunDuration(driver string, d time.Duration) {
	runDuration.WithLabelValues(driver).Observe(d.Seconds())
}

func RecordSimilarity(driver string, similarity float64) {
	fingerprintSimilarity.WithLabelValues(driver).Set(similarity)
}
