package vsm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"time"

	"github.com/bwarrum-ibm/ibmvsm/config"
	graphite "github.com/cyberdelia/go-metrics-graphite"
	mp "github.com/nbrownus/go-metrics-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
)

var (
	allHandshakeStates = []HandshakeState{StateInitial, StateQueueRegistered, StateNegotiatingCapabilities, StateReady, StateFailed, StateResetScheduled}
	allVTermStates     = []VTermState{VTermFree, VTermBound, VTermOpening, VTermReady, VTermFailed}
)

// startStats reads the stats section. The returned func serves the metrics
// until its context is done and is nil when there is nothing to serve.
func startStats(l *logrus.Logger, c *config.C, buildVersion string, configTest bool) (func(context.Context), error) {
	mType := c.GetString("stats.type", "")
	if mType == "" || mType == "none" {
		return nil, nil
	}

	interval := c.GetDuration("stats.interval", 0)
	if interval <= 0 {
		return nil, fmt.Errorf("stats.interval was an invalid duration: %s", c.GetString("stats.interval", ""))
	}

	var (
		startFn func(context.Context)
		err     error
	)
	switch mType {
	case "graphite":
		err = startGraphiteStats(l, interval, c, configTest)
	case "prometheus":
		startFn, err = startPrometheusStats(l, interval, c, buildVersion, configTest)
	default:
		return nil, fmt.Errorf("stats.type was not understood: %s", mType)
	}
	if err != nil {
		return nil, err
	}

	if !configTest {
		metrics.RegisterDebugGCStats(metrics.DefaultRegistry)
		metrics.RegisterRuntimeMemStats(metrics.DefaultRegistry)
		go metrics.CaptureDebugGCStats(metrics.DefaultRegistry, interval)
		go metrics.CaptureRuntimeMemStats(metrics.DefaultRegistry, interval)
	}

	return startFn, nil
}

func startGraphiteStats(l *logrus.Logger, i time.Duration, c *config.C, configTest bool) error {
	host := c.GetString("stats.host", "")
	if host == "" {
		return errors.New("stats.host can not be empty")
	}

	addr, err := net.ResolveTCPAddr(c.GetString("stats.protocol", "tcp"), host)
	if err != nil {
		return fmt.Errorf("error while setting up graphite sink: %s", err)
	}

	prefix := c.GetString("stats.prefix", "vsm")
	if configTest {
		return nil
	}

	l.WithField("interval", i).WithField("prefix", prefix).WithField("addr", addr).Info("Sending stats to graphite")
	go graphite.Graphite(metrics.DefaultRegistry, i, prefix, addr)
	return nil
}

func startPrometheusStats(l *logrus.Logger, i time.Duration, c *config.C, buildVersion string, configTest bool) (func(context.Context), error) {
	listen := c.GetString("stats.listen", "")
	if listen == "" {
		return nil, errors.New("stats.listen should not be empty")
	}

	path := c.GetString("stats.path", "")
	if path == "" {
		return nil, errors.New("stats.path should not be empty")
	}

	namespace := c.GetString("stats.namespace", "")
	subsystem := c.GetString("stats.subsystem", "")
	pr := prometheus.NewRegistry()
	pr.MustRegister(newInfoGauge(namespace, subsystem, buildVersion))

	if configTest {
		return nil, nil
	}

	go mp.NewPrometheusProvider(metrics.DefaultRegistry, namespace, subsystem, pr, i).UpdatePrometheusMetrics()

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(pr, promhttp.HandlerOpts{ErrorLog: l}))
	srv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	return func(ctx context.Context) {
		go func() {
			<-ctx.Done()
			_ = srv.Shutdown(context.Background())
		}()

		l.WithField("listen", listen).WithField("path", path).Info("Serving prometheus stats")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.WithError(err).Error("Prometheus stats listener stopped")
		}
	}, nil
}

// newInfoGauge is a constant 1 carrying the build and the CRQ protocol
// version as labels.
func newInfoGauge(namespace, subsystem, buildVersion string) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "info",
		Help:      "Version information for the vsm binary",
		ConstLabels: prometheus.Labels{
			"version":   buildVersion,
			"protocol":  Version,
			"goversion": runtime.Version(),
		},
	})
	g.Set(1)
	return g
}

// registerStateGauges exposes how many adapters sit in each handshake state
// and how many vterm slots sit in each vterm state, summed over adapters.
// Gauges from an earlier registry are replaced.
func registerStateGauges(reg metrics.Registry, r *Registry) {
	for _, st := range allHandshakeStates {
		replaceMetric(reg, "adapters."+st.String(), metrics.NewFunctionalGauge(func() int64 {
			var n int64
			for _, a := range r.List() {
				if a.State() == st {
					n++
				}
			}
			return n
		}))
	}

	for _, st := range allVTermStates {
		replaceMetric(reg, "vterms."+st.String(), metrics.NewFunctionalGauge(func() int64 {
			var n int64
			for _, a := range r.List() {
				for _, v := range a.VTerms().List() {
					if v.State == st {
						n++
					}
				}
			}
			return n
		}))
	}
}

func replaceMetric(reg metrics.Registry, name string, m any) {
	reg.Unregister(name)
	_ = reg.Register(name, m)
}
