package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with a private registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then it should be created successfully", func() {
				So(manager, ShouldNotBeNil)
				So(manager.namespace, ShouldEqual, "wodboard")
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test_ns"),
				WithCustomLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)
			manager.mutations.WithLabelValues("start", "applied").Inc()

			Convey("Then collectors carry the custom naming", func() {
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				found := false
				for _, f := range families {
					if strings.HasPrefix(f.GetName(), "test_ns_scoring_") {
						found = true
					}
				}
				So(found, ShouldBeTrue)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording engine metrics", func() {
			before := testutil.ToFloat64(current().mutations.WithLabelValues("reps", "applied"))
			RecordMutation("reps", "applied")
			RecordMutation("reps", "applied")

			Convey("Then the mutation counter advances", func() {
				after := testutil.ToFloat64(current().mutations.WithLabelValues("reps", "applied"))
				So(after-before, ShouldEqual, 2)
			})
		})

		Convey("When recording the remaining collectors", func() {
			So(func() {
				RecordConflict("reps")
				RecordRetry()
				RecordTransactionLatency("finish", 1.5)
				RecordAutoFinish("applied")
				AddTimerSessions(1)
				AddTimerSessions(-1)
				AddSubscribers("workout", 1)
				RecordEventPublished()
				RecordEventDropped()
				RecordProjection()
				RecordCommandDuplicate()
				UpdateQueueSize(3)
				UpdateQueueCapacity(10)
				RecordQueueRejected("full")
				UpdateWorkerCount(4)
				RecordJobLatency(2)
				RecordJobFailure()
				UpdateRecordsTotal(12)
				RecordErrorByComponent("engine", "transient")
				RecordHTTPRequest("scores", "POST", "200")
				RecordHTTPRequestDuration("scores", "POST", "200", 3)
			}, ShouldNotPanic)
		})

		Convey("Then the registry is exposed", func() {
			So(GetRegistry(), ShouldNotBeNil)
			_, err := GetRegistry().Gather()
			So(err, ShouldBeNil)
		})
	})
}

func TestInit(t *testing.T) {
	Convey("Given the global manager rebuilt with deployment options", t, func() {
		Init(WithNamespace("ops"), WithCustomLabels(map[string]string{"environment": "staging"}))
		Reset(func() { Init() })
		UpdateQueueCapacity(5)

		Convey("Then the served registry carries the namespace and label", func() {
			families, err := GetRegistry().Gather()
			So(err, ShouldBeNil)
			var found bool
			for _, f := range families {
				if f.GetName() != "ops_scoring_job_queue_capacity" {
					continue
				}
				found = true
				So(f.GetMetric(), ShouldHaveLength, 1)
				labels := f.GetMetric()[0].GetLabel()
				So(labels, ShouldHaveLength, 1)
				So(labels[0].GetName(), ShouldEqual, "environment")
				So(labels[0].GetValue(), ShouldEqual, "staging")
				So(f.GetMetric()[0].GetGauge().GetValue(), ShouldEqual, 5)
			}
			So(found, ShouldBeTrue)
		})

		Convey("Then the Go runtime collector is still served", func() {
			families, err := GetRegistry().Gather()
			So(err, ShouldBeNil)
			names := make([]string, 0, len(families))
			for _, f := range families {
				names = append(names, f.GetName())
			}
			So(names, ShouldContain, "go_goroutines")
		})
	})
}
