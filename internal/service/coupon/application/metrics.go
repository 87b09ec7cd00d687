// internal/service/coupon/application/metrics.go
package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	admissionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coupon_admission_total",
		Help: "Admission decisions by result (queued / already_issued / sold_out).",
	}, []string{"result"})

	fulfillmentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coupon_fulfillment_total",
		Help: "Fulfillment outcomes (issued / deduplicated / failed / parked).",
	}, []string{"outcome"})

	expiredSweepTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coupon_expired_total",
		Help: "User coupons transitioned to EXPIRED by the sweep.",
	})
)
