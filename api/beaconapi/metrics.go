package beaconapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gloas_beacon_api_requests_total",
		Help: "Requests issued to the beacon node HTTP API, by endpoint path.",
	}, []string{"endpoint"})
	requestFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gloas_beacon_api_request_failures_total",
		Help: "Failed beacon node HTTP API requests (transport errors and non-2xx), by endpoint path.",
	}, []string{"endpoint"})
)
