package commands

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultOK    = "ok"
	resultUsage = "usage"
	resultError = "error"
)

var scheduleRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "schedbot",
	Subsystem: "commands",
	Name:      "schedule_requests_total",
	Help:      "Schedule command requests by result.",
}, []string{"result"})
