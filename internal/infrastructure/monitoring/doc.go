/*
Package monitoring provides Prometheus metrics for the kernel and its
console.

# Overview

This package collects kernel activity (system calls, faults, restarts,
context switches, timeslice utilization) alongside console HTTP and
WebSocket traffic. A nil *Metrics records nothing, which keeps the
kernel loop free of conditionals in tests.

# Usage

	// Create metrics collector
	metrics := monitoring.NewMetrics()

	// Record kernel activity
	metrics.RecordSyscall("command")
	metrics.RecordFault("protection_violation")

	// Add middleware to Gin router
	router.Use(monitoring.Middleware(metrics))

# Metrics Endpoint

Expose metrics from the collector's own registry:

	import "github.com/prometheus/client_golang/prometheus/promhttp"
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
		metrics.Registry(), promhttp.HandlerOpts{})))
*/
package monitoring
