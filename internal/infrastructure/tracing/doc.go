/*
Package tracing carries the kernel's event stream to its observers.

# Overview

The kernel loop publishes one Event per notable occurrence (context
switch, syscall, fault, restart, install, app console output). The Hub
fans events out to any number of subscribers, each with its own buffer;
the WebSocket stream and the tests are the usual listeners.

# Features

- Non-blocking publish: a slow subscriber drops events, the kernel
  never waits
- Per-subscriber buffers with drop accounting
- Request-id middleware for the console HTTP surface

# Usage

	hub := tracing.NewHub(logger)

	// Kernel side
	hub.Publish(tracing.Event{Tick: tick, Kind: tracing.KindFault, Pid: pid})

	// Observer side
	events, cancel := hub.Subscribe(256)
	defer cancel()
	for ev := range events {
		// forward to websocket, test assertion, ...
	}

# Performance

Publish holds one mutex and never blocks on a subscriber. Buffer sizes
are per-subscriber; 256 events absorbs normal bursts.
*/
package tracing
