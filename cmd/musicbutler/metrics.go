package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "musicbutler_scans_total",
		Help: "Decoded QR payloads by debouncer outcome.",
	}, []string{"result"}) // dispatched, invalid, suppressed

	actionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "musicbutler_actions_total",
		Help: "Orchestrator actions by kind and outcome.",
	}, []string{"action", "outcome"})

	framesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "musicbutler_camera_frames_total",
		Help: "Camera frames read.",
	})

	detectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "musicbutler_qr_detections_total",
		Help: "Frames in which a QR code was decoded.",
	})

	droppedEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "musicbutler_dropped_events_total",
		Help: "Input events dropped because the daemon queue was full.",
	}, []string{"source"})

	printerReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "musicbutler_printer_reconnects_total",
		Help: "Printer reconnect attempts after endpoint errors.",
	})

	volumeGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "musicbutler_volume_percent",
		Help: "Last applied mixer volume.",
	})
)
