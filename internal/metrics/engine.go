package metrics

// EngineMetrics holds the chord pipeline metrics.
type EngineMetrics struct {
	registry *Registry

	// Chord engine
	Presses        *Counter
	Releases       *Counter
	ChordsEmitted  *Counter
	SinglesEmitted *Counter
	Rollovers      *Counter
	DroppedPresses *Counter
	StaleEvictions *Counter

	HeldKeys    *Gauge
	ChordWindow *Gauge // microseconds

	DecisionLatency *Histogram

	// Expansion and injection
	Expansions        *Counter
	Unmatched         *Counter
	InjectionFailures *Counter
	QueueDrops        *Counter

	InjectionDuration *Histogram

	// Devices
	ReadErrors    *Counter
	ActiveDevices *Gauge
}

// NewEngineMetrics registers the pipeline metrics on registry.
func NewEngineMetrics(registry *Registry) *EngineMetrics {
	if registry == nil {
		registry = NewRegistry("chordd", "")
	}

	return &EngineMetrics{
		registry: registry,

		Presses:        registry.Counter("key_presses_total", "Key press events processed", nil),
		Releases:       registry.Counter("key_releases_total", "Key release events processed", nil),
		ChordsEmitted:  registry.Counter("chords_emitted_total", "Multi-key chords emitted", nil),
		SinglesEmitted: registry.Counter("singles_emitted_total", "Single-key releases emitted", nil),
		Rollovers:      registry.Counter("rollovers_total", "Key groups judged as rollover and dropped", nil),
		DroppedPresses: registry.Counter("dropped_presses_total", "Presses dropped because the held-key set was full", nil),
		StaleEvictions: registry.Counter("stale_evictions_total", "Held-key groups abandoned after the chord window expired", nil),

		HeldKeys:    registry.Gauge("held_keys", "Keys currently held", nil),
		ChordWindow: registry.Gauge("chord_window_microseconds", "Current adaptive chord window", nil),

		DecisionLatency: registry.Histogram("decision_latency_seconds", "Time to classify a multi-key release", nil, LatencyBuckets),

		Expansions:        registry.Counter("expansions_total", "Chords that resolved to an expansion", nil),
		Unmatched:         registry.Counter("unmatched_total", "Chords with no library entry", nil),
		InjectionFailures: registry.Counter("injection_failures_total", "Failed text injections", nil),
		QueueDrops:        registry.Counter("injection_queue_drops_total", "Expansions dropped because the injection queue was full", nil),

		InjectionDuration: registry.Histogram("injection_duration_seconds", "Time to inject one expansion", nil, DurationBuckets),

		ReadErrors:    registry.Counter("device_read_errors_total", "Device reads that failed with an error other than would-block", nil),
		ActiveDevices: registry.Gauge("active_devices", "Keyboards registered with the multiplexer", nil),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *EngineMetrics) Registry() *Registry {
	return m.registry
}
