// Package influxdb mirrors gateway telemetry into a local InfluxDB v2
// bucket.
//
// Every sample the gateway publishes, including samples taken while the
// platform is unreachable, is written as one point of the "telemetry"
// measurement tagged with the device name. Writes go through the
// non-blocking batched write API; failures surface through the SetOnError
// callback rather than as return values.
//
// Usage:
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // mirror not configured
//	}
//	defer client.Close()
//
//	client.WriteTelemetry("wtm-gateway", map[string]any{"ph.ph": 7.1}, time.Now())
package influxdb
