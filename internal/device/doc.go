// Package device drives the local sensors and actuators the gateway reports on.
//
// Each configured device is built by a driver chosen by its type:
//
//   - sysfs_sensor: a numeric value read from a kernel attribute file such as
//     an IIO ADC channel or a thermal zone, scaled and offset. Read-only.
//   - gpio: a sysfs GPIO value file wired to a pump or valve relay.
//
// A Manager holds the configured devices. It is a telemetry source, reporting
// each reading as "<device id>.<metric>", and it exposes the devices to the
// platform through RPC methods (see RegisterHandlers).
//
// # Thread Safety
//
// Manager and the built-in drivers are safe for concurrent use.
package device
