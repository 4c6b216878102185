// Package telemetry bridges the running core to MQTT, InfluxDB and the
// protection event log.
//
// Three collaborators, all of which talk to the core only through the
// channel registry and the core's public control methods:
//
//   - Publisher snapshots the registry on an interval. Channel state and
//     output/bridge status go out as retained MQTT messages when they
//     change; every snapshot is written to InfluxDB.
//   - Recorder decodes the status channels it is shown and turns state
//     transitions (trip, latch, retry, recover, clear, safe state) into
//     audit events.
//   - Ingress subscribes to the command topics and applies set, enable,
//     clear and safe-state reset requests.
//
// None of them run on the tick path. A slow broker delays telemetry, never
// a control pass.
package telemetry
