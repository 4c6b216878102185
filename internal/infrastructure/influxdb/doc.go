// Package influxdb writes PDM telemetry to InfluxDB v2.
//
// It wraps the official influxdb-client-go library's non-blocking write API.
// Three measurements are written:
//
//	pdm_channel  one point per published channel (value, fault, enabled)
//	pdm_core     tick counters, total current, fault count, safe state
//	pdm_event    protection trips, latches and clears
//
// Every point carries a "pdm" tag with the site id.
//
//	client, err := influxdb.Connect(cfg.InfluxDB, cfg.Site.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	client.SetOnError(func(err error) { logger.Warn("influx write", "error", err) })
//
// Writes never block the caller; batches are flushed by size or interval
// (influxdb.batch_size, influxdb.flush_interval).
package influxdb
