// Package mqtt connects PDM Core to an MQTT broker.
//
// The broker carries channel telemetry out of the module and operator
// commands in (see Topics for the tree). The client provides:
//   - auto-reconnect with backoff, replaying subscriptions
//   - a retained Last Will on pdm/{site}/status for offline detection
//   - panic recovery around message handlers
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT, cfg.Site.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	t := client.Topics()
//	err = client.Subscribe(t.AllChannel(mqtt.ActionSet), 1, handleSet)
//
// TLS (mqtt.broker.tls) should be enabled whenever the broker is off-board.
package mqtt
