package mqtt

import (
	"fmt"
	"strconv"
	"strings"
)

// TopicRoot is the first level of every PDM topic.
const TopicRoot = "pdm"

// Channel topic actions.
const (
	ActionState  = "state"
	ActionSet    = "set"
	ActionEnable = "enable"
	ActionClear  = "clear"
)

// Topics builds the topic tree of one PDM:
//
//	pdm/{site}/status                    online/offline (retained, LWT)
//	pdm/{site}/stats                     core counters
//	pdm/{site}/events                    protection events
//	pdm/{site}/channel/{id}/state        channel snapshot (retained)
//	pdm/{site}/channel/{id}/set          write a value
//	pdm/{site}/channel/{id}/enable       enable or disable
//	pdm/{site}/output/{index}/status     decoded protection status (retained)
//	pdm/{site}/output/{index}/clear      clear a latched fault
//	pdm/{site}/bridge/{index}/status     decoded bridge status (retained)
//	pdm/{site}/bridge/{index}/clear      clear a latched bridge fault
//	pdm/{site}/safe_state/reset          leave the safe state
type Topics struct {
	prefix string
}

// NewTopics returns the builder for site.
func NewTopics(site string) Topics {
	return Topics{prefix: TopicRoot + "/" + site}
}

// Prefix returns "pdm/{site}".
func (t Topics) Prefix() string { return t.prefix }

// Status is the retained online/offline topic.
func (t Topics) Status() string { return t.prefix + "/status" }

// Stats carries the core counters.
func (t Topics) Stats() string { return t.prefix + "/stats" }

// Events carries protection events.
func (t Topics) Events() string { return t.prefix + "/events" }

// Channel returns pdm/{site}/channel/{id}/{action}.
func (t Topics) Channel(id int, action string) string {
	return fmt.Sprintf("%s/channel/%d/%s", t.prefix, id, action)
}

// Output returns pdm/{site}/output/{index}/{action}.
func (t Topics) Output(index int, action string) string {
	return fmt.Sprintf("%s/output/%d/%s", t.prefix, index, action)
}

// Bridge returns pdm/{site}/bridge/{index}/{action}.
func (t Topics) Bridge(index int, action string) string {
	return fmt.Sprintf("%s/bridge/%d/%s", t.prefix, index, action)
}

// SafeStateReset is the command topic that leaves the safe state.
func (t Topics) SafeStateReset() string { return t.prefix + "/safe_state/reset" }

// AllChannel returns the wildcard subscription for one channel action
// across all channels: pdm/{site}/channel/+/{action}.
func (t Topics) AllChannel(action string) string {
	return t.prefix + "/channel/+/" + action
}

// AllOutput returns pdm/{site}/output/+/{action}.
func (t Topics) AllOutput(action string) string {
	return t.prefix + "/output/+/" + action
}

// AllBridge returns pdm/{site}/bridge/+/{action}.
func (t Topics) AllBridge(action string) string {
	return t.prefix + "/bridge/+/" + action
}

// Parse splits a topic under this site into its kind ("channel", "output"
// or "bridge"), numeric index and action.
func (t Topics) Parse(topic string) (kind string, index int, action string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.prefix+"/")
	if !found {
		return "", 0, "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 {
		return "", 0, "", false
	}
	switch parts[0] {
	case "channel", "output", "bridge":
	default:
		return "", 0, "", false
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil || n < 0 {
		return "", 0, "", false
	}
	return parts[0], n, parts[2], true
}
