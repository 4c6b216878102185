// Package layout loads channel layout files.
//
// A layout is a YAML document declaring channels, logic slots, power
// outputs and H-bridges. Loading checks it against the embedded JSON schema
// (schema.json); Plan then resolves channel names and decodes each slot's
// operator config into a core.Plan. Nothing here touches a running core:
// Apply hands the plan to core.Apply, which commits it all-or-nothing, and
// records the generation in the layout history.
//
// Channel references (slot outputs and inputs, output sources, removals)
// may be numeric ids or channel names. Names resolve against, in order, the
// layout's own channels, the telemetry sub-channels its outputs and bridges
// derive, the system channels, and an optional lookup into the running
// registry.
//
//	version: 1
//	channels:
//	  - {id: 0, class: digital_input, name: switch}
//	  - {id: 200, class: virtual_logic, name: lamp_cmd}
//	  - {id: 100, class: power_output, name: lamp}
//	slots:
//	  - {output: lamp_cmd, kind: logic, inputs: [switch], config: {op: or}}
//	outputs:
//	  - {index: 0, source: lamp_cmd, current_limit_ma: 15000}
package layout
