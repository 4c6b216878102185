// Package channel provides the channel registry for PDM Core.
//
// A channel is the single addressable unit of state in the power
// distribution module: a physical input, a physical output, a value computed
// by the logic engine, a per-output telemetry value or a readonly system
// value. Every channel carries one signed 32-bit value; units are metadata.
//
// # Architecture
//
//	┌───────────────────────────────────────────────────────────────┐
//	│                        Channel Registry                        │
//	│                                                                │
//	│  records [1280]                 byName map[string]ID           │
//	│  ┌─────────────────────────┐    ┌──────────────────────┐       │
//	│  │ present  atomic.Bool    │    │ guarded by mu        │       │
//	│  │ value    atomic.Int32   │    │ (RWMutex, shape only)│       │
//	│  │ flags    atomic.Uint32  │    └──────────────────────┘       │
//	│  │ desc     Descriptor     │                                   │
//	│  └─────────────────────────┘                                   │
//	└───────────────────────────────────────────────────────────────┘
//	      ▲ Get/Set/Store (lock-free)        ▲ Register/ApplyBatch
//	      │                                  │
//	  hardware pass, logic pass        configuration apply
//
// # Id ranges
//
// Ranges are contracts: code may rely on id membership to infer the class
// without a lookup.
//
//	0-49       digital inputs
//	50-99      analog inputs
//	100-129    power outputs (output index = id - 100)
//	130-149    PWM outputs
//	150-157    H-bridge halves (bridge k: 150+2k command, 151+2k status)
//	160-179    frequency inputs
//	200-999    virtual channels
//	1000-1023  system channels (readonly)
//	1024-1063  CAN inputs
//	1064-1099  CAN outputs
//	1100-1279  per-output telemetry, base + output index
//
// # Semantics
//
//   - Get returns 0 for unknown or disabled channels and never blocks.
//   - Set on a disabled channel is accepted; re-enabling restores it.
//   - Min and Max are advisory and never clamped by the registry.
//   - List iterates a snapshot taken at call time.
//
// # Usage
//
//	reg := channel.NewRegistry()
//	err := reg.Register(channel.Descriptor{
//	    ID: 0, Class: channel.ClassDigitalInput, Name: "ignition",
//	    Max: 1, Flags: channel.FlagEnabled,
//	})
//	on := reg.Get(0)
package channel
