// Package protection implements the state machines that gate power delivery
// to the physical outputs of the PDM.
//
// Every configured power output runs this machine once per hardware tick:
//
//	          cmd on               ramp complete
//	  ┌─────┐ ──────► ┌────────────┐ ──────────► ┌────┐
//	  │ off │         │ soft_start │             │ on │
//	  └─────┘ ◄────── └────────────┘ ◄─┐         └────┘
//	     ▲   cmd off        │          │            │ overcurrent, overtemp,
//	     │                  ▼          │ delay      │ short, open-load
//	     │             ┌─────────┐  ┌────────────┐  │
//	     └──────────── │  fault  │─►│ retry_wait │◄─┘ (via fault)
//	        Clear      └─────────┘  └────────────┘
//
// A fault with no retry budget left is latched: the output stays in fault,
// ignoring its command, until Clear.
//
// H-bridges run coast, forward, reverse and brake with a dead_time state
// inserted between any two driven states so both legs are never switched
// at once.
//
// The machines read their command and the adapter measurements from
// registry channels and publish state, duty and active flag back into the
// per-output telemetry sub-channels (status 1100+i, active 1190+i,
// duty 1220+i) and the bridge status channel (151+2k). There is no other
// notification path. Status values use the layout
//
//	state | fault<<8 | latched<<15
//
// decoded by DecodeStatus and DecodeBridgeStatus.
package protection
