package channel

// System channel ids. System channels are readonly through Set; the core
// writes them with Store.
const (
	SysUptimeMS       ID = 1000
	SysLogicOverrun   ID = 1001
	SysLogicPassUS    ID = 1002
	SysHWOverrun      ID = 1003
	SysHWPassUS       ID = 1004
	SysSupplyMV       ID = 1005
	SysBoardTempC     ID = 1006
	SysTotalCurrentMA ID = 1007
	SysFaultCount     ID = 1008
	SysSafeState      ID = 1009
	SysLogicTicks     ID = 1010
	SysOverrunCount   ID = 1011
	SysBridgeCurrent  ID = 1012 // + bridge index
	SysBridgeDiag     ID = 1016 // + bridge index
	SysConfigGen      ID = 1020
)

// SystemDescriptors returns the descriptors of every system channel the
// core registers at startup.
func SystemDescriptors() []Descriptor {
	sys := func(id ID, name, unit string) Descriptor {
		return Descriptor{
			ID:    id,
			Class: ClassSystem,
			Name:  name,
			Unit:  unit,
			Flags: FlagEnabled | FlagReadOnly,
		}
	}
	out := []Descriptor{
		sys(SysUptimeMS, "sys.uptime_ms", "ms"),
		sys(SysLogicOverrun, "sys.logic_overrun", ""),
		sys(SysLogicPassUS, "sys.logic_pass_us", "us"),
		sys(SysHWOverrun, "sys.hw_overrun", ""),
		sys(SysHWPassUS, "sys.hw_pass_us", "us"),
		sys(SysSupplyMV, "sys.supply_mv", "mV"),
		sys(SysBoardTempC, "sys.board_temp_c", "C"),
		sys(SysTotalCurrentMA, "sys.total_current_ma", "mA"),
		sys(SysFaultCount, "sys.fault_count", ""),
		sys(SysSafeState, "sys.safe_state", ""),
		sys(SysLogicTicks, "sys.logic_ticks", ""),
		sys(SysOverrunCount, "sys.overrun_count", ""),
		sys(SysConfigGen, "sys.config_generation", ""),
	}
	for k := 0; k < MaxHBridges; k++ {
		out = append(out,
			sys(SysBridgeCurrent+ID(k), "sys.bridge"+string(rune('0'+k))+".current_ma", "mA"),
			sys(SysBridgeDiag+ID(k), "sys.bridge"+string(rune('0'+k))+".diag", ""),
		)
	}
	return out
}
