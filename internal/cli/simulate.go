package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/pdm-core/internal/audit"
	"github.com/nerrad567/pdm-core/internal/channel"
	"github.com/nerrad567/pdm-core/internal/core"
	"github.com/nerrad567/pdm-core/internal/hal"
	"github.com/nerrad567/pdm-core/internal/infrastructure/database"
	"github.com/nerrad567/pdm-core/internal/protection"
	"github.com/nerrad567/pdm-core/internal/telemetry"
	"github.com/nerrad567/pdm-core/migrations"
)

// simEpoch is the wall time of tick zero. Events are reported relative to it.
var simEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	Duration       time.Duration
	HardwarePeriod time.Duration
	LogicPeriod    time.Duration
	Sets           []string
	Loads          []string
	SupplyMV       int32
	BoardTempC     int32
	EventsDB       string
	All            bool
}

// SimEvent is a protection event with its offset from the start of the run.
type SimEvent struct {
	audit.Event
	At string `json:"at"`
}

// SimulateResult is the JSON payload of simulate.
type SimulateResult struct {
	Layout        string                  `json:"layout"`
	Duration      string                  `json:"duration"`
	HardwareTicks uint64                  `json:"hardware_ticks"`
	LogicTicks    uint64                  `json:"logic_ticks"`
	SafeState     bool                    `json:"safe_state"`
	SafeReason    string                  `json:"safe_reason,omitempty"`
	Channels      []channel.Channel       `json:"channels"`
	Outputs       []protection.OutputInfo `json:"outputs"`
	Bridges       []protection.BridgeInfo `json:"bridges"`
	Events        []SimEvent              `json:"events"`
}

// stimulus is one --set: write value to ref once the run reaches at.
type stimulus struct {
	ref   string
	id    channel.ID
	value int32
	at    time.Duration
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{}

	cmd := &cobra.Command{
		Use:   "simulate <layout.yaml>",
		Short: "Run a layout on the simulated board in virtual time",
		Long: `Simulate applies the layout to a simulated board and runs hardware and
logic passes back to back for --duration of virtual time, then prints the
final channel values, the output states and every protection event.

Stimuli:
  --set ref=value[@offset]   write a channel (by name or id), optionally later
  --load index=milliohm      connect a resistive load to a power output
  --supply mV                supply voltage (default 13800)

Exit codes: 0 completed, 1 layout rejected or run ended in the safe state,
2 bad arguments.`,
		Example: `  pdmsim simulate van.yaml --set coolant_temp=100 --load 0=1000 --duration 2s
  pdmsim simulate van.yaml --set coolant_temp=100 --set coolant_temp=70@1500ms --load 0=1000`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd, rootOpts, opts, args[0])
		},
	}

	cmd.Flags().DurationVar(&opts.Duration, "duration", time.Second, "virtual run time")
	cmd.Flags().DurationVar(&opts.HardwarePeriod, "hardware-period", core.DefaultHardwarePeriod, "hardware pass period")
	cmd.Flags().DurationVar(&opts.LogicPeriod, "logic-period", core.DefaultLogicPeriod, "logic pass period (a multiple of the hardware period)")
	cmd.Flags().StringArrayVar(&opts.Sets, "set", nil, "channel write ref=value[@offset] (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Loads, "load", nil, "resistive load index=milliohm (repeatable)")
	cmd.Flags().Int32Var(&opts.SupplyMV, "supply", hal.DefaultSimSupplyMV, "supply voltage in mV")
	cmd.Flags().Int32Var(&opts.BoardTempC, "board-temp", hal.DefaultSimBoardTempC, "board temperature in °C")
	cmd.Flags().StringVar(&opts.EventsDB, "events-db", "", "also record protection events to this SQLite file")
	cmd.Flags().BoolVar(&opts.All, "all", false, "include system, telemetry and hidden channels in the table")

	return cmd
}

// virtualClock is advanced by the run loop; passes take zero time.
type virtualClock struct{ t time.Time }

func (c *virtualClock) now() time.Time { return c.t }

func runSimulate(cmd *cobra.Command, rootOpts *RootOptions, opts *SimulateOptions, path string) error {
	out := newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	ctx := cmd.Context()

	steps, ratio, err := opts.schedule()
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeArgument, err)
	}

	clock := &virtualClock{t: simEpoch}
	_, c, sim, _, lerr := loadLayout(ctx, path, core.Options{
		HardwarePeriod: opts.HardwarePeriod,
		LogicPeriod:    opts.LogicPeriod,
		Now:            clock.now,
	})
	if lerr != nil {
		return lerr.report(out)
	}
	reg := c.Registry()

	stimuli, err := parseStimuli(reg, opts.Sets)
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeArgument, err)
	}
	if err := applyLoads(sim, opts.Loads); err != nil {
		return out.Fail(ExitCommandError, ErrCodeArgument, err)
	}
	sim.SetSupplyMV(opts.SupplyMV)
	sim.SetBoardTempC(opts.BoardTempC)

	recOpts := telemetry.RecorderOptions{Now: clock.now}
	if opts.EventsDB != "" {
		db, err := openEventsDB(ctx, opts.EventsDB)
		if err != nil {
			return out.Fail(ExitCommandError, ErrCodeLoad, err)
		}
		defer db.Close()
		recOpts.Repository = audit.NewSQLiteRepository(db.DB)
		out.VerboseLog("recording events to %s", opts.EventsDB)
	}
	recorder := telemetry.NewRecorder(recOpts)

	var events []SimEvent
	observe := func(tick uint64) {
		_, reason := c.SafeState()
		for _, e := range recorder.Observe(ctx, reg, tick, reason) {
			events = append(events, SimEvent{Event: e, At: e.OccurredAt.Sub(simEpoch).String()})
		}
	}
	observe(0)

	out.VerboseLog("running %d hardware passes, logic every %d", steps, ratio)
	var logicTicks uint64
	for i := uint64(1); i <= steps; i++ {
		elapsed := time.Duration(i-1) * opts.HardwarePeriod
		for len(stimuli) > 0 && stimuli[0].at <= elapsed {
			s := stimuli[0]
			stimuli = stimuli[1:]
			if err := s.apply(reg, sim); err != nil {
				return out.Fail(ExitCommandError, ErrCodeArgument, err)
			}
			out.VerboseLog("%v: %s = %d", elapsed, s.ref, s.value)
		}

		c.HardwareTick()
		clock.t = clock.t.Add(opts.HardwarePeriod)
		if i%ratio == 0 {
			logicTicks = c.LogicTick().Tick.Seq
		}
		// A fault lasts one hardware pass before retry wait.
		observe(i)
	}
	safe, reason := c.SafeState()
	result := SimulateResult{
		Layout:        path,
		Duration:      opts.Duration.String(),
		HardwareTicks: steps,
		LogicTicks:    logicTicks,
		SafeState:     safe,
		SafeReason:    reason,
		Channels:      slices.Collect(reg.List(tableFilter(opts.All))),
		Outputs:       c.Protection().Outputs(),
		Bridges:       c.Protection().Bridges(),
		Events:        events,
	}
	if result.Events == nil {
		result.Events = []SimEvent{}
	}
	c.Shutdown()

	if out.JSON() {
		if err := out.Success(result); err != nil {
			return err
		}
	} else {
		printSimulation(out.Writer, result)
	}

	if safe {
		return NewExitError(ExitFailure, "simulation ended in the safe state: "+reason)
	}
	return nil
}

// schedule returns the number of hardware passes and how many of them
// make up one logic period.
func (o *SimulateOptions) schedule() (steps, ratio uint64, err error) {
	switch {
	case o.HardwarePeriod <= 0:
		return 0, 0, fmt.Errorf("hardware period must be positive")
	case o.LogicPeriod < o.HardwarePeriod || o.LogicPeriod%o.HardwarePeriod != 0:
		return 0, 0, fmt.Errorf("logic period %v must be a multiple of the hardware period %v", o.LogicPeriod, o.HardwarePeriod)
	case o.Duration < o.HardwarePeriod:
		return 0, 0, fmt.Errorf("duration %v is shorter than one hardware period", o.Duration)
	}
	return uint64(o.Duration / o.HardwarePeriod), uint64(o.LogicPeriod / o.HardwarePeriod), nil
}

// parseStimuli parses --set values and sorts them by offset.
func parseStimuli(reg *channel.Registry, sets []string) ([]stimulus, error) {
	out := make([]stimulus, 0, len(sets))
	for _, raw := range sets {
		ref, rest, ok := strings.Cut(raw, "=")
		if !ok || ref == "" {
			return nil, fmt.Errorf("--set %q: want ref=value[@offset]", raw)
		}
		s := stimulus{ref: ref}
		value, at, timed := strings.Cut(rest, "@")
		if timed {
			d, err := time.ParseDuration(at)
			if err != nil || d < 0 {
				return nil, fmt.Errorf("--set %q: invalid offset %q", raw, at)
			}
			s.at = d
		}
		v, err := strconv.ParseInt(value, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("--set %q: invalid value %q", raw, value)
		}
		s.value = int32(v)

		id, err := resolveRef(reg, ref)
		if err != nil {
			return nil, fmt.Errorf("--set %q: %w", raw, err)
		}
		s.id = id
		out = append(out, s)
	}
	slices.SortStableFunc(out, func(a, b stimulus) int { return int(a.at - b.at) })
	return out, nil
}

func resolveRef(reg *channel.Registry, ref string) (channel.ID, error) {
	if n, err := strconv.ParseUint(ref, 10, 16); err == nil {
		if !reg.Exists(channel.ID(n)) {
			return 0, fmt.Errorf("%w: id %d", channel.ErrNotFound, n)
		}
		return channel.ID(n), nil
	}
	id, ok := reg.FindByName(ref)
	if !ok {
		return 0, fmt.Errorf("%w: %q", channel.ErrNotFound, ref)
	}
	return id, nil
}

// apply writes the stimulus. Physical inputs are fed to the board so the
// next hardware pass samples them; everything else goes through Set.
func (s stimulus) apply(reg *channel.Registry, sim *hal.Sim) error {
	c, err := reg.Describe(s.id)
	if err != nil {
		return err
	}
	if c.Class.IsPhysicalInput() {
		sim.SetInput(s.id, s.value)
		return nil
	}
	if err := reg.Set(s.id, s.value); err != nil {
		return fmt.Errorf("setting %s: %w", s.ref, err)
	}
	return nil
}

func applyLoads(sim *hal.Sim, loads []string) error {
	for _, raw := range loads {
		idx, mohm, ok := strings.Cut(raw, "=")
		if !ok {
			return fmt.Errorf("--load %q: want index=milliohm", raw)
		}
		i, err := strconv.Atoi(idx)
		if err != nil || i < 0 || i >= channel.MaxPowerOutputs {
			return fmt.Errorf("--load %q: invalid output index", raw)
		}
		r, err := strconv.ParseInt(mohm, 10, 32)
		if err != nil || r <= 0 {
			return fmt.Errorf("--load %q: resistance must be a positive number of milliohms", raw)
		}
		sim.SetLoad(i, int32(r))
	}
	return nil
}

func openEventsDB(ctx context.Context, path string) (*database.DB, error) {
	db, err := database.Open(database.Config{Path: path, WALMode: true, BusyTimeout: 5})
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		return nil, errors.Join(err, db.Close())
	}
	return db, nil
}

func tableFilter(all bool) channel.Predicate {
	if all {
		return nil
	}
	return func(c channel.Channel) bool {
		if c.Flags.Has(channel.FlagHidden) {
			return false
		}
		return c.Class != channel.ClassSystem && c.Class != channel.ClassTelemetry
	}
}

func printSimulation(w io.Writer, r SimulateResult) {
	fmt.Fprintf(w, "%s: %s, %d hardware / %d logic passes\n\n", r.Layout, r.Duration, r.HardwareTicks, r.LogicTicks)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCLASS\tVALUE\tFLAGS")
	for _, c := range r.Channels {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", c.ID, c.Name, c.Class, c.Reading(), strings.Join(c.Flags.Names(), ","))
	}
	tw.Flush()

	if len(r.Outputs) > 0 {
		fmt.Fprintln(w)
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "OUTPUT\tSTATE\tDUTY\tCURRENT_MA\tFAULT\tTRIPS")
		for _, o := range r.Outputs {
			fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%s\t%d\n", o.Index, o.State, o.Duty, o.CurrentMA, o.Fault, o.Trips)
		}
		tw.Flush()
	}
	if len(r.Bridges) > 0 {
		fmt.Fprintln(w)
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "BRIDGE\tSTATE\tDUTY\tCURRENT_MA\tFAULT\tTRIPS")
		for _, b := range r.Bridges {
			fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%s\t%d\n", b.Index, b.State, b.Duty, b.CurrentMA, b.Fault, b.Trips)
		}
		tw.Flush()
	}

	fmt.Fprintln(w)
	if len(r.Events) == 0 {
		fmt.Fprintln(w, "no protection events")
	} else {
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "AT\tKIND\tTARGET\tNAME\tFAULT\tCURRENT_MA")
		for _, e := range r.Events {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n", e.At, e.Kind, e.Target, e.Name, e.Fault, e.CurrentMA)
		}
		tw.Flush()
	}

	if r.SafeState {
		fmt.Fprintf(w, "\n✗ safe state: %s\n", r.SafeReason)
	}
}
