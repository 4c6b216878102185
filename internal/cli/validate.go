package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerrad567/pdm-core/internal/core"
	"github.com/nerrad567/pdm-core/internal/hal"
	"github.com/nerrad567/pdm-core/internal/layout"
)

// ValidateResult is the JSON payload of a successful validate.
type ValidateResult struct {
	Name     string `json:"name"`
	Source   string `json:"source"`
	Checksum string `json:"checksum"`
	Mode     string `json:"mode"`
	Channels int    `json:"channels"`
	Slots    int    `json:"slots"`
	Outputs  int    `json:"outputs"`
	Bridges  int    `json:"bridges"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <layout.yaml>",
		Short: "Check a layout file without applying it to hardware",
		Long: `Validate parses the layout, checks it against the layout schema and
applies it to a fresh simulated core, so reference, class and range
errors are reported exactly as the service would report them.

Exit codes: 0 valid, 1 rejected, 2 unreadable file.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, rootOpts, args[0])
		},
	}
}

func runValidate(cmd *cobra.Command, rootOpts *RootOptions, path string) error {
	out := newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	res, err := validateLayout(cmd.Context(), path)
	if err != nil {
		return err.report(out)
	}

	if out.JSON() {
		return out.Success(res)
	}
	fmt.Fprintf(out.Writer, "✓ %s is valid\n", path)
	fmt.Fprintf(out.Writer, "  name:     %s\n", res.Name)
	fmt.Fprintf(out.Writer, "  mode:     %s\n", res.Mode)
	fmt.Fprintf(out.Writer, "  channels: %d\n", res.Channels)
	fmt.Fprintf(out.Writer, "  slots:    %d\n", res.Slots)
	fmt.Fprintf(out.Writer, "  outputs:  %d\n", res.Outputs)
	fmt.Fprintf(out.Writer, "  bridges:  %d\n", res.Bridges)
	out.VerboseLog("checksum %s", res.Checksum)
	return nil
}

// layoutError pairs a failure with its exit and error codes.
type layoutError struct {
	exit int
	code string
	err  error
}

func (e *layoutError) report(out *OutputFormatter) error {
	return out.Fail(e.exit, e.code, e.err)
}

// loadLayout reads a layout and applies it to a fresh simulated core.
func loadLayout(ctx context.Context, path string, opts core.Options) (*layout.Layout, *core.Core, *hal.Sim, core.ApplyResult, *layoutError) {
	l, err := layout.Load(path)
	if err != nil {
		// Parse and schema failures are content errors; anything else is I/O.
		if isContentError(err) {
			return nil, nil, nil, core.ApplyResult{}, &layoutError{ExitFailure, ErrCodeInvalid, err}
		}
		return nil, nil, nil, core.ApplyResult{}, &layoutError{ExitCommandError, ErrCodeLoad, err}
	}

	sim := hal.NewSim()
	c, err := core.New(sim.Adapters(), opts)
	if err != nil {
		return nil, nil, nil, core.ApplyResult{}, &layoutError{ExitCommandError, ErrCodeArgument, err}
	}
	res, err := layout.Apply(ctx, c, l, core.ModeReplace, nil)
	if err != nil {
		return nil, nil, nil, core.ApplyResult{}, &layoutError{ExitFailure, ErrCodeInvalid, err}
	}
	return l, c, sim, res, nil
}

func validateLayout(ctx context.Context, path string) (ValidateResult, *layoutError) {
	l, _, _, res, lerr := loadLayout(ctx, path, core.Options{})
	if lerr != nil {
		return ValidateResult{}, lerr
	}
	mode, _ := l.ModeOr(core.ModeReplace)
	return ValidateResult{
		Name:     l.Name,
		Source:   l.Source,
		Checksum: l.Checksum,
		Mode:     mode.String(),
		Channels: len(l.Channels),
		Slots:    res.Slots,
		Outputs:  res.Outputs,
		Bridges:  res.Bridges,
	}, nil
}

func isContentError(err error) bool {
	return errors.Is(err, layout.ErrParse) || errors.Is(err, layout.ErrSchema)
}
