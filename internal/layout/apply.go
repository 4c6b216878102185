package layout

import (
	"context"
	"fmt"

	"github.com/nerrad567/pdm-core/internal/audit"
	"github.com/nerrad567/pdm-core/internal/core"
)

// HistoryRecorder stores committed layouts. Satisfied by
// *audit.HistoryRepository.
type HistoryRecorder interface {
	Record(ctx context.Context, a *audit.LayoutApplied) error
}

// Apply commits l to c. The layout's own mode wins over fallback. Names the
// layout does not declare are resolved against the running registry.
//
// history is optional; a failure to record it is returned after the layout
// has been committed.
func Apply(ctx context.Context, c *core.Core, l *Layout, fallback core.Mode, history HistoryRecorder) (core.ApplyResult, error) {
	mode, err := l.ModeOr(fallback)
	if err != nil {
		return core.ApplyResult{}, err
	}
	plan, err := l.Plan(c.Registry().FindByName)
	if err != nil {
		return core.ApplyResult{}, err
	}
	res, err := c.Apply(plan, mode)
	if err != nil {
		return core.ApplyResult{}, err
	}
	if history == nil {
		return res, nil
	}
	entry := &audit.LayoutApplied{
		Generation: res.Generation,
		Mode:       mode.String(),
		Source:     l.Source,
		Checksum:   l.Checksum,
		Channels:   len(plan.Channels),
		Slots:      res.Slots,
		Outputs:    res.Outputs,
		Bridges:    res.Bridges,
	}
	if err := history.Record(ctx, entry); err != nil {
		return res, fmt.Errorf("recording layout history: %w", err)
	}
	return res, nil
}
