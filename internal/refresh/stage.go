package refresh

import (
	"context"
	"fmt"

	"github.com/quantpane/marketsync/internal/domain"
)

// RunStage implements the orchestrator's StageRunner: it refreshes every
// data type of the stage for one symbol and reports an error when the
// stage outcome should mark the symbol failed. A blocking data type
// failing always fails the stage; an auxiliary stage fails only when
// nothing in it succeeded.
func (m *Manager) RunStage(ctx context.Context, workflowID, symbol, stage string, mode domain.RefreshMode, opts domain.StageOptions) error {
	dataTypes := domain.StageDataTypes(stage)
	if len(dataTypes) == 0 {
		return fmt.Errorf("unknown workflow stage %q", stage)
	}

	result, err := m.RefreshWithOptions(ctx, symbol, dataTypes, mode, RefreshOptions{
		Force:        opts.Force,
		LookbackDays: opts.LookbackDays,
	})
	if err != nil {
		return err
	}
	result.WorkflowID = workflowID

	var firstErr string
	for _, dt := range dataTypes {
		res, ok := result.Results[dt]
		if !ok {
			continue
		}
		if res.Status == domain.StatusFailed {
			if firstErr == "" {
				firstErr = fmt.Sprintf("%s: %s", dt, res.Error)
			}
			if dt.Blocking() {
				return fmt.Errorf("blocking data type %s failed: %s", dt, res.Error)
			}
		}
	}

	if result.TotalSuccessful == 0 && result.TotalFailed > 0 {
		return fmt.Errorf("all data types failed, first: %s", firstErr)
	}
	return nil
}
