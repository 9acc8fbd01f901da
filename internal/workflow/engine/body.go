package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kingrea/splitflow/internal/continuation"
	"github.com/kingrea/splitflow/internal/control"
	"github.com/kingrea/splitflow/internal/dispatch"
	"github.com/kingrea/splitflow/internal/engines"
	"github.com/kingrea/splitflow/internal/envelope"
	"github.com/kingrea/splitflow/internal/errs"
	"github.com/kingrea/splitflow/internal/split"
	"github.com/kingrea/splitflow/internal/workflow"
)

// Body returns the per-split computation for a definition: restrict the
// control object to the split's rows, pre-process, evaluate, and encode the
// outcome for the continuation.
func Body(reg *engines.Registry, def workflow.Definition, logger *zap.Logger) dispatch.Body {
	return func(ctx context.Context, ctl *control.Object, id string, payload split.Payload) ([]byte, error) {
		rows, err := ctl.Data.Subset(payload.Rows)
		if err != nil {
			return nil, fmt.Errorf("split %s: %w", id, err)
		}
		ectx := engines.NewContext(ctx, ctl.WithData(rows), logger.With(zap.String("split", id)))

		env, err := engines.RunStage(reg, ectx, control.CategoryPreprocessing, def.Preprocessing.Engine)
		if err != nil {
			return nil, err
		}
		pre, ok := env.(*envelope.Preprocessing)
		if !ok {
			return nil, errs.Schema("split body", "preprocessing %s returned %T", def.Preprocessing.Engine, env)
		}

		env, err = engines.RunStage(reg, ectx.WithControl(ectx.Control.WithData(pre.Data)), control.CategoryEvaluation, def.Evaluation.Engine)
		if err != nil {
			return nil, err
		}
		eval, ok := env.(*envelope.Evaluation)
		if !ok {
			return nil, errs.Schema("split body", "evaluation %s returned %T", def.Evaluation.Engine, env)
		}

		return continuation.SplitOutcome{
			SplitID:       id,
			Rows:          pre.Data.Len(),
			Preprocessing: pre.Method,
			EvalType:      eval.EvalType,
			Metrics:       eval.Metrics,
			Diagnostics:   eval.Diagnostics,
		}.Encode()
	}
}
