package main

import (
	"context"
	"fmt"
	"time"

	"github.com/datanger/gemini-cli/internal/coordinator"
	"github.com/datanger/gemini-cli/internal/tui"
	"github.com/datanger/gemini-cli/pkg/models"
)

// runWithTUI drives orchestration behind the live progress panel. The
// orchestration runs in a goroutine and feeds the panel through the
// coordinator's result listener and the state manager's context
// listener; the panel owns the terminal until the user quits.
func runWithTUI(ctx context.Context, app *appStack, sessionID, task string, reqs []coordinator.Request) error {
	program, _ := tui.NewProgram()

	app.coord.AddResultListener(func(sid string, res models.ExecutionResult) {
		if sid == sessionID {
			program.Send(tui.ResultMsg{SessionID: sid, Result: res})
		}
	})
	app.manager.AddListener(func(wctx *models.WorkflowContext) {
		if wctx.SessionID == sessionID {
			program.Send(tui.ContextMsg{Context: wctx})
		}
	})

	done := make(chan error, 1)
	go func() {
		result, err := app.orchestrator.OrchestrateExecution(ctx, sessionID, task, reqs)
		if err != nil {
			program.Send(tui.DoneMsg{Success: false, Message: err.Error()})
			done <- err
			return
		}
		msg := fmt.Sprintf("%d results in %s", len(result.ToolResults), result.TotalTime.Round(time.Millisecond))
		program.Send(tui.DoneMsg{Success: len(result.Errors) == 0, Message: msg})
		done <- nil
	}()

	if _, err := program.Run(); err != nil {
		return err
	}
	return <-done
}
