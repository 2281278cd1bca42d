package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/palskill/internal/callexpr"
	"github.com/nidhogg/palskill/internal/events"
)

// ExecInfo summarizes an Execute call.
type ExecInfo struct {
	Executed   []string       `json:"executed_skills"`
	LastSkill  string         `json:"last_skill"`
	LastParams map[string]any `json:"last_parameters"`
	Results    []any          `json:"results,omitempty"`
	Errors     bool           `json:"errors"`
	ErrorsInfo string         `json:"errors_info"`
}

// Execute parses and runs each action in order, stopping at the first
// failure. An action may itself be a bracketed list of calls. An empty
// action list waits NopWait and succeeds.
func (r *Registry) Execute(ctx context.Context, actions []string) ExecInfo {
	info := ExecInfo{Executed: []string{}}

	if len(actions) == 0 || strings.TrimSpace(actions[0]) == "" {
		r.logger.Warn("no actions to execute, executing nop")
		wait(ctx, r.cfg.NopWait)
		return info
	}

	for _, action := range actions {
		calls, err := callexpr.Parse(action)
		if err != nil {
			r.fail(&info, action, "-", nil, actions, err)
			return info
		}
		for _, c := range calls {
			r.logger.Info("executing skill", zap.String("skill", c.Name), zap.Any("params", c.Args))
			res, err := r.Invoke(ctx, c.Name, c.Args)
			if err != nil {
				r.fail(&info, action, c.Name, c.Args, actions, err)
				return info
			}
			expr := c.String()
			info.Executed = append(info.Executed, expr)
			info.Results = append(info.Results, res)
			info.LastSkill = expr
			info.LastParams = c.Args
			r.notify(ctx, events.TypeExecuted, c.Name, expr)

			if !wait(ctx, r.cfg.PostActionWait) {
				r.fail(&info, action, c.Name, c.Args, actions, ctx.Err())
				return info
			}
		}
	}
	return info
}

func (r *Registry) fail(info *ExecInfo, action, name string, params map[string]any, actions []string, err error) {
	msg := fmt.Sprintf("Error executing skill %s with params %v (from actions: %v):\n%v", name, params, actions, err)
	r.logger.Error("action failed", zap.String("action", action), zap.Error(err))
	info.Errors = true
	info.ErrorsInfo = msg
}

// wait sleeps for d or until ctx is done, reporting whether it slept fully.
func wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
