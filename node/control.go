package node

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/flowkit/binding"
	"github.com/BaSui01/flowkit/types"
)

// RegisterBuiltins registers the control pack and the core value nodes.
func RegisterBuiltins(r *Registry) {
	r.MustRegister(constantDef())
	r.MustRegister(noopDef())
	r.MustRegister(ifDef())
	r.MustRegister(switchDef())
	r.MustRegister(loopDef())
	r.MustRegister(foreachDef())
	r.MustRegister(failDef())
}

// decodeInput maps a resolved input object onto a typed config struct.
func decodeInput(input any, target any) error {
	data, err := json.Marshal(input)
	if err != nil {
		return types.NewError(types.ErrValidation, "node input is not serializable").WithCause(err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return types.NewError(types.ErrValidation, "node input does not match expected shape").WithCause(err)
	}
	return nil
}

func constantDef() Definition {
	return Definition{
		Type:        "core.constant",
		Description: "Emits a fixed value, useful as a flow source or fixture.",
		InputSchema: types.NewObjectSchema().WithRequired("value"),
		OutputSchema: types.NewObjectSchema().
			WithProperty("value", &types.JSONSchema{}),
		Run: func(ctx context.Context, rc RunContext, input any) (any, error) {
			obj, ok := input.(map[string]any)
			if !ok {
				return nil, types.NewError(types.ErrValidation, "core.constant expects an object input")
			}
			return map[string]any{"value": obj["value"]}, nil
		},
	}
}

func noopDef() Definition {
	return Definition{
		Type:        "control.noop",
		Description: "Structural passthrough.",
		Run: func(ctx context.Context, rc RunContext, input any) (any, error) {
			return input, nil
		},
	}
}

func ifDef() Definition {
	return Definition{
		Type:        "control.if",
		Description: "Boolean passthrough so downstream edge conditions can gate on it.",
		Run: func(ctx context.Context, rc RunContext, input any) (any, error) {
			var cfg struct {
				Value any `json:"value"`
			}
			if err := decodeInput(input, &cfg); err != nil {
				return nil, err
			}
			return map[string]any{"result": truthy(cfg.Value), "value": cfg.Value}, nil
		},
	}
}

type switchCase struct {
	Match any    `json:"match"`
	Route string `json:"route"`
}

func switchDef() Definition {
	return Definition{
		Type:        "control.switch",
		Description: "Routes to the first matching case in declaration order, else \"default\".",
		Run: func(ctx context.Context, rc RunContext, input any) (any, error) {
			var cfg struct {
				Value any          `json:"value"`
				Cases []switchCase `json:"cases"`
			}
			if err := decodeInput(input, &cfg); err != nil {
				return nil, err
			}
			for _, c := range cfg.Cases {
				if c.Match == cfg.Value {
					return map[string]any{"route": c.Route, "value": cfg.Value}, nil
				}
			}
			return map[string]any{"route": "default", "value": cfg.Value}, nil
		},
	}
}

func loopDef() Definition {
	return Definition{
		Type:        "control.loop",
		Description: "Bounded while-condition iteration over a fixed child list.",
		Capabilities: Capabilities{
			IsContainer:         true,
			NeedsBindingContext: true,
		},
		Run: func(ctx context.Context, rc RunContext, input any) (any, error) {
			var cfg struct {
				When          *binding.WhenExpr `json:"when"`
				MaxIterations int               `json:"maxIterations"`
				Children      []string          `json:"children"`
			}
			if err := decodeInput(input, &cfg); err != nil {
				return nil, err
			}
			if cfg.MaxIterations <= 0 {
				return nil, types.NewError(types.ErrValidation, "control.loop requires a positive maxIterations")
			}
			if len(cfg.Children) == 0 {
				return nil, types.NewError(types.ErrValidation, "control.loop requires a non-empty child list")
			}
			if rc.ExecuteChild == nil {
				return nil, types.NewError(types.ErrInternalError, "control.loop invoked without container support")
			}

			var iterations []map[string]any
			for i := 0; ; i++ {
				proceed, err := cfg.When.Eval(rc.BindingContext)
				if err != nil {
					return nil, err
				}
				if !proceed {
					break
				}
				// Bound exhausted while the continue condition still holds
				// is a hard failure, matching loop-edge cap semantics.
				if i >= cfg.MaxIterations {
					return nil, types.NewError(types.ErrLoopExceeded,
						fmt.Sprintf("loop exceeded maxIterations=%d with condition still true", cfg.MaxIterations))
				}
				outputs, err := rc.ExecuteChild(ctx, cfg.Children, map[string]any{"iteration": i})
				if err != nil {
					return nil, err
				}
				iterations = append(iterations, outputs)
			}
			return map[string]any{
				"iterations": len(iterations),
				"outputs":    iterations,
			}, nil
		},
	}
}

func foreachDef() Definition {
	return Definition{
		Type:        "control.foreach",
		Description: "Fan-out iteration: up to N concurrent child passes, joined in input order.",
		Capabilities: Capabilities{
			IsContainer:         true,
			NeedsBindingContext: true,
		},
		Run: func(ctx context.Context, rc RunContext, input any) (any, error) {
			var cfg struct {
				Items       []any    `json:"items"`
				Children    []string `json:"children"`
				Concurrency int      `json:"concurrency"`
			}
			if err := decodeInput(input, &cfg); err != nil {
				return nil, err
			}
			if len(cfg.Children) == 0 {
				return nil, types.NewError(types.ErrValidation, "control.foreach requires a non-empty child list")
			}
			if rc.ExecuteChild == nil {
				return nil, types.NewError(types.ErrInternalError, "control.foreach invoked without container support")
			}
			concurrency := cfg.Concurrency
			if concurrency <= 0 {
				concurrency = rc.FanOutWidth
			}
			if concurrency <= 0 {
				concurrency = 4
			}

			results := make([]map[string]any, len(cfg.Items))
			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(concurrency)
			for i, item := range cfg.Items {
				g.Go(func() error {
					outputs, err := rc.ExecuteChild(gctx, cfg.Children, map[string]any{
						"item":  item,
						"index": i,
					})
					if err != nil {
						return err
					}
					results[i] = outputs
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return nil, err
			}
			// results is indexed by input position, so join order is stable
			// regardless of completion order.
			joined := make([]any, len(results))
			for i, r := range results {
				joined[i] = r
			}
			return map[string]any{"results": joined}, nil
		},
	}
}

func failDef() Definition {
	return Definition{
		Type:        "control.fail",
		Description: "Unconditional, intentional failure — a guard terminal, not a defect.",
		Run: func(ctx context.Context, rc RunContext, input any) (any, error) {
			message := "flow failed by control.fail"
			if obj, ok := input.(map[string]any); ok {
				if m, ok := obj["message"].(string); ok && m != "" {
					message = m
				}
			}
			return nil, types.NewError(types.ErrFlowFail, message)
		},
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
