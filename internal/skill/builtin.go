package skill

import (
	"context"

	"go.uber.org/zap"
)

// Actuator is the hardware and game surface the built-in skills drive.
type Actuator interface {
	Speak(ctx context.Context, text string) error
	// Gesture replays a recorded trajectory by name.
	Gesture(ctx context.Context, name string) (any, error)
	Move(ctx context.Context, x, y, z float64) error
	// Interact performs a named game interface action.
	Interact(ctx context.Context, action string, args map[string]any) (any, error)
}

type gesture struct {
	name string
	doc  string
}

var gestures = []gesture{
	{"cheer_up", "The robot performs a cheer up gesture."},
	{"dance", "The robot performs a dance gesture."},
	{"fight", "The robot performs a fight gesture."},
	{"hug", "The robot performs a hug gesture."},
	{"love_you_gesture", "The robot performs a love you gesture."},
	{"nod", "The robot performs a nod gesture."},
	{"shake_head_to_deny", "The robot performs a shake head to deny gesture."},
	{"shake_right_hand", "The robot performs a shake right hand gesture."},
	{"wave_left_hand", "The robot performs a wave left hand gesture."},
}

// Builtins returns the built-in skill definitions backed by act, in the
// order they are offered to the registry.
func Builtins(act Actuator) []Definition {
	defs := []Definition{
		{
			Name: "speak",
			Documentation: "The robot speaks the given text.\n\n" +
				"Parameters:\n- text: The text to be spoken by the robot.",
			Params: []Param{{Name: "text", Type: "string", Description: "The text to be spoken by the robot"}},
			Capability: CapabilityFunc(func(ctx context.Context, args map[string]any) (any, error) {
				if err := CheckArgs("speak", []Param{{Name: "text"}}, args); err != nil {
					return nil, err
				}
				text, err := stringArg("speak", args, "text")
				if err != nil {
					return nil, err
				}
				return true, act.Speak(ctx, text)
			}),
		},
	}

	for _, g := range gestures {
		name := g.name
		defs = append(defs, Definition{
			Name:          name,
			Documentation: g.doc,
			Capability: CapabilityFunc(func(ctx context.Context, args map[string]any) (any, error) {
				if err := CheckArgs(name, nil, args); err != nil {
					return nil, err
				}
				return act.Gesture(ctx, name)
			}),
		})
	}

	defs = append(defs,
		Definition{
			Name: "move",
			Documentation: "Move the character to the given position.\n\n" +
				"Parameters:\n- x: The target x coordinate.\n- y: The target y coordinate.\n- z: The target heading in degrees.",
			Params: []Param{
				{Name: "x", Type: "number", Description: "The target x coordinate"},
				{Name: "y", Type: "number", Description: "The target y coordinate"},
				{Name: "z", Type: "number", Description: "The target heading in degrees"},
			},
			Capability: CapabilityFunc(func(ctx context.Context, args map[string]any) (any, error) {
				if err := CheckArgs("move", []Param{{Name: "x"}, {Name: "y"}, {Name: "z"}}, args); err != nil {
					return nil, err
				}
				var xyz [3]float64
				for i, k := range []string{"x", "y", "z"} {
					v, err := numberArg("move", args, k, 0)
					if err != nil {
						return nil, err
					}
					xyz[i] = v
				}
				return true, act.Move(ctx, xyz[0], xyz[1], xyz[2])
			}),
		},
		interaction(act, "open_map", "Open the in-game map.", nil),
		interaction(act, "close_map", "Close the in-game map.", nil),
		interaction(act, "buy_item", "Buy an item in the trade interface.\n\n"+
			"Parameters:\n- item: The name of the item to buy.\n- quantity: How many items to buy.",
			[]Param{
				{Name: "item", Type: "string", Description: "The name of the item to buy"},
				{Name: "quantity", Type: "integer", Description: "How many items to buy"},
			}),
		interaction(act, "sell_item", "Sell an item from the satchel.\n\n"+
			"Parameters:\n- item: The name of the item to sell.\n- quantity: How many items to sell.",
			[]Param{
				{Name: "item", Type: "string", Description: "The name of the item to sell"},
				{Name: "quantity", Type: "integer", Description: "How many items to sell"},
			}),
	)

	for i := range defs {
		defs[i].Origin = OriginBuiltin
	}
	return defs
}

func interaction(act Actuator, name, doc string, params []Param) Definition {
	return Definition{
		Name:          name,
		Documentation: doc,
		Params:        params,
		Capability: CapabilityFunc(func(ctx context.Context, args map[string]any) (any, error) {
			if err := CheckArgs(name, params, args); err != nil {
				return nil, err
			}
			call := make(map[string]any, len(args))
			for _, p := range params {
				switch p.Type {
				case "string":
					s, err := stringArg(name, args, p.Name)
					if err != nil {
						return nil, err
					}
					call[p.Name] = s
				case "integer":
					n, err := intArg(name, args, p.Name, 1)
					if err != nil {
						return nil, err
					}
					call[p.Name] = n
				}
			}
			return act.Interact(ctx, name, call)
		}),
	}
}

// LogActuator is an Actuator that only logs. It stands in when no hardware
// or game client is attached.
type LogActuator struct {
	Logger *zap.Logger
}

func (a LogActuator) Speak(_ context.Context, text string) error {
	a.Logger.Info("speak", zap.String("text", text))
	return nil
}

func (a LogActuator) Gesture(_ context.Context, name string) (any, error) {
	a.Logger.Info("gesture", zap.String("name", name))
	return map[string]any{"trajectory": name, "ok": true}, nil
}

func (a LogActuator) Move(_ context.Context, x, y, z float64) error {
	a.Logger.Info("move", zap.Float64("x", x), zap.Float64("y", y), zap.Float64("z", z))
	return nil
}

func (a LogActuator) Interact(_ context.Context, action string, args map[string]any) (any, error) {
	a.Logger.Info("interact", zap.String("action", action), zap.Any("args", args))
	return true, nil
}
