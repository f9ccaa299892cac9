package engine

import (
	"github.com/roach88/morph/internal/profile"
)

// FunctionStatus is a point-in-time view of one function.
type FunctionStatus struct {
	Name      string               `json:"name" yaml:"name"`
	Stage     profile.Stage        `json:"stage" yaml:"stage"`
	Score     float64              `json:"score" yaml:"score"`
	Calls     int64                `json:"calls" yaml:"calls"`
	Penalty   float64              `json:"penalty" yaml:"penalty"`
	Dominant  string               `json:"dominant,omitempty" yaml:"dominant,omitempty"`
	Form      string               `json:"form" yaml:"form"`
	Native    string               `json:"native_shape,omitempty" yaml:"native_shape,omitempty"`
	InFlight  bool                 `json:"in_flight,omitempty" yaml:"in_flight,omitempty"`
	Histogram []profile.ShapeCount `json:"histogram" yaml:"histogram"`
}

// Status reports every function in declaration order.
func (e *Engine) Status() []FunctionStatus {
	out := make([]FunctionStatus, 0, len(e.prog.Order))
	for _, name := range e.prog.Order {
		out = append(out, e.status(e.funcs[name]))
	}
	return out
}

// FunctionStatus reports one function.
func (e *Engine) FunctionStatus(name string) (FunctionStatus, error) {
	f, err := e.Function(name)
	if err != nil {
		return FunctionStatus{}, err
	}
	return e.status(f), nil
}

func (e *Engine) status(f *Function) FunctionStatus {
	p := f.Profile()
	st := FunctionStatus{
		Name:      f.Name,
		Stage:     p.Stage(),
		Score:     p.StabilityScore(),
		Calls:     p.Calls(),
		Penalty:   p.Penalty(),
		Form:      FormInterpreted.String(),
		InFlight:  e.controller.InFlight(f.Name),
		Histogram: p.Histogram(),
	}
	if shape, ok := p.Dominant(); ok {
		st.Dominant = shape.Key()
	}
	if n := f.Native(); n != nil {
		st.Form = FormNative.String()
		st.Native = n.ShapeKey
	}
	return st
}
