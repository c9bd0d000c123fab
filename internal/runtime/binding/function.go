package binding

import (
	"context"
	"fmt"
	"strings"
	"sync"

	errspkg "github.com/drblury/streambridge/internal/runtime/errors"
	metadatapkg "github.com/drblury/streambridge/internal/runtime/metadata"
)

// Message is the untyped payload and headers a function exchanges with its
// bindings.
type Message struct {
	Payload  []byte
	Metadata metadatapkg.Metadata
}

// Input is a decoded message handed to a function.
type Input[T any] struct {
	Payload  T
	Metadata metadatapkg.Metadata
}

// Output is a value a function emits. Nil Metadata inherits the input headers.
type Output[T any] struct {
	Payload  T
	Metadata metadatapkg.Metadata
}

// Emitter publishes one supplied message to the output binding.
type Emitter func(ctx context.Context, msg Message) error

// Arity is the number of input and output bindings of a function.
type Arity struct {
	Inputs  int
	Outputs int
}

func (a Arity) String() string { return fmt.Sprintf("%d/%d", a.Inputs, a.Outputs) }

// Function is a registered callable with declared types. Build it with
// NewConsumer, NewFunction or NewSupplier.
type Function struct {
	Name       string
	Arity      Arity
	InputType  string
	OutputType string

	invoke func(ctx context.Context, in Message) ([]Message, error)
	supply func(ctx context.Context, emit Emitter) error
}

// InputBinding returns "<name>-in-0", or "" when the function has no input.
func (f *Function) InputBinding() string {
	if f.Arity.Inputs == 0 {
		return ""
	}
	return InputBindingName(f.Name, 0)
}

// OutputBinding returns "<name>-out-0", or "" when the function has no output.
func (f *Function) OutputBinding() string {
	if f.Arity.Outputs == 0 {
		return ""
	}
	return OutputBindingName(f.Name, 0)
}

// Invoke runs a consumer or function on one inbound message.
func (f *Function) Invoke(ctx context.Context, in Message) ([]Message, error) {
	if f.invoke == nil {
		return nil, fmt.Errorf("streambridge: function %s with arity %s takes no input", f.Name, f.Arity)
	}
	return f.invoke(ctx, in)
}

// Supply runs a supplier until ctx is done, emitting through emit.
func (f *Function) Supply(ctx context.Context, emit Emitter) error {
	if f.supply == nil {
		return fmt.Errorf("streambridge: function %s with arity %s is not a supplier", f.Name, f.Arity)
	}
	return f.supply(ctx, emit)
}

func InputBindingName(function string, index int) string {
	return fmt.Sprintf("%s-in-%d", function, index)
}

func OutputBindingName(function string, index int) string {
	return fmt.Sprintf("%s-out-%d", function, index)
}

// NewConsumer declares a 1/0 function.
func NewConsumer[I any](name string, codec Codec[I], fn func(ctx context.Context, in Input[I]) error) *Function {
	return &Function{
		Name:      name,
		Arity:     Arity{Inputs: 1},
		InputType: codec.TypeName(),
		invoke: func(ctx context.Context, in Message) ([]Message, error) {
			payload, err := codec.Decode(in.Payload)
			if err != nil {
				return nil, err
			}
			return nil, fn(ctx, Input[I]{Payload: payload, Metadata: in.Metadata})
		},
	}
}

// NewFunction declares a 1/1 function. Every returned Output is published to
// the output binding; returning none acknowledges the input only.
func NewFunction[I, O any](name string, in Codec[I], out Codec[O], fn func(ctx context.Context, in Input[I]) ([]Output[O], error)) *Function {
	return &Function{
		Name:       name,
		Arity:      Arity{Inputs: 1, Outputs: 1},
		InputType:  in.TypeName(),
		OutputType: out.TypeName(),
		invoke: func(ctx context.Context, msg Message) ([]Message, error) {
			payload, err := in.Decode(msg.Payload)
			if err != nil {
				return nil, err
			}
			outputs, err := fn(ctx, Input[I]{Payload: payload, Metadata: msg.Metadata})
			if err != nil {
				return nil, err
			}
			return encodeOutputs(out, outputs, msg.Metadata)
		},
	}
}

// NewSupplier declares a 0/1 function. run blocks until ctx is done and calls
// emit for every value it produces.
func NewSupplier[O any](name string, codec Codec[O], run func(ctx context.Context, emit func(ctx context.Context, out Output[O]) error) error) *Function {
	return &Function{
		Name:       name,
		Arity:      Arity{Outputs: 1},
		OutputType: codec.TypeName(),
		supply: func(ctx context.Context, emit Emitter) error {
			return run(ctx, func(ctx context.Context, out Output[O]) error {
				encoded, err := encodeOutputs(codec, []Output[O]{out}, nil)
				if err != nil {
					return err
				}
				return emit(ctx, encoded[0])
			})
		},
	}
}

func encodeOutputs[O any](codec Codec[O], outputs []Output[O], fallback metadatapkg.Metadata) ([]Message, error) {
	if len(outputs) == 0 {
		return nil, nil
	}
	result := make([]Message, len(outputs))
	for i, out := range outputs {
		payload, err := codec.Encode(out.Payload)
		if err != nil {
			return nil, err
		}
		md := out.Metadata
		if md == nil {
			md = fallback
		}
		result[i] = Message{Payload: payload, Metadata: md.Clone()}
	}
	return result, nil
}

// FunctionRegistry holds the functions to bind, in registration order.
type FunctionRegistry struct {
	mu    sync.RWMutex
	order []*Function
	byKey map[string]*Function
}

func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{byKey: make(map[string]*Function)}
}

// Register adds fn. Names must be unique.
func (r *FunctionRegistry) Register(fn *Function) error {
	if fn == nil {
		return errspkg.ErrFunctionRequired
	}
	if strings.TrimSpace(fn.Name) == "" {
		return errspkg.ErrFunctionNameRequired
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byKey[fn.Name]; exists {
		return fmt.Errorf("%w: %s", errspkg.ErrFunctionAlreadyRegistered, fn.Name)
	}
	r.byKey[fn.Name] = fn
	r.order = append(r.order, fn)
	return nil
}

func (r *FunctionRegistry) Get(name string) (*Function, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.byKey[name]
	return fn, ok
}

// Functions returns every registered function in registration order.
func (r *FunctionRegistry) Functions() []*Function {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Function(nil), r.order...)
}
