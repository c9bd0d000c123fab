package binding

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	jsoncodec "github.com/drblury/streambridge/internal/runtime/jsoncodec"
)

// Codec converts between payload bytes and the declared type of a function.
type Codec[T any] interface {
	Encode(value T) ([]byte, error)
	Decode(payload []byte) (T, error)
	// TypeName is the declared type reported for the function.
	TypeName() string
}

// BytesCodec passes payloads through untouched.
type BytesCodec struct{}

func (BytesCodec) Encode(value []byte) ([]byte, error)   { return value, nil }
func (BytesCodec) Decode(payload []byte) ([]byte, error) { return payload, nil }
func (BytesCodec) TypeName() string                      { return "[]byte" }

// StringCodec treats payloads as UTF-8 text.
type StringCodec struct{}

func (StringCodec) Encode(value string) ([]byte, error)   { return []byte(value), nil }
func (StringCodec) Decode(payload []byte) (string, error) { return string(payload), nil }
func (StringCodec) TypeName() string                      { return "string" }

// JSONCodec encodes values as JSON.
type JSONCodec[T any] struct{}

func (JSONCodec[T]) Encode(value T) ([]byte, error) {
	return jsoncodec.Marshal(value)
}

func (JSONCodec[T]) Decode(payload []byte) (T, error) {
	var value T
	if err := jsoncodec.Unmarshal(payload, &value); err != nil {
		return value, fmt.Errorf("failed to unmarshal JSON payload: %w", err)
	}
	return value, nil
}

func (JSONCodec[T]) TypeName() string {
	var zero T
	return fmt.Sprintf("%T", zero)
}

// ProtoCodec encodes protobuf messages with protojson.
type ProtoCodec[T proto.Message] struct{}

func (ProtoCodec[T]) Encode(value T) ([]byte, error) {
	return protojson.Marshal(value)
}

func (ProtoCodec[T]) Decode(payload []byte) (T, error) {
	var zero T
	msg, ok := zero.ProtoReflect().New().Interface().(T)
	if !ok {
		return zero, fmt.Errorf("cannot instantiate %T", zero)
	}
	if err := protojson.Unmarshal(payload, msg); err != nil {
		return zero, fmt.Errorf("failed to unmarshal protobuf payload: %w", err)
	}
	return msg, nil
}

func (ProtoCodec[T]) TypeName() string {
	var zero T
	return string(zero.ProtoReflect().Descriptor().FullName())
}
