package tags

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Requests carry {"tags": [names...]}. Replies carry {"values": [values...]}
// or {"error": message}.

func encodeRequest(names []string) ([]byte, error) {
	return encodeStrings("tags", names)
}

func decodeRequest(data []byte) ([]string, error) {
	msg, err := unmarshal(data)
	if err != nil {
		return nil, err
	}

	return listField(msg, "tags")
}

func encodeReply(values []string) ([]byte, error) {
	return encodeStrings("values", values)
}

func encodeFailure(cause error) ([]byte, error) {
	msg, err := structpb.NewStruct(map[string]any{"error": cause.Error()})
	if err != nil {
		return nil, err
	}

	return proto.Marshal(msg)
}

func decodeReply(data []byte, want int) ([]string, error) {
	msg, err := unmarshal(data)
	if err != nil {
		return nil, err
	}

	if failure, found := msg.GetFields()["error"]; found {
		return nil, errors.New(failure.GetStringValue())
	}

	values, err := listField(msg, "values")
	if err != nil {
		return nil, err
	}

	if len(values) != want {
		return nil, fmt.Errorf("got %d values, want %d", len(values), want)
	}

	return values, nil
}

func encodeStrings(key string, items []string) ([]byte, error) {
	list := make([]any, len(items))
	for i, s := range items {
		list[i] = s
	}

	msg, err := structpb.NewStruct(map[string]any{key: list})
	if err != nil {
		return nil, err
	}

	return proto.Marshal(msg)
}

func unmarshal(data []byte) (*structpb.Struct, error) {
	msg := &structpb.Struct{}
	if err := proto.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}

	return msg, nil
}

func listField(msg *structpb.Struct, key string) ([]string, error) {
	field, found := msg.GetFields()[key]
	if !found {
		return nil, fmt.Errorf("message has no %q field", key)
	}

	items := field.GetListValue().GetValues()
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.GetStringValue()
	}

	return out, nil
}
