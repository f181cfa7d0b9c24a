package payload

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/BurntSushi/toml"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"gopkg.in/yaml.v3"

	"github.com/vinayprograms/aclmts/errors"
)

// JSONParser encodes content as JSON.
type JSONParser struct{}

func (JSONParser) Dump(data any, encoding string) ([]byte, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeCodec, "json dump")
	}
	return encodeText(b, encoding)
}

func (JSONParser) Load(data []byte, encoding string) (any, error) {
	text, err := decodeText(data, encoding)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(text, &v); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeCodec, "json load")
	}
	return v, nil
}

// YAMLParser encodes content as YAML.
type YAMLParser struct{}

func (YAMLParser) Dump(data any, encoding string) ([]byte, error) {
	b, err := yaml.Marshal(data)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeCodec, "yaml dump")
	}
	return encodeText(b, encoding)
}

func (YAMLParser) Load(data []byte, encoding string) (any, error) {
	text, err := decodeText(data, encoding)
	if err != nil {
		return nil, err
	}
	var v any
	if err := yaml.Unmarshal(text, &v); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeCodec, "yaml load")
	}
	return v, nil
}

// TOMLParser encodes content as a TOML document. Only tables (maps and
// structs) are representable.
type TOMLParser struct{}

func (TOMLParser) Dump(data any, encoding string) ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(data); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeCodec, "toml dump")
	}
	return encodeText(buf.Bytes(), encoding)
}

func (TOMLParser) Load(data []byte, encoding string) (any, error) {
	text, err := decodeText(data, encoding)
	if err != nil {
		return nil, err
	}
	v := map[string]any{}
	if err := toml.Unmarshal(text, &v); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeCodec, "toml load")
	}
	return v, nil
}

// ProtobufParser encodes content as a google.protobuf.Value. Representable
// data is what structpb accepts: nil, bool, numbers, strings, []byte,
// []any and map[string]any. The encoding argument is ignored.
type ProtobufParser struct{}

func (ProtobufParser) Dump(data any, _ string) ([]byte, error) {
	v, err := structpb.NewValue(data)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeCodec, "protobuf dump")
	}
	b, err := proto.Marshal(v)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeCodec, "protobuf dump")
	}
	return b, nil
}

func (ProtobufParser) Load(data []byte, _ string) (any, error) {
	var v structpb.Value
	if err := proto.Unmarshal(data, &v); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeCodec, "protobuf load")
	}
	return v.AsInterface(), nil
}

func encodeText(b []byte, charset string) ([]byte, error) {
	out, err := toCharset(b, charset)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeCodec, fmt.Sprintf("encode %s", charset))
	}
	return out, nil
}

func decodeText(b []byte, charset string) ([]byte, error) {
	out, err := fromCharset(b, charset)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeCodec, fmt.Sprintf("decode %s", charset))
	}
	return out, nil
}
