// Package storage - serialization helpers for stored objects.
package storage

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Serializer selects the encoding used for stored objects.
type Serializer string

const (
	SerializerGob     Serializer = "gob"
	SerializerMsgpack Serializer = "msgpack"
)

const (
	serializationMagic   = "\xffEMY"
	serializationVersion = byte(1)
	serializerIDGob      = byte(1)
	serializerIDMsgpack  = byte(2)
)

var activeSerializer atomic.Value

// init registers types with gob for proper encoding of document values.
// gob requires type registration for interface{} values in maps.
func init() {
	gob.Register(int(0))
	gob.Register(int32(0))
	gob.Register(int64(0))
	gob.Register(float32(0))
	gob.Register(float64(0))
	gob.Register("")
	gob.Register(true)
	gob.Register(time.Time{})

	gob.Register([]interface{}{})
	gob.Register([]string{})
	gob.Register([]int{})
	gob.Register([]int64{})
	gob.Register([]float64{})
	gob.Register([]bool{})

	gob.Register(map[string]interface{}{})

	activeSerializer.Store(SerializerMsgpack)
}

// SetSerializer sets the active serializer for object encoding.
func SetSerializer(s Serializer) error {
	normalized := Serializer(strings.ToLower(strings.TrimSpace(string(s))))
	switch normalized {
	case SerializerGob, SerializerMsgpack:
		activeSerializer.Store(normalized)
		return nil
	default:
		return fmt.Errorf("unsupported serializer: %s", s)
	}
}

func currentSerializer() Serializer {
	if v := activeSerializer.Load(); v != nil {
		return v.(Serializer)
	}
	return SerializerMsgpack
}

func serializerIDFor(s Serializer) (byte, error) {
	switch s {
	case SerializerGob:
		return serializerIDGob, nil
	case SerializerMsgpack:
		return serializerIDMsgpack, nil
	default:
		return 0, fmt.Errorf("unsupported serializer: %s", s)
	}
}

func serializerFromID(id byte) (Serializer, error) {
	switch id {
	case serializerIDGob:
		return SerializerGob, nil
	case serializerIDMsgpack:
		return SerializerMsgpack, nil
	default:
		return "", fmt.Errorf("unsupported serializer id: %d", id)
	}
}

// encodeValue encodes a value with a small self-describing header so decode
// can detect the serializer that produced it.
func encodeValue(value any) ([]byte, error) {
	serializer := currentSerializer()
	payload, err := encodeWithSerializer(serializer, value)
	if err != nil {
		return nil, err
	}
	id, err := serializerIDFor(serializer)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(serializationMagic)+2+len(payload))
	out = append(out, serializationMagic...)
	out = append(out, serializationVersion, id)
	out = append(out, payload...)
	return out, nil
}

func decodeValue(data []byte, value any) error {
	serializer, payload, ok, err := splitSerializationHeader(data)
	if err != nil {
		return err
	}
	if ok {
		return decodeWithSerializer(serializer, payload, value)
	}
	// Legacy fallback: gob without header.
	return decodeWithSerializer(SerializerGob, data, value)
}

func splitSerializationHeader(data []byte) (Serializer, []byte, bool, error) {
	if len(data) < len(serializationMagic)+2 {
		return "", nil, false, nil
	}
	if string(data[:len(serializationMagic)]) != serializationMagic {
		return "", nil, false, nil
	}
	version := data[len(serializationMagic)]
	if version != serializationVersion {
		return "", nil, false, fmt.Errorf("unsupported serialization version: %d", version)
	}
	serializer, err := serializerFromID(data[len(serializationMagic)+1])
	if err != nil {
		return "", nil, false, err
	}
	return serializer, data[len(serializationMagic)+2:], true, nil
}

func encodeWithSerializer(serializer Serializer, value any) ([]byte, error) {
	switch serializer {
	case SerializerGob:
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(value); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case SerializerMsgpack:
		return msgpack.Marshal(value)
	default:
		return nil, fmt.Errorf("unsupported serializer: %s", serializer)
	}
}

func decodeWithSerializer(serializer Serializer, data []byte, value any) error {
	switch serializer {
	case SerializerGob:
		return gob.NewDecoder(bytes.NewReader(data)).Decode(value)
	case SerializerMsgpack:
		return msgpack.Unmarshal(data, value)
	default:
		return fmt.Errorf("unsupported serializer: %s", serializer)
	}
}

// serializeObject converts an Object to bytes for storage.
func serializeObject(obj *Object) ([]byte, error) {
	data, err := encodeValue(obj)
	if err != nil {
		return nil, fmt.Errorf("encoding object: %w", err)
	}
	return data, nil
}

// deserializeObject converts stored bytes back to an Object.
func deserializeObject(data []byte) (*Object, error) {
	var obj Object
	if err := decodeValue(data, &obj); err != nil {
		return nil, fmt.Errorf("decoding object: %w", err)
	}
	return &obj, nil
}
