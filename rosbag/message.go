package rosbag

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

const (
	rosbagStructTag = "rosbag"
	msgTypePrefix   = "MSG:"
	// maxEmptyElements bounds arrays of messages that carry no data
	maxEmptyElements = 1 << 10
)

var (
	errInvalidFormat     = errors.New("invalid message format")
	errUnresolvedMsgType = errors.New("failed to resolve a complex message type")
	errInvalidConstType  = errors.New("invalid const type")
	errInvalidDataType   = errors.New("data must be a map[string]interface{} or a pointer to a struct")
)

type MessageFieldType uint8

const (
	MessageFieldTypeBool MessageFieldType = iota + 1
	MessageFieldTypeInt8
	MessageFieldTypeUint8
	MessageFieldTypeInt16
	MessageFieldTypeUint16
	MessageFieldTypeInt32
	MessageFieldTypeUint32
	MessageFieldTypeInt64
	MessageFieldTypeUint64
	MessageFieldTypeFloat32
	MessageFieldTypeFloat64
	MessageFieldTypeString
	MessageFieldTypeTime
	MessageFieldTypeDuration
	MessageFieldTypeComplex
)

var (
	messageFieldTypeMap = map[string]MessageFieldType{
		"bool":     MessageFieldTypeBool,
		"int8":     MessageFieldTypeInt8,
		"byte":     MessageFieldTypeInt8,
		"uint8":    MessageFieldTypeUint8,
		"char":     MessageFieldTypeUint8,
		"int16":    MessageFieldTypeInt16,
		"uint16":   MessageFieldTypeUint16,
		"int32":    MessageFieldTypeInt32,
		"uint32":   MessageFieldTypeUint32,
		"int64":    MessageFieldTypeInt64,
		"uint64":   MessageFieldTypeUint64,
		"float32":  MessageFieldTypeFloat32,
		"float64":  MessageFieldTypeFloat64,
		"string":   MessageFieldTypeString,
		"time":     MessageFieldTypeTime,
		"duration": MessageFieldTypeDuration,
	}
)

// ConnectionHeader describes a topic as recorded by the connection record.
// Reference: http://wiki.ros.org/Bags/Format/2.0#Connection
type ConnectionHeader struct {
	Topic             string
	Type              string
	MD5Sum            string
	CallerID          string
	Latching          bool
	MessageDefinition MessageDefinition
}

func (hdr *ConnectionHeader) unmarshall(b []byte) error {
	var definition []byte
	err := iterateHeaderFields(b, func(key, value []byte) bool {
		switch string(key) {
		case "topic":
			hdr.Topic = string(value)
		case "type":
			hdr.Type = string(value)
		case "md5sum":
			hdr.MD5Sum = string(value)
		case "callerid":
			hdr.CallerID = string(value)
		case "latching":
			hdr.Latching = string(value) == "1"
		case "message_definition":
			definition = value
		}
		return true
	})
	if err != nil {
		return err
	}

	hdr.MessageDefinition.Type = hdr.Type
	return hdr.MessageDefinition.unmarshall(definition)
}

// MessageDefinition is defined here, http://wiki.ros.org/msg
type MessageDefinition struct {
	Type   string
	Fields []*MessageFieldDefinition
}

type MessageFieldDefinition struct {
	Type    MessageFieldType
	Name    string
	IsArray bool
	// ArraySize is only used when the field is a fixed-size array. If it's a slice, ArraySize is -1
	ArraySize int
	// Value is an optional field. It's only being used for constants
	Value interface{}
	// MsgType is only being used when type is complex. This defines the custom
	// message type.
	MsgType *MessageDefinition
}

// decodeConstValue decodes raw to concrete type. Raw is expected to be in ASCII.
// Constant types can be any builtin types except Time and Duration.
// Reference: http://wiki.ros.org/msg#Constants
func decodeConstValue(fieldType MessageFieldType, raw []byte) (interface{}, error) {
	rawStr := string(raw)

	switch fieldType {
	case MessageFieldTypeBool:
		v, err := strconv.ParseBool(rawStr)
		return v, err
	case MessageFieldTypeInt8:
		v, err := strconv.ParseInt(rawStr, 10, 8)
		return int8(v), err
	case MessageFieldTypeUint8:
		v, err := strconv.ParseUint(rawStr, 10, 8)
		return uint8(v), err
	case MessageFieldTypeInt16:
		v, err := strconv.ParseInt(rawStr, 10, 16)
		return int16(v), err
	case MessageFieldTypeUint16:
		v, err := strconv.ParseUint(rawStr, 10, 16)
		return uint16(v), err
	case MessageFieldTypeInt32:
		v, err := strconv.ParseInt(rawStr, 10, 32)
		return int32(v), err
	case MessageFieldTypeUint32:
		v, err := strconv.ParseUint(rawStr, 10, 32)
		return uint32(v), err
	case MessageFieldTypeInt64:
		return strconv.ParseInt(rawStr, 10, 64)
	case MessageFieldTypeUint64:
		return strconv.ParseUint(rawStr, 10, 64)
	case MessageFieldTypeFloat32:
		v, err := strconv.ParseFloat(rawStr, 32)
		return float32(v), err
	case MessageFieldTypeFloat64:
		return strconv.ParseFloat(rawStr, 64)
	case MessageFieldTypeString:
		return rawStr, nil
	default:
		return nil, errInvalidConstType
	}
}

func (def *MessageDefinition) unmarshall(b []byte) error {
	unresolvedFields := make(map[*MessageFieldDefinition]string)
	complexMsgs := []*MessageDefinition{def}

	for _, line := range bytes.Split(b, []byte("\n")) {
		// find comments
		if idx := bytes.IndexByte(line, '#'); idx != -1 {
			line = line[:idx]
		}

		line = bytes.TrimSpace(line)

		// blank or comment lines
		if len(line) == 0 {
			continue
		}

		// "=====" separates the embedded message definitions
		if line[0] == '=' {
			continue
		}

		if bytes.HasPrefix(line, []byte(msgTypePrefix)) {
			msgType := bytes.TrimSpace(line[len(msgTypePrefix):])
			complexMsgs = append(complexMsgs, &MessageDefinition{Type: string(msgType)})
			continue
		}

		fieldDef, fieldType, err := parseFieldLine(line)
		if err != nil {
			return err
		}

		if fieldDef.Type == MessageFieldTypeComplex {
			unresolvedFields[fieldDef] = fieldType
		}

		complexMsg := complexMsgs[len(complexMsgs)-1]
		complexMsg.Fields = append(complexMsg.Fields, fieldDef)
	}

	for field, msgType := range unresolvedFields {
		msgDef := findComplexMsg(complexMsgs[1:], msgType)
		if msgDef == nil {
			return fmt.Errorf("%w: %s", errUnresolvedMsgType, msgType)
		}

		field.MsgType = msgDef
	}

	return checkCycles(def, make(map[*MessageDefinition]bool))
}

// checkCycles rejects definitions that contain themselves, they can't be decoded.
// path holds the definitions being visited, it's true for the ones fully checked.
func checkCycles(def *MessageDefinition, path map[*MessageDefinition]bool) error {
	if checked, ok := path[def]; ok {
		if checked {
			return nil
		}
		return fmt.Errorf("%w: %s contains itself", errInvalidFormat, def.Type)
	}

	path[def] = false
	for _, field := range def.Fields {
		if field.MsgType == nil {
			continue
		}
		if err := checkCycles(field.MsgType, path); err != nil {
			return err
		}
	}
	path[def] = true
	return nil
}

// hasWireData reports whether every message of def takes at least a byte.
func (def *MessageDefinition) hasWireData() bool {
	for _, field := range def.Fields {
		switch {
		case field.Value != nil:
		case field.IsArray && field.ArraySize < 0:
			return true
		case field.ArraySize == 0:
		case field.Type != MessageFieldTypeComplex:
			return true
		case field.MsgType.hasWireData():
			return true
		}
	}
	return false
}

// parseFieldLine parses "type name" or "type name=value". The line must already be trimmed
// and stripped of comments.
func parseFieldLine(line []byte) (*MessageFieldDefinition, string, error) {
	idx := bytes.IndexAny(line, " \t")
	if idx == -1 {
		return nil, "", fmt.Errorf("%w: %q", errInvalidFormat, line)
	}

	fieldType := line[:idx]
	fieldName := bytes.TrimSpace(line[idx+1:])

	fieldDef := MessageFieldDefinition{
		ArraySize: -1,
	}

	if idx := bytes.IndexByte(fieldType, '['); idx != -1 {
		end := bytes.IndexByte(fieldType[idx:], ']')
		if end == -1 {
			return nil, "", fmt.Errorf("%w: %q", errInvalidFormat, line)
		}

		if end > 1 {
			// sizes are uint32 on the wire, fixed ones can't be any bigger
			size, err := strconv.ParseUint(string(fieldType[idx+1:idx+end]), 10, 32)
			if err != nil {
				return nil, "", fmt.Errorf("%w: bad array size in %q", errInvalidFormat, line)
			}
			fieldDef.ArraySize = int(size)
		}

		fieldType = fieldType[:idx]
		fieldDef.IsArray = true
	}

	msgFieldType, ok := messageFieldTypeMap[string(fieldType)]
	if !ok {
		msgFieldType = MessageFieldTypeComplex
	}
	fieldDef.Type = msgFieldType

	// detect constant
	if idx := bytes.IndexByte(fieldName, '='); idx != -1 {
		if fieldDef.IsArray {
			return nil, "", fmt.Errorf("%w: array constant in %q", errInvalidFormat, line)
		}

		value, err := decodeConstValue(msgFieldType, bytes.TrimSpace(fieldName[idx+1:]))
		if err != nil {
			return nil, "", fmt.Errorf("%w: constant %q: %v", errInvalidFormat, line, err)
		}

		fieldDef.Value = value
		fieldName = bytes.TrimSpace(fieldName[:idx])
	}

	if len(fieldName) == 0 {
		return nil, "", fmt.Errorf("%w: %q", errInvalidFormat, line)
	}
	fieldDef.Name = string(fieldName)

	return &fieldDef, string(fieldType), nil
}

// findComplexMsg iterates complexMsgs, and find for msgType. msgType can have an optional
// package name as prefix.
func findComplexMsg(complexMsgs []*MessageDefinition, msgType string) *MessageDefinition {
	for _, cur := range complexMsgs {
		if cur.Type == msgType || strings.HasSuffix(cur.Type, "/"+msgType) {
			return cur
		}
	}
	return nil
}

// messageTarget abstracts over the two kinds of values a message can be decoded into.
type messageTarget interface {
	set(name string, v interface{}) error
	// nested returns the value a non-array complex field is decoded into, and whether
	// it is updated in place.
	nested(name string) (interface{}, bool)
	// sliceType is the slice type used for an array of complex messages.
	sliceType(name string) reflect.Type
}

var mapSliceType = reflect.TypeOf([]map[string]interface{}(nil))

type mapTarget map[string]interface{}

func (m mapTarget) set(name string, v interface{}) error {
	m[name] = v
	return nil
}

func (m mapTarget) nested(name string) (interface{}, bool) {
	return make(map[string]interface{}), false
}

func (m mapTarget) sliceType(name string) reflect.Type {
	return mapSliceType
}

type structTarget map[string]reflect.Value

func newStructTarget(structValue reflect.Value) structTarget {
	target := make(structTarget)
	structType := structValue.Type()
	for i := 0; i < structType.NumField(); i++ {
		field := structType.Field(i)
		if field.PkgPath != "" {
			continue
		}

		fieldName, ok := field.Tag.Lookup(rosbagStructTag)
		if !ok {
			fieldName = field.Name
		}
		if fieldName == "-" {
			continue
		}

		target[fieldName] = structValue.Field(i)
	}
	return target
}

func (s structTarget) set(name string, v interface{}) error {
	fieldValue, ok := s[name]
	if !ok {
		return nil
	}

	reflectValue := reflect.ValueOf(v)
	if !reflectValue.Type().AssignableTo(fieldValue.Type()) {
		return fmt.Errorf("message field %s is %s, but the struct field is %s", name, reflectValue.Type(), fieldValue.Type())
	}

	fieldValue.Set(reflectValue)
	return nil
}

func (s structTarget) nested(name string) (interface{}, bool) {
	fieldValue, ok := s[name]
	if !ok {
		// the decoder still has to walk over the bytes
		return make(map[string]interface{}), false
	}

	if fieldValue.Kind() == reflect.Ptr {
		if fieldValue.IsNil() {
			fieldValue.Set(reflect.New(fieldValue.Type().Elem()))
		}
		return fieldValue.Interface(), true
	}
	return fieldValue.Addr().Interface(), true
}

func (s structTarget) sliceType(name string) reflect.Type {
	fieldValue, ok := s[name]
	if !ok || fieldValue.Kind() != reflect.Slice {
		return mapSliceType
	}
	return fieldValue.Type()
}

func newMessageTarget(data interface{}) (messageTarget, error) {
	if m, ok := data.(map[string]interface{}); ok {
		return mapTarget(m), nil
	}

	value := reflect.ValueOf(data)
	if value.Kind() != reflect.Ptr || value.IsNil() {
		return nil, errInvalidDataType
	}

	value = value.Elem()
	if value.Kind() != reflect.Struct {
		return nil, errInvalidDataType
	}
	return newStructTarget(value), nil
}

// decodeMessageData decodes raw into data following def, and returns what's left of raw.
func decodeMessageData(def *MessageDefinition, raw []byte, data interface{}) ([]byte, error) {
	target, err := newMessageTarget(data)
	if err != nil {
		return nil, err
	}

	var v interface{}
	for _, field := range def.Fields {
		switch {
		case field.Value != nil:
			// Const value, no need to parse, simply fill in the data
			v = field.Value
		case field.Type != MessageFieldTypeComplex:
			v, raw, err = decodeFieldBasic(field, raw)
		case field.IsArray:
			v, raw, err = decodeFieldComplexSlice(field, raw, target.sliceType(field.Name))
		default:
			var inPlace bool
			v, inPlace = target.nested(field.Name)
			raw, err = decodeMessageData(field.MsgType, raw, v)
			if err == nil && inPlace {
				continue
			}
		}

		if err != nil {
			return nil, fmt.Errorf("%s: %w", field.Name, err)
		}

		if err := target.set(field.Name, v); err != nil {
			return nil, err
		}
	}

	return raw, nil
}

func decodeFieldBasic(field *MessageFieldDefinition, raw []byte) (interface{}, []byte, error) {
	var decodeFuncs map[MessageFieldType]fieldDecodeFunc
	if field.IsArray {
		decodeFuncs = fieldDecodeSliceHelper
	} else {
		decodeFuncs = fieldDecodeBasicHelper
	}

	v, off, ok := decodeFuncs[field.Type](raw, field.ArraySize)
	if !ok {
		return nil, raw, errInvalidFormat
	}

	return v, raw[off:], nil
}

func decodeFieldComplexSlice(field *MessageFieldDefinition, raw []byte, sliceType reflect.Type) (interface{}, []byte, error) {
	length, off, ok := fieldDecodeLength(raw, field.ArraySize)
	if !ok {
		return nil, raw, errInvalidFormat
	}
	raw = raw[off:]

	// every element takes at least a byte unless the message has nothing on the wire
	limit := len(raw)
	if !field.MsgType.hasWireData() {
		limit = maxEmptyElements
	}
	if length > limit {
		return nil, raw, errInvalidFormat
	}

	var err error
	vs := reflect.MakeSlice(sliceType, length, length)
	for i := 0; i < length; i++ {
		v := vs.Index(i)
		switch v.Kind() {
		case reflect.Map:
			v.Set(reflect.ValueOf(make(map[string]interface{})))
		case reflect.Ptr:
			v.Set(reflect.New(v.Type().Elem()))
		default:
			v = v.Addr()
		}

		// No need to check types as it'll be checked by decodeMessageData
		raw, err = decodeMessageData(field.MsgType, raw, v.Interface())
		if err != nil {
			return nil, raw, err
		}
	}

	return vs.Interface(), raw, nil
}
