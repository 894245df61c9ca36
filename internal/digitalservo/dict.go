package digitalservo

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ValueType tags the element type of a Dict.
type ValueType uint8

const (
	TypeBool ValueType = iota
	TypeInt
	TypeFloat
)

func (t ValueType) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

func (t ValueType) size() int {
	if t == TypeBool {
		return 1
	}
	return 8
}

// ParseValueType accepts the names printed by ValueType.String.
func ParseValueType(s string) (ValueType, error) {
	switch strings.ToLower(s) {
	case "bool":
		return TypeBool, nil
	case "int", "int64":
		return TypeInt, nil
	case "float", "float64", "":
		return TypeFloat, nil
	default:
		return 0, fmt.Errorf("unknown value type %q", s)
	}
}

// Dict is one key with an array of values, the unit the servo firmware
// exchanges. Only the slice matching Type is used.
//
// Wire layout:
//
//	u8  key length
//	..  key bytes
//	u8  value type
//	u8  value count
//	..  values, little-endian (bool 1 byte, int64 and float64 8 bytes)
//
// Trailing bytes are ignored so CAN-FD padding can follow.
type Dict struct {
	Key    string
	Type   ValueType
	Bools  []bool
	Ints   []int64
	Floats []float64
}

// Float builds a float64 Dict.
func Float(key string, values ...float64) Dict {
	return Dict{Key: key, Type: TypeFloat, Floats: values}
}

// Bool builds a bool Dict.
func Bool(key string, values ...bool) Dict {
	return Dict{Key: key, Type: TypeBool, Bools: values}
}

// Int builds an int64 Dict.
func Int(key string, values ...int64) Dict {
	return Dict{Key: key, Type: TypeInt, Ints: values}
}

// Len returns the number of values.
func (d Dict) Len() int {
	switch d.Type {
	case TypeBool:
		return len(d.Bools)
	case TypeInt:
		return len(d.Ints)
	default:
		return len(d.Floats)
	}
}

// Float64s returns the values converted to float64. Bools map to 0 and 1.
func (d Dict) Float64s() []float64 {
	out := make([]float64, 0, d.Len())
	switch d.Type {
	case TypeBool:
		for _, b := range d.Bools {
			if b {
				out = append(out, 1)
			} else {
				out = append(out, 0)
			}
		}
	case TypeInt:
		for _, v := range d.Ints {
			out = append(out, float64(v))
		}
	default:
		out = append(out, d.Floats...)
	}
	return out
}

func (d Dict) String() string {
	var vals []string
	switch d.Type {
	case TypeBool:
		for _, b := range d.Bools {
			vals = append(vals, strconv.FormatBool(b))
		}
	case TypeInt:
		for _, v := range d.Ints {
			vals = append(vals, strconv.FormatInt(v, 10))
		}
	default:
		for _, v := range d.Floats {
			vals = append(vals, strconv.FormatFloat(v, 'g', -1, 64))
		}
	}
	return fmt.Sprintf("%s=[%s]", d.Key, strings.Join(vals, " "))
}

// MarshalBinary encodes d.
func (d Dict) MarshalBinary() ([]byte, error) {
	if len(d.Key) == 0 || len(d.Key) > math.MaxUint8 {
		return nil, fmt.Errorf("dict key length %d out of range", len(d.Key))
	}
	if d.Type > TypeFloat {
		return nil, fmt.Errorf("dict %q: unknown value type %d", d.Key, d.Type)
	}
	n := d.Len()
	if n > math.MaxUint8 {
		return nil, fmt.Errorf("dict %q: %d values, max %d", d.Key, n, math.MaxUint8)
	}

	buf := make([]byte, 0, 3+len(d.Key)+n*d.Type.size())
	buf = append(buf, byte(len(d.Key)))
	buf = append(buf, d.Key...)
	buf = append(buf, byte(d.Type), byte(n))
	switch d.Type {
	case TypeBool:
		for _, b := range d.Bools {
			if b {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
		}
	case TypeInt:
		for _, v := range d.Ints {
			buf = binary.LittleEndian.AppendUint64(buf, uint64(v))
		}
	case TypeFloat:
		for _, v := range d.Floats {
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
		}
	}
	return buf, nil
}

// UnmarshalBinary decodes a Dict from data.
func (d *Dict) UnmarshalBinary(data []byte) error {
	if len(data) < 1 {
		return fmt.Errorf("dict: empty payload")
	}
	keyLen := int(data[0])
	if keyLen == 0 {
		return fmt.Errorf("dict: empty key")
	}
	if len(data) < 1+keyLen+2 {
		return fmt.Errorf("dict: payload too short for key of %d bytes", keyLen)
	}
	key := string(data[1 : 1+keyLen])
	typ := ValueType(data[1+keyLen])
	if typ > TypeFloat {
		return fmt.Errorf("dict %q: unknown value type %d", key, typ)
	}
	count := int(data[2+keyLen])
	body := data[3+keyLen:]
	if len(body) < count*typ.size() {
		return fmt.Errorf("dict %q: %d %s values need %d bytes, have %d", key, count, typ, count*typ.size(), len(body))
	}

	out := Dict{Key: key, Type: typ}
	switch typ {
	case TypeBool:
		out.Bools = make([]bool, count)
		for i := range out.Bools {
			out.Bools[i] = body[i] != 0
		}
	case TypeInt:
		out.Ints = make([]int64, count)
		for i := range out.Ints {
			out.Ints[i] = int64(binary.LittleEndian.Uint64(body[i*8:]))
		}
	case TypeFloat:
		out.Floats = make([]float64, count)
		for i := range out.Floats {
			out.Floats[i] = math.Float64frombits(binary.LittleEndian.Uint64(body[i*8:]))
		}
	}
	*d = out
	return nil
}

// ParseDict builds a Dict from command-line style arguments.
func ParseDict(key string, typ ValueType, args []string) (Dict, error) {
	d := Dict{Key: key, Type: typ}
	for _, a := range args {
		switch typ {
		case TypeBool:
			v, err := strconv.ParseBool(a)
			if err != nil {
				return Dict{}, fmt.Errorf("parse %q as bool: %w", a, err)
			}
			d.Bools = append(d.Bools, v)
		case TypeInt:
			v, err := strconv.ParseInt(a, 0, 64)
			if err != nil {
				return Dict{}, fmt.Errorf("parse %q as int: %w", a, err)
			}
			d.Ints = append(d.Ints, v)
		default:
			v, err := strconv.ParseFloat(a, 64)
			if err != nil {
				return Dict{}, fmt.Errorf("parse %q as float: %w", a, err)
			}
			d.Floats = append(d.Floats, v)
		}
	}
	if _, err := d.MarshalBinary(); err != nil {
		return Dict{}, err
	}
	return d, nil
}

// MarshalStr encodes a bare key, used to name the value a get request reads.
func MarshalStr(s string) ([]byte, error) {
	if len(s) == 0 || len(s) > math.MaxUint8 {
		return nil, fmt.Errorf("key length %d out of range", len(s))
	}
	buf := make([]byte, 0, 1+len(s))
	buf = append(buf, byte(len(s)))
	return append(buf, s...), nil
}

// UnmarshalStr decodes a key written by MarshalStr.
func UnmarshalStr(data []byte) (string, error) {
	if len(data) < 1 || len(data) < 1+int(data[0]) {
		return "", fmt.Errorf("str: payload too short")
	}
	return string(data[1 : 1+int(data[0])]), nil
}
