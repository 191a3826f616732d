package storage

import (
	"bytes"
	"encoding/binary"
	"math"
	"strconv"
	"strings"
)

func EncodeInt(val int64) []byte {
	ret := make([]byte, 8)
	binary.BigEndian.PutUint64(ret, uint64(val))
	return ret
}

func EncodeFloat(val float64) []byte {
	ret := make([]byte, 8)
	binary.BigEndian.PutUint64(ret, math.Float64bits(val))
	return ret
}

func EncodeBool(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}

func EncodeText(v string) []byte {
	return []byte(v)
}

func DecodeInt(value []byte) int64 {
	return int64(binary.BigEndian.Uint64(value))
}

func DecodeFloat(value []byte) float64 {
	return math.Float64frombits(binary.BigEndian.Uint64(value))
}

func DecodeBool(value []byte) bool {
	return value[0] == 1
}

func DecodeToString(value []byte, tp FieldTP) string {
	switch tp {
	case Int:
		return strconv.FormatInt(DecodeInt(value), 10)
	case Float:
		return strconv.FormatFloat(DecodeFloat(value), 'g', -1, 64)
	case Bool:
		if DecodeBool(value) {
			return "true"
		}
		return "false"
	default:
		return string(value)
	}
}

// Compare returns 0 if val1 == val2, <0 if val1 < val2 and >0 otherwise.
// Int and Float cells compare numerically against each other.
func Compare(val1 []byte, tp1 FieldTP, val2 []byte, tp2 FieldTP) int {
	switch tp1 {
	case Text, Bool:
		return bytes.Compare(val1, val2)
	case Int, Float:
		v1, v2 := numeric(val1, tp1), numeric(val2, tp2)
		switch {
		case v1 < v2:
			return -1
		case v1 > v2:
			return 1
		}
		return 0
	default:
		panic("unknown type on Compare")
	}
}

func numeric(value []byte, tp FieldTP) float64 {
	switch tp {
	case Int:
		return float64(DecodeInt(value))
	case Float:
		return DecodeFloat(value)
	default:
		panic("non numeric type")
	}
}

func Equal(val1 []byte, tp1 FieldTP, val2 []byte, tp2 FieldTP) []byte {
	return EncodeBool(Compare(val1, tp1, val2, tp2) == 0)
}

func NotEqual(val1 []byte, tp1 FieldTP, val2 []byte, tp2 FieldTP) []byte {
	return EncodeBool(Compare(val1, tp1, val2, tp2) != 0)
}

func Great(val1 []byte, tp1 FieldTP, val2 []byte, tp2 FieldTP) []byte {
	return EncodeBool(Compare(val1, tp1, val2, tp2) > 0)
}

func GreatEqual(val1 []byte, tp1 FieldTP, val2 []byte, tp2 FieldTP) []byte {
	return EncodeBool(Compare(val1, tp1, val2, tp2) >= 0)
}

func Less(val1 []byte, tp1 FieldTP, val2 []byte, tp2 FieldTP) []byte {
	return EncodeBool(Compare(val1, tp1, val2, tp2) < 0)
}

func LessEqual(val1 []byte, tp1 FieldTP, val2 []byte, tp2 FieldTP) []byte {
	return EncodeBool(Compare(val1, tp1, val2, tp2) <= 0)
}

func And(val1, val2 []byte) []byte {
	return EncodeBool(DecodeBool(val1) && DecodeBool(val2))
}

func Or(val1, val2 []byte) []byte {
	return EncodeBool(DecodeBool(val1) || DecodeBool(val2))
}

// Add sums two numeric cells, widening to float when either side is float.
func Add(val1 []byte, tp1 FieldTP, val2 []byte, tp2 FieldTP) []byte {
	if tp1 == Int && tp2 == Int {
		return EncodeInt(DecodeInt(val1) + DecodeInt(val2))
	}
	return EncodeFloat(numeric(val1, tp1) + numeric(val2, tp2))
}

func Max(val1 []byte, tp1 FieldTP, val2 []byte, tp2 FieldTP) []byte {
	if Compare(val1, tp1, val2, tp2) >= 0 {
		return val1
	}
	return val2
}

func Min(val1 []byte, tp1 FieldTP, val2 []byte, tp2 FieldTP) []byte {
	if Compare(val1, tp1, val2, tp2) <= 0 {
		return val1
	}
	return val2
}

// HashKey canonicalizes a cell for hashing and equality across compatible
// numeric types, so an int key and a float key with the same value land in
// the same partition and match in a join.
func HashKey(value []byte, tp FieldTP) []byte {
	if tp == Int {
		return EncodeFloat(float64(DecodeInt(value)))
	}
	return value
}

// TryCast converts a cell to the target type. ok is false on malformed input,
// which the caller must turn into a null cell rather than an error.
func TryCast(value []byte, from, to FieldTP) (ret []byte, ok bool) {
	if from == to {
		return value, true
	}
	switch to {
	case Int:
		switch from {
		case Float:
			return EncodeInt(int64(DecodeFloat(value))), true
		case Text:
			v, err := strconv.ParseInt(strings.TrimSpace(string(value)), 10, 64)
			if err != nil {
				return nil, false
			}
			return EncodeInt(v), true
		}
	case Float:
		switch from {
		case Int:
			return EncodeFloat(float64(DecodeInt(value))), true
		case Text:
			v, err := strconv.ParseFloat(strings.TrimSpace(string(value)), 64)
			if err != nil {
				return nil, false
			}
			return EncodeFloat(v), true
		}
	case Text:
		return EncodeText(DecodeToString(value, from)), true
	case Bool:
		if from == Text {
			switch strings.ToLower(strings.TrimSpace(string(value))) {
			case "true":
				return EncodeBool(true), true
			case "false":
				return EncodeBool(false), true
			}
			return nil, false
		}
	}
	return nil, false
}
