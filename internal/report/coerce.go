package report

import (
	"database/sql/driver"
	"encoding/hex"
	"fmt"
	"math"
	"math/big"
	"net"
	"net/netip"
	"reflect"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// Formatter renders one non-JSON-native value as text.
type Formatter func(v any) string

// formatters is the type dispatch table consulted before any fallback.
var formatters = map[reflect.Type]Formatter{
	reflect.TypeOf(time.Time{}): func(v any) string {
		return v.(time.Time).Format(time.RFC3339Nano)
	},
	reflect.TypeOf(time.Duration(0)): func(v any) string {
		return v.(time.Duration).String()
	},
	reflect.TypeOf(net.IP{}): func(v any) string {
		return v.(net.IP).String()
	},
	reflect.TypeOf(net.IPNet{}): func(v any) string {
		n := v.(net.IPNet)
		return n.String()
	},
	reflect.TypeOf(&net.IPNet{}): func(v any) string {
		return v.(*net.IPNet).String()
	},
	reflect.TypeOf(netip.Addr{}): func(v any) string {
		return v.(netip.Addr).String()
	},
	reflect.TypeOf(netip.Prefix{}): func(v any) string {
		return v.(netip.Prefix).String()
	},
	reflect.TypeOf(&big.Int{}): func(v any) string {
		return v.(*big.Int).String()
	},
	reflect.TypeOf(&big.Float{}): func(v any) string {
		return v.(*big.Float).Text('f', -1)
	},
	reflect.TypeOf(pgtype.Numeric{}): func(v any) string {
		return numericText(v.(pgtype.Numeric))
	},
	reflect.TypeOf([]byte(nil)): func(v any) string {
		return `\x` + hex.EncodeToString(v.([]byte))
	},
}

// RegisterFormatter adds or replaces the formatter for the dynamic type of
// sample. It is meant to be called from init functions.
func RegisterFormatter(sample any, f Formatter) {
	formatters[reflect.TypeOf(sample)] = f
}

func numericText(n pgtype.Numeric) string {
	if !n.Valid {
		return ""
	}
	if n.NaN {
		return "NaN"
	}
	switch n.InfinityModifier {
	case pgtype.Infinity:
		return "Infinity"
	case pgtype.NegativeInfinity:
		return "-Infinity"
	}
	v, err := n.Value()
	if err != nil || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// Coerce returns v unchanged when it has a natural JSON representation and
// its string form otherwise. Lookup order: JSON-native kinds, the dispatch
// table, driver.Valuer, fmt.Stringer, error, then fmt.Sprint.
func Coerce(v any) any {
	switch x := v.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return v
	case float32:
		return coerceFloat(float64(x), v)
	case float64:
		return coerceFloat(x, v)
	}

	if f, ok := formatters[reflect.TypeOf(v)]; ok {
		return f(v)
	}

	switch x := v.(type) {
	case driver.Valuer:
		dv, err := x.Value()
		if err == nil {
			if _, loops := dv.(driver.Valuer); !loops {
				return Coerce(dv)
			}
		}
	case fmt.Stringer:
		return x.String()
	case error:
		return x.Error()
	}

	return fmt.Sprint(v)
}

// NaN and the infinities have no JSON form.
func coerceFloat(f float64, orig any) any {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	default:
		return orig
	}
}
