package logger

import (
	"time"

	"github.com/rs/zerolog"
)

type fieldKind uint8

const (
	kindString fieldKind = iota
	kindInt64
	kindUint64
	kindFloat64
	kindBool
	kindDuration
	kindTime
	kindError
	kindAny
)

// Field is a typed key/value pair attached to a log entry.
type Field struct {
	Key  string
	kind fieldKind
	str  string
	i64  int64
	u64  uint64
	f64  float64
	b    bool
	t    time.Time
	err  error
	val  any
}

func String(key, value string) Field { return Field{Key: key, kind: kindString, str: value} }

func Int(key string, value int) Field { return Field{Key: key, kind: kindInt64, i64: int64(value)} }

func Int64(key string, value int64) Field { return Field{Key: key, kind: kindInt64, i64: value} }

func Uint64(key string, value uint64) Field { return Field{Key: key, kind: kindUint64, u64: value} }

func Float64(key string, value float64) Field {
	return Field{Key: key, kind: kindFloat64, f64: value}
}

func Bool(key string, value bool) Field { return Field{Key: key, kind: kindBool, b: value} }

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, kind: kindDuration, i64: int64(value)}
}

func Time(key string, value time.Time) Field { return Field{Key: key, kind: kindTime, t: value} }

// Error attaches err under the "error" key. A nil error is dropped.
func Error(err error) Field { return Field{Key: zerolog.ErrorFieldName, kind: kindError, err: err} }

func Any(key string, value any) Field { return Field{Key: key, kind: kindAny, val: value} }

func (f Field) applyEvent(ev *zerolog.Event) *zerolog.Event {
	switch f.kind {
	case kindString:
		return ev.Str(f.Key, f.str)
	case kindInt64:
		return ev.Int64(f.Key, f.i64)
	case kindUint64:
		return ev.Uint64(f.Key, f.u64)
	case kindFloat64:
		return ev.Float64(f.Key, f.f64)
	case kindBool:
		return ev.Bool(f.Key, f.b)
	case kindDuration:
		return ev.Dur(f.Key, time.Duration(f.i64))
	case kindTime:
		return ev.Time(f.Key, f.t)
	case kindError:
		if f.err == nil {
			return ev
		}
		return ev.AnErr(f.Key, f.err)
	default:
		return ev.Interface(f.Key, f.val)
	}
}

func (f Field) applyContext(ctx zerolog.Context) zerolog.Context {
	switch f.kind {
	case kindString:
		return ctx.Str(f.Key, f.str)
	case kindInt64:
		return ctx.Int64(f.Key, f.i64)
	case kindUint64:
		return ctx.Uint64(f.Key, f.u64)
	case kindFloat64:
		return ctx.Float64(f.Key, f.f64)
	case kindBool:
		return ctx.Bool(f.Key, f.b)
	case kindDuration:
		return ctx.Dur(f.Key, time.Duration(f.i64))
	case kindTime:
		return ctx.Time(f.Key, f.t)
	case kindError:
		if f.err == nil {
			return ctx
		}
		return ctx.AnErr(f.Key, f.err)
	default:
		return ctx.Interface(f.Key, f.val)
	}
}
