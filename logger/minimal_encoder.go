package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

const (
	colorReset = "\x1b[0m"
	colorBold  = "\x1b[1m"
)

type palette struct {
	fg       string
	time     string
	id       string
	number   string
	stage    string
	warn     string
	warnBg   string
	err      string
	errBg    string
	accentA  string
	accentB  string
	accentC  string
	disabled bool
}

// Everforest Dark (natural forest greens)
var everforest = palette{
	fg:      "\x1b[38;5;223m",
	time:    "\x1b[38;5;107m",
	id:      "\x1b[38;5;109m",
	number:  "\x1b[38;5;108m",
	stage:   "\x1b[38;5;208m",
	warn:    "\x1b[38;5;179m",
	warnBg:  "\x1b[48;5;58m",
	err:     "\x1b[38;5;167m",
	errBg:   "\x1b[48;5;52m",
	accentA: "\x1b[38;5;108m",
	accentB: "\x1b[38;5;65m",
	accentC: "\x1b[38;5;208m",
}

// Gruvbox Dark (warm, muted)
var gruvbox = palette{
	fg:      "\x1b[38;5;223m",
	time:    "\x1b[38;5;108m",
	id:      "\x1b[38;5;109m",
	number:  "\x1b[38;5;175m",
	stage:   "\x1b[38;5;208m",
	warn:    "\x1b[38;5;214m",
	warnBg:  "\x1b[48;5;58m",
	err:     "\x1b[38;5;167m",
	errBg:   "\x1b[48;5;88m",
	accentA: "\x1b[38;5;208m",
	accentB: "\x1b[38;5;214m",
	accentC: "\x1b[38;5;142m",
}

// plain disables colour (NO_COLOR / "none" theme)
var plain = palette{disabled: true}

var currentTheme = "everforest"

// SetTheme configures the color scheme for log output: everforest, gruvbox or none.
func SetTheme(theme string) {
	switch theme {
	case "everforest", "gruvbox", "none":
		currentTheme = theme
	}
}

func colors() palette {
	switch currentTheme {
	case "gruvbox":
		return gruvbox
	case "none":
		return plain
	default:
		return everforest
	}
}

func (p palette) paint(color, s string) string {
	if p.disabled || color == "" {
		return s
	}
	return color + s + colorReset
}

func (p palette) component(name string) string {
	hash := 0
	for _, c := range name {
		hash += int(c)
	}
	switch hash % 3 {
	case 0:
		return p.accentA
	case 1:
		return p.accentB
	default:
		return p.accentC
	}
}

// minimalEncoder implements a calm, compact console encoder.
// Format: "13:04:35  p.pipeline  Stage complete  traffic.mp4 [annotating] 1532ms"
type minimalEncoder struct {
	zapcore.Encoder
	fields []zapcore.Field // fields added via With()
}

func newMinimalEncoder() *minimalEncoder {
	return &minimalEncoder{
		Encoder: zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
	}
}

func (enc *minimalEncoder) Clone() zapcore.Encoder {
	fields := make([]zapcore.Field, len(enc.fields))
	copy(fields, enc.fields)
	return &minimalEncoder{
		Encoder: enc.Encoder.Clone(),
		fields:  fields,
	}
}

func (enc *minimalEncoder) AddString(key, value string) {
	enc.fields = append(enc.fields, zap.String(key, value))
}

func (enc *minimalEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	p := colors()
	final := buffer.NewPool().Get()

	final.AppendString(p.paint(p.time, ent.Time.Format("15:04:05")))

	// Level: only shown for WARN and above
	if ent.Level > zapcore.InfoLevel || ent.Level == zapcore.DebugLevel {
		final.AppendString("  ")
		final.AppendString(levelString(p, ent.Level))
	}

	if ent.LoggerName != "" {
		final.AppendString("  ")
		final.AppendString(p.paint(p.component(ent.LoggerName), abbreviateName(ent.LoggerName)))
	}

	final.AppendString("  ")
	final.AppendString(p.paint(p.fg, ent.Message))

	all := append(append([]zapcore.Field{}, enc.fields...), fields...)
	if values := extractFieldValues(p, all); values != "" {
		final.AppendString("  ")
		final.AppendString(values)
	}

	final.AppendString("\n")
	return final, nil
}

func levelString(p palette, level zapcore.Level) string {
	switch level {
	case zapcore.DebugLevel:
		return p.paint(p.id, "DEBUG")
	case zapcore.WarnLevel:
		if p.disabled {
			return "WARN"
		}
		return colorBold + p.warnBg + p.warn + "WARN" + colorReset
	default:
		if p.disabled {
			return level.CapitalString()
		}
		return colorBold + p.errBg + p.err + level.CapitalString() + colorReset
	}
}

// abbreviateName shortens component names: pipeline -> pipeline, pulse.worker -> p.worker
func abbreviateName(name string) string {
	parts := strings.Split(name, ".")
	if len(parts) > 1 {
		return string(parts[0][0]) + "." + strings.Join(parts[1:], ".")
	}
	return name
}

// getFieldValue extracts the value from a zap field, handling different field types
func getFieldValue(field zapcore.Field) string {
	switch field.Type {
	case zapcore.StringType:
		return field.String
	case zapcore.Int64Type, zapcore.Int32Type, zapcore.Int16Type, zapcore.Int8Type,
		zapcore.Uint64Type, zapcore.Uint32Type, zapcore.Uint16Type, zapcore.Uint8Type:
		return fmt.Sprintf("%d", field.Integer)
	case zapcore.ErrorType:
		if err, ok := field.Interface.(error); ok {
			return err.Error()
		}
	}
	if field.Interface != nil {
		return fmt.Sprintf("%v", field.Interface)
	}
	return ""
}

// extractFieldValues renders the fields that matter when reading a console:
// video name, job id, stage, progress, duration, error. Everything else is
// left to JSON output.
func extractFieldValues(p palette, fields []zapcore.Field) string {
	var values []string
	for _, field := range fields {
		val := getFieldValue(field)
		if val == "" {
			continue
		}
		switch field.Key {
		case FieldVideo:
			values = append(values, p.paint(p.id, val))
		case FieldJobID:
			if len(val) > 8 {
				val = val[:8]
			}
			values = append(values, p.paint(p.id, "job:"+val))
		case FieldStage:
			values = append(values, p.paint(p.stage, "["+val+"]"))
		case FieldProgress:
			values = append(values, p.paint(p.number, val)+"%")
		case FieldDurationMS:
			values = append(values, p.paint(p.number, val)+"ms")
		case FieldError:
			values = append(values, p.paint(p.err, val))
		}
	}
	return strings.Join(values, " ")
}
