// Package serializer converts message bodies between Go values and JSON wire
// bytes, optionally substituting defaults instead of failing.
package serializer

import (
	"encoding"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	errspkg "github.com/drblury/eventstream/internal/runtime/errors"
	jsoncodec "github.com/drblury/eventstream/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/eventstream/internal/runtime/logging"
)

const (
	opSerialize   = "serialize"
	opDeserialize = "deserialize"
)

// Enum is implemented by enumerated types that travel as their underlying value.
type Enum interface {
	EnumValue() any
}

// Hook converts a value JSON cannot encode natively. It reports false when it
// does not handle v.
type Hook func(v any) (any, bool)

// UnsupportedTypeError is produced when no hook can convert a value.
type UnsupportedTypeError struct {
	Type reflect.Type
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("type not serializable: %s", e.Type)
}

// Option configures a JSON serializer.
type Option func(*JSON)

// WithGraceful enables graceful mode.
func WithGraceful(graceful bool) Option {
	return func(s *JSON) { s.graceful = graceful }
}

// WithHooks appends encoding hooks. They run before the built-in ones.
func WithHooks(hooks ...Hook) Option {
	return func(s *JSON) { s.hooks = append(s.hooks, hooks...) }
}

// WithLogger sets the logger used to report failures.
func WithLogger(logger loggingpkg.ServiceLogger) Option {
	return func(s *JSON) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// JSON is the default message body serializer.
type JSON struct {
	mu                  sync.RWMutex
	graceful            bool
	serializedDefault   []byte
	deserializedDefault any
	hooks               []Hook
	logger              loggingpkg.ServiceLogger
}

// NewJSON returns a serializer with defaults of {} for both directions.
func NewJSON(opts ...Option) *JSON {
	s := &JSON{
		serializedDefault:   []byte("{}"),
		deserializedDefault: map[string]any{},
		logger:              loggingpkg.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *JSON) Graceful() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graceful
}

func (s *JSON) SetGraceful(graceful bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graceful = graceful
}

// SetDefaults replaces the values substituted in graceful mode.
func (s *JSON) SetDefaults(serialized []byte, deserialized any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serializedDefault = append([]byte(nil), serialized...)
	s.deserializedDefault = deserialized
}

// Serialize encodes data as JSON.
func (s *JSON) Serialize(data any) ([]byte, error) {
	normalized, err := s.normalize(reflect.ValueOf(data))
	if err == nil {
		var out []byte
		out, err = jsoncodec.Marshal(normalized)
		if err == nil {
			return out, nil
		}
	}

	s.logger.Error("Message serialization error", err, loggingpkg.LogFields{"type": fmt.Sprintf("%T", data)})

	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.graceful {
		return nil, &errspkg.SerializationError{Op: opSerialize, Err: err}
	}
	return append([]byte(nil), s.serializedDefault...), nil
}

// Deserialize decodes a UTF-8 JSON body.
func (s *JSON) Deserialize(wire []byte) (any, error) {
	if !utf8.Valid(wire) {
		return s.deserializeFailed(fmt.Errorf("body is not valid UTF-8"))
	}
	return s.DeserializeText(string(wire))
}

// DeserializeText decodes a JSON document that is already text.
func (s *JSON) DeserializeText(text string) (any, error) {
	var out any
	if err := jsoncodec.UnmarshalString(text, &out); err != nil {
		return s.deserializeFailed(err)
	}
	return out, nil
}

func (s *JSON) deserializeFailed(err error) (any, error) {
	s.logger.Error("Error deserializing message body", err, nil)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.graceful {
		return nil, &errspkg.SerializationError{Op: opDeserialize, Err: err}
	}
	return s.deserializedDefault, nil
}

var (
	jsonMarshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// maxDepth bounds nesting, which also stops hooks that keep producing new
// values.
const maxDepth = 1000

// CircularReferenceError is produced when a value contains itself.
type CircularReferenceError struct {
	Type reflect.Type
}

func (e *CircularReferenceError) Error() string {
	return fmt.Sprintf("circular reference through %s", e.Type)
}

type visit struct {
	ptr uintptr
	typ reflect.Type
	n   int
}

// walker carries the state of one normalize call.
type walker struct {
	s     *JSON
	depth int
	path  map[visit]struct{}
}

// normalize rewrites data into values the JSON codec understands, applying
// hooks to anything it would otherwise reject or render poorly.
func (s *JSON) normalize(v reflect.Value) (any, error) {
	w := &walker{s: s, path: make(map[visit]struct{})}
	return w.walk(v)
}

func (w *walker) walk(v reflect.Value) (any, error) {
	if !v.IsValid() {
		return nil, nil
	}
	if v.Kind() == reflect.Interface || v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, nil
		}
	}

	w.depth++
	defer func() { w.depth-- }()
	if w.depth > maxDepth {
		return nil, fmt.Errorf("value nested deeper than %d levels", maxDepth)
	}

	if v.CanInterface() {
		raw := v.Interface()
		for _, hook := range w.s.hooks {
			if converted, ok := hook(raw); ok {
				return w.walk(reflect.ValueOf(converted))
			}
		}
		if converted, ok := builtinHook(raw); ok {
			return w.walk(reflect.ValueOf(converted))
		}
		if v.Type().Implements(jsonMarshalerType) || v.Type().Implements(textMarshalerType) {
			return raw, nil
		}
	}

	switch v.Kind() {
	case reflect.Interface:
		return w.walk(v.Elem())
	case reflect.Pointer:
		leave, err := w.enter(v, 0)
		if err != nil {
			return nil, err
		}
		defer leave()
		return w.walk(v.Elem())
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return v.Interface(), nil
	case reflect.Struct:
		return w.walkStruct(v)
	case reflect.Slice:
		if v.IsNil() {
			return nil, nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return v.Interface(), nil
		}
		leave, err := w.enter(v, v.Len())
		if err != nil {
			return nil, err
		}
		defer leave()
		return w.walkList(v)
	case reflect.Array:
		return w.walkList(v)
	case reflect.Map:
		if v.IsNil() {
			return nil, nil
		}
		leave, err := w.enter(v, 0)
		if err != nil {
			return nil, err
		}
		defer leave()
		return w.walkMap(v)
	default:
		return nil, &UnsupportedTypeError{Type: v.Type()}
	}
}

// enter records v on the current path and fails if it is already there.
func (w *walker) enter(v reflect.Value, n int) (func(), error) {
	key := visit{ptr: v.Pointer(), typ: v.Type(), n: n}
	if _, seen := w.path[key]; seen {
		return nil, &CircularReferenceError{Type: v.Type()}
	}
	w.path[key] = struct{}{}
	return func() { delete(w.path, key) }, nil
}

func (w *walker) walkList(v reflect.Value) (any, error) {
	out := make([]any, v.Len())
	for i := range out {
		item, err := w.walk(v.Index(i))
		if err != nil {
			return nil, err
		}
		out[i] = item
	}
	return out, nil
}

func (w *walker) walkMap(v reflect.Value) (any, error) {
	out := make(map[string]any, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		key, err := mapKey(iter.Key())
		if err != nil {
			return nil, err
		}
		item, err := w.walk(iter.Value())
		if err != nil {
			return nil, err
		}
		out[key] = item
	}
	return out, nil
}

// walkStruct renders the exported fields of v as an object, keyed and
// filtered by their json tags.
func (w *walker) walkStruct(v reflect.Value) (any, error) {
	fields := cachedFields(v.Type())
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		fv, ok := fieldByIndex(v, f.index)
		if !ok {
			continue
		}
		if f.omitEmpty && isEmptyValue(fv) {
			continue
		}
		item, err := w.walk(fv)
		if err != nil {
			return nil, err
		}
		out[f.name] = item
	}
	return out, nil
}

// fieldByIndex follows index through embedded pointers, reporting false when
// one of them is nil.
func fieldByIndex(v reflect.Value, index []int) (reflect.Value, bool) {
	for i, x := range index {
		if i > 0 && v.Kind() == reflect.Pointer {
			if v.IsNil() {
				return reflect.Value{}, false
			}
			v = v.Elem()
		}
		v = v.Field(x)
	}
	return v, true
}

func mapKey(k reflect.Value) (string, error) {
	switch k.Kind() {
	case reflect.String:
		return k.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(k.Uint(), 10), nil
	}
	if tm, ok := k.Interface().(encoding.TextMarshaler); ok {
		text, err := tm.MarshalText()
		if err != nil {
			return "", err
		}
		return string(text), nil
	}
	return "", &UnsupportedTypeError{Type: k.Type()}
}

func builtinHook(v any) (any, bool) {
	switch value := v.(type) {
	case time.Time:
		return value.Format(time.RFC3339Nano), true
	case time.Duration:
		return value.String(), true
	case uuid.UUID:
		return value.String(), true
	case Enum:
		return value.EnumValue(), true
	}
	return setElements(v)
}

var emptyStructType = reflect.TypeOf(struct{}{})

// setElements turns a map[K]struct{} into a list of its keys. Keys are sorted
// by their printed form so the output is stable.
func setElements(v any) (any, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Elem() != emptyStructType {
		return nil, false
	}
	keys := rv.MapKeys()
	sort.Slice(keys, func(i, j int) bool {
		return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
	})
	out := make([]any, len(keys))
	for i, key := range keys {
		out[i] = key.Interface()
	}
	return out, true
}

type field struct {
	name      string
	index     []int
	omitEmpty bool
	tagged    bool
	depth     int
}

var fieldCache sync.Map // reflect.Type -> []field

func cachedFields(t reflect.Type) []field {
	if f, ok := fieldCache.Load(t); ok {
		return f.([]field)
	}
	f, _ := fieldCache.LoadOrStore(t, typeFields(t))
	return f.([]field)
}

// typeFields lists the fields encoding/json would emit for t. Untagged
// embedded structs are flattened breadth first.
func typeFields(t reflect.Type) []field {
	type level struct {
		typ   reflect.Type
		index []int
	}
	var fields []field
	next := []level{{typ: t}}
	visited := make(map[reflect.Type]bool)

	for depth := 0; len(next) > 0; depth++ {
		current := next
		next = nil
		for _, l := range current {
			if visited[l.typ] {
				continue
			}
			visited[l.typ] = true

			for i := 0; i < l.typ.NumField(); i++ {
				sf := l.typ.Field(i)
				ft := sf.Type
				if sf.Anonymous {
					if ft.Kind() == reflect.Pointer {
						ft = ft.Elem()
					}
					if !sf.IsExported() && (ft.Kind() != reflect.Struct || sf.Type.Kind() == reflect.Pointer) {
						continue
					}
				} else if !sf.IsExported() {
					continue
				}

				tag := sf.Tag.Get("json")
				if tag == "-" {
					continue
				}
				name, opts, _ := strings.Cut(tag, ",")
				index := append(append([]int(nil), l.index...), i)

				if name == "" && sf.Anonymous && ft.Kind() == reflect.Struct {
					next = append(next, level{typ: ft, index: index})
					continue
				}
				f := field{name: name, index: index, tagged: name != "", depth: depth}
				if f.name == "" {
					f.name = sf.Name
				}
				for opts != "" {
					var opt string
					opt, opts, _ = strings.Cut(opts, ",")
					if opt == "omitempty" {
						f.omitEmpty = true
					}
				}
				fields = append(fields, f)
			}
		}
	}
	return dominantFields(fields)
}

// dominantFields resolves name clashes: the shallowest field wins, then the
// only tagged one among equals. Unresolvable clashes drop the name.
func dominantFields(fields []field) []field {
	groups := make(map[string][]field)
	var order []string
	for _, f := range fields {
		if _, ok := groups[f.name]; !ok {
			order = append(order, f.name)
		}
		groups[f.name] = append(groups[f.name], f)
	}

	out := make([]field, 0, len(order))
	for _, name := range order {
		group := groups[name]
		shallowest := group[0].depth
		for _, f := range group[1:] {
			if f.depth < shallowest {
				shallowest = f.depth
			}
		}
		var top, tagged []field
		for _, f := range group {
			if f.depth != shallowest {
				continue
			}
			top = append(top, f)
			if f.tagged {
				tagged = append(tagged, f)
			}
		}
		switch {
		case len(top) == 1:
			out = append(out, top[0])
		case len(tagged) == 1:
			out = append(out, tagged[0])
		}
	}
	return out
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Interface, reflect.Pointer:
		return v.IsNil()
	}
	return false
}
