package eventlog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
)

// DeletedStream is the truncate-before value marking a soft-deleted stream
// and the event number of a hard-delete tombstone.
const DeletedStream int64 = math.MaxInt64

// Reserved metadata keys.
const (
	metaMaxCount     = "$maxCount"
	metaMaxAge       = "$maxAge"
	metaTruncate     = "$tb"
	metaCacheControl = "$cacheControl"
	metaACL          = "$acl"

	aclRead      = "$r"
	aclWrite     = "$w"
	aclDelete    = "$d"
	aclMetaRead  = "$mr"
	aclMetaWrite = "$mw"
)

var (
	// ErrPropertyNotFound is returned when a custom metadata key is absent.
	ErrPropertyNotFound = errors.New("metadata property not found")
	// ErrPropertyType is matched by PropertyTypeError.
	ErrPropertyType = errors.New("metadata property type mismatch")
)

// PropertyTypeError reports a custom metadata property read as the wrong kind.
type PropertyTypeError struct {
	Key  string
	Want PropertyKind
	Got  PropertyKind
}

func (e *PropertyTypeError) Error() string {
	return fmt.Sprintf("metadata property %q is %s, not %s", e.Key, e.Got, e.Want)
}

func (e *PropertyTypeError) Is(target error) bool {
	return target == ErrPropertyType
}

// PropertyKind is the JSON kind of a custom metadata property.
type PropertyKind int

const (
	PropertyBool PropertyKind = iota + 1
	PropertyInt
	PropertyFloat
	PropertyString
	PropertyJSON
)

func (k PropertyKind) String() string {
	switch k {
	case PropertyBool:
		return "bool"
	case PropertyInt:
		return "int"
	case PropertyFloat:
		return "float"
	case PropertyString:
		return "string"
	case PropertyJSON:
		return "json"
	default:
		return "unknown"
	}
}

// PropertyValue is a typed custom metadata value.
type PropertyValue struct {
	kind PropertyKind
	b    bool
	i    int64
	f    float64
	s    string
	raw  json.RawMessage
}

// BoolValue returns a boolean property.
func BoolValue(v bool) PropertyValue { return PropertyValue{kind: PropertyBool, b: v} }

// IntValue returns an integer property.
func IntValue(v int64) PropertyValue { return PropertyValue{kind: PropertyInt, i: v} }

// FloatValue returns a floating point property.
func FloatValue(v float64) PropertyValue { return PropertyValue{kind: PropertyFloat, f: v} }

// StringValue returns a string property.
func StringValue(v string) PropertyValue { return PropertyValue{kind: PropertyString, s: v} }

// JSONValue returns a property holding raw JSON. raw is copied.
func JSONValue(raw []byte) PropertyValue {
	return PropertyValue{kind: PropertyJSON, raw: bytes.Clone(raw)}
}

// Kind returns the type of the property.
func (p PropertyValue) Kind() PropertyKind { return p.kind }

func (p PropertyValue) MarshalJSON() ([]byte, error) {
	switch p.kind {
	case PropertyBool:
		return json.Marshal(p.b)
	case PropertyInt:
		return json.Marshal(p.i)
	case PropertyFloat:
		return json.Marshal(p.f)
	case PropertyString:
		return json.Marshal(p.s)
	case PropertyJSON:
		if len(p.raw) == 0 {
			return []byte("null"), nil
		}
		return p.raw, nil
	default:
		return nil, fmt.Errorf("marshal metadata property: unknown kind %d", p.kind)
	}
}

func parsePropertyValue(raw json.RawMessage) (PropertyValue, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return PropertyValue{}, errors.New("empty value")
	}
	switch trimmed[0] {
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(trimmed, &b); err != nil {
			return PropertyValue{}, err
		}
		return BoolValue(b), nil
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return PropertyValue{}, err
		}
		return StringValue(s), nil
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		if i, err := strconv.ParseInt(string(trimmed), 10, 64); err == nil {
			return IntValue(i), nil
		}
		f, err := strconv.ParseFloat(string(trimmed), 64)
		if err != nil {
			return PropertyValue{}, err
		}
		return FloatValue(f), nil
	default:
		return JSONValue(trimmed), nil
	}
}

// StreamACL holds the roles of a stream's access control list.
type StreamACL struct {
	ReadRole      string
	WriteRole     string
	DeleteRole    string
	MetaReadRole  string
	MetaWriteRole string
}

// StreamMetadata is the content of a metastream event. Unset fields are nil.
type StreamMetadata struct {
	MaxCount       *int64
	MaxAge         *time.Duration
	TruncateBefore *int64
	CacheControl   *time.Duration
	ACL            *StreamACL

	custom map[string]PropertyValue
}

func ptr[T any](v T) *T { return &v }

// Clone returns a deep copy of m.
func (m StreamMetadata) Clone() StreamMetadata {
	out := StreamMetadata{}
	if m.MaxCount != nil {
		out.MaxCount = ptr(*m.MaxCount)
	}
	if m.MaxAge != nil {
		out.MaxAge = ptr(*m.MaxAge)
	}
	if m.TruncateBefore != nil {
		out.TruncateBefore = ptr(*m.TruncateBefore)
	}
	if m.CacheControl != nil {
		out.CacheControl = ptr(*m.CacheControl)
	}
	if m.ACL != nil {
		out.ACL = ptr(*m.ACL)
	}
	if len(m.custom) > 0 {
		out.custom = make(map[string]PropertyValue, len(m.custom))
		for k, v := range m.custom {
			out.custom[k] = v
		}
	}
	return out
}

func (m StreamMetadata) WithMaxCount(n int64) StreamMetadata {
	out := m.Clone()
	out.MaxCount = &n
	return out
}

// WithMaxAge sets $maxAge. It is stored in whole seconds, so d is rounded
// up to the next second.
func (m StreamMetadata) WithMaxAge(d time.Duration) StreamMetadata {
	out := m.Clone()
	d = ceilSeconds(d)
	out.MaxAge = &d
	return out
}

func (m StreamMetadata) WithTruncateBefore(n int64) StreamMetadata {
	out := m.Clone()
	out.TruncateBefore = &n
	return out
}

// WithCacheControl sets $cacheControl, rounded up to the next second.
func (m StreamMetadata) WithCacheControl(d time.Duration) StreamMetadata {
	out := m.Clone()
	d = ceilSeconds(d)
	out.CacheControl = &d
	return out
}

func (m StreamMetadata) WithACL(acl StreamACL) StreamMetadata {
	out := m.Clone()
	out.ACL = &acl
	return out
}

// WithDeleteRole sets the delete role, keeping the other ACL roles.
func (m StreamMetadata) WithDeleteRole(role string) StreamMetadata {
	out := m.Clone()
	if out.ACL == nil {
		out.ACL = &StreamACL{}
	}
	out.ACL.DeleteRole = role
	return out
}

// WithCustomProperty sets a custom property. The keys of the typed fields
// ($tb, $maxCount, $maxAge, $cacheControl and $acl) are reserved and cause a
// panic. Any other key is accepted, as ParseStreamMetadata keeps it.
func (m StreamMetadata) WithCustomProperty(key string, v PropertyValue) StreamMetadata {
	if reservedKey(key) {
		panic(fmt.Sprintf("metadata key %q is reserved", key))
	}
	out := m.Clone()
	if out.custom == nil {
		out.custom = make(map[string]PropertyValue)
	}
	out.custom[key] = v
	return out
}

// TruncateBeforeOrZero returns the truncate-before value, 0 when unset.
func (m StreamMetadata) TruncateBeforeOrZero() int64 {
	if m.TruncateBefore == nil {
		return 0
	}
	return *m.TruncateBefore
}

// IsSoftDeleted reports whether the metadata hides every event of the stream.
func (m StreamMetadata) IsSoftDeleted() bool {
	return m.TruncateBefore != nil && *m.TruncateBefore == DeletedStream
}

// CustomKeys returns the custom property keys in sorted order.
func (m StreamMetadata) CustomKeys() []string {
	keys := make([]string, 0, len(m.custom))
	for k := range m.custom {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CustomProperty returns the raw custom property for key.
func (m StreamMetadata) CustomProperty(key string) (PropertyValue, bool) {
	v, ok := m.custom[key]
	return v, ok
}

func (m StreamMetadata) property(key string, want PropertyKind) (PropertyValue, error) {
	v, ok := m.custom[key]
	if !ok {
		return PropertyValue{}, fmt.Errorf("metadata property %q: %w", key, ErrPropertyNotFound)
	}
	if v.kind != want {
		return PropertyValue{}, &PropertyTypeError{Key: key, Want: want, Got: v.kind}
	}
	return v, nil
}

func (m StreamMetadata) GetBool(key string) (bool, error) {
	v, err := m.property(key, PropertyBool)
	return v.b, err
}

func (m StreamMetadata) GetInt(key string) (int64, error) {
	v, err := m.property(key, PropertyInt)
	return v.i, err
}

// GetFloat accepts both integer and float properties.
func (m StreamMetadata) GetFloat(key string) (float64, error) {
	if v, ok := m.custom[key]; ok && v.kind == PropertyInt {
		return float64(v.i), nil
	}
	v, err := m.property(key, PropertyFloat)
	return v.f, err
}

func (m StreamMetadata) GetString(key string) (string, error) {
	v, err := m.property(key, PropertyString)
	return v.s, err
}

func (m StreamMetadata) GetJSON(key string) (json.RawMessage, error) {
	v, err := m.property(key, PropertyJSON)
	return v.raw, err
}

func (m StreamMetadata) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(m.custom)+5)
	for k, v := range m.custom {
		doc[k] = v
	}
	if m.MaxCount != nil {
		doc[metaMaxCount] = *m.MaxCount
	}
	if m.MaxAge != nil {
		doc[metaMaxAge] = int64(ceilSeconds(*m.MaxAge) / time.Second)
	}
	if m.TruncateBefore != nil {
		doc[metaTruncate] = *m.TruncateBefore
	}
	if m.CacheControl != nil {
		doc[metaCacheControl] = int64(ceilSeconds(*m.CacheControl) / time.Second)
	}
	if m.ACL != nil {
		acl := map[string]string{}
		setRole := func(key, role string) {
			if role != "" {
				acl[key] = role
			}
		}
		setRole(aclRead, m.ACL.ReadRole)
		setRole(aclWrite, m.ACL.WriteRole)
		setRole(aclDelete, m.ACL.DeleteRole)
		setRole(aclMetaRead, m.ACL.MetaReadRole)
		setRole(aclMetaWrite, m.ACL.MetaWriteRole)
		doc[metaACL] = acl
	}
	return json.Marshal(doc)
}

func (m *StreamMetadata) UnmarshalJSON(data []byte) error {
	parsed, err := ParseStreamMetadata(data)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseStreamMetadata decodes a metastream event payload.
func ParseStreamMetadata(data []byte) (StreamMetadata, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return StreamMetadata{}, fmt.Errorf("parse stream metadata: %w", err)
	}

	var m StreamMetadata
	for key, raw := range doc {
		switch key {
		case metaMaxCount:
			n, err := parseInt(key, raw)
			if err != nil {
				return StreamMetadata{}, err
			}
			m.MaxCount = &n
		case metaMaxAge:
			n, err := parseInt(key, raw)
			if err != nil {
				return StreamMetadata{}, err
			}
			m.MaxAge = ptr(time.Duration(n) * time.Second)
		case metaTruncate:
			n, err := parseInt(key, raw)
			if err != nil {
				return StreamMetadata{}, err
			}
			m.TruncateBefore = &n
		case metaCacheControl:
			n, err := parseInt(key, raw)
			if err != nil {
				return StreamMetadata{}, err
			}
			m.CacheControl = ptr(time.Duration(n) * time.Second)
		case metaACL:
			var acl map[string]string
			if err := json.Unmarshal(raw, &acl); err != nil {
				return StreamMetadata{}, fmt.Errorf("parse stream metadata %s: %w", key, err)
			}
			m.ACL = &StreamACL{
				ReadRole:      acl[aclRead],
				WriteRole:     acl[aclWrite],
				DeleteRole:    acl[aclDelete],
				MetaReadRole:  acl[aclMetaRead],
				MetaWriteRole: acl[aclMetaWrite],
			}
		default:
			v, err := parsePropertyValue(raw)
			if err != nil {
				return StreamMetadata{}, fmt.Errorf("parse stream metadata %s: %w", key, err)
			}
			if m.custom == nil {
				m.custom = make(map[string]PropertyValue)
			}
			m.custom[key] = v
		}
	}
	return m, nil
}

func parseInt(key string, raw json.RawMessage) (int64, error) {
	n, err := strconv.ParseInt(string(bytes.TrimSpace(raw)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse stream metadata %s: %w", key, err)
	}
	return n, nil
}

func reservedKey(key string) bool {
	switch key {
	case metaTruncate, metaMaxCount, metaMaxAge, metaCacheControl, metaACL:
		return true
	}
	return false
}

func ceilSeconds(d time.Duration) time.Duration {
	if r := d % time.Second; r > 0 {
		d += time.Second - r
	}
	return d
}
