// Package model holds the declarative, immutable description of Operating
// Units and the fixed metrics vector recorded for every invocation. Nothing
// here depends on a running kernel, a loaded probe program, or a live
// connection; it is pure data, constructed once and never mutated.
package model

import "fmt"

// BPFType names the primitive numeric kind carried by a metric or feature
// field. Floating point values are transported as raw integer bit patterns
// of equal width and reinterpreted on the way out (see internal/processor).
type BPFType string

const (
	TypeI8     BPFType = "i8"
	TypeI16    BPFType = "i16"
	TypeI32    BPFType = "i32"
	TypeI64    BPFType = "i64"
	TypeU8     BPFType = "u8"
	TypeU16    BPFType = "u16"
	TypeU32    BPFType = "u32"
	TypeU64    BPFType = "u64"
	TypeFloat  BPFType = "float"
	TypeDouble BPFType = "double"
)

// Width returns the size in bytes of a value of this type.
func (t BPFType) Width() int {
	switch t {
	case TypeI8, TypeU8:
		return 1
	case TypeI16, TypeU16:
		return 2
	case TypeI32, TypeU32, TypeFloat:
		return 4
	case TypeI64, TypeU64, TypeDouble:
		return 8
	default:
		return 8
	}
}

// CType returns the C type name used in generated probe program source.
func (t BPFType) CType() string {
	switch t {
	case TypeI8:
		return "int8_t"
	case TypeI16:
		return "int16_t"
	case TypeI32:
		return "int32_t"
	case TypeI64:
		return "int64_t"
	case TypeU8:
		return "uint8_t"
	case TypeU16:
		return "uint16_t"
	case TypeU32:
		return "uint32_t"
	case TypeU64:
		return "uint64_t"
	case TypeFloat:
		return "float"
	case TypeDouble:
		return "double"
	default:
		return "uint64_t"
	}
}

// IsFloating reports whether the type requires bit-pattern reinterpretation
// on readout instead of a plain decimal rendering.
func (t BPFType) IsFloating() bool {
	return t == TypeFloat || t == TypeDouble
}

// Field is a single named, typed member of a features payload or the
// metrics vector.
type Field struct {
	Name string
	Type BPFType
}

// Metric is a Field that additionally knows whether it participates in the
// cross-subinterval accumulator. start_time, end_time, pid and cpu_id are
// excluded per the accumulator rule in spec.md section 3.
type Metric struct {
	Field
	Accumulate bool
}

// metricsVector is the exact ordered set from spec.md section 3. The first
// metric carries the alignment of the containing record (8 bytes).
var metricsVector = []Metric{
	{Field{"start_time", TypeU64}, false},
	{Field{"end_time", TypeU64}, false},
	{Field{"cpu_cycles", TypeU64}, true},
	{Field{"instructions", TypeU64}, true},
	{Field{"cache_references", TypeU64}, true},
	{Field{"cache_misses", TypeU64}, true},
	{Field{"ref_cpu_cycles", TypeU64}, true},
	{Field{"network_bytes_read", TypeU64}, true},
	{Field{"network_bytes_written", TypeU64}, true},
	{Field{"disk_bytes_read", TypeU64}, true},
	{Field{"disk_bytes_written", TypeU64}, true},
	{Field{"memory_bytes", TypeU64}, true},
	{Field{"elapsed_us", TypeU64}, true},
	{Field{"invocation_count", TypeU64}, true},
	{Field{"pid", TypeU32}, false},
	{Field{"cpu_id", TypeU32}, false},
}

// Metrics returns the canonical metrics vector in emission order. The
// returned slice is a defensive copy; callers may not mutate the model.
func Metrics() []Metric {
	out := make([]Metric, len(metricsVector))
	copy(out, metricsVector)
	return out
}

// AccumulatedMetrics returns the subset of Metrics() that participates in
// the cross-subinterval accumulator (excludes start_time, end_time, pid,
// cpu_id), in emission order.
func AccumulatedMetrics() []Metric {
	var out []Metric
	for _, m := range metricsVector {
		if m.Accumulate {
			out = append(out, m)
		}
	}
	return out
}

// FirstMetricName returns the name of the first metric, used by the probe
// template for the begin-snapshot slot's alignment attribute.
func FirstMetricName() string {
	return metricsVector[0].Name
}

// FeaturesPayload describes the fixed per-OU record holding plan/query
// context. canonicalFeatures are present on every Operating Unit; an OU may
// additionally declare Extra fields for an operator-specific structured
// payload (none of the OUs enumerated in OUDefs use this, since per-operator
// clang-based field extraction is out of scope; Extra exists so the Model
// can still express one if a future OU needs it).
type FeaturesPayload struct {
	Extra []Field
}

// canonicalFeatures is the fixed small payload from spec.md section 3: plan
// node identity, query/db identity, statement timestamp, and one opaque
// operator-specific scalar.
var canonicalFeatures = []Field{
	{"plan_node_id", TypeI32},
	{"left_child_plan_node_id", TypeI32},
	{"right_child_plan_node_id", TypeI32},
	{"query_id", TypeU64},
	{"db_id", TypeU32},
	{"statement_timestamp", TypeU64},
	{"payload", TypeU64},
}

// Columns returns the ordered feature column names: the canonical fields
// followed by any OU-specific extra fields.
func (p FeaturesPayload) Columns() []string {
	cols := make([]string, 0, len(canonicalFeatures)+len(p.Extra))
	for _, f := range canonicalFeatures {
		cols = append(cols, f.Name)
	}
	for _, f := range p.Extra {
		cols = append(cols, f.Name)
	}
	return cols
}

// Fields returns the canonical fields followed by any extra fields, in
// on-wire order.
func (p FeaturesPayload) Fields() []Field {
	fields := make([]Field, 0, len(canonicalFeatures)+len(p.Extra))
	fields = append(fields, canonicalFeatures...)
	fields = append(fields, p.Extra...)
	return fields
}

// markerSuffixes are the four suffixes every Operating Unit derives its
// marker names from. Features has two variants per the either-or decision
// recorded in DESIGN.md.
const (
	suffixBegin           = "_begin"
	suffixEnd             = "_end"
	suffixFeatures        = "_features"
	suffixFeaturesPayload = "_features_payload"
	suffixFlush           = "_flush"
)

// OperatingUnit is an immutable record identified by a canonical function
// name. Index is assigned by iteration order of the Model and is the
// routing key between kernel and user space.
type OperatingUnit struct {
	Function string
	Index    int
	Features FeaturesPayload
}

// Name returns the canonical OU name, identical to Function. Kept as a
// distinct accessor because the original source distinguishes "the
// postgres function this OU instruments" from "the OU's display name";
// here they are the same string, but callers should use Name().
func (ou OperatingUnit) Name() string {
	return ou.Function
}

// BeginMarker returns the probe name fired when the OU invocation starts.
func (ou OperatingUnit) BeginMarker() string { return ou.Function + suffixBegin }

// EndMarker returns the probe name fired when the OU invocation ends.
func (ou OperatingUnit) EndMarker() string { return ou.Function + suffixEnd }

// FlushMarker returns the probe name fired when the frame's record should
// be emitted to the perf buffer and popped.
func (ou OperatingUnit) FlushMarker() string { return ou.Function + suffixFlush }

// FeatureMarkers returns the either-or pair of markers that may deliver the
// features payload: `_features` and `_features_payload`. Both are always
// attached; whichever fires first on an open frame wins (see
// internal/interval).
func (ou OperatingUnit) FeatureMarkers() []string {
	return []string{ou.Function + suffixFeatures, ou.Function + suffixFeaturesPayload}
}

// MarkerNames returns all four logical marker names the Interval Engine and
// Collector both attach probes for, matching Model.marker_names(ou) from
// spec.md section 4.1. The features slot holds both either-or variants.
func (ou OperatingUnit) MarkerNames() []string {
	names := []string{ou.BeginMarker(), ou.EndMarker()}
	names = append(names, ou.FeatureMarkers()...)
	names = append(names, ou.FlushMarker())
	return names
}

// FeaturesColumns returns the CSV header columns for this OU's features
// payload.
func (ou OperatingUnit) FeaturesColumns() []string {
	return ou.Features.Columns()
}

// Model is the finite ordered sequence of Operating Units plus the metrics
// vector, constructed once at process start and never mutated afterward.
type Model struct {
	units []OperatingUnit
}

// New builds a Model from OUDefs, assigning dense ordinal indices [0, N) in
// declaration order.
func New() *Model {
	units := make([]OperatingUnit, len(OUDefs))
	for i, name := range OUDefs {
		units[i] = OperatingUnit{
			Function: name,
			Index:    i,
			Features: FeaturesPayload{},
		}
	}
	return &Model{units: units}
}

// OperatingUnits returns the finite ordered sequence of OUs with stable
// indices across a run. The returned slice is a defensive copy.
func (m *Model) OperatingUnits() []OperatingUnit {
	out := make([]OperatingUnit, len(m.units))
	copy(out, m.units)
	return out
}

// ByIndex returns the OU with the given ordinal index.
func (m *Model) ByIndex(idx int) (OperatingUnit, error) {
	if idx < 0 || idx >= len(m.units) {
		return OperatingUnit{}, fmt.Errorf("model: ordinal index %d out of range [0, %d)", idx, len(m.units))
	}
	return m.units[idx], nil
}

// ByName returns the OU with the given canonical function name.
func (m *Model) ByName(name string) (OperatingUnit, bool) {
	for _, ou := range m.units {
		if ou.Function == name {
			return ou, true
		}
	}
	return OperatingUnit{}, false
}

// N returns the dense ordinal range size; both kernel and user side must
// agree on this value.
func (m *Model) N() int {
	return len(m.units)
}
