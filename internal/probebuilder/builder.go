// Package probebuilder assembles the full source text of the kernel probe
// program from versioned template fragments plus an internal/model.Model.
// It is a pure function of its inputs: the same Model and Params must
// always yield byte-identical output, so the generated program can be
// cached and verified (spec.md section 4.2).
//
// Substitution is deliberately NOT done with text/template: that package
// silently leaves unknown keys untouched or renders the zero value, which
// conflicts with the requirement that an unresolved placeholder is a build
// error rather than best-effort string replacement (spec.md section 9).
// Instead, substitution is a small hand-rolled pass over literal {{TOKEN}}
// markers, one token per replacement, with a final scan that rejects any
// leftover {{...}} in the output.
package probebuilder

import (
	"embed"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/cmu-db/tscout/internal/model"
)

//go:embed templates/collector.c.tmpl templates/markers.c.tmpl templates/lifecycle.c.tmpl
var templateFS embed.FS

var unresolvedToken = regexp.MustCompile(`\{\{[A-Za-z0-9_]+\}\}`)

// Params carries the runtime parameters the Builder needs beyond the Model
// itself: the online CPU count and an optional client socket file
// descriptor for network byte counting.
type Params struct {
	MaxCPUs        int
	ClientSocketFD *int
}

// substitute replaces every occurrence of {{key}} in src with its mapped
// value, for each entry in tokens, then errors if any {{...}} placeholder
// remains unresolved in the result.
func substitute(src string, tokens map[string]string) (string, error) {
	out := src
	for key, val := range tokens {
		out = strings.ReplaceAll(out, "{{"+key+"}}", val)
	}
	if loc := unresolvedToken.FindString(out); loc != "" {
		return "", fmt.Errorf("probebuilder: unresolved placeholder %s", loc)
	}
	return out, nil
}

// generateReadArgs produces the bpf_usdt_readarg[_p]() call sequence for an
// OU's features payload fields, mirroring generate_readargs in the original
// source. The first non-feature USDT argument is always the plan node id,
// so feature field indices start at 2.
func generateReadArgs(ou model.OperatingUnit) string {
	const nonFeatureArgs = 1
	var b strings.Builder
	for i, f := range ou.Features.Fields() {
		argIdx := i + 1 + nonFeatureArgs
		if f.Type.Width() > 8 {
			fmt.Fprintf(&b, "  bpf_usdt_readarg_p(%d, ctx, &(output->%s), sizeof(output->%s));\n", argIdx, f.Name, f.Name)
		} else {
			fmt.Fprintf(&b, "  bpf_usdt_readarg(%d, ctx, &(output->%s));\n", argIdx, f.Name)
		}
	}
	return b.String()
}

// generateFeaturesStruct renders the C struct declaration for an OU's
// features payload.
func generateFeaturesStruct(ou model.OperatingUnit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "struct %s_features_t {\n", ou.Function)
	for _, f := range ou.Features.Fields() {
		fmt.Fprintf(&b, "  %s %s;\n", f.Type.CType(), f.Name)
	}
	b.WriteString("};\n")
	return b.String()
}

// perfMapName is the name of the per-OU perf event array map a Collector
// polls for that OU's finished records, mirroring the original source's
// collector_results_<index> naming.
func perfMapName(ouIndex int) string {
	return fmt.Sprintf("collector_results_%d", ouIndex)
}

// generatePerfMapDecl renders the BPF_MAP_TYPE_PERF_EVENT_ARRAY declaration
// for one OU's output buffer, in the SEC(".maps") form cilium/ebpf expects
// rather than BCC's BPF_PERF_OUTPUT macro.
func generatePerfMapDecl(ou model.OperatingUnit) string {
	return fmt.Sprintf(
		"struct {\n  __uint(type, BPF_MAP_TYPE_PERF_EVENT_ARRAY);\n  __uint(key_size, sizeof(int));\n  __uint(value_size, sizeof(int));\n} %s SEC(\".maps\");\n",
		perfMapName(ou.Index))
}

func loadTemplate(name string) (string, error) {
	data, err := templateFS.ReadFile("templates/" + name)
	if err != nil {
		return "", fmt.Errorf("probebuilder: reading template %s: %w", name, err)
	}
	return string(data), nil
}

// renderMarkers produces the per-OU marker probe source for a single OU,
// and its helper struct definition keyed by OU name for dedup by the
// caller (the helper-struct dedup set from the original source becomes
// this function's local scratch state plus the caller's map, rather than a
// module-level global).
func renderMarkers(tmpl string, ou model.OperatingUnit) (markers string, helperStruct string, err error) {
	tokens := map[string]string{
		"OU":       ou.Function,
		"INDEX":    fmt.Sprintf("%d", ou.Index),
		"READARGS": generateReadArgs(ou),
	}
	rendered, err := substitute(tmpl, tokens)
	if err != nil {
		return "", "", fmt.Errorf("probebuilder: rendering markers for %s: %w", ou.Function, err)
	}
	return rendered, generateFeaturesStruct(ou), nil
}

// counterMetrics returns the subset of model.AccumulatedMetrics() that the
// in-kernel engine tracks by baseline-snapshot-then-delta, i.e. struct
// metrics_t's fields: the five hardware counters plus the four byte
// counters, mirroring internal/interval.CounterSnapshot exactly. elapsed_us
// and invocation_count are excluded: elapsed_us is derived downstream from
// start_time/end_time (internal/processor.formatMetrics, same as
// internal/interval never tracking it), and invocation_count is incremented
// directly by each OU's _end marker rather than snapshot-accumulated.
func counterMetrics() []model.Metric {
	var out []model.Metric
	for _, m := range model.AccumulatedMetrics() {
		if m.Name == "elapsed_us" || m.Name == "invocation_count" {
			continue
		}
		out = append(out, m)
	}
	return out
}

func metricsStructFields() string {
	var b strings.Builder
	for _, m := range counterMetrics() {
		fmt.Fprintf(&b, "  %s %s;\n", m.Type.CType(), m.Name)
	}
	return strings.TrimRight(b.String(), "\n")
}

// deltaAssignments renders the now-minus-baseline computation accumulate_deltas
// needs before it can add a completed subinterval into a frame's totals.
func deltaAssignments() string {
	var b strings.Builder
	for _, m := range counterMetrics() {
		fmt.Fprintf(&b, "  delta.%s = now.%s - frame->baseline.%s;\n", m.Name, m.Name, m.Name)
	}
	return strings.TrimRight(b.String(), "\n")
}

func accumulateAssignments(lhs string) string {
	var b strings.Builder
	for _, m := range counterMetrics() {
		fmt.Fprintf(&b, "    %s.%s += delta.%s;\n", lhs, m.Name, m.Name)
	}
	return strings.TrimRight(b.String(), "\n")
}

// generateFeaturesUnion renders the union of every OU's features struct
// type, keyed by function name, so a frame_t can hold whichever OU's
// features are in progress without knowing its type up front. Every
// OU-features struct declared by generateFeaturesStruct must already be in
// scope before this union by the time the template assembles them.
func generateFeaturesUnion(m *model.Model) string {
	var b strings.Builder
	b.WriteString("union features_t {\n")
	for _, ou := range m.OperatingUnits() {
		fmt.Fprintf(&b, "  struct %s_features_t %s;\n", ou.Function, ou.Function)
	}
	b.WriteString("};\n")
	return b.String()
}

// generateRecordStruct renders the packed, explicit wire-output struct for
// one OU: ordinal, canonical feature fields, start/end time, the counter
// subset, invocation count, pid and end cpu, in exactly the field order
// internal/uapi.UnmarshalRecord expects. It is emitted separately from
// struct metrics_t (the internal accumulator, which natural alignment would
// pad differently) and marked packed so the kernel-side byte layout matches
// the Go codec's tightly-packed layout without relying on alignment
// coincidence.
func generateRecordStruct(ou model.OperatingUnit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "struct %s_record_t {\n", ou.Function)
	b.WriteString("  uint32_t ou_index;\n")
	for _, f := range ou.Features.Fields() {
		fmt.Fprintf(&b, "  %s %s;\n", f.Type.CType(), f.Name)
	}
	b.WriteString("  uint64_t start_time;\n")
	b.WriteString("  uint64_t end_time;\n")
	for _, m := range counterMetrics() {
		fmt.Fprintf(&b, "  %s %s;\n", m.Type.CType(), m.Name)
	}
	b.WriteString("  uint64_t invocation_count;\n")
	b.WriteString("  uint32_t pid;\n")
	b.WriteString("  uint32_t cpu_id;\n")
	b.WriteString("} __attribute__((packed));\n")
	return b.String()
}

// generateEmitFunc renders the per-OU helper that copies a completed frame
// into its packed record struct and submits it to that OU's perf output
// map, then pops the frame. Generated per OU (rather than a single function
// switching on ou_index) because each OU's record type and destination map
// are distinct compile-time symbols.
func generateEmitFunc(ou model.OperatingUnit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "static __always_inline void emit_and_pop_%s(struct pt_regs *ctx) {\n", ou.Function)
	fmt.Fprintf(&b, "  struct frame_t *frame = top_frame(%d);\n", ou.Index)
	fmt.Fprintf(&b, "  if (frame == NULL || frame->ou_index != %d) {\n    return;\n  }\n", ou.Index)
	fmt.Fprintf(&b, "  struct %s_record_t record = {};\n", ou.Function)
	fmt.Fprintf(&b, "  record.ou_index = %d;\n", ou.Index)
	for _, f := range ou.Features.Fields() {
		fmt.Fprintf(&b, "  record.%s = frame->features.%s.%s;\n", f.Name, ou.Function, f.Name)
	}
	b.WriteString("  record.start_time = frame->start_time;\n")
	b.WriteString("  record.end_time = frame->end_time;\n")
	for _, m := range counterMetrics() {
		fmt.Fprintf(&b, "  record.%s = frame->totals.%s;\n", m.Name, m.Name)
	}
	b.WriteString("  record.invocation_count = frame->invocation_count;\n")
	b.WriteString("  record.pid = frame->pid;\n")
	b.WriteString("  record.cpu_id = frame->end_cpu;\n")
	fmt.Fprintf(&b, "  bpf_perf_event_output(ctx, &%s, BPF_F_CURRENT_CPU, &record, sizeof(record));\n", perfMapName(ou.Index))
	b.WriteString("  pop_frame(frame->pid);\n")
	b.WriteString("}\n")
	return b.String()
}

// Build assembles the full kernel probe program source text for m and
// params. It is pure: identical arguments always produce an identical
// string.
func Build(m *model.Model, params Params) (string, error) {
	markersTmpl, err := loadTemplate("markers.c.tmpl")
	if err != nil {
		return "", err
	}
	collectorTmpl, err := loadTemplate("collector.c.tmpl")
	if err != nil {
		return "", err
	}

	// helperStructs holds each OU's features struct plus its perf map decl
	// (needed before frame_t/the features union can reference them);
	// emitBlocks holds each OU's packed record struct plus its
	// emit_and_pop_<OU> function (needed after frame_t and its helpers are
	// declared, since they dereference struct frame_t *). Both are keyed by
	// OU name so output order is sorted rather than map-iteration order,
	// preserving the byte-identical-output contract.
	helperStructs := map[string]string{}
	emitBlocks := map[string]string{}
	var markerBlocks []string
	for _, ou := range m.OperatingUnits() {
		rendered, helper, err := renderMarkers(markersTmpl, ou)
		if err != nil {
			return "", err
		}
		markerBlocks = append(markerBlocks, rendered)
		helperStructs[ou.Function] = helper + generatePerfMapDecl(ou)
		emitBlocks[ou.Function] = generateRecordStruct(ou) + generateEmitFunc(ou)
	}

	names := make([]string, 0, len(helperStructs))
	for name := range helperStructs {
		names = append(names, name)
	}
	sort.Strings(names)
	var helperBlock, emitBlock strings.Builder
	for _, name := range names {
		helperBlock.WriteString(helperStructs[name])
		emitBlock.WriteString(emitBlocks[name])
	}

	clientSocketDefine := ""
	if params.ClientSocketFD != nil {
		clientSocketDefine = fmt.Sprintf("#define CLIENT_SOCKET_FD %d", *params.ClientSocketFD)
	}

	tokens := map[string]string{
		"MAX_CPUS":                fmt.Sprintf("%d", params.MaxCPUs),
		"CLIENT_SOCKET_FD_DEFINE": clientSocketDefine,
		"METRICS_STRUCT":          metricsStructFields(),
		"FEATURES_UNION":          generateFeaturesUnion(m),
		"ACCUMULATE_DELTA":        deltaAssignments(),
		"ACCUMULATE":              accumulateAssignments("frame->totals"),
		"ACCUMULATE_PARENT":       accumulateAssignments("parent->totals"),
		"HELPER_STRUCT_DEFS":      helperBlock.String(),
		"EMIT_FUNCS":              emitBlock.String(),
		"MARKERS":                 strings.Join(markerBlocks, "\n"),
	}

	out, err := substitute(collectorTmpl, tokens)
	if err != nil {
		return "", fmt.Errorf("probebuilder: rendering collector program: %w", err)
	}
	return out, nil
}

// BuildLifecycle returns the fixed source of the postmaster lifecycle
// probe program: the four fork/reap markers and their shared output map.
// Unlike Build, it has no per-Model variation, so it is a plain embedded
// resource rather than a substitution target.
func BuildLifecycle() (string, error) {
	return loadTemplate("lifecycle.c.tmpl")
}
