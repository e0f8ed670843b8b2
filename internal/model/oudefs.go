package model

// OUDefs is the canonical, ordered list of Operating Unit function names,
// carried over from the original model's OU_DEFS table (see DESIGN.md). The
// slice index becomes each OU's ordinal, so this order is load-bearing: it
// must not be reordered once a deployment has generated CSVs against it.
var OUDefs = []string{
	"ExecAgg",
	"ExecAppend",
	"ExecCteScan",
	"ExecCustomScan",
	"ExecForeignScan",
	"ExecFunctionScan",
	"ExecGather",
	"ExecGatherMerge",
	"ExecGroup",
	"ExecHashJoinImpl",
	"ExecIncrementalSort",
	"ExecIndexOnlyScan",
	"ExecIndexScan",
	"ExecLimit",
	"ExecLockRows",
	"ExecMaterial",
	"ExecMergeAppend",
	"ExecMergeJoin",
	"ExecModifyTable",
	"ExecNamedTuplestoreScan",
	"ExecNestLoop",
	"ExecProjectSet",
	"ExecRecursiveUnion",
	"ExecResult",
	"ExecSampleScan",
	"ExecSeqScan",
	"ExecSetOp",
	"ExecSort",
	"ExecSubPlan",
	"ExecSubqueryScan",
	"ExecTableFuncScan",
	"ExecTidScan",
	"ExecUnique",
	"ExecValuesScan",
	"ExecWindowAgg",
	"ExecWorkTableScan",
}

// OperatorEnumExceptions maps an OU function name to the database's plan
// node tag enum value, for the handful of OUs whose executor function name
// does not mechanically derive from the tag (e.g. the tag is "HashJoin" but
// the instrumented function is ExecHashJoinImpl). This table is consulted
// only by offline tooling that cross-references EXPLAIN output against
// OU names; it has no bearing on marker names or ordinal assignment.
var OperatorEnumExceptions = map[string]string{
	"ExecHashJoinImpl": "T_HashJoin",
	"ExecGatherMerge":  "T_GatherMerge",
}
