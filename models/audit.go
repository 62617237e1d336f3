package models

import (
	"encoding/json"
	"fmt"
)

// AuditKind is a fixed category of check contributing to a dashboard's audit status
type AuditKind string

const (
	AuditKindCodeReview             AuditKind = "CODE_REVIEW"
	AuditKindCodeQuality            AuditKind = "CODE_QUALITY"
	AuditKindStaticSecurityAnalysis AuditKind = "STATIC_SECURITY_ANALYSIS"
	AuditKindLibraryPolicy          AuditKind = "LIBRARY_POLICY"
	AuditKindTestResult             AuditKind = "TEST_RESULT"
	AuditKindPerfTest               AuditKind = "PERF_TEST"
	AuditKindBuildReview            AuditKind = "BUILD_REVIEW"
	AuditKindArtifact               AuditKind = "ARTIFACT"
	AuditKindDeploy                 AuditKind = "DEPLOY"
)

// auditKinds lists every kind in declaration order. Result sets are ordered by it.
var auditKinds = []AuditKind{
	AuditKindCodeReview,
	AuditKindCodeQuality,
	AuditKindStaticSecurityAnalysis,
	AuditKindLibraryPolicy,
	AuditKindTestResult,
	AuditKindPerfTest,
	AuditKindBuildReview,
	AuditKindArtifact,
	AuditKindDeploy,
}

// AuditKinds returns all audit kinds in declaration order
func AuditKinds() []AuditKind {
	out := make([]AuditKind, len(auditKinds))
	copy(out, auditKinds)
	return out
}

// ParseAuditKind converts a string into a known AuditKind
func ParseAuditKind(s string) (AuditKind, error) {
	for _, k := range auditKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown audit kind: %q", s)
}

// IsValid reports whether the kind is part of the closed set
func (k AuditKind) IsValid() bool {
	_, err := ParseAuditKind(string(k))
	return err == nil
}

// Ordinal returns the declaration index of the kind, or -1 when unknown
func (k AuditKind) Ordinal() int {
	for i, known := range auditKinds {
		if known == k {
			return i
		}
	}
	return -1
}

// AuditStatus is the verdict of one audit
type AuditStatus string

const (
	AuditStatusOK    AuditStatus = "OK"
	AuditStatusFail  AuditStatus = "FAIL"
	AuditStatusNA    AuditStatus = "NA"
	AuditStatusError AuditStatus = "ERROR"
)

// IsValid reports whether the status is a known verdict
func (s AuditStatus) IsValid() bool {
	switch s {
	case AuditStatusOK, AuditStatusFail, AuditStatusNA, AuditStatusError:
		return true
	}
	return false
}

// AuditOutcome is the freshly computed verdict for one dashboard, kind and window.
// Outcomes are produced by the evaluator and never mutated afterwards.
type AuditOutcome struct {
	Kind     AuditKind       `json:"kind"`
	Status   AuditStatus     `json:"status"`
	Statuses []string        `json:"statuses,omitempty"`
	Detail   json.RawMessage `json:"detail,omitempty"`
	URL      string          `json:"url,omitempty"`
}

// AuditOutcomes maps each computed kind to its outcome
type AuditOutcomes map[AuditKind]*AuditOutcome

// SortedKinds returns the kinds present in the map in declaration order
func (o AuditOutcomes) SortedKinds() []AuditKind {
	kinds := make([]AuditKind, 0, len(o))
	for _, k := range auditKinds {
		if _, ok := o[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}
