// Package ir defines the canonical Intermediate Representation: a typed,
// deterministically hashable plan that every governance component
// (validator, approval ledger, diff-audit gate, executor) operates on.
package ir

import (
	"time"

	"github.com/google/uuid"
)

// Action is the fixed, closed vocabulary of operations an IRStep may
// request. Unknown values reject before any semantic validation runs.
type Action string

const (
	ActionDeployWebsite  Action = "deploy.website"
	ActionDeployAPI      Action = "deploy.api"
	ActionDeployDatabase Action = "deploy.database"

	ActionDNSUpdateRecords Action = "dns.update_records"
	ActionDNSCreateZone    Action = "dns.create_zone"
	ActionDNSDeleteZone    Action = "dns.delete_zone"

	ActionERPInstallModule   Action = "erp.install_module"
	ActionERPUninstallModule Action = "erp.uninstall_module"
	ActionERPUpdateModule    Action = "erp.update_module"
	ActionERPCreateRecord    Action = "erp.create_record"
	ActionERPUpdateRecord    Action = "erp.update_record"
	ActionERPDeleteRecord    Action = "erp.delete_record"

	ActionWebgenGenerateSite  Action = "webgen.generate_site"
	ActionWebgenUpdateContent Action = "webgen.update_content"

	ActionCourseCreate           Action = "course.create"
	ActionCourseGenerateOutline  Action = "course.generate_outline"
	ActionCourseGenerateLessons  Action = "course.generate_lessons"
	ActionCourseDeployStaging    Action = "course.deploy_staging"

	ActionInfraProvision Action = "infra.provision"
	ActionInfraDestroy   Action = "infra.destroy"
	ActionInfraScale     Action = "infra.scale"
)

var knownActions = map[Action]bool{
	ActionDeployWebsite: true, ActionDeployAPI: true, ActionDeployDatabase: true,
	ActionDNSUpdateRecords: true, ActionDNSCreateZone: true, ActionDNSDeleteZone: true,
	ActionERPInstallModule: true, ActionERPUninstallModule: true, ActionERPUpdateModule: true,
	ActionERPCreateRecord: true, ActionERPUpdateRecord: true, ActionERPDeleteRecord: true,
	ActionWebgenGenerateSite: true, ActionWebgenUpdateContent: true,
	ActionCourseCreate: true, ActionCourseGenerateOutline: true, ActionCourseGenerateLessons: true,
	ActionCourseDeployStaging: true,
	ActionInfraProvision:     true, ActionInfraDestroy: true, ActionInfraScale: true,
}

// IsKnown reports whether a is in the closed vocabulary.
func (a Action) IsKnown() bool { return knownActions[a] }

// Provider is the fixed, closed vocabulary of providers an IRStep may
// target.
type Provider string

const (
	ProviderDeployV1        Provider = "deploy.provider_v1"
	ProviderDeployDocker    Provider = "deploy.docker"
	ProviderDeployK8s       Provider = "deploy.kubernetes"
	ProviderDNSHetzner      Provider = "dns.hetzner"
	ProviderDNSCloudflare   Provider = "dns.cloudflare"
	ProviderDNSRoute53      Provider = "dns.route53"
	ProviderERPv16          Provider = "erp.v16"
	ProviderERPv17          Provider = "erp.v17"
	ProviderWebgenV1        Provider = "webgen.v1"
	ProviderCourseFactoryV1 Provider = "course_factory.v1"
	ProviderInfraTerraform  Provider = "infra.terraform"
	ProviderInfraAnsible    Provider = "infra.ansible"
)

var knownProviders = map[Provider]bool{
	ProviderDeployV1: true, ProviderDeployDocker: true, ProviderDeployK8s: true,
	ProviderDNSHetzner: true, ProviderDNSCloudflare: true, ProviderDNSRoute53: true,
	ProviderERPv16: true, ProviderERPv17: true,
	ProviderWebgenV1: true, ProviderCourseFactoryV1: true,
	ProviderInfraTerraform: true, ProviderInfraAnsible: true,
}

// IsKnown reports whether p is in the closed vocabulary.
func (p Provider) IsKnown() bool { return knownProviders[p] }

// RiskTier is an integer 0-3 derived purely from the IR; it drives
// approval requirements and is never trusted if present on input — only
// the validator may set it.
type RiskTier int

const (
	Tier0 RiskTier = iota
	Tier1
	Tier2
	Tier3
)

// IRStep is an atomic, strictly typed unit of work.
type IRStep struct {
	Action         Action            `json:"action"`
	Provider       Provider          `json:"provider"`
	Resource       string            `json:"resource"`
	Params         map[string]Value  `json:"params,omitempty"`
	IdempotencyKey string            `json:"idempotency_key"`
	Constraints    map[string]Value  `json:"constraints,omitempty"`
	BudgetCents    *int64            `json:"budget_cents,omitempty"`

	// Computed by the validator; never trusted from input.
	RiskTier         *RiskTier `json:"risk_tier,omitempty"`
	RequiresApproval bool      `json:"requires_approval"`

	StepID      string `json:"step_id,omitempty"`
	Description string `json:"description,omitempty"`
}

// EffectiveStepID returns StepID if set, else the decimal string form of
// index — matching the diff-audit gate's "step_id if present, else
// string index" rule.
func (s IRStep) EffectiveStepID(index int) string {
	if s.StepID != "" {
		return s.StepID
	}
	return itoa(index)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// IR is the canonical, immutable-after-validation plan.
type IR struct {
	TenantID      string            `json:"tenant_id"`
	Steps         []IRStep          `json:"steps"`
	RequestID     string            `json:"request_id"`
	CreatedAt     time.Time         `json:"created_at"`
	IntentSummary string            `json:"intent_summary,omitempty"`
	Labels        map[string]string `json:"labels,omitempty"`
}

// NewIR constructs an IR, filling RequestID/CreatedAt when absent —
// matching the schema's default_factory behavior.
func NewIR(tenantID string, steps []IRStep) *IR {
	return &IR{
		TenantID:  tenantID,
		Steps:     steps,
		RequestID: uuid.New().String(),
		CreatedAt: time.Now().UTC(),
	}
}

// ValidationStatus is the validator's overall verdict.
type ValidationStatus string

const (
	StatusPass     ValidationStatus = "PASS"
	StatusEscalate ValidationStatus = "ESCALATE"
	StatusReject   ValidationStatus = "REJECT"
)

// Severity classifies a Violation.
type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
)

// Violation is a single validation finding.
type Violation struct {
	StepIndex *int     `json:"step_index,omitempty"`
	Code      string   `json:"code"`
	Message   string   `json:"message"`
	Severity  Severity `json:"severity"`
}

// ValidationResult is the full output of the validator.
type ValidationResult struct {
	Status           ValidationStatus `json:"status"`
	Violations       []Violation      `json:"violations"`
	RiskTier         RiskTier         `json:"risk_tier"`
	RequiresApproval bool             `json:"requires_approval"`
	IRHash           string           `json:"ir_hash"`
	TenantID         string           `json:"tenant_id"`
	RequestID        string           `json:"request_id"`
	ValidatedAt      time.Time        `json:"validated_at"`
}

// HasErrors reports whether any violation is ERROR severity.
func (r ValidationResult) HasErrors() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityError {
			return true
		}
	}
	return false
}
