package api

import (
	"encoding/json"
	"fmt"
	"time"
)

type Status string

const (
	StatusSubmitted Status = "SUBMITTED"
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusDenied    Status = "DENIED"
	StatusErrored   Status = "ERRORED"
	StatusTimedOut  Status = "TIMED_OUT"
)

// Terminal reports whether a status ends the request lifecycle.
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusDenied, StatusErrored, StatusTimedOut:
		return true
	}
	return false
}

// ApprovedEquivalent reports whether a status yields a Grant usable
// downstream. Only approvals qualify; preexisting access is signalled
// separately through the submit response condition, not the status.
func (s Status) ApprovedEquivalent() bool {
	return s == StatusApproved
}

// GrantRequestSubmission describes the resource and action being requested.
// Arguments are opaque CLI-style tokens interpreted server-side. Immutable
// once submitted.
type GrantRequestSubmission struct {
	Arguments []string  `json:"arguments"`
	Wait      bool      `json:"wait,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Condition codes returned alongside a submit response.
const (
	ConditionOK           = "OK"
	ConditionAccessExists = "ACCESS_EXISTS"
)

// SubmitResponse is the immediate reply to a request submission. Either the
// backend resolved the request inline (Grant set) or it assigned an ID to
// continue waiting on.
type SubmitResponse struct {
	RequestID string `json:"requestId,omitempty"`
	Condition string `json:"condition,omitempty"`
	Message   string `json:"message,omitempty"`
	Grant     *Grant `json:"grant,omitempty"`
}

// Principal identifies the requesting identity as the backend recorded it.
type Principal struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// Generated carries server-minted artifacts attached to an approval, such as
// provisioned role names and session document names.
type Generated struct {
	RoleName     string `json:"roleName,omitempty"`
	DocumentName string `json:"documentName,omitempty"`
}

// Grant is the approval record returned by the backend. Read-only to the
// client; fetched once (poll) or observed until terminal (stream).
type Grant struct {
	RequestID  string      `json:"requestId"`
	Status     Status      `json:"status"`
	Permission *Permission `json:"permission,omitempty"`
	Delegation *Permission `json:"delegation,omitempty"`
	Principal  Principal   `json:"principal"`
	Generated  *Generated  `json:"generated,omitempty"`
	Message    string      `json:"message,omitempty"`
}

// Stream event kinds delivered on the grant event channel.
const (
	EventAccepted = "accepted"
	EventResolved = "resolved"
)

// StreamEvent is one newline-delimited JSON value on a grant stream. The
// first meaningful event acknowledges acceptance (RequestID assigned), the
// second carries the terminal Grant.
type StreamEvent struct {
	Event     string `json:"event"`
	RequestID string `json:"requestId,omitempty"`
	Condition string `json:"condition,omitempty"`
	Grant     *Grant `json:"grant,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Provider discriminators for the permission union.
const (
	ProviderAwsRole          = "aws-role"
	ProviderAwsPermissionSet = "aws-permission-set"
	ProviderK8sResource      = "k8s-resource"
	ProviderPostgresInstance = "postgres-instance"
)

// Permission is the resource-specific payload of a grant, a tagged union
// keyed by the provider discriminator. Exactly one variant is set.
type Permission struct {
	Provider string

	AwsRole          *AwsRolePermission
	AwsPermissionSet *AwsPermissionSetPermission
	K8sResource      *K8sResourcePermission
	PostgresInstance *PostgresInstancePermission
}

type AwsRolePermission struct {
	Account string `json:"account"`
	Role    string `json:"role"`
}

type AwsPermissionSetPermission struct {
	Account       string `json:"account"`
	PermissionSet string `json:"permissionSet"`
	Instance      string `json:"instance,omitempty"`
}

type K8sResourcePermission struct {
	Cluster   string `json:"cluster"`
	Namespace string `json:"namespace,omitempty"`
	Resource  string `json:"resource,omitempty"`
	Verb      string `json:"verb,omitempty"`
}

type PostgresInstancePermission struct {
	Instance string `json:"instance"`
	Database string `json:"database,omitempty"`
	Port     int    `json:"port,omitempty"`
	// Delegated cloud role underlying the database access, when the
	// backend brokers it through the cloud provider.
	CloudRole string `json:"cloudRole,omitempty"`
}

type permissionEnvelope struct {
	Provider string          `json:"provider"`
	Payload  json.RawMessage `json:"payload"`
}

func (p *Permission) UnmarshalJSON(data []byte) error {
	var env permissionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	p.Provider = env.Provider
	switch env.Provider {
	case ProviderAwsRole:
		p.AwsRole = &AwsRolePermission{}
		return json.Unmarshal(env.Payload, p.AwsRole)
	case ProviderAwsPermissionSet:
		p.AwsPermissionSet = &AwsPermissionSetPermission{}
		return json.Unmarshal(env.Payload, p.AwsPermissionSet)
	case ProviderK8sResource:
		p.K8sResource = &K8sResourcePermission{}
		return json.Unmarshal(env.Payload, p.K8sResource)
	case ProviderPostgresInstance:
		p.PostgresInstance = &PostgresInstancePermission{}
		return json.Unmarshal(env.Payload, p.PostgresInstance)
	default:
		return fmt.Errorf("unknown permission provider: %q", env.Provider)
	}
}

func (p Permission) MarshalJSON() ([]byte, error) {
	// Each variant is nil-checked before the interface assignment; a typed
	// nil pointer inside an any would slip past a plain nil comparison.
	var payload any
	switch p.Provider {
	case ProviderAwsRole:
		if p.AwsRole != nil {
			payload = p.AwsRole
		}
	case ProviderAwsPermissionSet:
		if p.AwsPermissionSet != nil {
			payload = p.AwsPermissionSet
		}
	case ProviderK8sResource:
		if p.K8sResource != nil {
			payload = p.K8sResource
		}
	case ProviderPostgresInstance:
		if p.PostgresInstance != nil {
			payload = p.PostgresInstance
		}
	default:
		return nil, fmt.Errorf("unknown permission provider: %q", p.Provider)
	}
	if payload == nil {
		return nil, fmt.Errorf("permission payload missing for provider %q", p.Provider)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(permissionEnvelope{Provider: p.Provider, Payload: raw})
}
