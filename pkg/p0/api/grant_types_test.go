package api

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusSubmitted.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.True(t, StatusApproved.Terminal())
	assert.True(t, StatusDenied.Terminal())
	assert.True(t, StatusErrored.Terminal())
	assert.True(t, StatusTimedOut.Terminal())
	assert.True(t, StatusApproved.ApprovedEquivalent())
	assert.False(t, StatusDenied.ApprovedEquivalent())
}

func TestPermissionUnionDecode(t *testing.T) {
	raw := `{
		"requestId": "req-1",
		"status": "APPROVED",
		"principal": {"id": "u1", "email": "dev@example.com"},
		"permission": {"provider": "aws-role", "payload": {"account": "123456789012", "role": "admin"}},
		"delegation": {"provider": "postgres-instance", "payload": {"instance": "orders-db", "cloudRole": "rds-access"}}
	}`
	var grant Grant
	require.NoError(t, json.Unmarshal([]byte(raw), &grant))
	require.NotNil(t, grant.Permission)
	require.NotNil(t, grant.Permission.AwsRole)
	assert.Equal(t, "123456789012", grant.Permission.AwsRole.Account)
	assert.Equal(t, "admin", grant.Permission.AwsRole.Role)
	assert.Nil(t, grant.Permission.K8sResource)
	require.NotNil(t, grant.Delegation.PostgresInstance)
	assert.Equal(t, "rds-access", grant.Delegation.PostgresInstance.CloudRole)
}

func TestPermissionUnionRejectsUnknownProvider(t *testing.T) {
	raw := `{"provider": "gcp-role", "payload": {}}`
	var perm Permission
	err := json.Unmarshal([]byte(raw), &perm)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gcp-role")
}

func TestPermissionUnionRoundTrip(t *testing.T) {
	perm := Permission{
		Provider:    ProviderK8sResource,
		K8sResource: &K8sResourcePermission{Cluster: "prod-eu", Namespace: "payments", Verb: "debug"},
	}
	data, err := json.Marshal(perm)
	require.NoError(t, err)
	var decoded Permission
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.NotNil(t, decoded.K8sResource)
	assert.Equal(t, "prod-eu", decoded.K8sResource.Cluster)
	assert.Equal(t, "payments", decoded.K8sResource.Namespace)
}

func TestPermissionMarshalRequiresPayload(t *testing.T) {
	_, err := json.Marshal(Permission{Provider: ProviderAwsRole})
	require.Error(t, err)
}
