package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateSchema_RejectsUnknownTopLevelField(t *testing.T) {
	raw := []byte(`{
		"tenant_id": "t1",
		"steps": [{"action":"deploy.website","provider":"deploy.provider_v1","resource":"r1","idempotency_key":"k1"}],
		"unexpected_field": true
	}`)
	err := ValidateSchema(raw)
	assert.Error(t, err)
}

func TestValidateSchema_RejectsUnknownStepField(t *testing.T) {
	raw := []byte(`{
		"tenant_id": "t1",
		"steps": [{"action":"deploy.website","provider":"deploy.provider_v1","resource":"r1","idempotency_key":"k1","sneaky":1}]
	}`)
	err := ValidateSchema(raw)
	assert.Error(t, err)
}

func TestValidateSchema_RejectsEmptySteps(t *testing.T) {
	raw := []byte(`{"tenant_id": "t1", "steps": []}`)
	err := ValidateSchema(raw)
	assert.Error(t, err)
}

func TestValidateSchema_RejectsNegativeBudget(t *testing.T) {
	raw := []byte(`{
		"tenant_id": "t1",
		"steps": [{"action":"deploy.website","provider":"deploy.provider_v1","resource":"r1","idempotency_key":"k1","budget_cents":-1}]
	}`)
	err := ValidateSchema(raw)
	assert.Error(t, err)
}

func TestValidateSchema_AcceptsValidIR(t *testing.T) {
	raw := []byte(`{
		"tenant_id": "t1",
		"steps": [{"action":"deploy.website","provider":"deploy.provider_v1","resource":"r1","idempotency_key":"k1","budget_cents":0}]
	}`)
	err := ValidateSchema(raw)
	assert.NoError(t, err)
}
