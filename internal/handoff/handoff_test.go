package handoff

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResultFromQualificationData_ExtractsKnownKeys(t *testing.T) {
	data := map[string]any{
		"deal_index_id": "d-1",
		"local_deal_id": "l-1",
		"schema_name":   "tenant_acme",
		"unrelated":     42,
	}
	got := resultFromQualificationData(data)
	require.Equal(t, Result{DealIndexID: "d-1", LocalDealID: "l-1", SchemaName: "tenant_acme"}, got)
}

func TestResultFromQualificationData_MissingOrWrongTypeYieldsEmptyStrings(t *testing.T) {
	got := resultFromQualificationData(map[string]any{"deal_index_id": 123})
	require.Equal(t, Result{}, got)

	require.Equal(t, Result{}, resultFromQualificationData(nil))
}
