// ABOUTME: Tests for the azsk normalizer: component ids and status mapping.

package normalizer

import (
	"context"
	"testing"

	"github.com/deepnetworkgmbh/joseki-sub000/internal/types"
)

const azskMeta = `{
	"audit-id": "azsk-audit-1",
	"timestamp": 1788004800,
	"audit-result": "succeeded",
	"azsk-audit-paths": ["20260829/subscription.json", "20260829/resources.json"]
}`

const azskSubscriptionResult = `{
	"subscription-id": "0b1f6471-1bf0-4dda-aec3-cb9272f09590",
	"scan-results": [
		{"control-id": "Azure_Subscription_AuthZ_Limit_Admin_Count", "feature-name": "SubscriptionCore", "status": "Passed", "severity": "High"},
		{"control-id": "Azure_Subscription_Config_Azure_Security_Center", "feature-name": "SubscriptionCore", "status": "Verify", "severity": "High"}
	]
}`

const azskResourcesResult = `{
	"subscription-id": "0b1f6471-1bf0-4dda-aec3-cb9272f09590",
	"scan-results": [
		{"control-id": "Azure_Storage_AuthN_Dont_Allow_Anonymous", "feature-name": "Storage", "status": "Failed", "severity": "High",
		 "resource-group": "Prod-RG", "resource-type": "Storage", "resource-name": "ProdLogs"},
		{"control-id": "Azure_KeyVault_Audit_Enable_Diagnostics", "feature-name": "KeyVault", "status": "Error", "severity": "Medium",
		 "resource-group": "Prod-RG", "resource-type": "KeyVault", "resource-name": "ProdVault"},
		{"control-id": "Azure_KeyVault_NetSec_Disable_Public_Network", "feature-name": "KeyVault", "status": "Manual", "severity": "Medium",
		 "resource-group": "Prod-RG", "resource-type": "KeyVault", "resource-name": "ProdVault"}
	]
}`

func TestAzskAudit(t *testing.T) {
	f := newFixture(t)
	f.storage.Put("azsk-scanner/20260829/meta", []byte(azskMeta))
	f.storage.Put("azsk-scanner/20260829/subscription.json", []byte(azskSubscriptionResult))
	f.storage.Put("azsk-scanner/20260829/resources.json", []byte(azskResourcesResult))

	n := NewAzskNormalizer(f.storage, f.db, f.checks, f.scores, f.metrics, f.logger)
	if err := n.Process(context.Background(), f.container(types.ScannerAzsk, "azsk-scanner")); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	audits := f.db.Audits()
	if len(audits) != 1 {
		t.Fatalf("stored %d audits, want 1", len(audits))
	}
	audit := audits[0]

	const subscription = "/subscriptions/0b1f6471-1bf0-4dda-aec3-cb9272f09590"
	if audit.ComponentID != subscription {
		t.Errorf("component id = %s, want %s", audit.ComponentID, subscription)
	}
	if audit.ScannerID != "azsk/scanner-1" {
		t.Errorf("scanner id = %s", audit.ScannerID)
	}
	if len(audit.CheckResults) != 5 {
		t.Fatalf("audit has %d check results, want 5", len(audit.CheckResults))
	}

	type verdict struct {
		value     types.CheckValue
		component string
	}
	byControl := make(map[string]verdict)
	for _, result := range audit.CheckResults {
		byControl[result.Message] = verdict{result.Value, result.ComponentID}
	}

	tests := []struct {
		control   string
		value     types.CheckValue
		component string
	}{
		{"Azure_Subscription_AuthZ_Limit_Admin_Count", types.Succeeded, subscription},
		{"Azure_Subscription_Config_Azure_Security_Center", types.NoData, subscription},
		{"Azure_Storage_AuthN_Dont_Allow_Anonymous", types.Failed, subscription + "/resource_group/prod-rg/storage/prodlogs"},
		{"Azure_KeyVault_Audit_Enable_Diagnostics", types.Failed, subscription + "/resource_group/prod-rg/keyvault/prodvault"},
		{"Azure_KeyVault_NetSec_Disable_Public_Network", types.NoData, subscription + "/resource_group/prod-rg/keyvault/prodvault"},
	}
	for _, tt := range tests {
		got, ok := byControl[tt.control]
		if !ok {
			t.Errorf("control %s missing from the audit", tt.control)
			continue
		}
		if got.value != tt.value {
			t.Errorf("%s value = %v, want %v", tt.control, got.value, tt.value)
		}
		if got.component != tt.component {
			t.Errorf("%s component = %s, want %s", tt.control, got.component, tt.component)
		}
	}

	// Both feature families share one check per feature name.
	checkIDs := make(map[string]bool)
	for _, result := range audit.CheckResults {
		checkIDs[result.ExternalCheckID] = true
	}
	for _, want := range []string{"azsk.SubscriptionCore", "azsk.Storage", "azsk.KeyVault"} {
		if !checkIDs[want] {
			t.Errorf("check id %s not found", want)
		}
	}

	if calls := f.scores.Calls(); len(calls) != 1 || calls[0] != subscription {
		t.Errorf("score invalidations = %v", calls)
	}
}
