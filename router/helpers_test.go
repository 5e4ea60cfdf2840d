// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testPlatform(id string, weight float64, caps ...Capability) PlatformDescriptor {
	if len(caps) == 0 {
		caps = []Capability{CapabilityGeneral, CapabilityCodeGeneration, CapabilityReasoning}
	}
	return PlatformDescriptor{
		ID:           id,
		DisplayName:  id,
		Capabilities: caps,
		Weight:       weight,
		Enabled:      true,
	}
}

func markStatus(t *testing.T, r *Registry, id string, status HealthStatus) {
	t.Helper()
	state, err := r.state(id)
	require.NoError(t, err)
	state.setHealth(&HealthRecord{
		PlatformID:  id,
		Status:      status,
		LastChecked: time.Now(),
	})
}

func markHealthy(t *testing.T, r *Registry, ids ...string) {
	t.Helper()
	for _, id := range ids {
		markStatus(t, r, id, HealthStatusHealthy)
	}
}
