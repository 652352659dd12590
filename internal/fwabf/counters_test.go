// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package fwabf

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters_Trace_RingBufferDropsOldest(t *testing.T) {
	c := NewCounters(nil, 2)
	c.Trace(TraceRecord{PolicyID: 1, Outcome: "applied"})
	c.Trace(TraceRecord{PolicyID: 2, Outcome: "applied"})
	c.Trace(TraceRecord{PolicyID: 3, Outcome: "applied"})

	recs := c.RecentTrace()
	require.Len(t, recs, 2)
	assert.Equal(t, uint32(2), recs[0].PolicyID)
	assert.Equal(t, uint32(3), recs[1].PolicyID)
	assert.NotEmpty(t, recs[0].ID)
	assert.NotEqual(t, recs[0].ID, recs[1].ID)
}

func TestCounters_Trace_DisabledWhenCapIsZero(t *testing.T) {
	c := NewCounters(nil, 0)
	c.Trace(TraceRecord{PolicyID: 1})
	assert.Empty(t, c.RecentTrace())
}

func TestCounters_RegistersWithPrometheus(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCounters(reg, 8)
	c.RecordHit(3)
	c.RecordPolicyApplied(1)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestLabelStr_InvalidIsNone(t *testing.T) {
	assert.Equal(t, "none", labelStr(LabelInvalid))
	assert.Equal(t, "3", labelStr(Label(3)))
}
