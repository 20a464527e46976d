package alertengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bannin-agent/bannin/internal/model"
)

func threshold(v float64) *float64 { return &v }

func TestEvaluate_FiresWhenThresholdCrossed(t *testing.T) {
	rule := model.AlertRule{
		ID: "ram_high", MetricPath: "memory.percent", Operator: model.OpGE,
		Threshold: threshold(90), Severity: "warning", Message: "RAM at {value}%",
	}
	e := New([]model.AlertRule{rule}, nil)

	fired := e.Evaluate(model.Snapshot{Epoch: 1000, RAMPercent: 95})
	require.Len(t, fired, 1)
	assert.Equal(t, "ram_high", fired[0].RuleID)
	assert.Equal(t, "RAM at 95.0%", fired[0].Message)
}

func TestEvaluate_DoesNotFireBelowThreshold(t *testing.T) {
	rule := model.AlertRule{
		ID: "ram_high", MetricPath: "memory.percent", Operator: model.OpGE,
		Threshold: threshold(90), Severity: "warning", Message: "RAM high",
	}
	e := New([]model.AlertRule{rule}, nil)
	fired := e.Evaluate(model.Snapshot{Epoch: 1000, RAMPercent: 50})
	assert.Empty(t, fired)
}

func TestEvaluate_RespectsCooldown(t *testing.T) {
	rule := model.AlertRule{
		ID: "ram_high", MetricPath: "memory.percent", Operator: model.OpGE,
		Threshold: threshold(90), Severity: "warning", Message: "RAM high",
		CooldownSeconds: 60,
	}
	e := New([]model.AlertRule{rule}, nil)

	first := e.Evaluate(model.Snapshot{Epoch: 1000, RAMPercent: 95})
	require.Len(t, first, 1)

	second := e.Evaluate(model.Snapshot{Epoch: 1010, RAMPercent: 95})
	assert.Empty(t, second, "should not refire within cooldown")

	third := e.Evaluate(model.Snapshot{Epoch: 1100, RAMPercent: 95})
	assert.Len(t, third, 1, "should refire once cooldown elapses")
}

func TestEvaluate_PlatformFilterExcludesRule(t *testing.T) {
	rule := model.AlertRule{
		ID: "mac_only", MetricPath: "memory.percent", Operator: model.OpGE,
		Threshold: threshold(1), Severity: "info", Message: "x",
		Platforms: []string{"darwin"},
	}
	e := New([]model.AlertRule{rule}, staticPlatform{name: "linux"})
	fired := e.Evaluate(model.Snapshot{Epoch: 1000, RAMPercent: 99})
	assert.Empty(t, fired)
}

func TestEvaluate_PlatformFilterAllowsAllKeyword(t *testing.T) {
	rule := model.AlertRule{
		ID: "any_platform", MetricPath: "memory.percent", Operator: model.OpGE,
		Threshold: threshold(1), Severity: "info", Message: "x",
		Platforms: []string{"all"},
	}
	e := New([]model.AlertRule{rule}, staticPlatform{name: "linux"})
	fired := e.Evaluate(model.Snapshot{Epoch: 1000, RAMPercent: 99})
	assert.Len(t, fired, 1)
}

func TestEvaluate_CompareToPath(t *testing.T) {
	rule := model.AlertRule{
		ID: "disk_vs_ram", MetricPath: "disk.percent", Operator: model.OpGT,
		CompareTo: "memory.percent", Severity: "info", Message: "disk outpacing ram",
	}
	e := New([]model.AlertRule{rule}, nil)
	fired := e.Evaluate(model.Snapshot{Epoch: 1000, DiskPercent: 80, RAMPercent: 20})
	assert.Len(t, fired, 1)
}

func TestEvaluate_ConditionGatesFiring(t *testing.T) {
	rule := model.AlertRule{
		ID: "combo", MetricPath: "memory.percent", Operator: model.OpGE,
		Threshold: threshold(50), Severity: "warning", Message: "combo",
		Condition: "disk.percent > 90",
	}
	e := New([]model.AlertRule{rule}, nil)

	noCondition := e.Evaluate(model.Snapshot{Epoch: 1000, RAMPercent: 60, DiskPercent: 10})
	assert.Empty(t, noCondition, "condition not met should suppress firing")

	withCondition := e.Evaluate(model.Snapshot{Epoch: 1000, RAMPercent: 60, DiskPercent: 95})
	assert.Len(t, withCondition, 1)
}

func TestEvaluate_UnparseableConditionFailsSafe(t *testing.T) {
	rule := model.AlertRule{
		ID: "bad_condition", MetricPath: "memory.percent", Operator: model.OpGE,
		Threshold: threshold(50), Severity: "warning", Message: "x",
		Condition: "not a valid condition",
	}
	e := New([]model.AlertRule{rule}, nil)
	fired := e.Evaluate(model.Snapshot{Epoch: 1000, RAMPercent: 60})
	assert.Empty(t, fired)
}

func TestGetAlerts_NewestFirst(t *testing.T) {
	rule := model.AlertRule{
		ID: "ram_high", MetricPath: "memory.percent", Operator: model.OpGE,
		Threshold: threshold(50), Severity: "warning", Message: "x",
		CooldownSeconds: 0,
	}
	e := New([]model.AlertRule{rule}, nil)
	e.Evaluate(model.Snapshot{Epoch: 1000, RAMPercent: 60})
	e.Evaluate(model.Snapshot{Epoch: 2000, RAMPercent: 60})

	alerts := e.GetAlerts(0)
	require.Len(t, alerts, 2)
	assert.Equal(t, 2000.0, alerts[0].FiredEpoch)
	assert.Equal(t, 1000.0, alerts[1].FiredEpoch)
}

func TestGetActiveAlerts_DropsWhenConditionRecovers(t *testing.T) {
	rule := model.AlertRule{
		ID: "ram_high", MetricPath: "memory.percent", Operator: model.OpGE,
		Threshold: threshold(50), Severity: "warning", Message: "x",
		CooldownSeconds: 300,
	}
	e := New([]model.AlertRule{rule}, nil)
	e.Evaluate(model.Snapshot{Epoch: 1000, RAMPercent: 95})

	stillActive := e.GetActiveAlerts(model.Snapshot{Epoch: 1010, RAMPercent: 95})
	assert.Len(t, stillActive, 1, "within cooldown and condition still true")

	recovered := e.GetActiveAlerts(model.Snapshot{Epoch: 1020, RAMPercent: 10})
	assert.Empty(t, recovered, "recovered condition should drop the alert even mid-cooldown")
}

func TestGetActiveAlerts_ExpiresAfterCooldown(t *testing.T) {
	rule := model.AlertRule{
		ID: "ram_high", MetricPath: "memory.percent", Operator: model.OpGE,
		Threshold: threshold(50), Severity: "warning", Message: "x",
		CooldownSeconds: 10,
	}
	e := New([]model.AlertRule{rule}, nil)
	e.Evaluate(model.Snapshot{Epoch: 1000, RAMPercent: 95})

	active := e.GetActiveAlerts(model.Snapshot{Epoch: 1020, RAMPercent: 95})
	assert.Empty(t, active, "cooldown elapsed, no longer active regardless of condition")
}

func TestNew_NilPlatformDefaultsToAll(t *testing.T) {
	e := New(nil, nil)
	assert.Equal(t, "all", e.platform.Platform())
}
