package ir

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfilePresets(t *testing.T) {
	assert.Equal(t, []string{"balanced", "debug", "deterministic-timing", "minimal-size", "throughput"}, ProfilePresetNames())
	for _, name := range ProfilePresetNames() {
		p, ok := ProfilePreset(name)
		require.True(t, ok)
		assert.NoError(t, p.Validate(), name)
	}

	p, _ := ProfilePreset("balanced")
	p.Inlining = "extreme"
	assert.ErrorContains(t, p.Validate(), "unknown inlining")
	assert.Less(t, InlineMinimal.Level(), InlineAggressive.Level())
}

func TestTargetPresets(t *testing.T) {
	assert.Equal(t, []string{"linux-aarch64", "linux-x86_64", "stm32f407"}, TargetPresetNames())

	mcu, ok := TargetPreset("stm32f407")
	require.True(t, ok)
	assert.Equal(t, int64(4), mcu.WordBytes())
	assert.False(t, mcu.Multicore())
	assert.True(t, mcu.HasFeature("dsp"))
	assert.Equal(t, int64(6), mcu.CyclesToNS(1), "rounds up")
	assert.Equal(t, int64(1000), mcu.CyclesToNS(168))

	mcu.ISA.Features[0] = "changed"
	again, _ := TargetPreset("stm32f407")
	assert.Equal(t, "dsp", again.ISA.Features[0])
}

func TestRigorPresets(t *testing.T) {
	cert, ok := RigorPreset("certification")
	require.True(t, ok)
	assert.False(t, cert.ReuseCommitted)
	assert.Equal(t, SeverityError, cert.FidelitySeverity)
	assert.Equal(t, 60*time.Second, cert.Timeout("solver"))
	assert.Equal(t, 30*time.Second, cert.Timeout("interval"))

	cert.EngineTimeouts["solver"] = time.Millisecond
	again, _ := RigorPreset("certification")
	assert.Equal(t, 60*time.Second, again.Timeout("solver"))

	assert.Equal(t, 5*time.Second, Rigor{}.Timeout("any"))
}

func TestResourceUsagePercent(t *testing.T) {
	u := NewResourceUsage("flash", 262144, 1048576)
	assert.Equal(t, int64(2500), u.PercentBP)
	assert.Equal(t, "25.00%", u.Percent())
	assert.Equal(t, int64(0), NewResourceUsage("io", 5, 0).PercentBP)
}
