package panel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drillops/cerberus/internal/model"
)

type call struct {
	op    string // "invoke" or "set"
	key   string
	value string
}

type fakeSurface struct {
	calls   []call
	failKey string
	failErr error
}

func (f *fakeSurface) Invoke(ctx context.Context, key string, timeout time.Duration) error {
	f.calls = append(f.calls, call{op: "invoke", key: key})
	if key == f.failKey {
		return f.failErr
	}
	return nil
}

func (f *fakeSurface) SetValue(ctx context.Context, key, value string, timeout time.Duration) error {
	f.calls = append(f.calls, call{op: "set", key: key, value: value})
	if key == f.failKey {
		return f.failErr
	}
	return nil
}

func testConfig() model.ScanConfig {
	cfg := model.DefaultConfig().Scan
	cfg.Controls.Templates = map[string]string{"auto": "tpl_auto", "manual": "tpl_manual"}
	return cfg
}

func TestLoadTemplate(t *testing.T) {
	surface := &fakeSurface{}
	p := New(testConfig(), surface, nil)

	require.NoError(t, p.LoadTemplate(context.Background(), "manual"))
	require.Len(t, surface.calls, 2)
	assert.Equal(t, testConfig().Controls.OpenTemplate, surface.calls[0].key)
	assert.Equal(t, "tpl_manual", surface.calls[1].key)
}

func TestLoadTemplate_UnknownName(t *testing.T) {
	surface := &fakeSurface{}
	p := New(testConfig(), surface, nil)

	err := p.LoadTemplate(context.Background(), "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown template")
	assert.Empty(t, surface.calls, "unknown template must not touch the surface")
}

func TestConfigureMode_RIH(t *testing.T) {
	cfg := testConfig()
	surface := &fakeSurface{}
	p := New(cfg, surface, nil)

	require.NoError(t, p.ConfigureMode(context.Background(), model.ModeRIH))

	controls := cfg.Controls
	assert.Equal(t, []call{
		{op: "invoke", key: controls.ParametersTab},
		{op: "set", key: controls.CheckDensity, value: "1"},
		{op: "set", key: controls.CheckDepth, value: "1"},
		{op: "set", key: controls.CheckRIH, value: "1"},
		{op: "set", key: controls.CheckPOOH, value: "0"},
		{op: "invoke", key: controls.OutputsTab},
		{op: "set", key: controls.CheckMinSurfaceWeightRIH, value: "1"},
		{op: "set", key: controls.CheckMaxSurfaceWeightPOOH, value: "0"},
		{op: "set", key: controls.CheckMaxPipeStressPOOH, value: "0"},
		{op: "invoke", key: controls.ParametersTab},
	}, surface.calls)
}

func TestConfigureMode_POOH(t *testing.T) {
	cfg := testConfig()
	surface := &fakeSurface{}
	p := New(cfg, surface, nil)

	require.NoError(t, p.ConfigureMode(context.Background(), model.ModePOOH))

	controls := cfg.Controls
	byKey := map[string]string{}
	for _, c := range surface.calls {
		if c.op == "set" {
			byKey[c.key] = c.value
		}
	}
	assert.Equal(t, "0", byKey[controls.CheckRIH])
	assert.Equal(t, "1", byKey[controls.CheckPOOH])
	assert.Equal(t, "0", byKey[controls.CheckMinSurfaceWeightRIH])
	assert.Equal(t, "1", byKey[controls.CheckMaxSurfaceWeightPOOH])
	assert.Equal(t, "1", byKey[controls.CheckMaxPipeStressPOOH])
}

func TestConfigureMode_SurfaceFailureStopsSequence(t *testing.T) {
	cfg := testConfig()
	boom := errors.New("window gone")
	surface := &fakeSurface{failKey: cfg.Controls.CheckDepth, failErr: boom}
	p := New(cfg, surface, nil)

	err := p.ConfigureMode(context.Background(), model.ModeRIH)
	require.ErrorIs(t, err, boom)
	// ParametersTab, density, depth — nothing after the failing write.
	assert.Len(t, surface.calls, 3)
}
