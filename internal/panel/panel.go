// Package panel drives the simulator's sensitivity dialog at the level the
// orchestrator thinks in: open the workspace, load a template, configure the
// parameter and output checkboxes for a mode. It translates those intents
// into invoke/set-value calls on opaque control keys.
package panel

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/drillops/cerberus/internal/model"
)

const (
	checkboxOn  = "1"
	checkboxOff = "0"
)

// Surface is the subset of bridge operations the panel needs.
type Surface interface {
	Invoke(ctx context.Context, key string, timeout time.Duration) error
	SetValue(ctx context.Context, key, value string, timeout time.Duration) error
}

// Panel holds the control-key mapping and timeouts for one scan config.
type Panel struct {
	controls model.ControlsConfig
	timeouts model.TimeoutsConfig
	surface  Surface
	logger   *log.Logger
}

func New(cfg model.ScanConfig, surface Surface, logger *log.Logger) *Panel {
	return &Panel{
		controls: cfg.Controls,
		timeouts: cfg.Timeouts,
		surface:  surface,
		logger:   logger,
	}
}

// OpenWorkspace opens the sensitivity dialog. Idempotent from the helper's
// side: re-invoking while the dialog is open focuses it.
func (p *Panel) OpenWorkspace(ctx context.Context) error {
	p.logf("opening sensitivity workspace")
	return p.invoke(ctx, p.controls.OpenSensitivity)
}

// LoadTemplate selects the named calculation template. The name must be one
// of the configured template keys.
func (p *Panel) LoadTemplate(ctx context.Context, name string) error {
	key, ok := p.controls.Templates[name]
	if !ok {
		return fmt.Errorf("unknown template %q", name)
	}
	p.logf("loading template %q", name)
	if err := p.invoke(ctx, p.controls.OpenTemplate); err != nil {
		return err
	}
	return p.invoke(ctx, key)
}

// ConfigureMode sets the parameter and output checkboxes for one mode.
// Checkbox writes are idempotent: setting an already-set box is a no-op on
// the simulator side, so the sequence is safe to replay on resume.
func (p *Panel) ConfigureMode(ctx context.Context, mode model.Mode) error {
	p.logf("configuring mode %s", mode)

	if err := p.invoke(ctx, p.controls.ParametersTab); err != nil {
		return err
	}
	parameters := []struct {
		key string
		on  bool
	}{
		{p.controls.CheckDensity, true},
		{p.controls.CheckDepth, true},
		{p.controls.CheckRIH, mode == model.ModeRIH},
		{p.controls.CheckPOOH, mode == model.ModePOOH},
	}
	for _, box := range parameters {
		if err := p.setCheckbox(ctx, box.key, box.on); err != nil {
			return err
		}
	}

	if err := p.invoke(ctx, p.controls.OutputsTab); err != nil {
		return err
	}
	outputs := []struct {
		key string
		on  bool
	}{
		{p.controls.CheckMinSurfaceWeightRIH, mode == model.ModeRIH},
		{p.controls.CheckMaxSurfaceWeightPOOH, mode == model.ModePOOH},
		{p.controls.CheckMaxPipeStressPOOH, mode == model.ModePOOH},
	}
	for _, box := range outputs {
		if err := p.setCheckbox(ctx, box.key, box.on); err != nil {
			return err
		}
	}

	// Leave the dialog on the parameters tab so value population starts
	// from a known place.
	return p.invoke(ctx, p.controls.ParametersTab)
}

func (p *Panel) invoke(ctx context.Context, key string) error {
	return p.surface.Invoke(ctx, key, p.controlTimeout())
}

func (p *Panel) setCheckbox(ctx context.Context, key string, on bool) error {
	value := checkboxOff
	if on {
		value = checkboxOn
	}
	return p.surface.SetValue(ctx, key, value, p.valueTimeout())
}

func (p *Panel) controlTimeout() time.Duration {
	return time.Duration(p.timeouts.ControlSec) * time.Second
}

func (p *Panel) valueTimeout() time.Duration {
	return time.Duration(p.timeouts.ValueSec) * time.Second
}

func (p *Panel) logf(format string, args ...any) {
	if p.logger != nil {
		p.logger.Printf("[panel] "+format, args...)
	}
}
