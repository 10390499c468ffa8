package core

import (
	"fmt"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi"
)

const defaultEntryPoint = "main"

// Shader implements rhi.Shader. The hal module is created eagerly so that
// malformed code fails at creation rather than at pipeline build.
type Shader struct {
	resource
	stage  rhi.ShaderStage
	entry  string
	native hal.ShaderModule
}

var _ rhi.Shader = (*Shader)(nil)

// CreateShader creates a shader module for one stage.
func (d *Device) CreateShader(desc rhi.ShaderDesc) (rhi.Shader, error) {
	if d.destroyed() {
		return nil, rhi.ErrDestroyed
	}
	if desc.Stage < rhi.StageVertex || desc.Stage > rhi.StageCompute {
		return nil, fmt.Errorf("%w: shader %q has no stage", rhi.ErrInvalidDescriptor, desc.Name)
	}
	if desc.Code.Empty() {
		return nil, fmt.Errorf("%w: shader %q has no code", rhi.ErrInvalidDescriptor, desc.Name)
	}
	src, err := d.profile.ShaderSource(desc.Code)
	if err != nil {
		return nil, fmt.Errorf("shader %q: %w", desc.Name, err)
	}
	native, err := d.hal.CreateShaderModule(&hal.ShaderModuleDescriptor{Label: desc.Name, Source: src})
	if err != nil {
		return nil, rhi.NewDeviceError("create shader", err)
	}
	entry := desc.EntryPoint
	if entry == "" {
		entry = defaultEntryPoint
	}
	s := &Shader{stage: desc.Stage, entry: entry, native: native}
	s.setup(d, desc.Name)
	return s, nil
}

// Stage returns the pipeline stage.
func (s *Shader) Stage() rhi.ShaderStage { return s.stage }

// EntryPoint returns the entry function name.
func (s *Shader) EntryPoint() string { return s.entry }

// Destroy releases the module. Pipeline variants already built stay valid;
// building a new one afterwards fails with ErrDestroyed.
func (s *Shader) Destroy() {
	if s.release() {
		s.dev.hal.DestroyShaderModule(s.native)
	}
}
