package shaders

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/msl"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/internal/cache"
)

// A module compiles to the same code for every entry point, so results are
// cached per API and source.
type codeKey struct {
	api rhi.API
	sum [sha256.Size]byte
}

var compiled = cache.New[codeKey, rhi.ShaderCode](128)

// CacheStats reports hits and misses of the compiled-code cache.
func CacheStats() cache.Stats { return compiled.Stats() }

// Compile translates WGSL into the code a backend consumes: SPIR-V for
// Vulkan, validated source text for Metal. The Metal path also runs the
// MSL generator so translation errors surface at build time rather than
// at device load.
func Compile(api rhi.API, name string, stage rhi.ShaderStage, entryPoint, wgsl string) (rhi.ShaderDesc, error) {
	desc := rhi.ShaderDesc{Name: name, Stage: stage, EntryPoint: entryPoint}
	key := codeKey{api, sha256.Sum256([]byte(wgsl))}
	code, ok := compiled.Get(key)
	if !ok {
		var err error
		if code, err = compile(api, name, wgsl); err != nil {
			return desc, err
		}
		compiled.Set(key, code)
	}
	desc.Code = rhi.ShaderCode{SPIRV: slices.Clone(code.SPIRV), Source: code.Source}
	return desc, nil
}

func compile(api rhi.API, name, wgsl string) (rhi.ShaderCode, error) {
	var code rhi.ShaderCode
	switch api {
	case rhi.APIVulkan:
		spv, err := naga.Compile(wgsl)
		if err != nil {
			return code, fmt.Errorf("shaders: compile %q: %w", name, err)
		}
		if len(spv)%4 != 0 {
			return code, fmt.Errorf("shaders: compile %q: SPIR-V of %d bytes", name, len(spv))
		}
		words := make([]uint32, len(spv)/4)
		for i := range words {
			words[i] = binary.LittleEndian.Uint32(spv[4*i:])
		}
		code.SPIRV = words
	case rhi.APIMetal:
		ast, err := naga.Parse(wgsl)
		if err != nil {
			return code, fmt.Errorf("shaders: compile %q: %w", name, err)
		}
		module, err := naga.LowerWithSource(ast, wgsl)
		if err != nil {
			return code, fmt.Errorf("shaders: compile %q: %w", name, err)
		}
		if _, _, err := msl.Compile(module, msl.DefaultOptions()); err != nil {
			return code, fmt.Errorf("shaders: translate %q to MSL: %w", name, err)
		}
		code.Source = wgsl
	default:
		return code, fmt.Errorf("%w: no shader target for %s", rhi.ErrUnsupported, api)
	}
	return code, nil
}
