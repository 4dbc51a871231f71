//go:build windows

package webgpu

import (
	"strings"
	"testing"

	"github.com/flint-ml/flint/internal/attention"
)

func wantContains(t *testing.T, shader, fragment string) {
	t.Helper()
	if !strings.Contains(shader, fragment) {
		t.Errorf("generated shader missing %q", fragment)
	}
}

func TestForwardShaderConstants(t *testing.T) {
	plan := attention.TilePlan{BlockRows: 8, BlockCols: 16}
	shader := buildForwardShader(plan, 32)

	wantContains(t, shader, "@compute @workgroup_size(8, 1, 1)")
	wantContains(t, shader, "const BR: u32 = 8u;")
	wantContains(t, shader, "const BC: u32 = 16u;")
	wantContains(t, shader, "const D: u32 = 32u;")

	// Key/value tiles hold BC*D floats, the query tile BR*D and the
	// score tile BR*BC.
	wantContains(t, shader, "var<workgroup> k_tile: array<f32, 512>;")
	wantContains(t, shader, "var<workgroup> v_tile: array<f32, 512>;")
	wantContains(t, shader, "var<workgroup> q_tile: array<f32, 256>;")
	wantContains(t, shader, "var<workgroup> s_tile: array<f32, 128>;")
}

func TestForwardShaderBindings(t *testing.T) {
	shader := buildForwardShader(attention.TilePlan{BlockRows: 4, BlockCols: 4}, 8)

	if got := strings.Count(shader, "@binding("); got != 6 {
		t.Errorf("forward shader declares %d bindings, want 6", got)
	}
	wantContains(t, shader, "@binding(3) var<storage, read_write> out")
	wantContains(t, shader, "@binding(4) var<storage, read_write> stats")
	wantContains(t, shader, "@binding(5) var<uniform> params")
}

func TestBackwardShaderConstants(t *testing.T) {
	plan := attention.TilePlan{BlockRows: 16, BlockCols: 16}
	shader := buildBackwardShader(plan, 32)

	wantContains(t, shader, "@compute @workgroup_size(16, 1, 1)")
	wantContains(t, shader, "const W: u32 = 16u;")
	wantContains(t, shader, "const D: u32 = 32u;")

	// Seven W*D operand tiles plus two W*W score tiles.
	if got := strings.Count(shader, "array<f32, 512>"); got != 7 {
		t.Errorf("backward shader declares %d 512-element tiles, want 7", got)
	}
	if got := strings.Count(shader, "array<f32, 256>"); got != 2 {
		t.Errorf("backward shader declares %d 256-element tiles, want 2", got)
	}
}

func TestBackwardShaderBindings(t *testing.T) {
	shader := buildBackwardShader(attention.TilePlan{BlockRows: 4, BlockCols: 4}, 8)

	if got := strings.Count(shader, "@binding("); got != 8 {
		t.Errorf("backward shader declares %d bindings, want 8", got)
	}
	wantContains(t, shader, "@binding(5) var<storage, read> stats")
	wantContains(t, shader, "@binding(6) var<storage, read_write> grads")
	wantContains(t, shader, "@binding(7) var<uniform> params")
}

// Barriers must sit at points every invocation reaches, so none may
// appear inside the blocks gated on the unit index.
func TestShaderBarriersAreUniform(t *testing.T) {
	shaders := map[string]string{
		"forward":  buildForwardShader(attention.TilePlan{BlockRows: 8, BlockCols: 8}, 16),
		"backward": buildBackwardShader(attention.TilePlan{BlockRows: 8, BlockCols: 8}, 16),
	}
	for name, shader := range shaders {
		braceDepth := 0
		gateDepth := -1
		for _, line := range strings.Split(shader, "\n") {
			trimmed := strings.TrimSpace(line)
			if gateDepth < 0 && strings.HasPrefix(trimmed, "if (unit <") {
				gateDepth = braceDepth
			}
			braceDepth += strings.Count(trimmed, "{") - strings.Count(trimmed, "}")
			if gateDepth >= 0 && strings.Contains(trimmed, "workgroupBarrier") {
				t.Errorf("%s shader calls workgroupBarrier inside a gated block", name)
			}
			if gateDepth >= 0 && braceDepth <= gateDepth {
				gateDepth = -1
			}
		}
	}
}

func TestPipelineKeys(t *testing.T) {
	a := attention.TilePlan{BlockRows: 8, BlockCols: 16}
	b := attention.TilePlan{BlockRows: 8, BlockCols: 32}

	if forwardPipelineKey(a, 64) == forwardPipelineKey(b, 64) {
		t.Error("forward keys collide across tile shapes")
	}
	if forwardPipelineKey(a, 64) == forwardPipelineKey(a, 128) {
		t.Error("forward keys collide across head dims")
	}
	if got, want := backwardPipelineKey(a, 64), "attention_backward_w16_d64"; got != want {
		t.Errorf("backward key = %q, want %q", got, want)
	}

	sameShader := buildForwardShader(a, 64)
	if other := buildForwardShader(a, 64); other != sameShader {
		t.Error("shader generation is not deterministic")
	}
}

func TestShaderTemplatesFullyExpanded(t *testing.T) {
	for name, shader := range map[string]string{
		"forward":  buildForwardShader(attention.TilePlan{BlockRows: 3, BlockCols: 5}, 7),
		"backward": buildBackwardShader(attention.TilePlan{BlockRows: 5, BlockCols: 5}, 7),
	} {
		if strings.Contains(shader, "%") {
			t.Errorf("%s shader has unexpanded format verbs:\n%s", name, shader)
		}
	}
}
