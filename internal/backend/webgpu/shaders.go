//go:build windows

package webgpu

import (
	"fmt"

	"github.com/flint-ml/flint/internal/attention"
)

// Workgroup arrays must be sized at shader compile time, so the WGSL
// below is generated per tile shape and head dim and cached under a
// key carrying both. Sequence length, batch and head count stay
// runtime parameters, which keeps one compiled pipeline valid for any
// workload sharing a tiling.

func forwardPipelineKey(p attention.TilePlan, headDim int) string {
	return fmt.Sprintf("attention_forward_%dx%d_d%d", p.BlockRows, p.BlockCols, headDim)
}

func backwardPipelineKey(p attention.TilePlan, headDim int) string {
	return fmt.Sprintf("attention_backward_w%d_d%d", p.BlockCols, headDim)
}

func buildForwardShader(p attention.TilePlan, headDim int) string {
	return fmt.Sprintf(forwardShaderTemplate,
		p.BlockRows, p.BlockCols, headDim,
		p.BlockCols*headDim, p.BlockRows*headDim, p.BlockRows*p.BlockCols)
}

func buildBackwardShader(p attention.TilePlan, headDim int) string {
	w := p.BlockCols
	return fmt.Sprintf(backwardShaderTemplate, w, headDim, w*headDim, w*w)
}

// forwardShaderTemplate is the tiled attention forward pass. One
// workgroup owns one batch and head pair; each invocation owns one
// query row per row tile and the tiles are staged cooperatively.
// Layout mirrors the CPU kernel: column tiles outer, row tiles inner,
// a barrier between every staging phase and the reads that follow.
//
// The stats buffer packs the row maxima in its first half and the
// normalizers in its second half, keeping the pass within the storage
// buffer binding budget.
const forwardShaderTemplate = `struct Params {
    batch: u32,
    heads: u32,
    seq_len: u32,
    head_dim: u32,
    scale: f32,
    _pad0: u32,
    _pad1: u32,
    _pad2: u32,
}

@group(0) @binding(0) var<storage, read> q: array<f32>;
@group(0) @binding(1) var<storage, read> k: array<f32>;
@group(0) @binding(2) var<storage, read> v: array<f32>;
@group(0) @binding(3) var<storage, read_write> out: array<f32>;
@group(0) @binding(4) var<storage, read_write> stats: array<f32>;
@group(0) @binding(5) var<uniform> params: Params;

const BR: u32 = %[1]du;
const BC: u32 = %[2]du;
const D: u32 = %[3]du;
const NEG_INF: f32 = -1e30;

var<workgroup> k_tile: array<f32, %[4]d>;
var<workgroup> v_tile: array<f32, %[4]d>;
var<workgroup> q_tile: array<f32, %[5]d>;
var<workgroup> s_tile: array<f32, %[6]d>;

@compute @workgroup_size(%[1]d, 1, 1)
fn main(@builtin(workgroup_id) wid: vec3<u32>,
        @builtin(local_invocation_id) lid: vec3<u32>) {
    let head = wid.x;
    let batch = wid.y;
    let unit = lid.x;
    let n = params.seq_len;

    let group = batch * params.heads + head;
    let base = group * n * D;
    let m_base = group * n;
    let l_base = params.batch * params.heads * n + group * n;

    // Seed running stats so the first merge of every row is a plain
    // store.
    for (var r = unit; r < n; r += BR) {
        stats[m_base + r] = NEG_INF;
        stats[l_base + r] = 0.0;
        for (var dd = 0u; dd < D; dd += 1u) {
            out[base + r * D + dd] = 0.0;
        }
    }
    workgroupBarrier();

    let col_blocks = (n + BC - 1u) / BC;
    let row_blocks = (n + BR - 1u) / BR;

    for (var j = 0u; j < col_blocks; j += 1u) {
        let col_start = j * BC;
        let cols = min(BC, n - col_start);

        for (var c = unit; c < cols; c += BR) {
            let src = base + (col_start + c) * D;
            for (var dd = 0u; dd < D; dd += 1u) {
                k_tile[c * D + dd] = k[src + dd];
                v_tile[c * D + dd] = v[src + dd];
            }
        }
        workgroupBarrier();

        for (var i = 0u; i < row_blocks; i += 1u) {
            let row_start = i * BR;
            let rows = min(BR, n - row_start);

            if (unit < rows) {
                let src = base + (row_start + unit) * D;
                for (var dd = 0u; dd < D; dd += 1u) {
                    q_tile[unit * D + dd] = q[src + dd];
                }
            }
            workgroupBarrier();

            if (unit < rows) {
                var tile_max = NEG_INF;
                for (var c = 0u; c < cols; c += 1u) {
                    var dot = 0.0;
                    for (var dd = 0u; dd < D; dd += 1u) {
                        dot += q_tile[unit * D + dd] * k_tile[c * D + dd];
                    }
                    let s = dot * params.scale;
                    s_tile[unit * BC + c] = s;
                    tile_max = max(tile_max, s);
                }

                var tile_sum = 0.0;
                for (var c = 0u; c < cols; c += 1u) {
                    let p = exp(s_tile[unit * BC + c] - tile_max);
                    s_tile[unit * BC + c] = p;
                    tile_sum += p;
                }

                let g = row_start + unit;
                let m_old = stats[m_base + g];
                let l_old = stats[l_base + g];
                let new_max = max(m_old, tile_max);
                let corr_old = exp(m_old - new_max);
                let corr_new = exp(tile_max - new_max);
                let new_sum = corr_old * l_old + corr_new * tile_sum;

                let keep = corr_old * l_old / new_sum;
                let blend = corr_new / new_sum;
                for (var dd = 0u; dd < D; dd += 1u) {
                    var acc = out[base + g * D + dd] * keep;
                    for (var c = 0u; c < cols; c += 1u) {
                        acc += blend * s_tile[unit * BC + c] * v_tile[c * D + dd];
                    }
                    out[base + g * D + dd] = acc;
                }

                stats[m_base + g] = new_max;
                stats[l_base + g] = new_sum;
            }
            workgroupBarrier();
        }
    }
}
`

// backwardShaderTemplate is the tiled attention backward pass with
// square tiles. Probabilities come from the saved stats, each
// invocation owns a query row while scores and score gradients are
// produced and then the key/value column with the same index while the
// on-chip accumulators fold, so no slot is ever written concurrently.
//
// The grads buffer packs dq, dk and dv as three consecutive slabs,
// keeping the pass within the storage buffer binding budget.
const backwardShaderTemplate = `struct Params {
    batch: u32,
    heads: u32,
    seq_len: u32,
    head_dim: u32,
    scale: f32,
    _pad0: u32,
    _pad1: u32,
    _pad2: u32,
}

@group(0) @binding(0) var<storage, read> q: array<f32>;
@group(0) @binding(1) var<storage, read> k: array<f32>;
@group(0) @binding(2) var<storage, read> v: array<f32>;
@group(0) @binding(3) var<storage, read> o: array<f32>;
@group(0) @binding(4) var<storage, read> dout: array<f32>;
@group(0) @binding(5) var<storage, read> stats: array<f32>;
@group(0) @binding(6) var<storage, read_write> grads: array<f32>;
@group(0) @binding(7) var<uniform> params: Params;

const W: u32 = %[1]du;
const D: u32 = %[2]du;

var<workgroup> k_tile: array<f32, %[3]d>;
var<workgroup> v_tile: array<f32, %[3]d>;
var<workgroup> q_tile: array<f32, %[3]d>;
var<workgroup> o_tile: array<f32, %[3]d>;
var<workgroup> do_tile: array<f32, %[3]d>;
var<workgroup> dk_tile: array<f32, %[3]d>;
var<workgroup> dv_tile: array<f32, %[3]d>;
var<workgroup> p_tile: array<f32, %[4]d>;
var<workgroup> ds_tile: array<f32, %[4]d>;

@compute @workgroup_size(%[1]d, 1, 1)
fn main(@builtin(workgroup_id) wid: vec3<u32>,
        @builtin(local_invocation_id) lid: vec3<u32>) {
    let head = wid.x;
    let batch = wid.y;
    let unit = lid.x;
    let n = params.seq_len;

    let group = batch * params.heads + head;
    let base = group * n * D;
    let m_base = group * n;
    let l_base = params.batch * params.heads * n + group * n;
    let total = params.batch * params.heads * n * D;

    // dq accumulates across column tiles and must start clean. dk and
    // dv rows are written exactly once per column sweep.
    for (var r = unit; r < n; r += W) {
        for (var dd = 0u; dd < D; dd += 1u) {
            grads[base + r * D + dd] = 0.0;
        }
    }
    workgroupBarrier();

    let col_blocks = (n + W - 1u) / W;
    let row_blocks = col_blocks;

    for (var j = 0u; j < col_blocks; j += 1u) {
        let col_start = j * W;
        let cols = min(W, n - col_start);

        for (var c = unit; c < cols; c += W) {
            let src = base + (col_start + c) * D;
            for (var dd = 0u; dd < D; dd += 1u) {
                k_tile[c * D + dd] = k[src + dd];
                v_tile[c * D + dd] = v[src + dd];
                dk_tile[c * D + dd] = 0.0;
                dv_tile[c * D + dd] = 0.0;
            }
        }
        workgroupBarrier();

        for (var i = 0u; i < row_blocks; i += 1u) {
            let row_start = i * W;
            let rows = min(W, n - row_start);

            if (unit < rows) {
                let src = base + (row_start + unit) * D;
                for (var dd = 0u; dd < D; dd += 1u) {
                    q_tile[unit * D + dd] = q[src + dd];
                    o_tile[unit * D + dd] = o[src + dd];
                    do_tile[unit * D + dd] = dout[src + dd];
                }
            }
            workgroupBarrier();

            if (unit < rows) {
                let g = row_start + unit;
                let mi = stats[m_base + g];
                let li = stats[l_base + g];

                for (var c = 0u; c < cols; c += 1u) {
                    var dot = 0.0;
                    for (var dd = 0u; dd < D; dd += 1u) {
                        dot += q_tile[unit * D + dd] * k_tile[c * D + dd];
                    }
                    p_tile[unit * W + c] = exp(dot * params.scale - mi) / li;
                }

                var row_dot = 0.0;
                for (var dd = 0u; dd < D; dd += 1u) {
                    row_dot += do_tile[unit * D + dd] * o_tile[unit * D + dd];
                }

                for (var c = 0u; c < cols; c += 1u) {
                    var dp = 0.0;
                    for (var dd = 0u; dd < D; dd += 1u) {
                        dp += do_tile[unit * D + dd] * v_tile[c * D + dd];
                    }
                    ds_tile[unit * W + c] = p_tile[unit * W + c] * (dp - row_dot);
                }

                for (var dd = 0u; dd < D; dd += 1u) {
                    var acc = 0.0;
                    for (var c = 0u; c < cols; c += 1u) {
                        acc += ds_tile[unit * W + c] * k_tile[c * D + dd];
                    }
                    grads[base + g * D + dd] += params.scale * acc;
                }
            }
            workgroupBarrier();

            if (unit < cols) {
                for (var r = 0u; r < rows; r += 1u) {
                    let p = p_tile[r * W + unit];
                    let ds = params.scale * ds_tile[r * W + unit];
                    for (var dd = 0u; dd < D; dd += 1u) {
                        dv_tile[unit * D + dd] += p * do_tile[r * D + dd];
                        dk_tile[unit * D + dd] += ds * q_tile[r * D + dd];
                    }
                }
            }
            workgroupBarrier();
        }

        for (var c = unit; c < cols; c += W) {
            let dst = base + (col_start + c) * D;
            for (var dd = 0u; dd < D; dd += 1u) {
                grads[total + dst + dd] = dk_tile[c * D + dd];
                grads[2u * total + dst + dd] = dv_tile[c * D + dd];
            }
        }
        workgroupBarrier();
    }
}
`
