// Package cpu implements the CPU attention backend. Execution groups
// run as goroutine groups and the staging budget models the scratch a
// GPU workgroup would hold in shared memory, so a tiling planned here
// behaves the same way it would on a device.
package cpu

import (
	"fmt"
	"math"
	"time"

	"github.com/flint-ml/flint/internal/attention"
	"github.com/flint-ml/flint/internal/device"
	"github.com/flint-ml/flint/internal/logger"
	"github.com/flint-ml/flint/internal/metrics"
	"github.com/flint-ml/flint/internal/parallel"
	"github.com/flint-ml/flint/internal/tensor"
)

// CPUBackend runs the tiled attention kernels on the host, fanning
// batch and head pairs out across a worker pool.
type CPUBackend struct {
	limits device.Limits
	par    parallel.Config
}

// New creates a CPU backend with limits taken from the environment,
// falling back to the defaults when no overrides are set. Malformed
// overrides are logged and ignored rather than failing construction.
func New() *CPUBackend {
	lim, err := device.FromEnv()
	if err != nil {
		logger.Log.Warn("ignoring invalid device limit overrides", "error", err.Error())
		lim = device.Default()
	}
	return NewWithLimits(lim)
}

// NewWithLimits creates a CPU backend with explicit device limits.
func NewWithLimits(lim device.Limits) *CPUBackend {
	if err := lim.Validate(); err != nil {
		panic(fmt.Sprintf("cpu: %v", err))
	}
	return &CPUBackend{
		limits: lim,
		par:    parallel.DefaultConfig(),
	}
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "CPU"
}

// Device returns the compute device.
func (cpu *CPUBackend) Device() tensor.Device {
	return tensor.CPU
}

// Limits returns the staging budget and unit limit plans are sized
// against.
func (cpu *CPUBackend) Limits() device.Limits {
	return cpu.limits
}

// Forward computes attention over [batch, heads, seq, headDim] query,
// key and value tensors. It returns the output with the same shape
// plus the per-row softmax max and normalizer shaped
// [batch, heads, seq], which the backward pass consumes in place of
// the n*n probability matrix.
//
// Shape, dtype or device violations panic. A staging budget that
// cannot hold a single tile surfaces as attention.ErrResourceExceeded
// before any group launches.
func (cpu *CPUBackend) Forward(q, k, v *tensor.RawTensor, scale float32) (o, m, l *tensor.RawTensor, err error) {
	const op = "attention forward"
	dm := attentionDims(op, q, k, v)

	plan, err := attention.PlanForward(dm.seq, dm.headDim, cpu.limits)
	if err != nil {
		metrics.RecordPlanRejection("forward")
		return nil, nil, nil, err
	}

	o = mustRaw(op, q.Shape().Clone())
	m = mustRaw(op, tensor.Shape{dm.batch, dm.heads, dm.seq})
	l = mustRaw(op, tensor.Shape{dm.batch, dm.heads, dm.seq})

	qf, kf, vf := q.AsFloat32(), k.AsFloat32(), v.AsFloat32()
	of, mf, lf := o.AsFloat32(), m.AsFloat32(), l.AsFloat32()

	groups := dm.batch * dm.heads
	logger.Log.Debug("launching forward attention groups",
		"batch", dm.batch, "heads", dm.heads, "seq", dm.seq, "head_dim", dm.headDim,
		"tile_rows", plan.BlockRows, "tile_cols", plan.BlockCols,
		"staging_bytes", plan.StagingBytes, "groups", groups)

	start := time.Now()
	headLen := dm.seq * dm.headDim
	parallel.ForBatchHeads(dm.batch, dm.heads, func(b, h int) {
		base := (b*dm.heads + h) * headLen
		statBase := (b*dm.heads + h) * dm.seq
		attention.ForwardGroup(
			qf[base:base+headLen], kf[base:base+headLen], vf[base:base+headLen],
			of[base:base+headLen], mf[statBase:statBase+dm.seq], lf[statBase:statBase+dm.seq],
			dm.seq, dm.headDim, scale, plan)
	}, cpu.par)

	metrics.RecordKernelDuration("forward", time.Since(start))
	metrics.RecordLaunch("forward", plan.StagingBytes, groups)

	if nan, inf := countNonFinite(lf); nan > 0 || inf > 0 {
		metrics.RecordNumericalInstability("forward", nan, inf)
		logger.Log.Warn("non-finite softmax normalizers after forward pass",
			"nan", nan, "inf", inf)
	}

	return o, m, l, nil
}

// Backward computes the query, key and value gradients given the
// forward output, its gradient and the saved softmax stats. All dense
// tensors are [batch, heads, seq, headDim] and the stats are
// [batch, heads, seq], exactly as Forward returned them.
//
// Shape, dtype or device violations panic. A staging budget too small
// for the fixed backward tile surfaces as
// attention.ErrResourceExceeded before any group launches.
func (cpu *CPUBackend) Backward(q, k, v, o, dO, m, l *tensor.RawTensor, scale float32) (dq, dk, dv *tensor.RawTensor, err error) {
	const op = "attention backward"
	dm := attentionDims(op, q, k, v)
	checkLike(op, "output", o, q.Shape())
	checkLike(op, "output gradient", dO, q.Shape())
	statShape := tensor.Shape{dm.batch, dm.heads, dm.seq}
	checkLike(op, "softmax max", m, statShape)
	checkLike(op, "softmax normalizer", l, statShape)

	plan, err := attention.PlanBackward(dm.seq, dm.headDim, cpu.limits)
	if err != nil {
		metrics.RecordPlanRejection("backward")
		return nil, nil, nil, err
	}

	dq = mustRaw(op, q.Shape().Clone())
	dk = mustRaw(op, q.Shape().Clone())
	dv = mustRaw(op, q.Shape().Clone())

	qf, kf, vf := q.AsFloat32(), k.AsFloat32(), v.AsFloat32()
	of, dof := o.AsFloat32(), dO.AsFloat32()
	mf, lf := m.AsFloat32(), l.AsFloat32()
	dqf, dkf, dvf := dq.AsFloat32(), dk.AsFloat32(), dv.AsFloat32()

	groups := dm.batch * dm.heads
	logger.Log.Debug("launching backward attention groups",
		"batch", dm.batch, "heads", dm.heads, "seq", dm.seq, "head_dim", dm.headDim,
		"tile_width", plan.BlockCols, "staging_bytes", plan.StagingBytes, "groups", groups)

	start := time.Now()
	headLen := dm.seq * dm.headDim
	parallel.ForBatchHeads(dm.batch, dm.heads, func(b, h int) {
		base := (b*dm.heads + h) * headLen
		statBase := (b*dm.heads + h) * dm.seq
		attention.BackwardGroup(
			qf[base:base+headLen], kf[base:base+headLen], vf[base:base+headLen],
			of[base:base+headLen], dof[base:base+headLen],
			mf[statBase:statBase+dm.seq], lf[statBase:statBase+dm.seq],
			dqf[base:base+headLen], dkf[base:base+headLen], dvf[base:base+headLen],
			dm.seq, dm.headDim, scale, plan)
	}, cpu.par)

	metrics.RecordKernelDuration("backward", time.Since(start))
	metrics.RecordLaunch("backward", plan.StagingBytes, groups)

	return dq, dk, dv, nil
}

// attnDims are the unpacked dimensions of a [batch, heads, seq,
// headDim] attention operand.
type attnDims struct {
	batch   int
	heads   int
	seq     int
	headDim int
}

func attentionDims(op string, q, k, v *tensor.RawTensor) attnDims {
	shape := q.Shape()
	if len(shape) != 4 {
		panic(fmt.Sprintf("%s: expected 4D [batch, heads, seq, headDim], got %v", op, shape))
	}
	if !shape.Equal(k.Shape()) || !shape.Equal(v.Shape()) {
		panic(fmt.Sprintf("%s: query, key and value shapes differ: %v, %v, %v",
			op, shape, k.Shape(), v.Shape()))
	}
	for _, r := range []*tensor.RawTensor{q, k, v} {
		if r.DType() != tensor.Float32 {
			panic(fmt.Sprintf("%s: expected float32 tensors, got %v", op, r.DType()))
		}
		if r.Device() != tensor.CPU {
			panic(fmt.Sprintf("%s: expected CPU tensors, got %v", op, r.Device()))
		}
	}
	return attnDims{batch: shape[0], heads: shape[1], seq: shape[2], headDim: shape[3]}
}

func checkLike(op, name string, r *tensor.RawTensor, want tensor.Shape) {
	if !r.Shape().Equal(want) {
		panic(fmt.Sprintf("%s: %s shape %v, want %v", op, name, r.Shape(), want))
	}
	if r.DType() != tensor.Float32 {
		panic(fmt.Sprintf("%s: %s must be float32, got %v", op, name, r.DType()))
	}
	if r.Device() != tensor.CPU {
		panic(fmt.Sprintf("%s: %s must live on the CPU, got %v", op, name, r.Device()))
	}
}

func mustRaw(op string, shape tensor.Shape) *tensor.RawTensor {
	r, err := tensor.NewRaw(shape, tensor.Float32, tensor.CPU)
	if err != nil {
		panic(fmt.Sprintf("%s: failed to create result tensor: %v", op, err))
	}
	return r
}

func countNonFinite(xs []float32) (nan, inf int) {
	for _, x := range xs {
		v := float64(x)
		switch {
		case math.IsNaN(v):
			nan++
		case math.IsInf(v, 0):
			inf++
		}
	}
	return nan, inf
}
