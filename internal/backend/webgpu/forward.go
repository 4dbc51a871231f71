//go:build windows

package webgpu

import (
	"time"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/flint-ml/flint/internal/attention"
	"github.com/flint-ml/flint/internal/logger"
	"github.com/flint-ml/flint/internal/metrics"
	"github.com/flint-ml/flint/internal/tensor"
)

// Forward computes attention over [batch, heads, seq, headDim] query,
// key and value tensors on the GPU. It returns the output with the
// same shape plus the per-row softmax max and normalizer shaped
// [batch, heads, seq].
//
// Shape or dtype violations panic. A staging budget that cannot hold a
// single tile surfaces as attention.ErrResourceExceeded before any
// work reaches the device; a failed readback surfaces as
// ErrDeviceFault.
func (b *Backend) Forward(q, k, v *tensor.RawTensor, scale float32) (o, m, l *tensor.RawTensor, err error) {
	const op = "attention forward"
	dm := attentionDims(op, q, k, v)

	plan, err := attention.PlanForward(dm.seq, dm.headDim, b.limits)
	if err != nil {
		metrics.RecordPlanRejection("forward")
		return nil, nil, nil, err
	}

	pipeline := b.getPipeline(forwardPipelineKey(plan, dm.headDim), buildForwardShader(plan, dm.headDim))

	start := time.Now()

	bufQ := b.uploadBuffer(q.Data(), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufQ.Release()
	bufK := b.uploadBuffer(k.Data(), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufK.Release()
	bufV := b.uploadBuffer(v.Data(), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufV.Release()

	//nolint:gosec // G115: ByteSize() returns a non-negative int
	outSize := uint64(q.ByteSize())
	outUsage := wgpu.BufferUsage(wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst)
	bufOut := b.bufferPool.Acquire(outSize, outUsage)
	defer b.bufferPool.Release(bufOut, outSize, outUsage)

	//nolint:gosec // G115: stat element count is a product of validated dims
	statSize := uint64(2 * dm.batch * dm.heads * dm.seq * 4)
	bufStats := b.bufferPool.Acquire(statSize, outUsage)
	defer b.bufferPool.Release(bufStats, statSize, outUsage)

	bufParams := b.uploadUniform(packParams(dm, scale))
	defer bufParams.Release()

	layout := pipeline.GetBindGroupLayout(0)
	bindGroup := b.device.CreateBindGroupSimple(layout, []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, bufQ, 0, outSize),
		wgpu.BufferBindingEntry(1, bufK, 0, outSize),
		wgpu.BufferBindingEntry(2, bufV, 0, outSize),
		wgpu.BufferBindingEntry(3, bufOut, 0, outSize),
		wgpu.BufferBindingEntry(4, bufStats, 0, statSize),
		wgpu.BufferBindingEntry(5, bufParams, 0, 32),
	})
	defer bindGroup.Release()

	encoder := b.device.CreateCommandEncoder(nil)
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	// One workgroup per (head, batch) pair; the row sweep lives inside
	// the shader.
	//nolint:gosec // G115: dimensions validated positive
	pass.DispatchWorkgroups(uint32(dm.heads), uint32(dm.batch), 1)
	pass.End()
	b.queue.Submit(encoder.Finish(nil))

	outData, err := b.readBuffer(bufOut, outSize)
	if err != nil {
		return nil, nil, nil, err
	}
	statData, err := b.readBuffer(bufStats, statSize)
	if err != nil {
		return nil, nil, nil, err
	}

	o = mustRaw(op, q.Shape().Clone())
	m = mustRaw(op, tensor.Shape{dm.batch, dm.heads, dm.seq})
	l = mustRaw(op, tensor.Shape{dm.batch, dm.heads, dm.seq})
	copy(o.Data(), outData)
	half := len(statData) / 2
	copy(m.Data(), statData[:half])
	copy(l.Data(), statData[half:])

	metrics.RecordKernelDuration("forward", time.Since(start))
	metrics.RecordLaunch("forward", plan.StagingBytes, dm.batch*dm.heads)
	logger.Log.Debug("dispatched forward attention",
		"batch", dm.batch, "heads", dm.heads, "seq", dm.seq, "head_dim", dm.headDim,
		"tile_rows", plan.BlockRows, "tile_cols", plan.BlockCols,
		"staging_bytes", plan.StagingBytes)

	if nan, inf := countNonFinite(l.AsFloat32()); nan > 0 || inf > 0 {
		metrics.RecordNumericalInstability("forward", nan, inf)
		logger.Log.Warn("non-finite softmax normalizers after forward pass",
			"nan", nan, "inf", inf)
	}

	return o, m, l, nil
}
