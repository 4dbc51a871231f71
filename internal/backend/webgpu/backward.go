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

// Backward computes the query, key and value gradients on the GPU
// given the forward output, its gradient and the saved softmax stats.
// All dense tensors are [batch, heads, seq, headDim] and the stats are
// [batch, heads, seq], exactly as Forward returned them.
//
// The stats upload packs m and l into one buffer and the gradients
// come back as one buffer of three slabs; both are split apart here so
// callers only ever see separate tensors.
func (b *Backend) Backward(q, k, v, o, dO, m, l *tensor.RawTensor, scale float32) (dq, dk, dv *tensor.RawTensor, err error) {
	const op = "attention backward"
	dm := attentionDims(op, q, k, v)
	checkLike(op, "output", o, q.Shape())
	checkLike(op, "output gradient", dO, q.Shape())
	statShape := tensor.Shape{dm.batch, dm.heads, dm.seq}
	checkLike(op, "softmax max", m, statShape)
	checkLike(op, "softmax normalizer", l, statShape)

	plan, err := attention.PlanBackward(dm.seq, dm.headDim, b.limits)
	if err != nil {
		metrics.RecordPlanRejection("backward")
		return nil, nil, nil, err
	}

	pipeline := b.getPipeline(backwardPipelineKey(plan, dm.headDim), buildBackwardShader(plan, dm.headDim))

	start := time.Now()

	inUsage := wgpu.BufferUsage(wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc)
	bufQ := b.uploadBuffer(q.Data(), inUsage)
	defer bufQ.Release()
	bufK := b.uploadBuffer(k.Data(), inUsage)
	defer bufK.Release()
	bufV := b.uploadBuffer(v.Data(), inUsage)
	defer bufV.Release()
	bufO := b.uploadBuffer(o.Data(), inUsage)
	defer bufO.Release()
	bufDO := b.uploadBuffer(dO.Data(), inUsage)
	defer bufDO.Release()

	stats := make([]byte, 0, len(m.Data())+len(l.Data()))
	stats = append(stats, m.Data()...)
	stats = append(stats, l.Data()...)
	bufStats := b.uploadBuffer(stats, inUsage)
	defer bufStats.Release()
	//nolint:gosec // G115: stat byte count is a product of validated dims
	statSize := uint64(len(stats))

	//nolint:gosec // G115: ByteSize() returns a non-negative int
	denseSize := uint64(q.ByteSize())
	gradSize := 3 * denseSize
	gradUsage := wgpu.BufferUsage(wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst)
	bufGrads := b.bufferPool.Acquire(gradSize, gradUsage)
	defer b.bufferPool.Release(bufGrads, gradSize, gradUsage)

	bufParams := b.uploadUniform(packParams(dm, scale))
	defer bufParams.Release()

	layout := pipeline.GetBindGroupLayout(0)
	bindGroup := b.device.CreateBindGroupSimple(layout, []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, bufQ, 0, denseSize),
		wgpu.BufferBindingEntry(1, bufK, 0, denseSize),
		wgpu.BufferBindingEntry(2, bufV, 0, denseSize),
		wgpu.BufferBindingEntry(3, bufO, 0, denseSize),
		wgpu.BufferBindingEntry(4, bufDO, 0, denseSize),
		wgpu.BufferBindingEntry(5, bufStats, 0, statSize),
		wgpu.BufferBindingEntry(6, bufGrads, 0, gradSize),
		wgpu.BufferBindingEntry(7, bufParams, 0, 32),
	})
	defer bindGroup.Release()

	encoder := b.device.CreateCommandEncoder(nil)
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	//nolint:gosec // G115: dimensions validated positive
	pass.DispatchWorkgroups(uint32(dm.heads), uint32(dm.batch), 1)
	pass.End()
	b.queue.Submit(encoder.Finish(nil))

	gradData, err := b.readBuffer(bufGrads, gradSize)
	if err != nil {
		return nil, nil, nil, err
	}

	dq = mustRaw(op, q.Shape().Clone())
	dk = mustRaw(op, q.Shape().Clone())
	dv = mustRaw(op, q.Shape().Clone())
	slab := int(denseSize)
	copy(dq.Data(), gradData[:slab])
	copy(dk.Data(), gradData[slab:2*slab])
	copy(dv.Data(), gradData[2*slab:])

	metrics.RecordKernelDuration("backward", time.Since(start))
	metrics.RecordLaunch("backward", plan.StagingBytes, dm.batch*dm.heads)
	logger.Log.Debug("dispatched backward attention",
		"batch", dm.batch, "heads", dm.heads, "seq", dm.seq, "head_dim", dm.headDim,
		"tile_width", plan.BlockCols, "staging_bytes", plan.StagingBytes)

	return dq, dk, dv, nil
}
