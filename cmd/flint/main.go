// Package main provides the Flint attention engine CLI.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flint-ml/flint/attention"
	"github.com/flint-ml/flint/backend/cpu"
	"github.com/flint-ml/flint/backend/webgpu"
	"github.com/flint-ml/flint/internal/logger"
	"github.com/flint-ml/flint/tensor"
)

const version = "v0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("Flint %s\n", version)
	case "bench":
		bench(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("Flint - Tiled Attention for Go")
	fmt.Printf("Version: %s\n\n", version)
	fmt.Println("Commands:")
	fmt.Println("  version    Show version")
	fmt.Println("  bench      Time the forward and backward kernels")
}

func bench(args []string) {
	fs := flag.NewFlagSet("bench", flag.ExitOnError)
	var (
		batch       = fs.Int("batch", 1, "Batch size")
		heads       = fs.Int("heads", 8, "Attention heads")
		seqLen      = fs.Int("seqlen", 512, "Sequence length")
		headDim     = fs.Int("headdim", 64, "Head dimension")
		backendName = fs.String("backend", "cpu", "Backend: cpu or webgpu")
		iters       = fs.Int("iters", 10, "Timed iterations per kernel")
		warmup      = fs.Int("warmup", 2, "Warmup iterations per kernel")
		logLevel    = fs.String("log-level", "info", "Log level: debug, info, warn, error")
		logFormat   = fs.String("log-format", "console", "Log format: console or json")
		metricsAddr = fs.String("metrics", "", "Address to serve Prometheus metrics (empty disables)")
	)
	fs.Parse(args) //nolint:errcheck // ExitOnError

	logger.Setup(*logLevel, *logFormat)

	if *metricsAddr != "" {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			logger.Log.Info("serving metrics", "addr", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
				logger.Log.Error("metrics server stopped", "error", err.Error())
			}
		}()
	}

	backend, cleanup, err := pickBackend(*backendName)
	if err != nil {
		logger.Log.Error("backend unavailable", "backend", *backendName, "error", err.Error())
		os.Exit(1)
	}
	defer cleanup()

	shape := tensor.Shape{*batch, *heads, *seqLen, *headDim}
	scale := attention.Scale(*headDim)

	logger.Log.Info("benchmarking attention kernels",
		"backend", backend.Name(), "batch", *batch, "heads", *heads,
		"seq", *seqLen, "head_dim", *headDim, "iters", *iters)

	fmt.Printf("Flint attention benchmark\n")
	fmt.Printf("  Backend: %s\n", backend.Name())
	fmt.Printf("  Shape:   %v (scale %.4f)\n", shape, scale)
	fmt.Printf("  Iters:   %d (+%d warmup)\n\n", *iters, *warmup)

	q := randomTensor(shape)
	k := randomTensor(shape)
	v := randomTensor(shape)
	dO := randomTensor(shape)

	var o, m, l *tensor.RawTensor
	run := func(name string, flops float64, fn func() error) {
		for i := 0; i < *warmup; i++ {
			if err := fn(); err != nil {
				logger.Log.Error("kernel failed", "kernel", name, "error", err.Error())
				os.Exit(1)
			}
		}
		start := time.Now()
		for i := 0; i < *iters; i++ {
			if err := fn(); err != nil {
				logger.Log.Error("kernel failed", "kernel", name, "error", err.Error())
				os.Exit(1)
			}
		}
		perIter := time.Since(start) / time.Duration(*iters)
		fmt.Printf("  %-8s %12v/iter  %8.2f GFLOP/s\n",
			name, perIter.Round(time.Microsecond), flops/perIter.Seconds()/1e9)
	}

	// 2*N^2*d multiply-adds for scores plus the same for the value
	// blend, per (batch, head) group; backward recomputes scores and
	// produces three gradients for roughly 2.5x the forward work.
	fwdFlops := 4.0 * float64(*batch) * float64(*heads) *
		float64(*seqLen) * float64(*seqLen) * float64(*headDim)

	run("forward", fwdFlops, func() error {
		o, m, l, err = backend.Forward(q, k, v, scale)
		return err
	})
	run("backward", 2.5*fwdFlops, func() error {
		_, _, _, berr := backend.Backward(q, k, v, o, dO, m, l, scale)
		return berr
	})
}

func pickBackend(name string) (attention.Backend, func(), error) {
	switch name {
	case "cpu":
		return cpu.New(), func() {}, nil
	case "webgpu", "gpu":
		gpu, err := webgpu.New()
		if err != nil {
			return nil, nil, err
		}
		return gpu, gpu.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", name)
	}
}

func randomTensor(shape tensor.Shape) *tensor.RawTensor {
	data := make([]float32, shape.NumElements())
	for i := range data {
		//nolint:gosec // math/rand is appropriate for benchmark inputs
		data[i] = rand.Float32()*2 - 1
	}
	r, err := tensor.FromFloat32(data, shape)
	if err != nil {
		logger.Log.Error("failed to build input tensor", "error", err.Error())
		os.Exit(1)
	}
	return r
}
