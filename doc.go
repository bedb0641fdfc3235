// Package g3d is the GPU resource and command-execution core of a
// real-time forward renderer.
//
// # Overview
//
// g3d sits directly on the gogpu/wgpu hal layer (D3D12 on Windows, the
// noop backend everywhere else) and owns everything whose lifetime
// crosses the CPU/GPU boundary: memory, descriptors, command lists,
// the swap chain, and the synchronizer that decides when the GPU is
// done with any of them.
//
// # Quick Start
//
//	gpu, err := g3d.New(g3d.WithConfig(g3d.DefaultConfig()))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer gpu.Close()
//
//	transforms := gpu.AllocateDynamicMemory(256, "transforms")
//	cbv, _ := gpu.CreateConstantBufferView(transforms)
//
//	cmd, _ := gpu.CreateCmdList("main")
//	for running {
//	    gpu.UpdateMemory(transforms, data, 0)
//	    cmd.Open()
//	    // record passes, call gpu.SetBindings(cmd, ...)
//	    cmd.Close()
//	    gpu.ExecuteCmdLists(cmd)
//	    gpu.PresentFrame()
//	}
//
// # Frames in flight
//
// The CPU runs at most Config.FramesInFlight frames ahead of the GPU.
// Each submitted frame is stamped with a frame id; a frame id is retired
// once the GPU fence has passed it. Everything the GPU might still read
// (dynamic memory slots, descriptor stacks, freed allocations, pipeline
// states) is recycled only after the frame that last used it retires.
//
// # Memory
//
// Static memory is uploaded once through a staging buffer and never
// written again. Dynamic memory is N copies of the same allocation, one
// per frame-in-flight slot, carved from persistently mapped pages;
// [Gpu.UpdateMemory] writes only the current slot.
//
// Memory and views are addressed by opaque handles ([Handle],
// [ViewHandle]). [Gpu.FreeMemory] only queues a handle; the reaper
// releases it, and invalidates its views, once every frame that touched
// it has retired.
//
// # Errors
//
// Constructors and descriptor-level operations return errors. A failing
// native call on the per-frame path (fence, submit, present) is treated
// as unrecoverable: it is logged at error level and panics.
//
// # Threading
//
// A Gpu belongs to one submitting goroutine. The only background work
// is file monitoring for pipeline hot reload (see packages pipeline and
// watch), which communicates with the render goroutine over channels.
package g3d

// Version information
const (
	// Version is the current version of the library
	Version = "0.1.0"

	// VersionMajor is the major version
	VersionMajor = 0

	// VersionMinor is the minor version
	VersionMinor = 1

	// VersionPatch is the patch version
	VersionPatch = 0
)
