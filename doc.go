// Package assetline provides an embeddable asset-loading runtime for Go.
//
// Assetline loads game content from layered packs with bounded concurrency:
// asynchronous positioned reads, optional background decompression on a
// work queue, and typed resource managers with mark-based synchronization.
//
// # Quick Start
//
// Open a runtime over a content directory and load some assets:
//
//	rt, err := assetline.Open(
//	    assetline.WithConcurrency(2),
//	    assetline.WithBackgroundDecompression(256<<10),
//	)
//	if err != nil {
//	    panic(err)
//	}
//	defer rt.Close()
//
//	if err := rt.MountDir("./content"); err != nil {
//	    panic(err)
//	}
//
//	rm, _ := rt.NewManager()
//	defer rm.Close()
//
//	terrain := rm.LoadData("level1/terrain.bin")
//	atlas := rm.LoadData("ui/atlas.tex")
//	tok := rm.Mark()
//
//	// ... keep simulating while the loads run ...
//
//	rm.Wait(tok)
//	use(rm.Data(terrain), rm.Data(atlas))
//
// # Packs
//
// Content is resolved through an ordered registry of pack modules. Earlier
// mounts shadow later ones, so a patch directory mounted first overrides
// the shipped archive behind it:
//
//	rt.MountDir("./patch")   // consulted first
//	rt.MountDir("./content") // base assets
//
// Loose files may be stored compressed next to their logical name
// ("atlas.tex.zst"); resolution is transparent and decompression happens
// during the load, in the background for large entries when enabled.
//
// # Resources and Links
//
// Each manager owns an array of resource slots addressed by stable 1-based
// IDs. Slots can share one payload across managers through link cycles:
// strong links keep the payload alive, weak links observe it and turn
// stale when the last strong owner is freed. See the resman package for
// the full model.
//
// # Key Features
//
//   - Bounded-concurrency work queue with FIFO dispatch and cancellation
//   - Asynchronous reads with submit/poll/wait/abort semantics
//   - zstd and lz4 pack codecs with pooled coders
//   - Chunked background decompression overlapping I/O with CPU
//   - Mark-based load synchronization (Sync/Wait)
//   - Local, in-memory, S3 and MinIO pack storage
package assetline
