// Package pipeline compiles render pipelines from WGSL and root
// signature files and swaps them in safely while frames are in flight.
//
// A [State] keeps two pipeline slots. A file change compiles and checks
// the new sources on the watcher goroutine and posts the result; the
// submitting goroutine picks it up in [State.ApplyState] and rebuilds a
// slot only once the last frame that used that slot has retired. A
// pipeline that fails to compile never replaces a working one, and a
// State whose first compile failed simply draws nothing until the files
// are fixed.
//
// Root signatures live in JSON files:
//
//	{
//	  "label": "forward",
//	  "parameters": [
//	    {"kind": "constants", "visibility": ["vertex"], "values": 16},
//	    {"kind": "cbv", "visibility": ["vertex", "fragment"]},
//	    {"kind": "table", "visibility": ["fragment"],
//	     "ranges": [{"kind": "srv", "count": 1, "sampleType": "depth"}],
//	     "samplers": [{"filter": "linear", "address": "clamp", "compare": "less-equal"}]}
//	  ]
//	}
//
// Parameter i is @group(i) in WGSL. Constants and cbv parameters use
// @binding(0); a table's views take bindings 0..n-1 in range order and
// its samplers follow.
package pipeline
