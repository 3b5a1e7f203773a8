// Opt-in embed of the compiled io_probe.bpf.o, mirroring the teacher's
// internal/watcher/ebpf/bpfobject_embed_linux.go: gated behind its own build
// tag so that a normal build doesn't require the compiled object to be
// present in the tree (it is produced by a separate clang -target bpf step
// outside this module's scope, per spec.md §1).
//
//go:build linux && bpf_embedded

package linux

import _ "embed"

//go:embed io_probe.bpf.o
var embeddedBPFObject []byte

func init() {
	bpfObjectBytes = embeddedBPFObject
}
