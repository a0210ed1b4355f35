// Package vm implements the bluebook virtual machine.
//
// This package contains:
//   - Tagged immediate values and the arena-backed object memory
//   - Classes, metaclasses, method dictionaries and method lookup
//   - Compiled methods, the closure bytecode set, its builder and verifier
//   - Heap-allocated contexts and block closures with explicit unwinding
//   - The bytecode interpreter, primitive table and send-site cache
//   - The cooperative process scheduler
//   - Graph validation, snapshots and the mark-sweep collector
package vm
