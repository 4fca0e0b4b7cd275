// Package vm implements the mixed-mode runtime.
//
// This package contains:
//   - Classes, objects and the core library
//   - The IR interpreter and frame handling
//   - The mixed-mode controller that promotes hot units
//   - The background JIT that lowers IR into native closures
//   - Call-site, field and constant caches guarded by switch points
//   - The content store and the failure ledger
package vm
