// Package pulse implements the zone-based ownership discipline that manages
// the engine's working memory without a garbage collector.
//
// ARCHITECTURE:
//
//	root ── entry(fn) ── block ── block
//	  ▲         ▲          ▲
//	  └─ claim ─┴── claim ─┘
//
// Every block opens a zone on entry and seals it on exit. Values live in
// arena cells and are owned by exactly one zone. Sealing a zone reclaims
// every value it still owns; claim moves a value one level toward the root
// so it survives the seal.
//
// CRITICAL PATTERNS:
//   - Zones form a strict stack; Open and Seal only touch the innermost zone
//   - Claim targets only the direct parent of the current owner
//   - Reclaimed handles go stale (generation bump); Get reports DanglingPulse
//   - Cross-stack movement goes through Detach/Adopt and moves, never aliases
//
// Analyze performs the same checks statically so hardened code can skip them.
package pulse
