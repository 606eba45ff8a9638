// Package cycle implements the closed-cycle phase state machine: one
// plan/build/test/review/document pass over a task, with retry branching on
// test failures and review rejections.
//
// The coordinator owns the transition log, the test outcome list, and the
// accepted/rejected delta lists for the lifetime of one cycle. Every
// transition is validated against a fixed table and recorded before the
// target phase body runs. Terminal state "complete" renders an immutable
// summary from the accumulated records.
package cycle
