// Package processor implements the stages of a mill build chain.
//
// A Processor claims files through Accept and transforms them. The set of
// processor kinds is closed: every kind is listed in the registration table
// (see New and Kinds) and configured with a typed Options value that is
// validated when the chain is built, before any file is touched.
//
// # Contract
//
//   - Configure stores configuration only. It performs no I/O and fails
//     with a project.ConfigError when required options are missing.
//   - Accept is a pure predicate over the path: containment in a configured
//     directory plus a doublestar pattern. It never reads the file, so a
//     deleted path is accepted exactly like the file that was there.
//   - ProcessAll runs a full pass over every matching file.
//   - Created, Updated and Deleted are only invoked for accepted paths.
//     Deleted is idempotent: a missing output is not an error.
//
// Side effects stay inside the processor's own output location. Outputs are
// written to a temporary file and renamed into place so a reader (or a
// propagation stage) never observes a partial artifact.
package processor
