// Package engine runs the external SMC engine and collects its output.
//
// The engine is an opaque executable invoked as
//
//	<command> [args...] <local count> <coordinator host> <role>
//
// In coordinator role (0) the run is synchronous: Launcher.Coordinate blocks
// until the engine exits, by which time it has run the secure protocol with
// both peers and written the aggregate to the file named by $SMC_RESULT_FILE.
// In peer role the engine is started as a supervised background Task.
//
// Every run gets its own working directory, <work dir>/<session>-<role>, and
// its own result file, so concurrent sessions on one host never observe each
// other's artifacts. Engines that ignore $SMC_RESULT_FILE and always write a
// fixed path are supported through Config.LegacyResultPath, in which case
// coordinator runs are serialized until their result has been collected.
package engine
