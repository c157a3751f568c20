/*
Package testutil provides fixtures for testing impact-smc nodes.

# Stores

NewTestStore creates a migrated SQLite candidates table in a temporary
directory and seeds it:

	db := testutil.NewTestStore(t,
	    testutil.WithCount("study42", 10),
	    testutil.WithCount("study7", 0),
	)

# Fake processes

The SMC engine, the analytics provider and the preparation command are
external processes. Tests replace them with small /bin/sh scripts written to
t.TempDir():

	engine := testutil.FakeEngine(t)                       // sums counts through a rendezvous dir
	provider := testutil.WriteScript(t, "analytics.sh", body) // arbitrary behaviour

FakeEngine implements just enough of the engine contract for end-to-end
tests: every party writes its count under RENDEZVOUS_DIR/<session>, and the
coordinator waits for both peers, sums the three counts and writes the total
to SMC_RESULT_FILE. Tests must set RENDEZVOUS_DIR in the engine environment,
see FakeEngineEnv.

RequireShell skips a test when /bin/sh is not available.
*/
package testutil
