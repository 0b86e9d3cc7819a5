package main

import (
	"github.com/benchkit/qps-worker/pkg/worker"
)

const appLongDesc = `Benchmark worker control service.
Listens for a remote driver to open a benchmark session, spins up a
load-generating client engine or a server-under-test engine according to the
driver's setup descriptor, and streams periodic performance snapshots back
for the duration of the session. At most one session may be active on a
given worker process at a time; drivers whose streams are rejected are
expected to retry against a different worker.

To run a worker listening on the default port:
    qps-worker --bind localhost:10000

To require driver authentication:
    qps-worker --bind localhost:10000 \
        --auth-username driver \
        --auth-password-hash '$2a$10$...'
`

func main() {
	worker.Run(&worker.CLIConfig{
		AppName:      "qps-worker",
		AppShortDesc: "Benchmark worker control service",
		AppLongDesc:  appLongDesc,
	})
}
