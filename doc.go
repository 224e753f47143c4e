/*
Package pfresolved keeps a firewall's named address tables in sync with the
current DNS resolution of a configured set of hostnames.

The package implements two cooperating halves of the daemon:

Controller

The controller owns the entire data model: Tables, Hosts, the reference-counted
TableEntries that tie them together, the per-host/per-family refresh timers, and
the kernel table pusher. It drives the resolver worker by sending ResolveReq
messages and reacts to ResolveOk/ResolveFail results.

Worker

The worker owns the upstream DNS forwarders. It is otherwise stateless: every
request it receives is answered exactly once, and it remembers nothing about a
hostname between requests.

The two communicate over a length-delimited message link (see Message) so that
the controller can run with elevated privilege (access to the kernel table
device) while the worker, which parses untrusted DNS answers, runs with
dropped privilege in a chroot.
*/
package pfresolved
