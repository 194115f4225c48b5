/*
Package runtime is the dispatch engine behind workerflow.

# Pipeline

A Route binds one Provider to one Handler, optionally with a Translator and
an ErrorHandler. The Dispatcher runs one fetch loop per route and a fixed
pool of workers that share one bounded processing queue:

	provider.FetchMessages -> queue (blocks when full) -> worker
	worker: Route.Deliver -> classify -> ConfirmMessage | MessageNotProcessed

The queue capacity caps the number of queued and in-flight messages, so a
slow handler slows fetching down instead of growing memory.

# Outcomes

DispatchMessage turns a delivery into a confirmation:

  - empty message: ignored, not confirmed
  - handler returns true: confirmed
  - handler returns false: released for redelivery
  - ErrDeleteMessage in the error chain: confirmed
  - context cancellation: neither confirmed nor released; returned to the caller
  - any other error (including panics and empty translations): the route's
    ErrorHandler decides, defaulting to release

# Lifecycle

Runner owns the root context and turns SIGINT and SIGTERM into PrepareStop.
Manager starts DispatchProviders as the runner's top-level task and stops
the runner when it finishes; a dispatch error such as a *ProviderError is
fatal and returned from Manager.Run.

# Observability

DeliveryHooks observe each delivery. DispatchMetrics exports Prometheus
counters for fetches, outcomes and provider failures, and every processed
message gets an OpenTelemetry consumer span.
*/
package runtime
