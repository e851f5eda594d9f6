// Package interceptors provides middleware for message handlers.
//
// An Interceptor wraps a messaging.Handler to add cross-cutting behaviour
// without touching business logic. Interceptors run in the order they are
// added to a Chain, with the final handler called last:
//
//	chain := interceptors.NewChain[OrderCreated](
//		interceptors.NewTracingInterceptor[OrderCreated](),
//		interceptors.NewLoggingInterceptor[OrderCreated](logger),
//		interceptors.NewTimeoutInterceptor[OrderCreated](10*time.Second),
//	)
//	handler := chain.Then(orderHandler)
//
// Built-in interceptors:
//   - LoggingInterceptor: logs each message with its verdict and duration
//   - TracingInterceptor: starts an OpenTelemetry consumer span, continuing
//     the trace carried in the AMQP headers
//   - TimeoutInterceptor: abandons handlers that run too long
//   - FilteringInterceptor: declines or skips messages that fail a filter
//   - DeduplicationInterceptor: skips messages already processed
//   - RetryInterceptor: re-runs failing handlers with backoff
package interceptors
