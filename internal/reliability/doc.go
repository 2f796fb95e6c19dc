// Package reliability provides retry policies used by the broker transports.
// Policies decide whether a failed attempt is retried and after what delay;
// Retry drives a function through a policy under a context.
package reliability
