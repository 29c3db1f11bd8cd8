package monitor

import "errors"

// ErrLeaseConflict reports a mutation against a task or proxy the caller no
// longer holds. It means a reclaim raced with the worker; the worker must
// abandon the in-flight attempt rather than retry the same operation.
var ErrLeaseConflict = errors.New("resource not leased by caller")

// ErrDeliveryFailed reports a delivery-collaborator failure mid-batch. The
// gate stops the batch; the worker fails the task so the undelivered items
// reappear as fresh candidates on the next attempt.
var ErrDeliveryFailed = errors.New("delivery failed")
