// Package resilience retries catalog calls with capped exponential backoff.
//
//	err := resilience.RetryFunc(ctx, resilience.RetryConfig{
//	    MaxAttempts:    6,
//	    InitialBackoff: time.Second,
//	    BackoffFactor:  1.1,
//	    MaxBackoff:     2 * time.Second,
//	    RetryIf:        errors.IsRetryable,
//	}, func() error { return catalog.RegisterService(ctx, desc, token) })
package resilience
