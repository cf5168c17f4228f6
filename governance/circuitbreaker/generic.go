package circuitbreaker

import "context"

// Do is a type-safe wrapper around Breaker.Call for calls that produce a value.
//
// Usage:
//
//	val, err := circuitbreaker.Do(ctx, cb, func(ctx context.Context) (string, error) {
//	    return client.Get(ctx, key)
//	})
func Do[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := b.Call(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
