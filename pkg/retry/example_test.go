package retry_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	errs "partysync/pkg/errors"
	"partysync/pkg/retry"
)

func ExampleDo() {
	calls := 0
	err := retry.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errs.New(errs.ErrorTypeServerError, 503, "service unavailable")
		}
		return nil
	}, &retry.Config{
		MaxAttempts: 5,
		Backoff:     &retry.ConstantBackoff{Delay: time.Millisecond},
	})

	fmt.Println(err, calls)
	// Output: <nil> 3
}

func ExampleDo_notFound() {
	calls := 0
	err := retry.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errs.New(errs.ErrorTypeNotFound, 404, "resource not found")
	}, &retry.Config{MaxAttempts: 5})

	fmt.Println(errs.Is(err, errs.ErrorTypeNotFound), calls)
	// Output: true 1
}

func ExampleDoWithResult() {
	attempts := 0
	page, err := retry.DoWithResult(context.Background(), func(ctx context.Context) ([]string, error) {
		attempts++
		if attempts == 1 {
			return nil, errs.New(errs.ErrorTypeNetwork, 0, "connection reset")
		}
		return []string{"post-1", "post-2"}, nil
	}, &retry.Config{MaxAttempts: 3})

	fmt.Println(page, err)
	// Output: [post-1 post-2] <nil>
}

func ExampleExhaustedError() {
	err := retry.Do(context.Background(), func(ctx context.Context) error {
		return errs.New(errs.ErrorTypeServerError, 502, "bad gateway")
	}, &retry.Config{MaxAttempts: 2})

	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		fmt.Println("attempts:", exhausted.Attempts)
	}
	// Output: attempts: 2
}
