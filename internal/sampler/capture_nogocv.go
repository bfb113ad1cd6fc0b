//go:build !gocv

package sampler

import (
	"context"
	"errors"
	"io"
)

func openGoCV(_ context.Context, _ io.Reader, _ Options) (decoder, error) {
	return nil, errors.New("gocv backend not compiled in, rebuild with -tags gocv")
}
